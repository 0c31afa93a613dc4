// vlab-web is the observability dashboard's HTTP server (C6): it serves
// pkg/api's read/write JSON routes over the control store and the
// parsed access log. It is the component the client launcher's `--
// webport` tunnels to (spec.md §6), reachable only through an active
// user's SSH tunnel rather than exposed directly.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rtsyork/vlab/pkg/accesslog"
	"github.com/rtsyork/vlab/pkg/api"
	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/store"
	"github.com/rtsyork/vlab/pkg/util"
	"github.com/rtsyork/vlab/pkg/vlabsettings"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	s, err := vlabsettings.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	addr := s.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.NewRedisStore(ctx, addr, 5, time.Second)
	if err != nil {
		return fmt.Errorf("connect to control store: %w", err)
	}
	defer db.Close()

	leases := lease.New(db)
	logs := accesslog.NewCache(s.GetAccessLogPath())
	srv := api.New(leases, logs)

	httpSrv := &http.Server{
		Addr:    s.GetWebAddr(),
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		util.Infof("vlab-web listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}
}
