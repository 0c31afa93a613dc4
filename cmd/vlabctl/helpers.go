package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/store"
	"github.com/rtsyork/vlab/pkg/vlabsettings"
)

// loadSettings resolves the operator settings document, honoring the
// root --settings flag when set.
func (a *App) loadSettings() (*vlabsettings.Settings, error) {
	if a.settingsPath != "" {
		return vlabsettings.LoadFrom(a.settingsPath)
	}
	return vlabsettings.Load()
}

// connect dials the control store and wraps it in the C2 lease
// primitives, the same pair every long-running VLAB daemon builds at
// startup. The caller is responsible for closing the returned store.
func (a *App) connect(ctx context.Context) (*vlabsettings.Settings, store.Store, *lease.Leases, error) {
	s, err := a.loadSettings()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load settings: %w", err)
	}
	addr := s.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	db, err := store.NewRedisStore(ctx, addr, 5, time.Second)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to control store: %w", err)
	}
	return s, db, lease.New(db), nil
}
