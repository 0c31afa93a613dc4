package janitor

import (
	"context"
	"fmt"

	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/util"
	"github.com/rtsyork/vlab/pkg/vlabconfig"
)

// ConfigReloader re-reads the configuration document when an operator
// has flagged vlab:config:reload: users and known boards in the control
// store that the document no longer lists are removed, and every entry
// the document does list is written again. Grounded on manage.py's
// load_vlab_conf, which re-parses the whole document on every invocation.
type ConfigReloader struct {
	leases *lease.Leases
	path   string
	portLo int64
}

// NewConfigReloader returns a ConfigReloader reading the document at
// path. portLo seeds the ephemeral port counter (setnx-only, so it
// never rewinds a counter that has already advanced).
func NewConfigReloader(leases *lease.Leases, path string, portLo int64) *ConfigReloader {
	return &ConfigReloader{leases: leases, path: path, portLo: portLo}
}

func (r *ConfigReloader) Name() string { return "configreload" }

func (r *ConfigReloader) Run(ctx context.Context) error {
	if err := r.leases.SeedPortCounter(ctx, r.portLo); err != nil {
		util.Warnf("configreload: seed port counter: %v", err)
	}

	requested, err := r.leases.ReloadRequested(ctx)
	if err != nil {
		return err
	}
	if !requested {
		return nil
	}
	if err := r.leases.ClearReloadRequest(ctx); err != nil {
		util.Warnf("configreload: clear request: %v", err)
	}

	doc, err := vlabconfig.Load(r.path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	r.applyUsers(ctx, doc.Users)
	r.applyBoards(ctx, doc.Boards)
	util.Infof("configreload: applied %d users, %d boards from %s", len(doc.Users), len(doc.Boards), r.path)
	return nil
}

func (r *ConfigReloader) applyUsers(ctx context.Context, users map[string]vlabconfig.User) {
	current, err := r.leases.Users(ctx)
	if err != nil {
		util.Warnf("configreload: list users: %v", err)
		return
	}
	wanted := make(map[string]bool, len(users))
	for name := range users {
		wanted[name] = true
	}

	for _, name := range current {
		if wanted[name] {
			continue
		}
		if err := r.leases.RemoveUser(ctx, name); err != nil {
			util.WithUser(name).Warnf("configreload: remove user: %v", err)
		}
	}
	for name, u := range users {
		if err := r.leases.SetUser(ctx, name, u.Overlord, u.AllowedBoards); err != nil {
			util.WithUser(name).Warnf("configreload: set user: %v", err)
		}
	}
}

func (r *ConfigReloader) applyBoards(ctx context.Context, boards map[string]vlabconfig.Board) {
	current, err := r.leases.KnownBoardSerials(ctx)
	if err != nil {
		util.Warnf("configreload: list known boards: %v", err)
		return
	}
	wanted := make(map[string]bool, len(boards))
	for serial := range boards {
		wanted[serial] = true
	}

	for _, serial := range current {
		if wanted[serial] {
			continue
		}
		if err := r.leases.RemoveKnownBoard(ctx, serial); err != nil {
			util.WithBoard(serial).Warnf("configreload: remove board: %v", err)
		}
	}
	for serial, b := range boards {
		if err := r.leases.SetKnownBoard(ctx, serial, b.Class, b.Type, b.Reset != ""); err != nil {
			util.WithBoard(serial).Warnf("configreload: set board: %v", err)
		}
	}
}
