package janitor

import (
	"context"
	"testing"

	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/store"
	"github.com/rtsyork/vlab/pkg/store/storetest"
)

type fakeHostOps struct {
	resets     []string
	restarts   []string
	resetErr   error
	restartErr error
}

func (f *fakeHostOps) ResetBoard(ctx context.Context, server string, port int, serial string) error {
	f.resets = append(f.resets, serial)
	return f.resetErr
}

func (f *fakeHostOps) RestartContainer(ctx context.Context, server, serial string) error {
	f.restarts = append(f.restarts, serial)
	return f.restartErr
}

type fakeBoardTester struct {
	output string
	err    error
}

func (f *fakeBoardTester) ProgramAndCapture(ctx context.Context, server string, port int, serial string) (string, error) {
	return f.output, f.err
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func newLeases(t *testing.T) (*lease.Leases, store.Store) {
	t.Helper()
	db := storetest.New(t)
	return lease.New(db), db
}
