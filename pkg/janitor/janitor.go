// Package janitor implements VLAB's periodic repair daemons (C5): the
// lock/session sweeper, the board reachability prober, the hardware
// self-test runner, and the configuration reloader. Each janitor walks
// an independent concern and isolates per-item failures so one bad
// board or one bad config entry never stalls the others — grounded on
// relay/checkboards.py, relay/testboards.py, and manage.py running as
// independent cron-scheduled scripts in the original implementation.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/rtsyork/vlab/pkg/util"
)

// Janitor is one independently-scheduled repair sweep.
type Janitor interface {
	Name() string
	Run(ctx context.Context) error
}

type scheduled struct {
	janitor  Janitor
	interval time.Duration
}

// Scheduler runs a set of Janitors, each on its own ticker, until its
// context is canceled.
type Scheduler struct {
	items []scheduled
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Add registers j to run every interval, starting after the first tick.
func (s *Scheduler) Add(j Janitor, interval time.Duration) *Scheduler {
	s.items = append(s.items, scheduled{janitor: j, interval: interval})
	return s
}

// Run blocks, ticking every registered Janitor on its own goroutine,
// until ctx is canceled. A Janitor whose Run returns an error is logged
// and retried on its next tick — it never stops the scheduler.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, item := range s.items {
		wg.Add(1)
		go func(item scheduled) {
			defer wg.Done()
			s.runOne(ctx, item)
		}(item)
	}
	wg.Wait()
}

func (s *Scheduler) runOne(ctx context.Context, item scheduled) {
	ticker := time.NewTicker(item.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := item.janitor.Run(ctx); err != nil {
				util.WithField("janitor", item.janitor.Name()).Warnf("sweep failed: %v", err)
			}
		}
	}
}
