package api

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/util"
)

var boardsDesc = prometheus.NewDesc(
	"vlab_boards",
	"Number of boards in a class by status.",
	[]string{"boardclass", "status"}, nil,
)

// classCollector is a pull-based prometheus.Collector: each scrape
// re-derives gauge values from the live control store rather than
// caching a stale snapshot, the same per-board Snapshot walk
// handleStatsSummary does.
type classCollector struct {
	leases *lease.Leases
}

func (c *classCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- boardsDesc
}

func (c *classCollector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()
	classes, err := c.leases.BoardClasses(ctx)
	if err != nil {
		util.Errorf("metrics collector: list classes: %v", err)
		return
	}

	for _, class := range classes {
		counts := map[lease.Status]int{}
		serials, err := c.leases.BoardsInClass(ctx, class)
		if err != nil {
			util.Errorf("metrics collector: list boards for %s: %v", class, err)
			continue
		}
		for _, serial := range serials {
			info, err := c.leases.Snapshot(ctx, serial, class)
			if err != nil {
				util.Errorf("metrics collector: snapshot %s: %v", serial, err)
				continue
			}
			counts[info.Status]++
		}
		for status, n := range counts {
			ch <- prometheus.MustNewConstMetric(boardsDesc, prometheus.GaugeValue, float64(n), class, status.String())
		}
	}
}

// newRegistry builds a registry private to one Server (rather than the
// default global one) carrying a classCollector bound to leases, so
// independent Servers in the same test binary never collide on
// duplicate metric registration.
func newRegistry(leases *lease.Leases) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(&classCollector{leases: leases})
	return reg
}
