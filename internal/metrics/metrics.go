// Package metrics exposes a vela VectorState as Prometheus gauges (spec
// §4.15's domain stack: "vela_store_count, vela_store_tombstone_ratio,
// vela_store_ivf_imbalance, vela_wal_pending_ops"). Grounded on the
// pack's pkg/metrics (cuemby-warren), adapted from package-level
// prometheus.MustRegister globals to a prometheus.Collector
// implementation: vela is an embeddable library, and a caller may open
// more than one Client in a process, so metrics must be scoped per
// instance rather than registered once globally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/velodb/vela/internal/maintenance"
	"github.com/velodb/vela/internal/vstate"
)

var (
	countDesc = prometheus.NewDesc(
		"vela_store_count", "Number of live rows in the store.", nil, nil)

	dimDesc = prometheus.NewDesc(
		"vela_store_dim", "Configured vector dimension.", nil, nil)

	tombstoneRatioDesc = prometheus.NewDesc(
		"vela_store_tombstone_ratio", "Fraction of HNSW rows tombstoned.", nil, nil)

	averageDegreeDesc = prometheus.NewDesc(
		"vela_store_hnsw_average_degree_l0", "Average layer-0 neighbor count for HNSW.", nil, nil)

	ivfImbalanceDesc = prometheus.NewDesc(
		"vela_store_ivf_imbalance", "IVF posting-list imbalance (max/mean list size).", nil, nil)

	walPendingOpsDesc = prometheus.NewDesc(
		"vela_wal_pending_ops", "Operations recorded since the last autosave flush.", nil, nil)
)

// PendingOpsFunc reports the current count of unflushed WAL operations,
// sourced from the autosave.Debouncer in front of the WAL (spec §4.15).
type PendingOpsFunc func() int

// Collector adapts a VectorState (plus an optional pending-ops source) to
// prometheus.Collector so a caller can register it against their own
// registry via registry.MustRegister(c) — never a package-global one.
type Collector struct {
	state      *vstate.State
	pendingOps PendingOpsFunc
}

// New returns a Collector reading live stats from state. pendingOps may
// be nil, in which case vela_wal_pending_ops is not emitted.
func New(state *vstate.State, pendingOps PendingOpsFunc) *Collector {
	return &Collector{state: state, pendingOps: pendingOps}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- countDesc
	ch <- dimDesc
	ch <- tombstoneRatioDesc
	ch <- averageDegreeDesc
	ch <- ivfImbalanceDesc
	ch <- walPendingOpsDesc
}

// Collect implements prometheus.Collector, reading a fresh
// maintenance.Diagnostics snapshot on every scrape.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := maintenance.Diagnostics(c.state)

	ch <- prometheus.MustNewConstMetric(countDesc, prometheus.GaugeValue, float64(stats.Count))
	ch <- prometheus.MustNewConstMetric(dimDesc, prometheus.GaugeValue, float64(stats.Dim))

	if stats.HNSW != nil {
		ch <- prometheus.MustNewConstMetric(tombstoneRatioDesc, prometheus.GaugeValue, stats.HNSW.TombstoneRatio)
		ch <- prometheus.MustNewConstMetric(averageDegreeDesc, prometheus.GaugeValue, stats.HNSW.AverageDegreeL0)
	}

	if stats.IVF != nil {
		ch <- prometheus.MustNewConstMetric(ivfImbalanceDesc, prometheus.GaugeValue, stats.IVF.Imbalance)
	}

	if c.pendingOps != nil {
		ch <- prometheus.MustNewConstMetric(walPendingOpsDesc, prometheus.GaugeValue, float64(c.pendingOps()))
	}
}
