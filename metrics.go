package reindexer

import (
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/thedenisnikulin/reindexer/engine"
)

// PerfStats collects operation counters and latency summaries. The
// counters are exposed both as a Go snapshot via GetPerfStats and in
// Prometheus text format via WritePrometheus.
type PerfStats struct {
	set *metrics.Set

	selects       *metrics.Counter
	selectErrors  *metrics.Counter
	selectLatency *metrics.Summary

	upserts      *metrics.Counter
	inserts      *metrics.Counter
	updates      *metrics.Counter
	deletes      *metrics.Counter
	modifyErrors *metrics.Counter
	writeLatency *metrics.Summary

	txCommits *metrics.Counter
	txSteps   *metrics.Counter
	txErrors  *metrics.Counter
	txLatency *metrics.Summary
}

// NewPerfStats creates an empty collector.
func NewPerfStats() *PerfStats {
	set := metrics.NewSet()
	return &PerfStats{
		set:           set,
		selects:       set.NewCounter("reindexer_selects_total"),
		selectErrors:  set.NewCounter("reindexer_select_errors_total"),
		selectLatency: set.NewSummary("reindexer_select_latency_seconds"),
		upserts:       set.NewCounter("reindexer_upserts_total"),
		inserts:       set.NewCounter("reindexer_inserts_total"),
		updates:       set.NewCounter("reindexer_updates_total"),
		deletes:       set.NewCounter("reindexer_deletes_total"),
		modifyErrors:  set.NewCounter("reindexer_modify_errors_total"),
		writeLatency:  set.NewSummary("reindexer_write_latency_seconds"),
		txCommits:     set.NewCounter("reindexer_tx_commits_total"),
		txSteps:       set.NewCounter("reindexer_tx_steps_total"),
		txErrors:      set.NewCounter("reindexer_tx_errors_total"),
		txLatency:     set.NewSummary("reindexer_tx_latency_seconds"),
	}
}

func (p *PerfStats) recordSelect(d time.Duration, err error) {
	p.selects.Inc()
	p.selectLatency.Update(d.Seconds())
	if err != nil {
		p.selectErrors.Inc()
	}
}

func (p *PerfStats) recordModify(mode engine.ItemMode, d time.Duration, err error) {
	switch mode {
	case engine.ModeInsert:
		p.inserts.Inc()
	case engine.ModeUpdate:
		p.updates.Inc()
	case engine.ModeDelete:
		p.deletes.Inc()
	default:
		p.upserts.Inc()
	}
	p.writeLatency.Update(d.Seconds())
	if err != nil {
		p.modifyErrors.Inc()
	}
}

func (p *PerfStats) recordCommit(steps int, d time.Duration, err error) {
	p.txCommits.Inc()
	p.txSteps.Add(steps)
	p.txLatency.Update(d.Seconds())
	if err != nil {
		p.txErrors.Inc()
	}
}

// WritePrometheus dumps the counters in Prometheus text format.
func (p *PerfStats) WritePrometheus(w io.Writer) {
	p.set.WritePrometheus(w)
}

func (p *PerfStats) snapshot() PerfStatsSnapshot {
	return PerfStatsSnapshot{
		Selects:      p.selects.Get(),
		SelectErrors: p.selectErrors.Get(),
		Upserts:      p.upserts.Get(),
		Inserts:      p.inserts.Get(),
		Updates:      p.updates.Get(),
		Deletes:      p.deletes.Get(),
		ModifyErrors: p.modifyErrors.Get(),
		TxCommits:    p.txCommits.Get(),
		TxSteps:      p.txSteps.Get(),
		TxErrors:     p.txErrors.Get(),
	}
}

// PerfStatsSnapshot is a point-in-time copy of the operation counters.
type PerfStatsSnapshot struct {
	Selects      uint64 `json:"selects"`
	SelectErrors uint64 `json:"select_errors"`
	Upserts      uint64 `json:"upserts"`
	Inserts      uint64 `json:"inserts"`
	Updates      uint64 `json:"updates"`
	Deletes      uint64 `json:"deletes"`
	ModifyErrors uint64 `json:"modify_errors"`
	TxCommits    uint64 `json:"tx_commits"`
	TxSteps      uint64 `json:"tx_steps"`
	TxErrors     uint64 `json:"tx_errors"`
}
