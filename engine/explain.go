package engine

import "time"

// ExplainResult is the query plan report attached when Query.Explain is
// set. Durations are microseconds.
type ExplainResult struct {
	TotalUs       int64             `json:"total_us"`
	PrepareUs     int64             `json:"prepare_select_us"`
	IndexesUs     int64             `json:"indexes_us"`
	LoopUs        int64             `json:"loop_us"`
	GeneralSortUs int64             `json:"general_sort_us"`
	PostprocessUs int64             `json:"postprocess_us"`
	SortIndex     string            `json:"sort_index,omitempty"`
	Selectors     []ExplainSelector `json:"selectors"`
}

// ExplainSelector describes how one filter entry was answered.
type ExplainSelector struct {
	Field       string            `json:"field,omitempty"`
	Condition   string            `json:"condition,omitempty"`
	Method      string            `json:"method,omitempty"`
	Keys        int               `json:"keys"`
	Comparators int               `json:"comparators"`
	Cost        int               `json:"cost"`
	Matched     int               `json:"matched"`
	Selectors   []ExplainSelector `json:"selectors,omitempty"`
}

const (
	explainMethodIndex      = "index"
	explainMethodScan       = "scan"
	explainMethodComparator = "comparator"
)

// explainBuilder accumulates plan facts while the executor runs; nil
// when the query did not ask for explain, so every call site guards.
type explainBuilder struct {
	start   time.Time
	mark    time.Time
	result  ExplainResult
	enabled bool
}

func newExplainBuilder(enabled bool) *explainBuilder {
	if !enabled {
		return nil
	}
	now := time.Now()
	return &explainBuilder{start: now, mark: now, enabled: true}
}

func (e *explainBuilder) lap() int64 {
	if e == nil {
		return 0
	}
	now := time.Now()
	us := now.Sub(e.mark).Microseconds()
	e.mark = now
	return us
}

func (e *explainBuilder) prepareDone() {
	e.setUs(func(r *ExplainResult) *int64 { return &r.PrepareUs })
}
func (e *explainBuilder) indexesDone() {
	e.setUs(func(r *ExplainResult) *int64 { return &r.IndexesUs })
}
func (e *explainBuilder) loopDone() { e.setUs(func(r *ExplainResult) *int64 { return &r.LoopUs }) }
func (e *explainBuilder) sortDone() {
	e.setUs(func(r *ExplainResult) *int64 { return &r.GeneralSortUs })
}
func (e *explainBuilder) postprocDone() {
	e.setUs(func(r *ExplainResult) *int64 { return &r.PostprocessUs })
}

func (e *explainBuilder) setUs(field func(*ExplainResult) *int64) {
	if e == nil {
		return
	}
	*field(&e.result) = e.lap()
}

func (e *explainBuilder) setSortIndex(name string) {
	if e == nil {
		return
	}
	e.result.SortIndex = name
}

func (e *explainBuilder) addSelectors(sel []ExplainSelector) {
	if e == nil {
		return
	}
	e.result.Selectors = append(e.result.Selectors, sel...)
}

func (e *explainBuilder) finish() *ExplainResult {
	if e == nil {
		return nil
	}
	e.result.TotalUs = time.Since(e.start).Microseconds()
	out := e.result
	return &out
}
