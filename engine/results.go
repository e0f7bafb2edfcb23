package engine

import (
	"encoding/json"

	"github.com/thedenisnikulin/reindexer/idset"
)

// ResultItem is one selected row, serialized while the namespace read
// lock was held so the caller never touches live payloads.
type ResultItem struct {
	ID        idset.IdType    `json:"id"`
	Namespace string          `json:"namespace"`
	Rank      int             `json:"rank,omitempty"`
	JSON      json.RawMessage `json:"item"`
	// Joined maps a joined namespace name to its matched rows.
	Joined map[string][]json.RawMessage `json:"joined,omitempty"`
}

// AggResult is the outcome of one aggregation.
type AggResult struct {
	Type      string        `json:"type"`
	Fields    []string      `json:"fields"`
	Value     *float64      `json:"value,omitempty"`
	Distincts []string      `json:"distincts,omitempty"`
	Facets    []FacetResult `json:"facets,omitempty"`
}

// FacetResult is one bucket of a facet aggregation.
type FacetResult struct {
	Values []string `json:"values"`
	Count  int      `json:"count"`
}

// QueryResults is the materialized answer of Select, Update or Delete.
type QueryResults struct {
	Items      []ResultItem
	AggResults []AggResult
	// TotalCount carries the ReqTotal/CachedTotal answer; -1 when the
	// query did not ask for it.
	TotalCount int
	Explain    *ExplainResult
}

// Count returns the number of returned rows.
func (qr *QueryResults) Count() int { return len(qr.Items) }
