package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/aosim/internal/ir"
)

// DefaultResultsLimit is the page size of Results when none is given.
const DefaultResultsLimit = 25

// SortOrder orders a results page.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// ParseSortOrder accepts ASC or DESC in any case. Empty means ASC.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToUpper(s) {
	case "", string(SortAsc):
		return SortAsc, nil
	case string(SortDesc):
		return SortDesc, nil
	}
	return "", &ConfigError{Field: "sort", Message: fmt.Sprintf("unknown sort order %q", s)}
}

// ResultsQuery selects a page of a process's results. From and To are
// message ids and both are inclusive.
type ResultsQuery struct {
	From  string
	To    string
	Sort  SortOrder
	Limit int
}

// ResultEdge is one entry of a results page.
type ResultEdge struct {
	Cursor string     `json:"cursor"`
	Node   *ir.Output `json:"node"`
}

// Results pages over the messages a process executed, in assignment order
// or reversed for DESC. Emission starts at From (or the first result) and
// stops after To or after Limit edges. An unknown process yields no edges.
func (e *Engine) Results(ctx context.Context, pid string, q ResultsQuery) ([]ResultEdge, error) {
	sort, err := ParseSortOrder(string(q.Sort))
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultResultsLimit
	}

	p, err := e.Process(ctx, pid)
	if err != nil {
		return nil, err
	}
	edges := []ResultEdge{}
	if p == nil {
		return edges, nil
	}

	results := slices.Clone(p.Results)
	if sort == SortDesc {
		slices.Reverse(results)
	}

	started := q.From == ""
	for _, mid := range results {
		if !started {
			if mid != q.From {
				continue
			}
			started = true
		}
		out, err := e.Result(ctx, pid, mid)
		if err != nil {
			return nil, err
		}
		edges = append(edges, ResultEdge{Cursor: mid, Node: out})
		if mid == q.To || len(edges) >= limit {
			break
		}
	}
	return edges, nil
}

// Result returns the output a process produced for one message, or nil
// when there is none. The spawn id of a process returns its boot output.
func (e *Engine) Result(ctx context.Context, pid, mid string) (*ir.Output, error) {
	rec, err := e.loadMessage(ctx, resultKey(pid, mid))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		if rec, err = e.loadMessage(ctx, mid); err != nil {
			return nil, err
		}
	}
	if rec == nil || (rec.Process != "" && rec.Process != pid) {
		return nil, nil
	}
	return rec.Output, nil
}

// MessageRecord returns the stored body of a message, or nil.
func (e *Engine) MessageRecord(ctx context.Context, mid string) (*ir.MessageRecord, error) {
	return e.loadMessage(ctx, mid)
}

// ErrorOf returns the ExecutionError recorded in out, or nil.
func ErrorOf(pid, mid string, out *ir.Output) error {
	if out == nil || out.Error == "" {
		return nil
	}
	return &ExecutionError{Process: pid, Message: mid, Reason: out.Error}
}
