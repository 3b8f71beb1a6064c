// ABOUTME: Priority-ordered route table used by the adapter to pick one handler per turn
// ABOUTME: Sorted arena slice with an insertion counter as the final tie-break

package routing

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"sort"

	"github.com/2389/coven-agenthost/internal/turn"
)

// Rank bounds. Smaller ranks run first within their tier.
const (
	RankFirst   uint32 = 0
	RankDefault uint32 = math.MaxUint32 / 2
	RankLast    uint32 = math.MaxUint32
)

// Route table errors
var (
	ErrNilSelector = errors.New("route selector is nil")
	ErrNilHandler  = errors.New("route handler is nil")
)

// Handler runs a turn.
type Handler func(ctx context.Context, tc *turn.Context) error

// Route pairs a selector with a handler and its priority metadata.
// Routes must not be modified after they are added to a Table.
type Route struct {
	Selector     Selector
	Handler      Handler
	IsInvoke     bool
	IsAgentic    bool
	Rank         uint32
	AuthHandlers []string

	seq uint64
}

// Priority is the ordering key of a route: invoke routes first, then
// agentic routes, then by rank, then by insertion order.
type Priority struct {
	Invoke  int
	Agentic int
	Rank    uint32
	Seq     uint64
}

// Less reports whether p sorts before o.
func (p Priority) Less(o Priority) bool {
	if p.Invoke != o.Invoke {
		return p.Invoke < o.Invoke
	}
	if p.Agentic != o.Agentic {
		return p.Agentic < o.Agentic
	}
	if p.Rank != o.Rank {
		return p.Rank < o.Rank
	}
	return p.Seq < o.Seq
}

// Priority returns the route's ordering key.
func (r *Route) Priority() Priority {
	p := Priority{Invoke: 1, Agentic: 1, Rank: r.Rank, Seq: r.seq}
	if r.IsInvoke {
		p.Invoke = 0
	}
	if r.IsAgentic {
		p.Agentic = 0
	}
	return p
}

func (r *Route) String() string {
	return fmt.Sprintf("%s invoke=%t agentic=%t rank=%d auth=%v", r.Selector, r.IsInvoke, r.IsAgentic, r.Rank, r.AuthHandlers)
}

// Table holds routes in ascending priority order.
// It is populated at startup and only read while serving requests, so reads
// take no locks. Add must not be called concurrently with reads.
type Table struct {
	routes []*Route
	next   uint64
}

// NewTable creates an empty route table.
func NewTable() *Table {
	return &Table{}
}

// Add inserts a copy of route, keeping the table sorted.
func (t *Table) Add(route Route) (*Route, error) {
	if route.Selector == nil {
		return nil, ErrNilSelector
	}
	if route.Handler == nil {
		return nil, ErrNilHandler
	}

	r := route
	r.AuthHandlers = dedupeNames(route.AuthHandlers)
	r.seq = t.next
	t.next++

	p := r.Priority()
	idx := sort.Search(len(t.routes), func(i int) bool {
		return p.Less(t.routes[i].Priority())
	})
	t.routes = slices.Insert(t.routes, idx, &r)
	return &r, nil
}

// All yields routes from most to least eligible. The sequence can be ranged over repeatedly.
func (t *Table) All() iter.Seq[*Route] {
	return func(yield func(*Route) bool) {
		for _, r := range t.routes {
			if !yield(r) {
				return
			}
		}
	}
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.routes)
}

// Resolve returns the first route whose selector matches tc.
// Selectors after the first match are not evaluated.
func (t *Table) Resolve(tc *turn.Context) (*Route, bool) {
	for r := range t.All() {
		if r.Selector.Matches(tc) {
			return r, true
		}
	}
	return nil, false
}

// dedupeNames returns names with duplicates and empty strings removed, order kept.
func dedupeNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
