// Package strategy defines the Strategy interface run by the execution
// engine, the result types it produces, and a Registry of built-in
// strategy factories.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"marketsync/internal/domain"
	"marketsync/internal/store"
)

// Type is the symbol universe a strategy runs over.
type Type string

const (
	TypeStock Type = "stock"
	TypeIndex Type = "index"
)

// DataKind is the bar kind loaded for symbols of this type.
func (t Type) DataKind() domain.Kind {
	if t == TypeIndex {
		return domain.KindIndexDaily
	}
	return domain.KindStockDaily
}

// InfoKind is the symbol list enumerated for this type.
func (t Type) InfoKind() domain.Kind {
	if t == TypeIndex {
		return domain.KindIndexInfo
	}
	return domain.KindStockInfo
}

// Strategy tests one symbol's history against a rule.
//
// Test may be called concurrently for different symbols on the same value;
// implementations must not keep unsynchronized mutable state between calls.
// State set up in Prepare is read-only afterwards.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Help describes the strategy and its parameters.
	Help() string

	// Prepare is called once before any Test. common is nil unless both
	// test_end_date and min_trade_days were given.
	Prepare(ctx context.Context, loader store.Loader, common *CommonParam, params map[string]string) error

	// Test returns nil when the symbol does not match.
	Test(ctx context.Context, loader store.Loader, typ Type, code, name string) (*Result, error)
}

// Typed is implemented by strategies that run over a universe other than
// stocks.
type Typed interface {
	Type() Type
}

// TypeOf returns the universe s runs over, TypeStock by default.
func TypeOf(s Strategy) Type {
	if t, ok := s.(Typed); ok {
		return t.Type()
	}
	return TypeStock
}

// Result is the outcome of one matching symbol.
type Result struct {
	Code string               `json:"code"`
	Name string               `json:"name"`
	Mark map[time.Time]string `json:"mark,omitempty"`
	Stat *Stat                `json:"stat,omitempty"`
}

// Results groups the matching symbols of a run by type.
type Results map[Type][]Result

// Len is the total number of results.
func (r Results) Len() int {
	n := 0
	for _, v := range r {
		n += len(v)
	}
	return n
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Factory returns a fresh strategy value.
type Factory func() Strategy

// Registry holds a named collection of strategy factories for lookup and
// enumeration.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Get retrieves a factory by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// New instantiates the named strategy.
func (r *Registry) New(name string) (Strategy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: builtin strategy %q not found", domain.ErrConfig, name)
	}
	return f(), nil
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
