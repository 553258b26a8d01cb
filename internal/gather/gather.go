// Package gather implements the incremental sync engine: per-kind syncers
// that compute a cursor from the store's high-water mark, fetch through the
// retry executor and emit results, and the fan-out/fan-in pipeline that
// connects them to a single save stage.
package gather

import (
	"context"
	"time"

	"marketsync/internal/domain"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one pass and returns when it completes or fails.
	Run(ctx context.Context) error
}

// BarFetcher fetches daily bars for a stock or index. A nil end means up to
// the latest available session. An empty slice is a valid result.
type BarFetcher interface {
	FetchBars(ctx context.Context, kind domain.Kind, sym domain.Symbol, start, end *time.Time) ([]domain.Bar, error)
}

// MarginFetcher fetches margin financing sessions for a stock.
type MarginFetcher interface {
	FetchMargin(ctx context.Context, sym domain.Symbol, start, end *time.Time) ([]domain.Margin, error)
}

// FinancialFetcher fetches quarterly reports for a stock.
type FinancialFetcher interface {
	FetchFinancial(ctx context.Context, sym domain.Symbol, start, end *time.Time) ([]domain.Financial, error)
}

// SymbolLister lists the instruments of an info kind.
type SymbolLister interface {
	ListSymbols(ctx context.Context, kind domain.Kind) ([]domain.Symbol, error)
}

// RecordStore is the part of the store a syncer writes through.
type RecordStore interface {
	Latest(ctx context.Context, kind domain.Kind, code string) (time.Time, bool, error)
	Insert(ctx context.Context, res domain.SyncResult, upsert bool) error
}

// Emitter hands one result to the save stage. It blocks while the channel
// is full and returns domain.ErrChannelClosed once the save stage has
// stopped accepting results.
type Emitter func(ctx context.Context, res domain.SyncResult) error

// Syncer is the per-kind unit of the pipeline.
type Syncer interface {
	Kind() domain.Kind

	// Fetch walks symbols in order: cursor, gate, fetch, emit. The first
	// symbol that fails aborts the rest of the group.
	Fetch(ctx context.Context, task int, symbols []domain.Symbol, emit Emitter) error

	// Save persists one emitted result.
	Save(ctx context.Context, res domain.SyncResult) error
}
