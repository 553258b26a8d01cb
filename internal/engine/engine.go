// Package engine runs a strategy over every symbol of its universe with
// bounded concurrency and aggregates the matching results.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"marketsync/internal/store"
	"marketsync/internal/strategy"
)

// DefaultConcurrency is used when Options.Concurrency is not positive.
const DefaultConcurrency = 4

// Options configures a run.
type Options struct {
	// Concurrency bounds the number of Test calls in flight.
	Concurrency int
	Logger      *slog.Logger
}

// Engine runs one prepared strategy against a loader.
type Engine struct {
	strategy strategy.Strategy
	loader   store.Loader
	opts     Options
}

// New creates an Engine. The strategy must already be prepared.
func New(s strategy.Strategy, loader store.Loader, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{strategy: s, loader: loader, opts: opts}
}

// Run tests every symbol of the strategy's universe.
//
// The first Test error aborts the run: no further symbols start and the
// error is returned without results. When ctx is cancelled Run returns at
// once with the results completed before the cancellation and ctx.Err();
// Test calls still in flight are abandoned and their results dropped.
func (e *Engine) Run(ctx context.Context) (strategy.Results, error) {
	var (
		typ   = strategy.TypeOf(e.strategy)
		log   = e.opts.Logger.With("run_id", uuid.NewString(), "strategy", e.strategy.Name(), "type", string(typ))
		start = time.Now()
	)

	symbols, err := e.loader.LoadSymbols(ctx, typ.InfoKind())
	if err != nil {
		return nil, fmt.Errorf("loading %s symbols: %w", typ.InfoKind(), err)
	}
	log.Info("run started", "symbols", len(symbols), "concurrency", e.opts.Concurrency)

	var (
		agg    = newAggregator(ctx)
		tested atomic.Int64
		done   = make(chan error, 1)
	)

	go func() {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.Concurrency)
		for _, sym := range symbols {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				res, err := e.strategy.Test(gctx, e.loader, typ, sym.Code, sym.Name)
				tested.Add(1)
				if err != nil {
					return fmt.Errorf("testing %s: %w", sym, err)
				}
				if res != nil && agg.add(typ, *res) {
					log.Debug("matched", "code", sym.Code, "name", sym.Name)
				}
				return nil
			})
		}
		done <- g.Wait()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
	}

	results := agg.close()
	if cerr := ctx.Err(); cerr != nil {
		log.Warn("run cancelled", "tested", tested.Load(), "matched", results.Len())
		return results, cerr
	}
	if err != nil {
		log.Error("run failed", "tested", tested.Load(), "error", err)
		return nil, err
	}
	log.Info("run finished",
		"tested", tested.Load(),
		"matched", results.Len(),
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
	return results, nil
}

// aggregator collects results until it is closed or ctx is cancelled;
// later adds are dropped.
type aggregator struct {
	ctx     context.Context
	mu      sync.Mutex
	closed  bool
	results strategy.Results
}

func newAggregator(ctx context.Context) *aggregator {
	return &aggregator{ctx: ctx, results: make(strategy.Results)}
}

func (a *aggregator) add(typ strategy.Type, r strategy.Result) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.ctx.Err() != nil {
		return false
	}
	a.results[typ] = append(a.results[typ], r)
	return true
}

// close freezes the aggregator and returns what it holds.
func (a *aggregator) close() strategy.Results {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return a.results
}
