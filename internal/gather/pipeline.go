package gather

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"marketsync/internal/domain"
)

// DefaultBuffer is the result channel capacity when none is configured.
const DefaultBuffer = 64

var _ Gatherer = (*Pipeline)(nil)

// Pipeline fans a symbol list out over TaskN workers that share one bounded
// channel, drained in arrival order by a single save stage.
//
// A failing worker does not cancel its siblings. A failing save stops the
// channel: producers blocked on or later calling emit get
// domain.ErrChannelClosed and the remaining queued results are dropped.
type Pipeline struct {
	Syncer  Syncer
	Symbols []domain.Symbol
	TaskN   int
	Buffer  int
	Logger  *slog.Logger

	emitted atomic.Int64
	saved   atomic.Int64
}

// Name returns the pipeline identifier.
func (p *Pipeline) Name() string { return "sync-" + string(p.Syncer.Kind()) }

// Emitted and Saved report counters of the last Run.
func (p *Pipeline) Emitted() int64 { return p.emitted.Load() }
func (p *Pipeline) Saved() int64   { return p.saved.Load() }

// Run blocks until every worker has returned and the channel is drained. The
// result joins the first worker error with the save error.
func (p *Pipeline) Run(ctx context.Context) error {
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("gatherer", p.Name())

	buffer := p.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	groups := Partition(p.Symbols, p.TaskN)
	p.emitted.Store(0)
	p.saved.Store(0)

	var (
		results = make(chan domain.SyncResult, buffer)
		stop    = make(chan struct{})
		saveErr = make(chan error, 1)
		start   = time.Now()
	)

	emit := func(ctx context.Context, res domain.SyncResult) error {
		select {
		case <-stop:
			return domain.ErrChannelClosed
		default:
		}
		select {
		case results <- res:
			p.emitted.Add(1)
			return nil
		case <-stop:
			return domain.ErrChannelClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		var err error
		for res := range results {
			if err != nil {
				continue
			}
			if err = p.Syncer.Save(ctx, res); err != nil {
				log.Error("save failed, dropping remaining results", "error", err)
				close(stop)
				continue
			}
			p.saved.Add(1)
		}
		saveErr <- err
	}()

	log.Info("starting", "symbols", len(p.Symbols), "tasks", len(groups), "buffer", buffer)

	var g errgroup.Group
	for i, group := range groups {
		g.Go(func() error {
			if err := p.Syncer.Fetch(ctx, i, group, emit); err != nil {
				log.Error("task failed", "task", i, "error", err)
				return err
			}
			return nil
		})
	}
	workerErr := g.Wait()
	close(results)
	err := errors.Join(workerErr, <-saveErr)

	log.Info("finished",
		"emitted", p.emitted.Load(),
		"saved", p.saved.Load(),
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
		"ok", err == nil,
	)
	return err
}

// Partition splits symbols into at most n contiguous, disjoint, non-empty
// groups of near-equal size, preserving order.
func Partition(symbols []domain.Symbol, n int) [][]domain.Symbol {
	if len(symbols) == 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	n = min(n, len(symbols))

	groups := make([][]domain.Symbol, 0, n)
	size, rem := len(symbols)/n, len(symbols)%n
	for i, lo := 0, 0; i < n; i++ {
		hi := lo + size
		if i < rem {
			hi++
		}
		groups = append(groups, symbols[lo:hi])
		lo = hi
	}
	return groups
}
