package gather

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"marketsync/internal/domain"
	"marketsync/internal/util"
)

// SyncerOptions are shared by every kind.
type SyncerOptions struct {
	Store    RecordStore
	Calendar *util.TradeCalendar
	Gate     Gate
	// StartDate is used for symbols with nothing stored.
	StartDate time.Time
	Retry     util.RetryPolicy
	Logger    *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// fetchFunc returns a nil result when the source has nothing final in range.
// Records dated on or after boundary are not final and must be dropped.
type fetchFunc func(ctx context.Context, sym domain.Symbol, cur Cursor, boundary time.Time) (domain.SyncResult, error)

// final keeps the records dated before boundary.
func final[T interface{ RecordDate() time.Time }](recs []T, boundary time.Time) []T {
	out := recs[:0:0]
	for _, r := range recs {
		if domain.Day(r.RecordDate()).Before(boundary) {
			out = append(out, r)
		}
	}
	return out
}

// syncer carries the cursor policy, retry wrapping and emission common to
// all kinds; only fetch differs.
type syncer struct {
	kind  domain.Kind
	opts  SyncerOptions
	fetch fetchFunc
	log   *slog.Logger
}

var _ Syncer = (*syncer)(nil)

func newSyncer(kind domain.Kind, opts SyncerOptions, fetch fetchFunc) *syncer {
	if opts.Calendar == nil {
		opts.Calendar = util.NewTradeCalendar(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = domain.Retryable
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &syncer{kind: kind, opts: opts, fetch: fetch, log: log.With("syncer", string(kind))}
}

// NewBarSyncer syncs stock_daily or index_daily.
func NewBarSyncer(kind domain.Kind, f BarFetcher, opts SyncerOptions) Syncer {
	return newSyncer(kind, opts, func(ctx context.Context, sym domain.Symbol, cur Cursor, boundary time.Time) (domain.SyncResult, error) {
		bars, err := f.FetchBars(ctx, kind, sym, cur.Start, cur.End)
		if err != nil {
			return nil, err
		}
		if b, ok := domain.NewBarBatch(kind, sym, final(bars, boundary)); ok {
			return b, nil
		}
		return nil, nil
	})
}

// NewMarginSyncer syncs stock_margin.
func NewMarginSyncer(f MarginFetcher, opts SyncerOptions) Syncer {
	return newSyncer(domain.KindStockMargin, opts, func(ctx context.Context, sym domain.Symbol, cur Cursor, boundary time.Time) (domain.SyncResult, error) {
		margins, err := f.FetchMargin(ctx, sym, cur.Start, cur.End)
		if err != nil {
			return nil, err
		}
		if b, ok := domain.NewMarginBatch(sym, final(margins, boundary)); ok {
			return b, nil
		}
		return nil, nil
	})
}

// NewFinancialSyncer syncs stock_financial.
func NewFinancialSyncer(f FinancialFetcher, opts SyncerOptions) Syncer {
	return newSyncer(domain.KindStockFinancial, opts, func(ctx context.Context, sym domain.Symbol, cur Cursor, boundary time.Time) (domain.SyncResult, error) {
		reports, err := f.FetchFinancial(ctx, sym, cur.Start, cur.End)
		if err != nil {
			return nil, err
		}
		if b, ok := domain.NewFinancialBatch(sym, final(reports, boundary)); ok {
			return b, nil
		}
		return nil, nil
	})
}

func (s *syncer) Kind() domain.Kind { return s.kind }

// Fetch runs the per-symbol steps sequentially. Errors are not isolated per
// symbol: the first failure ends the group.
func (s *syncer) Fetch(ctx context.Context, task int, symbols []domain.Symbol, emit Emitter) error {
	log := s.log.With("task", task)
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}

		cur, err := ComputeCursor(ctx, s.opts.Store, s.opts.Calendar, s.kind, sym.Code, s.opts.StartDate)
		if err != nil {
			return err
		}
		now := s.opts.Now()
		if !s.opts.Gate.Due(*cur.Start, now) {
			log.Info(fmt.Sprintf("%s(%s) %s is the newest", sym.Name, sym.Code, s.kind))
			continue
		}

		boundary := s.opts.Gate.Boundary(now)
		policy := s.opts.Retry
		policy.OnRetry = func(attempt int, err error, next time.Duration) {
			log.Warn("fetch failed, retrying", "code", sym.Code, "attempt", attempt, "backoff", next, "error", err)
		}
		res, err := util.RetryValue(ctx, policy, func(ctx context.Context) (domain.SyncResult, error) {
			return s.fetch(ctx, sym, cur, boundary)
		})
		if err != nil {
			return fmt.Errorf("fetching %s for %s %s: %w", s.kind, sym.Code, cur, err)
		}
		if res == nil {
			log.Debug("nothing new", "code", sym.Code, "cursor", cur.String())
			continue
		}

		log.Debug("fetched", "code", sym.Code, "cursor", cur.String(), "size", res.Len())
		if err := emit(ctx, res); err != nil {
			return fmt.Errorf("emitting %s for %s: %w", s.kind, sym.Code, err)
		}
	}
	return nil
}

// Save bulk-inserts one result without upsert.
func (s *syncer) Save(ctx context.Context, res domain.SyncResult) error {
	sym := res.Symbol()
	s.log.Info("start save", "code", sym.Code, "name", sym.Name, "size", res.Len())
	if err := s.opts.Store.Insert(ctx, res, false); err != nil {
		return fmt.Errorf("saving %s for %s: %w", res.Kind(), sym.Code, err)
	}
	s.log.Info("done save", "code", sym.Code, "size", res.Len())
	return nil
}
