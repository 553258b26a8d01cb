package builtins

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketsync/internal/domain"
	"marketsync/internal/store"
	"marketsync/internal/strategy"
)

var _ strategy.Strategy = (*Watchlist)(nil)

// DefaultWatchlist is used when no codes parameter is given.
var DefaultWatchlist = []string{"sz002805", "sz300827", "sz000762"}

const watchlistBars = 60

// Watchlist reports every symbol on a fixed list, scoring its recent
// sessions and marking the two latest.
type Watchlist struct {
	codes map[string]struct{}
}

func NewWatchlist() *Watchlist {
	return &Watchlist{codes: toSet(DefaultWatchlist)}
}

func (w *Watchlist) Name() string { return "watchlist" }

func (w *Watchlist) Help() string {
	return `Reports the symbols on a watch list with a score of their last 60 sessions.
params:
  codes=sz002805,sz300827,sz000762   comma separated codes`
}

func (w *Watchlist) Prepare(_ context.Context, _ store.Loader, _ *strategy.CommonParam, params map[string]string) error {
	v, ok := params["codes"]
	if !ok {
		return nil
	}
	var codes []string
	for _, c := range strings.Split(v, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	if len(codes) == 0 {
		return fmt.Errorf("%w: codes is empty", domain.ErrConfig)
	}
	w.codes = toSet(codes)
	return nil
}

func (w *Watchlist) Test(ctx context.Context, loader store.Loader, typ strategy.Type, code, name string) (*strategy.Result, error) {
	if _, ok := w.codes[code]; !ok {
		return nil, nil
	}
	bars, err := loader.LoadDaily(ctx, typ.DataKind(), domain.Query{Code: code, Desc: true, Limit: watchlistBars})
	if err != nil {
		return nil, fmt.Errorf("load_daily %s: %w", code, err)
	}
	if len(bars) < 2 {
		return nil, nil
	}
	st, err := strategy.StatResult(bars, statHit, statHitMax)
	if err != nil {
		return nil, fmt.Errorf("stat result %s: %w", code, err)
	}

	mark := make(map[time.Time]string, 2)
	for i, b := range bars[:2] {
		mark[b.TradeDate] = fmt.Sprintf("data%d marker: close=%.2f chg_pct=%.2f volume=%d", i, b.Close, b.ChgPct, b.Volume)
	}
	return &strategy.Result{Code: code, Name: name, Mark: mark, Stat: st}, nil
}

func toSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

// Registry returns the built-in strategies.
func Registry() *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register("watchlist", func() strategy.Strategy { return NewWatchlist() })
	r.Register("sma-cross", func() strategy.Strategy { return NewSMACross(5, 20) })
	return r
}
