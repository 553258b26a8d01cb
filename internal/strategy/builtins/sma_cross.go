// Package builtins provides the strategies that ship with the strategy
// runner.
package builtins

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/markcheno/go-talib"

	"marketsync/internal/domain"
	"marketsync/internal/store"
	"marketsync/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Strategy = (*SMACross)(nil)
	_ strategy.Typed    = (*SMACross)(nil)
)

// Scoring window applied to the sessions after test_end_date.
const (
	statHit    = 3
	statHitMax = 15
)

// SMACross reports symbols whose short-period SMA crossed above the
// long-period SMA on the last session up to test_end_date.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	typ         strategy.Type
	common      *strategy.CommonParam
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		typ:         strategy.TypeStock,
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

func (s *SMACross) Help() string {
	return `Golden cross of two simple moving averages on the close.
params:
  short=5            short SMA period
  long=20            long SMA period
  type=stock         stock or index
  test_end_date=...  evaluate the cross on this date and score the sessions after it
  min_trade_days=N   skip symbols with fewer sessions up to test_end_date`
}

// Type is the universe set by the type parameter.
func (s *SMACross) Type() strategy.Type { return s.typ }

// Prepare reads short, long and type.
func (s *SMACross) Prepare(_ context.Context, _ store.Loader, common *strategy.CommonParam, params map[string]string) error {
	s.common = common
	for key, dst := range map[string]*int{"short": &s.shortPeriod, "long": &s.longPeriod} {
		v, ok := params[key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("%w: %s must be a positive integer, got %q", domain.ErrConfig, key, v)
		}
		*dst = n
	}
	if s.shortPeriod >= s.longPeriod {
		return fmt.Errorf("%w: short (%d) must be less than long (%d)", domain.ErrConfig, s.shortPeriod, s.longPeriod)
	}
	switch t := strategy.Type(params["type"]); t {
	case "":
	case strategy.TypeStock, strategy.TypeIndex:
		s.typ = t
	default:
		return fmt.Errorf("%w: unknown type %q", domain.ErrConfig, t)
	}
	return nil
}

// Test loads the whole history of code and checks the cross.
func (s *SMACross) Test(ctx context.Context, loader store.Loader, typ strategy.Type, code, name string) (*strategy.Result, error) {
	bars, err := loader.LoadDaily(ctx, typ.DataKind(), domain.Query{Code: code})
	if err != nil {
		return nil, fmt.Errorf("load_daily %s: %w", code, err)
	}

	history, after := bars, []domain.Bar(nil)
	if s.common != nil {
		history, after = splitAt(bars, s.common.TestEndDate)
		if len(history) < s.common.MinTradeDays {
			return nil, nil
		}
	}
	if len(history) <= s.longPeriod {
		return nil, nil
	}

	closes := make([]float64, len(history))
	for i, b := range history {
		closes[i] = b.Close
	}
	short := talib.Sma(closes, s.shortPeriod)
	long := talib.Sma(closes, s.longPeriod)
	n := len(closes) - 1
	if !(short[n-1] <= long[n-1] && short[n] > long[n]) {
		return nil, nil
	}

	signal := history[n]
	res := &strategy.Result{
		Code: code,
		Name: name,
		Mark: map[time.Time]string{
			signal.TradeDate: fmt.Sprintf("golden cross: sma%d=%.3f sma%d=%.3f close=%.2f",
				s.shortPeriod, short[n], s.longPeriod, long[n], signal.Close),
		},
	}
	if len(after) > 0 {
		st, err := strategy.StatResult(append([]domain.Bar{signal}, after...), statHit, statHitMax)
		if err != nil {
			return nil, fmt.Errorf("stat result %s: %w", code, err)
		}
		res.Stat = st
	}
	return res, nil
}

// splitAt returns the ascending bars up to and including end, and those
// after it.
func splitAt(bars []domain.Bar, end time.Time) (upTo, after []domain.Bar) {
	i := sort.Search(len(bars), func(i int) bool { return bars[i].TradeDate.After(end) })
	return bars[:i], bars[i:]
}
