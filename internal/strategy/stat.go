package strategy

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"marketsync/internal/domain"
)

// ErrInsufficientData is returned by StatResult when there is no session
// after the signal session.
var ErrInsufficientData = errors.New("insufficient data")

// Stat scores the sessions following a signal. Percentages are relative to
// the signal session's close and rounded to two decimals.
type Stat struct {
	// Start is the signal session.
	Start time.Time `json:"start"`
	Close float64   `json:"close"`
	// Days is the number of sessions scored, at most hitMax.
	Days int `json:"days"`
	// HitChgPct is the change after hit sessions, or after Days when fewer
	// sessions are available.
	HitChgPct   float64 `json:"hit_chg_pct"`
	MaxChgPct   float64 `json:"max_chg_pct"`
	MaxDrawdown float64 `json:"max_drawdown"`
	EndChgPct   float64 `json:"end_chg_pct"`
	UpDays      int     `json:"up_days"`
	WinRate     float64 `json:"win_rate"`
}

// StatResult scores bars, in any order, taking the oldest as the signal
// session and the following sessions, up to hitMax, as the outcome.
func StatResult(bars []domain.Bar, hit, hitMax int) (*Stat, error) {
	if hit < 1 || hitMax < hit {
		return nil, fmt.Errorf("%w: stat window hit=%d hit_max=%d", domain.ErrConfig, hit, hitMax)
	}
	if len(bars) < 2 {
		return nil, fmt.Errorf("%w: %d bars", ErrInsufficientData, len(bars))
	}

	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TradeDate.Before(sorted[j].TradeDate) })

	signal := sorted[0]
	base := decimal.NewFromFloat(signal.Close)
	if base.IsZero() {
		return nil, fmt.Errorf("%w: signal close is zero on %s", ErrInsufficientData, domain.FormatDate(signal.TradeDate))
	}
	window := sorted[1:min(len(sorted), hitMax+1)]

	pct := func(c float64) decimal.Decimal {
		return decimal.NewFromFloat(c).Sub(base).Div(base).Mul(decimal.NewFromInt(100))
	}

	var (
		maxChg = pct(window[0].Close)
		minChg = maxChg
		hitChg decimal.Decimal
		up     int
		prev   = signal.Close
	)
	for i, b := range window {
		chg := pct(b.Close)
		maxChg = decimal.Max(maxChg, chg)
		minChg = decimal.Min(minChg, chg)
		if i < hit {
			hitChg = chg
		}
		if b.Close > prev {
			up++
		}
		prev = b.Close
	}
	end := pct(window[len(window)-1].Close)

	return &Stat{
		Start:       signal.TradeDate,
		Close:       signal.Close,
		Days:        len(window),
		HitChgPct:   hitChg.Round(2).InexactFloat64(),
		MaxChgPct:   maxChg.Round(2).InexactFloat64(),
		MaxDrawdown: decimal.Min(minChg, decimal.Zero).Round(2).InexactFloat64(),
		EndChgPct:   end.Round(2).InexactFloat64(),
		UpDays:      up,
		WinRate:     decimal.NewFromInt(int64(up)).Div(decimal.NewFromInt(int64(len(window)))).Round(2).InexactFloat64(),
	}, nil
}
