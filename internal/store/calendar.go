package store

import (
	"context"
	"time"

	"marketsync/internal/domain"
)

// IndexCalendar derives trading sessions from the stored bars of one index.
// It implements util.CalendarSource.
type IndexCalendar struct {
	Loader Loader
	Code   string
}

// TradeDates returns every stored session of the index, oldest first.
func (c IndexCalendar) TradeDates(ctx context.Context) ([]time.Time, error) {
	bars, err := c.Loader.LoadDaily(ctx, domain.KindIndexDaily, domain.Query{Code: c.Code})
	if err != nil {
		return nil, err
	}
	dates := make([]time.Time, len(bars))
	for i, b := range bars {
		dates[i] = b.TradeDate
	}
	return dates, nil
}
