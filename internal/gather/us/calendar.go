package us

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"marketsync/internal/domain"
	"marketsync/internal/util"
)

var newYork = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Calendar returns the Alpaca trading calendar from since through a month
// past today as a calendar source.
func (c *Client) Calendar(since time.Time) util.CalendarSource {
	return &alpacaCalendar{api: c.trading, since: since, now: time.Now}
}

type alpacaCalendar struct {
	api   tradingAPI
	since time.Time
	now   func() time.Time
}

func (a *alpacaCalendar) TradeDates(ctx context.Context) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := a.now().In(newYork)
	days, err := a.api.GetCalendar(alpaca.GetCalendarRequest{
		Start: a.since,
		End:   now.AddDate(0, 1, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}

	dates := make([]time.Time, 0, len(days))
	for _, d := range days {
		t, err := domain.ParseDate(d.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: calendar date %q", domain.ErrMalformed, d.Date)
		}
		dates = append(dates, t)
	}
	return dates, nil
}
