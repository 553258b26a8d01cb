package gather

import (
	"context"
	"fmt"
	"time"

	"marketsync/internal/domain"
	"marketsync/internal/util"
)

// Cursor is the date range of one incremental fetch. A nil End means up to
// the latest available session.
type Cursor struct {
	Start *time.Time
	End   *time.Time
}

func (c Cursor) String() string {
	s, e := "-", "-"
	if c.Start != nil {
		s = domain.FormatDate(*c.Start)
	}
	if c.End != nil {
		e = domain.FormatDate(*c.End)
	}
	return s + ".." + e
}

// ComputeCursor derives the next fetch range for code: defaultStart when
// nothing is stored, otherwise the session after the latest stored date.
func ComputeCursor(ctx context.Context, st RecordStore, cal *util.TradeCalendar, kind domain.Kind, code string, defaultStart time.Time) (Cursor, error) {
	latest, ok, err := st.Latest(ctx, kind, code)
	if err != nil {
		return Cursor{}, fmt.Errorf("latest %s for %s: %w", kind, code, err)
	}
	start := domain.Day(defaultStart)
	if ok {
		start = cal.NextTradeDate(latest)
	}
	return Cursor{Start: &start}, nil
}

// Gate decides whether a cursor has anything due. Before the session close
// in Location, today's session is not final, so the boundary is today;
// after it the boundary moves to tomorrow. A start on or past the boundary
// has nothing new.
type Gate struct {
	Location *time.Location
	// Close is the session close as an offset from local midnight.
	Close time.Duration
}

// Boundary returns the first date that is not yet syncable at now.
func (g Gate) Boundary(now time.Time) time.Time {
	loc := g.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if local.Sub(midnight) >= g.Close {
		return today.AddDate(0, 0, 1)
	}
	return today
}

// Due reports whether a fetch starting at start can return new data.
func (g Gate) Due(start, now time.Time) bool {
	return domain.Day(start).Before(g.Boundary(now))
}
