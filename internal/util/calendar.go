package util

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketsync/internal/domain"
)

// CalendarSource yields historical trading sessions.
type CalendarSource interface {
	TradeDates(ctx context.Context) ([]time.Time, error)
}

// TradeCalendar is the ordered set of known trading sessions. It is loaded
// once before syncing starts and read concurrently by every sync worker.
type TradeCalendar struct {
	mu    sync.RWMutex
	dates []time.Time // sorted, unique, midnight UTC
}

// NewTradeCalendar returns a calendar holding dates.
func NewTradeCalendar(dates []time.Time) *TradeCalendar {
	c := &TradeCalendar{}
	c.Load(dates)
	return c
}

// LoadCalendar builds a calendar from the first source that returns a
// non-empty session list.
func LoadCalendar(ctx context.Context, sources ...CalendarSource) (*TradeCalendar, error) {
	var errs []error
	for _, src := range sources {
		dates, err := src.TradeDates(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(dates) > 0 {
			return NewTradeCalendar(dates), nil
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("loading trade calendar: %w", errors.Join(errs...))
	}
	return NewTradeCalendar(nil), nil
}

// Load replaces the session list.
func (c *TradeCalendar) Load(dates []time.Time) {
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		days = append(days, domain.Day(d))
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	uniq := days[:0]
	for i, d := range days {
		if i == 0 || !d.Equal(uniq[len(uniq)-1]) {
			uniq = append(uniq, d)
		}
	}

	c.mu.Lock()
	c.dates = uniq
	c.mu.Unlock()
}

// NextTradeDate returns the earliest session strictly after d. Past the last
// known session the next weekday after d is returned instead, so the result
// is always strictly after d.
func (c *TradeCalendar) NextTradeDate(d time.Time) time.Time {
	d = domain.Day(d)

	c.mu.RLock()
	i := sort.Search(len(c.dates), func(i int) bool { return c.dates[i].After(d) })
	if i < len(c.dates) {
		next := c.dates[i]
		c.mu.RUnlock()
		return next
	}
	c.mu.RUnlock()

	next := d.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// IsTradeDate reports whether d is a known session.
func (c *TradeCalendar) IsTradeDate(d time.Time) bool {
	d = domain.Day(d)
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := sort.Search(len(c.dates), func(i int) bool { return !c.dates[i].Before(d) })
	return i < len(c.dates) && c.dates[i].Equal(d)
}

// Last returns the last known session.
func (c *TradeCalendar) Last() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.dates) == 0 {
		return time.Time{}, false
	}
	return c.dates[len(c.dates)-1], true
}

// Len returns the number of known sessions.
func (c *TradeCalendar) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.dates)
}

// Snapshot returns an independent copy that later Loads do not affect.
func (c *TradeCalendar) Snapshot() *TradeCalendar {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dates := make([]time.Time, len(c.dates))
	copy(dates, c.dates)
	return &TradeCalendar{dates: dates}
}
