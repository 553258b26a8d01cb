package gather

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsync/internal/domain"
	"marketsync/internal/util"
)

var (
	shanghai, _  = time.LoadLocation("Asia/Shanghai")
	defaultStart = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fakeStore records inserts and serves Latest from a map.
type fakeStore struct {
	mu        sync.Mutex
	latest    map[string]time.Time
	inserts   []domain.SyncResult
	insertErr error
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func newFakeStore() *fakeStore { return &fakeStore{latest: map[string]time.Time{}} }

func (s *fakeStore) Latest(_ context.Context, kind domain.Kind, code string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.latest[string(kind)+"/"+code]
	return d, ok, nil
}

func (s *fakeStore) Insert(_ context.Context, res domain.SyncResult, _ bool) error {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxFlight.Load()
		if n <= m || s.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserts = append(s.inserts, res)
	return nil
}

func (s *fakeStore) SaveSymbols(context.Context, domain.Kind, []domain.Symbol) error { return nil }

func (s *fakeStore) saved() []domain.SyncResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SyncResult(nil), s.inserts...)
}

type fetchCall struct {
	code       string
	start, end *time.Time
}

// fakeBars returns n bars per symbol; errs[code] lists errors returned on
// successive calls before succeeding.
type fakeBars struct {
	mu    sync.Mutex
	n     int
	errs  map[string][]error
	calls []fetchCall
}

func (f *fakeBars) FetchBars(_ context.Context, kind domain.Kind, sym domain.Symbol, start, end *time.Time) ([]domain.Bar, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{sym.Code, start, end})
	if errs := f.errs[sym.Code]; len(errs) > 0 {
		f.errs[sym.Code] = errs[1:]
		f.mu.Unlock()
		return nil, errs[0]
	}
	f.mu.Unlock()

	bars := make([]domain.Bar, f.n)
	for i := range bars {
		bars[i] = domain.Bar{Code: sym.Code, Name: sym.Name, TradeDate: start.AddDate(0, 0, i), Close: 10}
	}
	return bars, nil
}

func (f *fakeBars) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBars) calledCodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.code
	}
	return out
}

func symbols(codes ...string) []domain.Symbol {
	out := make([]domain.Symbol, len(codes))
	for i, c := range codes {
		out[i] = domain.Symbol{Code: c, Name: "name-" + c}
	}
	return out
}

func options(st RecordStore, now time.Time, log *slog.Logger) SyncerOptions {
	return SyncerOptions{
		Store:     st,
		Calendar:  util.NewTradeCalendar([]time.Time{day(2024, 1, 8), day(2024, 1, 9), day(2024, 1, 10)}),
		Gate:      Gate{Location: shanghai, Close: 15*time.Hour + 30*time.Minute},
		StartDate: defaultStart,
		Retry:     util.RetryPolicy{MaxAttempts: 3},
		Logger:    log,
		Now:       func() time.Time { return now },
	}
}

// collect is an Emitter that keeps everything.
type collect struct {
	mu  sync.Mutex
	got []domain.SyncResult
}

func (c *collect) emit(_ context.Context, res domain.SyncResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, res)
	return nil
}

// ---------------------------------------------------------------------------
// Cursor and gate
// ---------------------------------------------------------------------------

func TestComputeCursorNoData(t *testing.T) {
	cal := util.NewTradeCalendar(nil)
	cur, err := ComputeCursor(context.Background(), newFakeStore(), cal, domain.KindStockDaily, "sz002805", defaultStart)
	require.NoError(t, err)
	require.NotNil(t, cur.Start)
	assert.Equal(t, defaultStart, *cur.Start)
	assert.Nil(t, cur.End)
}

func TestComputeCursorAfterLatest(t *testing.T) {
	st := newFakeStore()
	cal := util.NewTradeCalendar([]time.Time{day(2024, 1, 5), day(2024, 1, 8)})

	// Friday's bar stored: next fetch starts Monday, never re-fetching Friday.
	st.latest["stock_daily/sz002805"] = day(2024, 1, 5)
	cur, err := ComputeCursor(context.Background(), st, cal, domain.KindStockDaily, "sz002805", defaultStart)
	require.NoError(t, err)
	assert.Equal(t, day(2024, 1, 8), *cur.Start)
	assert.True(t, cur.Start.After(day(2024, 1, 5)))
	assert.Nil(t, cur.End)
	assert.Equal(t, "2024-01-08..-", cur.String())
}

func TestGateBoundary(t *testing.T) {
	g := Gate{Location: shanghai, Close: 15*time.Hour + 30*time.Minute}
	morning := time.Date(2024, 1, 10, 10, 0, 0, 0, shanghai)
	evening := time.Date(2024, 1, 10, 16, 0, 0, 0, shanghai)

	assert.Equal(t, day(2024, 1, 10), g.Boundary(morning))
	assert.Equal(t, day(2024, 1, 11), g.Boundary(evening))

	assert.True(t, g.Due(day(2024, 1, 9), morning))
	assert.False(t, g.Due(day(2024, 1, 10), morning), "today's session is not final before close")
	assert.True(t, g.Due(day(2024, 1, 10), evening))
	assert.False(t, g.Due(day(2024, 1, 11), evening))

	// 23:30 UTC on the 9th is already the 10th in Shanghai.
	late := time.Date(2024, 1, 9, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, day(2024, 1, 10), g.Boundary(late))
}

// ---------------------------------------------------------------------------
// Syncer
// ---------------------------------------------------------------------------

func TestSyncerFreshSymbolScenario(t *testing.T) {
	st := newFakeStore()
	f := &fakeBars{n: 10}
	now := time.Date(2024, 1, 10, 16, 0, 0, 0, shanghai)
	s := NewBarSyncer(domain.KindStockDaily, f, options(st, now, nil))

	p := &Pipeline{Syncer: s, Symbols: []domain.Symbol{{Code: "sz002805", Name: "丰元股份"}}, TaskN: 1}
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, f.calls, 1)
	require.NotNil(t, f.calls[0].start)
	assert.Equal(t, defaultStart, *f.calls[0].start)
	assert.Nil(t, f.calls[0].end)

	assert.EqualValues(t, 1, p.Emitted())
	saved := st.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, 10, saved[0].Len())
	assert.Equal(t, domain.KindStockDaily, saved[0].Kind())
	assert.Equal(t, "sz002805", saved[0].Symbol().Code)
}

func TestSyncerSkipsUpToDateSymbol(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	st := newFakeStore()
	st.latest["stock_daily/sz002805"] = day(2024, 1, 9)
	f := &fakeBars{n: 3}
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, shanghai)
	s := NewBarSyncer(domain.KindStockDaily, f, options(st, now, log))

	var out collect
	require.NoError(t, s.Fetch(context.Background(), 0, []domain.Symbol{{Code: "sz002805", Name: "丰元股份"}}, out.emit))

	assert.Zero(t, f.callCount(), "no fetch for an up-to-date symbol")
	assert.Empty(t, out.got, "no emission for an up-to-date symbol")
	assert.Contains(t, buf.String(), "丰元股份(sz002805) stock_daily is the newest")
}

// Before the close today's bar is still forming: it is dropped so the next
// run fetches it again.
func TestSyncerDropsUnfinishedSession(t *testing.T) {
	st := newFakeStore()
	st.latest["stock_daily/sz002805"] = day(2024, 1, 8)
	f := &fakeBars{n: 2}
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, shanghai)
	opts := options(st, now, nil)
	s := NewBarSyncer(domain.KindStockDaily, f, opts)

	var out collect
	require.NoError(t, s.Fetch(context.Background(), 0, []domain.Symbol{{Code: "sz002805", Name: "丰元股份"}}, out.emit))
	require.Equal(t, 1, f.callCount())
	require.Len(t, out.got, 1)
	bars := out.got[0].(*domain.BarBatch).Bars
	require.Len(t, bars, 1)
	assert.Equal(t, day(2024, 1, 9), bars[0].TradeDate)

	// The saved high-water mark leaves 2024-01-10 due once the session closes.
	st.latest["stock_daily/sz002805"] = bars[0].TradeDate
	cur, err := ComputeCursor(context.Background(), st, opts.Calendar, domain.KindStockDaily, "sz002805", defaultStart)
	require.NoError(t, err)
	assert.Equal(t, day(2024, 1, 10), *cur.Start)
	assert.True(t, opts.Gate.Due(*cur.Start, time.Date(2024, 1, 10, 16, 0, 0, 0, shanghai)))

	// Margin sessions follow the same rule.
	st.latest["stock_margin/sz002805"] = day(2024, 1, 8)
	var margins collect
	require.NoError(t, NewMarginSyncer(fakeMargin{n: 2}, opts).Fetch(context.Background(), 0, symbols("sz002805"), margins.emit))
	require.Len(t, margins.got, 1)
	assert.Len(t, margins.got[0].(*domain.MarginBatch).Margins, 1)
}

func TestSyncerEmptyFetchEmitsNothing(t *testing.T) {
	st := newFakeStore()
	f := &fakeBars{n: 0}
	now := time.Date(2024, 1, 10, 16, 0, 0, 0, shanghai)
	s := NewBarSyncer(domain.KindIndexDaily, f, options(st, now, nil))

	var out collect
	require.NoError(t, s.Fetch(context.Background(), 0, symbols("sh000001", "sz399001"), out.emit))
	assert.Equal(t, 2, f.callCount())
	assert.Empty(t, out.got)
}

func TestSyncerRetriesTransientErrors(t *testing.T) {
	st := newFakeStore()
	f := &fakeBars{n: 2, errs: map[string][]error{
		"sz300827": {&domain.APIError{StatusCode: 502}, errors.New("connection reset")},
	}}
	now := time.Date(2024, 1, 10, 16, 0, 0, 0, shanghai)
	s := NewBarSyncer(domain.KindStockDaily, f, options(st, now, nil))

	var out collect
	require.NoError(t, s.Fetch(context.Background(), 0, symbols("sz300827"), out.emit))
	assert.Equal(t, 3, f.callCount())
	require.Len(t, out.got, 1)
	assert.Equal(t, 2, out.got[0].Len())
}

func TestSyncerFailFast(t *testing.T) {
	st := newFakeStore()
	f := &fakeBars{n: 1, errs: map[string][]error{
		"sz300827": {fmt.Errorf("klines: %w", domain.ErrMalformed)},
	}}
	now := time.Date(2024, 1, 10, 16, 0, 0, 0, shanghai)
	s := NewBarSyncer(domain.KindStockDaily, f, options(st, now, nil))

	var out collect
	err := s.Fetch(context.Background(), 0, symbols("sz002805", "sz300827", "sz000762"), out.emit)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformed)

	// The fatal error is not retried and the third symbol is never reached.
	assert.Equal(t, []string{"sz002805", "sz300827"}, f.calledCodes())
	assert.Len(t, out.got, 1)
}

func TestSyncerRetryExhaustion(t *testing.T) {
	st := newFakeStore()
	unavailable := &domain.APIError{StatusCode: 503}
	f := &fakeBars{n: 1, errs: map[string][]error{
		"sz002805": {unavailable, unavailable, unavailable, unavailable},
	}}
	now := time.Date(2024, 1, 10, 16, 0, 0, 0, shanghai)
	s := NewBarSyncer(domain.KindStockDaily, f, options(st, now, nil))

	var out collect
	err := s.Fetch(context.Background(), 0, symbols("sz002805", "sz300827"), out.emit)

	var re *util.RetryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.Attempts)
	var apiErr *domain.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 3, f.callCount())
	assert.Empty(t, out.got)
}

type fakeMargin struct{ n int }

func (f fakeMargin) FetchMargin(_ context.Context, sym domain.Symbol, start, _ *time.Time) ([]domain.Margin, error) {
	out := make([]domain.Margin, f.n)
	for i := range out {
		out[i] = domain.Margin{Code: sym.Code, TradeDate: start.AddDate(0, 0, i)}
	}
	return out, nil
}

type fakeFinancial struct{}

func (fakeFinancial) FetchFinancial(_ context.Context, sym domain.Symbol, _, _ *time.Time) ([]domain.Financial, error) {
	return []domain.Financial{{Code: sym.Code, ReportDate: day(2023, 12, 31)}}, nil
}

func TestSyncerKinds(t *testing.T) {
	st := newFakeStore()
	now := time.Date(2024, 1, 10, 16, 0, 0, 0, shanghai)

	m := NewMarginSyncer(fakeMargin{n: 4}, options(st, now, nil))
	fin := NewFinancialSyncer(fakeFinancial{}, options(st, now, nil))
	assert.Equal(t, domain.KindStockMargin, m.Kind())
	assert.Equal(t, domain.KindStockFinancial, fin.Kind())

	var out collect
	require.NoError(t, m.Fetch(context.Background(), 0, symbols("sz002805"), out.emit))
	require.NoError(t, fin.Fetch(context.Background(), 0, symbols("sz002805"), out.emit))
	require.Len(t, out.got, 2)

	mb, ok := out.got[0].(*domain.MarginBatch)
	require.True(t, ok)
	assert.Len(t, mb.Margins, 4)
	_, ok = out.got[1].(*domain.FinancialBatch)
	assert.True(t, ok)

	// Empty margin fetch yields no result.
	out.got = nil
	require.NoError(t, NewMarginSyncer(fakeMargin{}, options(st, now, nil)).Fetch(context.Background(), 0, symbols("sz002805"), out.emit))
	assert.Empty(t, out.got)
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

func TestPartition(t *testing.T) {
	syms := symbols("a", "b", "c", "d", "e", "f", "g")

	groups := Partition(syms, 3)
	require.Len(t, groups, 3)
	assert.Len(t, groups[0], 3)
	assert.Len(t, groups[1], 2)
	assert.Len(t, groups[2], 2)

	var flat []domain.Symbol
	for _, g := range groups {
		flat = append(flat, g...)
	}
	assert.Equal(t, syms, flat, "groups are contiguous and disjoint")

	assert.Len(t, Partition(syms, 20), 7)
	assert.Len(t, Partition(syms, 0), 1)
	assert.Nil(t, Partition(nil, 4))
}

func TestPipelineFanOutFanIn(t *testing.T) {
	st := newFakeStore()
	f := &fakeBars{n: 2}
	now := time.Date(2024, 1, 10, 16, 0, 0, 0, shanghai)
	codes := []string{"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9"}

	p := &Pipeline{
		Syncer:  NewBarSyncer(domain.KindStockDaily, f, options(st, now, nil)),
		Symbols: symbols(codes...),
		TaskN:   3,
		Buffer:  1,
	}
	require.NoError(t, p.Run(context.Background()))

	saved := st.saved()
	require.Len(t, saved, len(codes))
	seen := map[string]int{}
	for _, r := range saved {
		seen[r.Symbol().Code]++
	}
	for _, c := range codes {
		assert.Equal(t, 1, seen[c], "each non-empty fetch is saved exactly once: %s", c)
	}
	assert.EqualValues(t, 1, st.maxFlight.Load(), "a single save stage drains the channel")
	assert.EqualValues(t, len(codes), p.Emitted())
	assert.EqualValues(t, len(codes), p.Saved())
}

func TestPipelineWorkerFailureLeavesSiblingsRunning(t *testing.T) {
	st := newFakeStore()
	f := &fakeBars{n: 1, errs: map[string][]error{
		"a0": {fmt.Errorf("bad payload: %w", domain.ErrMalformed)},
	}}
	now := time.Date(2024, 1, 10, 16, 0, 0, 0, shanghai)
	p := &Pipeline{
		Syncer:  NewBarSyncer(domain.KindStockDaily, f, options(st, now, nil)),
		Symbols: symbols("a0", "a1", "a2", "b0", "b1", "b2"),
		TaskN:   2,
	}

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformed)

	saved := map[string]bool{}
	for _, r := range st.saved() {
		saved[r.Symbol().Code] = true
	}
	assert.Equal(t, map[string]bool{"b0": true, "b1": true, "b2": true}, saved,
		"the failing group stops, its sibling runs to completion")
}

func TestPipelineSaveFailure(t *testing.T) {
	st := newFakeStore()
	st.insertErr = errors.New("disk full")
	f := &fakeBars{n: 1}
	now := time.Date(2024, 1, 10, 16, 0, 0, 0, shanghai)
	p := &Pipeline{
		Syncer:  NewBarSyncer(domain.KindStockDaily, f, options(st, now, nil)),
		Symbols: symbols("s0", "s1", "s2", "s3", "s4", "s5"),
		TaskN:   1,
		Buffer:  1,
	}

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, st.insertErr)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish after a save failure")
	}
	assert.Empty(t, st.saved())
	assert.Zero(t, p.Saved())
}

type fakeLister struct{ syms []domain.Symbol }

func (f fakeLister) ListSymbols(context.Context, domain.Kind) ([]domain.Symbol, error) {
	return f.syms, nil
}

type recordingSaver struct {
	kind domain.Kind
	got  []domain.Symbol
}

func (r *recordingSaver) SaveSymbols(_ context.Context, kind domain.Kind, syms []domain.Symbol) error {
	r.kind, r.got = kind, syms
	return nil
}

func TestSyncSymbols(t *testing.T) {
	dst := &recordingSaver{}
	got, err := SyncSymbols(context.Background(), fakeLister{symbols("sz002805", "sz300827")}, dst,
		domain.KindStockInfo, util.RetryPolicy{MaxAttempts: 1})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, domain.KindStockInfo, dst.kind)
	assert.Len(t, dst.got, 2)

	_, err = SyncSymbols(context.Background(), fakeLister{}, dst, domain.KindStockDaily, util.RetryPolicy{})
	assert.ErrorIs(t, err, domain.ErrUnsupported)
}

func TestFilterSymbols(t *testing.T) {
	all := []domain.Symbol{{Code: "sz002805", Name: "丰元股份"}, {Code: "sz300827", Name: "上能电气"}}
	got := FilterSymbols(all, []string{"sz300827", "sz999999"})
	assert.Equal(t, []domain.Symbol{{Code: "sz300827", Name: "上能电气"}, {Code: "sz999999"}}, got)
	assert.Equal(t, all, FilterSymbols(all, nil))
}
