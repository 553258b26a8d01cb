package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"marketsync/internal/domain"
)

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// FileStore keeps one Parquet file per (kind, code) on disk. Symbol lists
// live in one file per info kind.
//
// Non-upsert inserts keep the stored row when a date already exists.
type FileStore struct {
	DataDir string
	mu      sync.RWMutex
}

// NewFileStore creates a FileStore rooted at dataDir.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{DataDir: dataDir}, nil
}

func (s *FileStore) Close() error { return nil }

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bars.
type BarRecord struct {
	Code      string  `parquet:"code"`
	Name      string  `parquet:"name"`
	TradeDate int64   `parquet:"trade_date,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	Close     float64 `parquet:"close"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Volume    int64   `parquet:"volume"`
	Amount    float64 `parquet:"amount"`
	Turnover  float64 `parquet:"turnover"`
	ChgPct    float64 `parquet:"chg_pct"`
}

// MarginRecord is the Parquet schema for margin sessions.
type MarginRecord struct {
	Code           string  `parquet:"code"`
	Name           string  `parquet:"name"`
	TradeDate      int64   `parquet:"trade_date,timestamp(millisecond)"`
	Close          float64 `parquet:"close"`
	ChgPct         float64 `parquet:"chg_pct"`
	FinBalance     float64 `parquet:"fin_balance"`
	FinBuy         float64 `parquet:"fin_buy"`
	FinRepay       float64 `parquet:"fin_repay"`
	SecLendBalance float64 `parquet:"sec_lend_balance"`
	SecLendSell    float64 `parquet:"sec_lend_sell"`
	TotalBalance   float64 `parquet:"total_balance"`
}

// FinancialRecord is the Parquet schema for quarterly reports.
type FinancialRecord struct {
	Code         string  `parquet:"code"`
	Name         string  `parquet:"name"`
	ReportDate   int64   `parquet:"report_date,timestamp(millisecond)"`
	EPS          float64 `parquet:"eps"`
	Revenue      float64 `parquet:"revenue"`
	RevenueYoY   float64 `parquet:"revenue_yoy"`
	NetProfit    float64 `parquet:"net_profit"`
	NetProfitYoY float64 `parquet:"net_profit_yoy"`
	BPS          float64 `parquet:"bps"`
	ROE          float64 `parquet:"roe"`
	GrossMargin  float64 `parquet:"gross_margin"`
}

// SymbolRecord is the Parquet schema for symbol lists.
type SymbolRecord struct {
	Code string `parquet:"code"`
	Name string `parquet:"name"`
}

func toBarRecord(b domain.Bar) BarRecord {
	return BarRecord{b.Code, b.Name, b.TradeDate.UnixMilli(), b.Open, b.Close, b.High, b.Low,
		b.Volume, b.Amount, b.Turnover, b.ChgPct}
}

func fromBarRecord(r BarRecord) domain.Bar {
	return domain.Bar{Code: r.Code, Name: r.Name, TradeDate: time.UnixMilli(r.TradeDate).UTC(),
		Open: r.Open, Close: r.Close, High: r.High, Low: r.Low, Volume: r.Volume,
		Amount: r.Amount, Turnover: r.Turnover, ChgPct: r.ChgPct}
}

func toMarginRecord(m domain.Margin) MarginRecord {
	return MarginRecord{m.Code, m.Name, m.TradeDate.UnixMilli(), m.Close, m.ChgPct, m.FinBalance,
		m.FinBuy, m.FinRepay, m.SecLendBalance, m.SecLendSell, m.TotalBalance}
}

func toFinancialRecord(f domain.Financial) FinancialRecord {
	return FinancialRecord{f.Code, f.Name, f.ReportDate.UnixMilli(), f.EPS, f.Revenue, f.RevenueYoY,
		f.NetProfit, f.NetProfitYoY, f.BPS, f.ROE, f.GrossMargin}
}

// ---------------------------------------------------------------------------
// Store implementation
// ---------------------------------------------------------------------------

// Insert merges the batch into the symbol's file.
func (s *FileStore) Insert(_ context.Context, res domain.SyncResult, upsert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.seriesPath(res.Kind(), res.Symbol().Code)
	var err error
	switch r := res.(type) {
	case *domain.BarBatch:
		recs := make([]BarRecord, len(r.Bars))
		for i, b := range r.Bars {
			recs[i] = toBarRecord(b)
		}
		err = mergeInto(path, recs, func(r BarRecord) int64 { return r.TradeDate }, upsert)
	case *domain.MarginBatch:
		recs := make([]MarginRecord, len(r.Margins))
		for i, m := range r.Margins {
			recs[i] = toMarginRecord(m)
		}
		err = mergeInto(path, recs, func(r MarginRecord) int64 { return r.TradeDate }, upsert)
	case *domain.FinancialBatch:
		recs := make([]FinancialRecord, len(r.Financials))
		for i, f := range r.Financials {
			recs[i] = toFinancialRecord(f)
		}
		err = mergeInto(path, recs, func(r FinancialRecord) int64 { return r.ReportDate }, upsert)
	default:
		return fmt.Errorf("%w: result %T", domain.ErrUnsupported, res)
	}
	if err != nil {
		return fmt.Errorf("writing %s for %s: %w", res.Kind(), res.Symbol().Code, err)
	}
	return nil
}

// Latest reads the symbol's file and returns its newest date.
func (s *FileStore) Latest(_ context.Context, kind domain.Kind, code string) (time.Time, bool, error) {
	if err := checkSeries(kind); err != nil {
		return time.Time{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.seriesPath(kind, code)
	var dates []int64
	var err error
	switch kind {
	case domain.KindStockMargin:
		dates, err = readDates(path, func(r MarginRecord) int64 { return r.TradeDate })
	case domain.KindStockFinancial:
		dates, err = readDates(path, func(r FinancialRecord) int64 { return r.ReportDate })
	default:
		dates, err = readDates(path, func(r BarRecord) int64 { return r.TradeDate })
	}
	if err != nil || len(dates) == 0 {
		return time.Time{}, false, err
	}
	latest := dates[0]
	for _, d := range dates[1:] {
		if d > latest {
			latest = d
		}
	}
	return time.UnixMilli(latest).UTC(), true, nil
}

// LoadDaily reads one code's bars and applies the query.
func (s *FileStore) LoadDaily(_ context.Context, kind domain.Kind, q domain.Query) ([]domain.Bar, error) {
	if err := checkBars(kind); err != nil {
		return nil, err
	}
	s.mu.RLock()
	recs, err := readParquetFile[BarRecord](s.seriesPath(kind, q.Code))
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	bars := make([]domain.Bar, len(recs))
	for i, r := range recs {
		bars[i] = fromBarRecord(r)
	}
	return shapeBars(bars, q), nil
}

// SaveSymbols merges symbols into the kind's list, replacing names.
func (s *FileStore) SaveSymbols(_ context.Context, kind domain.Kind, symbols []domain.Symbol) error {
	if err := checkInfo(kind); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.symbolPath(kind)
	existing, err := readParquetFile[SymbolRecord](path)
	if err != nil {
		return err
	}
	byCode := make(map[string]SymbolRecord, len(existing)+len(symbols))
	for _, r := range existing {
		byCode[r.Code] = r
	}
	for _, sym := range symbols {
		byCode[sym.Code] = SymbolRecord{Code: sym.Code, Name: sym.Name}
	}
	merged := make([]SymbolRecord, 0, len(byCode))
	for _, r := range byCode {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Code < merged[j].Code })
	return writeParquetFile(path, merged)
}

// LoadSymbols returns the kind's list sorted by code.
func (s *FileStore) LoadSymbols(_ context.Context, kind domain.Kind) ([]domain.Symbol, error) {
	if err := checkInfo(kind); err != nil {
		return nil, err
	}
	s.mu.RLock()
	recs, err := readParquetFile[SymbolRecord](s.symbolPath(kind))
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Symbol, len(recs))
	for i, r := range recs {
		out[i] = domain.Symbol{Code: r.Code, Name: r.Name}
	}
	sortSymbols(out)
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// seriesPath returns the file for one code.
// Layout: <dataDir>/<kind>/<CODE>.parquet
func (s *FileStore) seriesPath(kind domain.Kind, code string) string {
	return filepath.Join(s.DataDir, string(kind), strings.ToUpper(code)+".parquet")
}

// symbolPath returns the file for a symbol list.
// Layout: <dataDir>/<kind>.parquet
func (s *FileStore) symbolPath(kind domain.Kind) string {
	return filepath.Join(s.DataDir, string(kind)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

// writeParquetFile replaces path atomically.
func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// readParquetFile returns no rows for a missing file.
func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return rows, nil
}

func readDates[T any](path string, date func(T) int64) ([]int64, error) {
	rows, err := readParquetFile[T](path)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = date(r)
	}
	return out, nil
}

// mergeInto deduplicates by date and rewrites the file sorted by date. On a
// collision the incoming row wins only when upsert is set.
func mergeInto[T any](path string, incoming []T, date func(T) int64, upsert bool) error {
	existing, err := readParquetFile[T](path)
	if err != nil {
		return err
	}
	seen := make(map[int64]T, len(existing)+len(incoming))
	for _, r := range existing {
		seen[date(r)] = r
	}
	for _, r := range incoming {
		if _, dup := seen[date(r)]; dup && !upsert {
			continue
		}
		seen[date(r)] = r
	}

	merged := make([]T, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return date(merged[i]) < date(merged[j])
	})
	return writeParquetFile(path, merged)
}
