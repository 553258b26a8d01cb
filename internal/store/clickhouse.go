package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"marketsync/internal/domain"
)

// Compile-time interface check.
var _ Store = (*ClickHouseStore)(nil)

// ClickHouseStore keeps one ReplacingMergeTree table per kind ordered by
// (code, date). ClickHouse has no unique constraint, so both insert modes
// append and a colliding row replaces the older one when parts merge; reads
// use FINAL to see the collapsed view.
type ClickHouseStore struct {
	conn driver.Conn
}

// NewClickHouseStore opens a connection from a clickhouse:// DSN and creates
// missing tables.
func NewClickHouseStore(ctx context.Context, dsn string) (*ClickHouseStore, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: clickhouse dsn: %v", domain.ErrConfig, err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	s := &ClickHouseStore{conn: conn}
	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *ClickHouseStore) Close() error { return s.conn.Close() }

func (s *ClickHouseStore) migrate(ctx context.Context) error {
	for _, kind := range domain.AllKinds {
		if err := s.conn.Exec(ctx, clickhouseDDL(kind)); err != nil {
			return fmt.Errorf("creating table %s: %w", kind, err)
		}
	}
	return nil
}

func clickhouseDDL(kind domain.Kind) string {
	cols := kind.Columns()
	defs := make([]string, len(cols))
	for i, c := range cols {
		var typ string
		switch {
		case c == "code" || c == "name":
			typ = "String"
		case c == kind.DateColumn():
			typ = "Date"
		case c == "volume":
			typ = "Int64"
		default:
			typ = "Float64"
		}
		defs[i] = c + " " + typ
	}
	order := "code"
	if dc := kind.DateColumn(); dc != "" {
		order = "(code, " + dc + ")"
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = ReplacingMergeTree ORDER BY %s",
		kind, strings.Join(defs, ", "), order)
}

// Insert sends the batch in one block.
func (s *ClickHouseStore) Insert(ctx context.Context, res domain.SyncResult, _ bool) error {
	kind := res.Kind()
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", kind, strings.Join(kind.Columns(), ", ")))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range res.Records() {
		if err := batch.Append(r.Values()...); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	return batch.Send()
}

// Latest uses count() to tell an empty result from the 1970 zero date.
func (s *ClickHouseStore) Latest(ctx context.Context, kind domain.Kind, code string) (time.Time, bool, error) {
	if err := checkSeries(kind); err != nil {
		return time.Time{}, false, err
	}
	var (
		latest time.Time
		n      uint64
	)
	q := fmt.Sprintf("SELECT max(%s), count() FROM %s WHERE code = ?", kind.DateColumn(), kind)
	if err := s.conn.QueryRow(ctx, q, code).Scan(&latest, &n); err != nil {
		return time.Time{}, false, err
	}
	if n == 0 {
		return time.Time{}, false, nil
	}
	return domain.Day(latest), true, nil
}

// LoadDaily pushes the query into SQL.
func (s *ClickHouseStore) LoadDaily(ctx context.Context, kind domain.Kind, q domain.Query) ([]domain.Bar, error) {
	if err := checkBars(kind); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s FINAL WHERE code = ?", strings.Join(kind.Columns(), ", "), kind)
	args := []any{q.Code}
	if !q.Since.IsZero() {
		query += " AND trade_date >= ?"
		args = append(args, q.Since)
	}
	if !q.Until.IsZero() {
		query += " AND trade_date <= ?"
		args = append(args, q.Until)
	}
	if q.Desc {
		query += " ORDER BY trade_date DESC"
	} else {
		query += " ORDER BY trade_date ASC"
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		if err := rows.Scan(&b.Code, &b.Name, &b.TradeDate, &b.Open, &b.Close, &b.High, &b.Low,
			&b.Volume, &b.Amount, &b.Turnover, &b.ChgPct); err != nil {
			return nil, err
		}
		b.TradeDate = domain.Day(b.TradeDate)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// SaveSymbols appends the list; the engine keeps the latest name per code.
func (s *ClickHouseStore) SaveSymbols(ctx context.Context, kind domain.Kind, symbols []domain.Symbol) error {
	if err := checkInfo(kind); err != nil {
		return err
	}
	if len(symbols) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (code, name)", kind))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, sym := range symbols {
		if err := batch.Append(sym.Code, sym.Name); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	return batch.Send()
}

// LoadSymbols returns the collapsed list sorted by code.
func (s *ClickHouseStore) LoadSymbols(ctx context.Context, kind domain.Kind) ([]domain.Symbol, error) {
	if err := checkInfo(kind); err != nil {
		return nil, err
	}
	rows, err := s.conn.Query(ctx, fmt.Sprintf("SELECT code, name FROM %s FINAL ORDER BY code", kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Symbol
	for rows.Next() {
		var sym domain.Symbol
		if err := rows.Scan(&sym.Code, &sym.Name); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}
