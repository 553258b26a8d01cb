package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"marketsync/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps one table per kind in a SQLite database. Dates are stored
// as YYYY-MM-DD text so they sort and compare lexically.
//
// A non-upsert insert that collides with a stored row fails with the
// primary-key violation.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and creates
// any missing tables.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// WAL lets readers run beside the single writer.
	db.SetMaxOpenConns(4)

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, kind := range domain.AllKinds {
		if _, err := s.db.ExecContext(ctx, sqliteDDL(kind)); err != nil {
			return fmt.Errorf("creating table %s: %w", kind, err)
		}
	}
	return nil
}

func sqliteDDL(kind domain.Kind) string {
	cols := kind.Columns()
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = c + " " + sqliteType(kind, c)
	}
	pk := "code"
	if dc := kind.DateColumn(); dc != "" {
		pk = "code, " + dc
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s, PRIMARY KEY (%s))",
		kind, strings.Join(defs, ", "), pk)
}

func sqliteType(kind domain.Kind, col string) string {
	switch {
	case col == "code" || col == "name" || col == kind.DateColumn():
		return "TEXT NOT NULL"
	case col == "volume":
		return "INTEGER"
	default:
		return "REAL"
	}
}

// ---------------------------------------------------------------------------
// Store implementation
// ---------------------------------------------------------------------------

// Insert writes the batch in one transaction.
func (s *SQLiteStore) Insert(ctx context.Context, res domain.SyncResult, upsert bool) error {
	kind := res.Kind()
	verb := "INSERT"
	if upsert {
		verb = "INSERT OR REPLACE"
	}
	return s.insertRows(ctx, verb, kind, res.Records())
}

// SaveSymbols upserts the symbol list.
func (s *SQLiteStore) SaveSymbols(ctx context.Context, kind domain.Kind, symbols []domain.Symbol) error {
	if err := checkInfo(kind); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (code, name) VALUES (?, ?) ON CONFLICT(code) DO UPDATE SET name = excluded.name", kind))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, sym := range symbols {
		if _, err := stmt.ExecContext(ctx, sym.Code, sym.Name); err != nil {
			return fmt.Errorf("saving %s %s: %w", kind, sym.Code, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) insertRows(ctx context.Context, verb string, kind domain.Kind, recs []domain.Record) error {
	cols := kind.Columns()
	query := fmt.Sprintf("%s INTO %s (%s) VALUES (%s)", verb, kind,
		strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, sqliteArgs(r.Values())...); err != nil {
			return fmt.Errorf("inserting %s %s %s: %w", kind, r.RecordCode(),
				domain.FormatDate(r.RecordDate()), err)
		}
	}
	return tx.Commit()
}

func sqliteArgs(vals []any) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		if t, ok := v.(time.Time); ok {
			out[i] = domain.FormatDate(t)
			continue
		}
		out[i] = v
	}
	return out
}

// Latest returns MAX(date) for the code.
func (s *SQLiteStore) Latest(ctx context.Context, kind domain.Kind, code string) (time.Time, bool, error) {
	if err := checkSeries(kind); err != nil {
		return time.Time{}, false, err
	}
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT MAX(%s) FROM %s WHERE code = ?", kind.DateColumn(), kind), code).Scan(&latest)
	if err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(domain.DateLayout, latest.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s %s: stored date %q: %w", kind, code, latest.String, err)
	}
	return t, true, nil
}

// LoadDaily pushes the query's filter, order and limit into SQL.
func (s *SQLiteStore) LoadDaily(ctx context.Context, kind domain.Kind, q domain.Query) ([]domain.Bar, error) {
	if err := checkBars(kind); err != nil {
		return nil, err
	}
	var (
		where = []string{"code = ?"}
		args  = []any{q.Code}
	)
	if !q.Since.IsZero() {
		where = append(where, "trade_date >= ?")
		args = append(args, domain.FormatDate(q.Since))
	}
	if !q.Until.IsZero() {
		where = append(where, "trade_date <= ?")
		args = append(args, domain.FormatDate(q.Until))
	}
	order := "ASC"
	if q.Desc {
		order = "DESC"
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY trade_date %s",
		strings.Join(kind.Columns(), ", "), kind, strings.Join(where, " AND "), order)
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var (
			b    domain.Bar
			date string
		)
		if err := rows.Scan(&b.Code, &b.Name, &date, &b.Open, &b.Close, &b.High, &b.Low,
			&b.Volume, &b.Amount, &b.Turnover, &b.ChgPct); err != nil {
			return nil, err
		}
		if b.TradeDate, err = time.Parse(domain.DateLayout, date); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LoadSymbols returns the list sorted by code.
func (s *SQLiteStore) LoadSymbols(ctx context.Context, kind domain.Kind) ([]domain.Symbol, error) {
	if err := checkInfo(kind); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT code, name FROM %s ORDER BY code", kind))
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
