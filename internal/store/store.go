// Package store defines the storage capability used by the sync pipeline
// and the strategy engine, with one backend per destination kind.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"

	"marketsync/internal/config"
	"marketsync/internal/domain"
)

// Loader is the read side used by strategies.
type Loader interface {
	// LoadSymbols returns every symbol stored under an info kind.
	LoadSymbols(ctx context.Context, kind domain.Kind) ([]domain.Symbol, error)

	// LoadDaily returns the bars of one code matching q, ordered by date.
	LoadDaily(ctx context.Context, kind domain.Kind, q domain.Query) ([]domain.Bar, error)
}

// Store is the full storage capability.
type Store interface {
	Loader

	// Latest returns the date of the most recent record of code under kind.
	// The boolean is false when nothing is stored yet.
	Latest(ctx context.Context, kind domain.Kind, code string) (time.Time, bool, error)

	// Insert persists one batch. With upsert unset, existing rows are never
	// overwritten; see each backend for how a collision is reported.
	Insert(ctx context.Context, res domain.SyncResult, upsert bool) error

	// SaveSymbols upserts a symbol list under an info kind.
	SaveSymbols(ctx context.Context, kind domain.Kind, symbols []domain.Symbol) error

	Close() error
}

// Open connects to the destination and prepares its tables.
func Open(ctx context.Context, d config.Dest) (Store, error) {
	var (
		s   Store
		err error
	)
	switch d.Kind {
	case config.DestFile:
		s, err = NewFileStore(d.Conn)
	case config.DestSQLite:
		s, err = NewSQLiteStore(ctx, d.Conn)
	case config.DestMySQL:
		s, err = NewGormStore(ctx, mysql.Open(mysqlDSN(d.Conn)))
	case config.DestPostgres:
		s, err = NewGormStore(ctx, postgres.Open(d.Conn))
	case config.DestMongoDB:
		s, err = NewMongoStore(ctx, d.Conn)
	case config.DestClickHouse:
		s, err = NewClickHouseStore(ctx, d.Conn)
	default:
		return nil, fmt.Errorf("%w: destination kind %q", domain.ErrUnsupported, d.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", d.Kind, err)
	}
	return s, nil
}

// mysqlDSN makes DATE columns scan into time.Time.
func mysqlDSN(dsn string) string {
	if strings.Contains(dsn, "parseTime=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}

// ---------------------------------------------------------------------------
// Helpers shared by the backends
// ---------------------------------------------------------------------------

func checkSeries(kind domain.Kind) error {
	if kind.IsInfo() {
		return fmt.Errorf("%w: %s is not a time series", domain.ErrUnsupported, kind)
	}
	return nil
}

func checkBars(kind domain.Kind) error {
	if !kind.IsBar() {
		return fmt.Errorf("%w: %s does not hold daily bars", domain.ErrUnsupported, kind)
	}
	return nil
}

func checkInfo(kind domain.Kind) error {
	if !kind.IsInfo() {
		return fmt.Errorf("%w: %s is not a symbol list", domain.ErrUnsupported, kind)
	}
	return nil
}

// shapeBars applies a query's filter, order and limit in memory.
func shapeBars(bars []domain.Bar, q domain.Query) []domain.Bar {
	out := bars[:0:0]
	for _, b := range bars {
		if q.Match(b.TradeDate) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if q.Desc {
			return out[i].TradeDate.After(out[j].TradeDate)
		}
		return out[i].TradeDate.Before(out[j].TradeDate)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func sortSymbols(syms []domain.Symbol) {
	sort.Slice(syms, func(i, j int) bool { return syms[i].Code < syms[j].Code })
}
