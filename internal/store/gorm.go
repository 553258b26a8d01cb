package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"marketsync/internal/domain"
)

// Compile-time interface check.
var _ Store = (*GormStore)(nil)

const gormBatchSize = 500

// GormStore backs the relational destinations (MySQL and PostgreSQL). Every
// kind gets its own table with a (code, date) primary key.
//
// A non-upsert insert that collides with a stored row fails with the
// database's duplicate-key error.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the dialector and migrates all tables.
func NewGormStore(ctx context.Context, dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	s := &GormStore{db: db}
	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *GormStore) migrate(ctx context.Context) error {
	for _, kind := range domain.AllKinds {
		if err := s.table(ctx, kind).AutoMigrate(modelFor(kind)); err != nil {
			return fmt.Errorf("migrating %s: %w", kind, err)
		}
	}
	return nil
}

func modelFor(kind domain.Kind) any {
	switch {
	case kind.IsInfo():
		return &domain.Symbol{}
	case kind == domain.KindStockMargin:
		return &domain.Margin{}
	case kind == domain.KindStockFinancial:
		return &domain.Financial{}
	default:
		return &domain.Bar{}
	}
}

func (s *GormStore) table(ctx context.Context, kind domain.Kind) *gorm.DB {
	return s.db.WithContext(ctx).Table(string(kind))
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Insert writes the batch with CreateInBatches; upsert replaces every column
// of a colliding row.
func (s *GormStore) Insert(ctx context.Context, res domain.SyncResult, upsert bool) error {
	tx := s.table(ctx, res.Kind())
	if upsert {
		tx = tx.Clauses(clause.OnConflict{UpdateAll: true})
	}

	var rows any
	switch r := res.(type) {
	case *domain.BarBatch:
		rows = r.Bars
	case *domain.MarginBatch:
		rows = r.Margins
	case *domain.FinancialBatch:
		rows = r.Financials
	default:
		return fmt.Errorf("%w: result %T", domain.ErrUnsupported, res)
	}
	if err := tx.CreateInBatches(rows, gormBatchSize).Error; err != nil {
		return fmt.Errorf("inserting %s for %s: %w", res.Kind(), res.Symbol().Code, err)
	}
	return nil
}

// Latest selects MAX(date) for the code.
func (s *GormStore) Latest(ctx context.Context, kind domain.Kind, code string) (time.Time, bool, error) {
	if err := checkSeries(kind); err != nil {
		return time.Time{}, false, err
	}
	var latest sql.NullTime
	row := s.table(ctx, kind).Select("MAX(" + kind.DateColumn() + ")").Where("code = ?", code).Row()
	if err := row.Scan(&latest); err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return domain.Day(latest.Time), true, nil
}

// LoadDaily pushes the query into SQL.
func (s *GormStore) LoadDaily(ctx context.Context, kind domain.Kind, q domain.Query) ([]domain.Bar, error) {
	if err := checkBars(kind); err != nil {
		return nil, err
	}
	tx := s.table(ctx, kind).Where("code = ?", q.Code)
	if !q.Since.IsZero() {
		tx = tx.Where("trade_date >= ?", q.Since)
	}
	if !q.Until.IsZero() {
		tx = tx.Where("trade_date <= ?", q.Until)
	}
	tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: "trade_date"}, Desc: q.Desc})
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var bars []domain.Bar
	if err := tx.Find(&bars).Error; err != nil {
		return nil, err
	}
	for i := range bars {
		bars[i].TradeDate = domain.Day(bars[i].TradeDate)
	}
	return bars, nil
}

// SaveSymbols upserts names by code.
func (s *GormStore) SaveSymbols(ctx context.Context, kind domain.Kind, symbols []domain.Symbol) error {
	if err := checkInfo(kind); err != nil {
		return err
	}
	if len(symbols) == 0 {
		return nil
	}
	return s.table(ctx, kind).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).CreateInBatches(symbols, gormBatchSize).Error
}

// LoadSymbols returns the list sorted by code.
func (s *GormStore) LoadSymbols(ctx context.Context, kind domain.Kind) ([]domain.Symbol, error) {
	if err := checkInfo(kind); err != nil {
		return nil, err
	}
	var out []domain.Symbol
	if err := s.table(ctx, kind).Order("code").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
