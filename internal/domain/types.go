// Package domain holds the record types shared by the sync pipeline, the
// storage backends and the strategy engine.
package domain

import (
	"fmt"
	"time"
)

// Kind identifies a family of records and doubles as the table or
// collection name in every storage backend.
type Kind string

const (
	KindStockInfo      Kind = "stock_info"
	KindIndexInfo      Kind = "index_info"
	KindStockDaily     Kind = "stock_daily"
	KindIndexDaily     Kind = "index_daily"
	KindStockMargin    Kind = "stock_margin"
	KindStockFinancial Kind = "stock_financial"
)

// AllKinds lists every kind in the order tables are created.
var AllKinds = []Kind{
	KindStockInfo, KindIndexInfo,
	KindStockDaily, KindIndexDaily,
	KindStockMargin, KindStockFinancial,
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrConfig, s)
}

// IsInfo reports whether k is a symbol list rather than a time series.
func (k Kind) IsInfo() bool {
	return k == KindStockInfo || k == KindIndexInfo
}

// IsBar reports whether records of kind k are daily bars.
func (k Kind) IsBar() bool {
	return k == KindStockDaily || k == KindIndexDaily
}

// DateColumn is the column holding the record date; empty for info kinds.
func (k Kind) DateColumn() string {
	switch k {
	case KindStockFinancial:
		return "report_date"
	case KindStockInfo, KindIndexInfo:
		return ""
	default:
		return "trade_date"
	}
}

// Columns returns the column names in Record.Values order.
func (k Kind) Columns() []string {
	switch k {
	case KindStockDaily, KindIndexDaily:
		return []string{"code", "name", "trade_date", "open", "close", "high", "low",
			"volume", "amount", "turnover", "chg_pct"}
	case KindStockMargin:
		return []string{"code", "name", "trade_date", "close", "chg_pct", "fin_balance",
			"fin_buy", "fin_repay", "sec_lend_balance", "sec_lend_sell", "total_balance"}
	case KindStockFinancial:
		return []string{"code", "name", "report_date", "eps", "revenue", "revenue_yoy",
			"net_profit", "net_profit_yoy", "bps", "roe", "gross_margin"}
	default:
		return []string{"code", "name"}
	}
}

// Symbol is an instrument identity. Codes carry the market prefix, e.g.
// "sz002805" or "sh000001".
type Symbol struct {
	Code string `json:"code" bson:"code" gorm:"primaryKey;size:16"`
	Name string `json:"name" bson:"name" gorm:"size:64"`
}

func (s Symbol) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.Code)
}

// Record is implemented by every time-series record type.
type Record interface {
	RecordCode() string
	RecordDate() time.Time
	// Values returns the field values in Kind.Columns order.
	Values() []any
}

// Bar is one daily OHLCV session for a stock or an index.
type Bar struct {
	Code      string    `json:"code" bson:"code" gorm:"primaryKey;size:16"`
	Name      string    `json:"name" bson:"name" gorm:"size:64"`
	TradeDate time.Time `json:"trade_date" bson:"trade_date" gorm:"primaryKey;type:date"`
	Open      float64   `json:"open" bson:"open"`
	Close     float64   `json:"close" bson:"close"`
	High      float64   `json:"high" bson:"high"`
	Low       float64   `json:"low" bson:"low"`
	Volume    int64     `json:"volume" bson:"volume"`
	Amount    float64   `json:"amount" bson:"amount"`
	Turnover  float64   `json:"turnover" bson:"turnover"`
	ChgPct    float64   `json:"chg_pct" bson:"chg_pct" gorm:"column:chg_pct"`
}

func (b Bar) RecordCode() string    { return b.Code }
func (b Bar) RecordDate() time.Time { return b.TradeDate }
func (b Bar) Values() []any {
	return []any{b.Code, b.Name, b.TradeDate, b.Open, b.Close, b.High, b.Low,
		b.Volume, b.Amount, b.Turnover, b.ChgPct}
}

// Margin is one session of margin financing and securities lending data.
type Margin struct {
	Code           string    `json:"code" bson:"code" gorm:"primaryKey;size:16"`
	Name           string    `json:"name" bson:"name" gorm:"size:64"`
	TradeDate      time.Time `json:"trade_date" bson:"trade_date" gorm:"primaryKey;type:date"`
	Close          float64   `json:"close" bson:"close"`
	ChgPct         float64   `json:"chg_pct" bson:"chg_pct" gorm:"column:chg_pct"`
	FinBalance     float64   `json:"fin_balance" bson:"fin_balance"`
	FinBuy         float64   `json:"fin_buy" bson:"fin_buy"`
	FinRepay       float64   `json:"fin_repay" bson:"fin_repay"`
	SecLendBalance float64   `json:"sec_lend_balance" bson:"sec_lend_balance"`
	SecLendSell    float64   `json:"sec_lend_sell" bson:"sec_lend_sell"`
	TotalBalance   float64   `json:"total_balance" bson:"total_balance"`
}

func (m Margin) RecordCode() string    { return m.Code }
func (m Margin) RecordDate() time.Time { return m.TradeDate }
func (m Margin) Values() []any {
	return []any{m.Code, m.Name, m.TradeDate, m.Close, m.ChgPct, m.FinBalance,
		m.FinBuy, m.FinRepay, m.SecLendBalance, m.SecLendSell, m.TotalBalance}
}

// Financial is one quarterly results report.
type Financial struct {
	Code         string    `json:"code" bson:"code" gorm:"primaryKey;size:16"`
	Name         string    `json:"name" bson:"name" gorm:"size:64"`
	ReportDate   time.Time `json:"report_date" bson:"report_date" gorm:"primaryKey;type:date"`
	EPS          float64   `json:"eps" bson:"eps" gorm:"column:eps"`
	Revenue      float64   `json:"revenue" bson:"revenue"`
	RevenueYoY   float64   `json:"revenue_yoy" bson:"revenue_yoy" gorm:"column:revenue_yoy"`
	NetProfit    float64   `json:"net_profit" bson:"net_profit"`
	NetProfitYoY float64   `json:"net_profit_yoy" bson:"net_profit_yoy" gorm:"column:net_profit_yoy"`
	BPS          float64   `json:"bps" bson:"bps" gorm:"column:bps"`
	ROE          float64   `json:"roe" bson:"roe" gorm:"column:roe"`
	GrossMargin  float64   `json:"gross_margin" bson:"gross_margin"`
}

func (f Financial) RecordCode() string    { return f.Code }
func (f Financial) RecordDate() time.Time { return f.ReportDate }
func (f Financial) Values() []any {
	return []any{f.Code, f.Name, f.ReportDate, f.EPS, f.Revenue, f.RevenueYoY,
		f.NetProfit, f.NetProfitYoY, f.BPS, f.ROE, f.GrossMargin}
}

// Query filters a historical load. Zero Since/Until mean unbounded and a
// zero Limit returns every match. Results are ordered by date, ascending
// unless Desc is set.
type Query struct {
	Code  string
	Since time.Time
	Until time.Time
	Desc  bool
	Limit int
}

// Match reports whether d falls inside the query's date bounds.
func (q Query) Match(d time.Time) bool {
	if !q.Since.IsZero() && d.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && d.After(q.Until) {
		return false
	}
	return true
}
