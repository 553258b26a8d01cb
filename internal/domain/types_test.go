package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindColumnsMatchValues(t *testing.T) {
	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		kind Kind
		rec  Record
	}{
		{KindStockDaily, Bar{Code: "sz002805", TradeDate: d}},
		{KindStockMargin, Margin{Code: "sz002805", TradeDate: d}},
		{KindStockFinancial, Financial{Code: "sz002805", ReportDate: d}},
	}
	for _, c := range cases {
		cols := c.kind.Columns()
		vals := c.rec.Values()
		if len(cols) != len(vals) {
			t.Errorf("%s: %d columns, %d values", c.kind, len(cols), len(vals))
		}
		if cols[2] != c.kind.DateColumn() {
			t.Errorf("%s: date column = %q, want %q", c.kind, cols[2], c.kind.DateColumn())
		}
		if got := vals[2].(time.Time); !got.Equal(d) {
			t.Errorf("%s: date value = %v, want %v", c.kind, got, d)
		}
	}
	if KindStockInfo.DateColumn() != "" {
		t.Error("info kinds should have no date column")
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("stock_margin")
	if err != nil || k != KindStockMargin {
		t.Fatalf("ParseKind(stock_margin) = %q, %v", k, err)
	}
	if _, err := ParseKind("stock_tick"); !errors.Is(err, ErrConfig) {
		t.Errorf("ParseKind(stock_tick) error = %v, want ErrConfig", err)
	}
}

func TestEmptyBatchIsNotConstructed(t *testing.T) {
	sym := Symbol{Code: "sz002805", Name: "丰元股份"}
	if _, ok := NewBarBatch(KindStockDaily, sym, nil); ok {
		t.Error("NewBarBatch accepted an empty slice")
	}
	if _, ok := NewMarginBatch(sym, []Margin{}); ok {
		t.Error("NewMarginBatch accepted an empty slice")
	}
	if _, ok := NewFinancialBatch(sym, nil); ok {
		t.Error("NewFinancialBatch accepted an empty slice")
	}

	b, ok := NewBarBatch(KindIndexDaily, sym, []Bar{{Code: sym.Code}, {Code: sym.Code}})
	if !ok {
		t.Fatal("NewBarBatch rejected a non-empty slice")
	}
	var res SyncResult = b
	if res.Kind() != KindIndexDaily || res.Len() != 2 || len(res.Records()) != 2 {
		t.Errorf("batch = kind %s len %d", res.Kind(), res.Len())
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection reset"), true},
		{&APIError{StatusCode: 503}, true},
		{&APIError{StatusCode: 429}, true},
		{&APIError{StatusCode: 404}, false},
		{fmt.Errorf("decode: %w", ErrMalformed), false},
		{fmt.Errorf("save: %w", ErrChannelClosed), false},
		{context.Canceled, false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Errorf("Retryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
	if !errors.Is(&APIError{StatusCode: 400}, ErrRejected) {
		t.Error("a 400 APIError should match ErrRejected")
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"2023-06-30", "20230630", " 2023-06-30 "} {
		got, err := ParseDate(s)
		if err != nil {
			t.Fatalf("ParseDate(%q): %v", s, err)
		}
		if !got.Equal(want) {
			t.Errorf("ParseDate(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := ParseDate("30/06/2023"); !errors.Is(err, ErrConfig) {
		t.Errorf("ParseDate(30/06/2023) error = %v, want ErrConfig", err)
	}
}

func TestQueryMatch(t *testing.T) {
	q := Query{
		Since: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Until: time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
	}
	for day, want := range map[int]bool{1: false, 2: true, 3: true, 4: true, 5: false} {
		d := time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
		if got := q.Match(d); got != want {
			t.Errorf("Match(2024-01-%02d) = %v, want %v", day, got, want)
		}
	}
}
