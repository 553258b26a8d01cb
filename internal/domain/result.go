package domain

// SyncResult is the single message type carried from fetch workers to the
// save stage. It is sealed: the only variants are *BarBatch, *MarginBatch
// and *FinancialBatch, and each always holds at least one record.
type SyncResult interface {
	Kind() Kind
	Symbol() Symbol
	Len() int
	Records() []Record
	sealed()
}

// BarBatch carries daily bars for one stock or index.
type BarBatch struct {
	kind   Kind
	symbol Symbol
	Bars   []Bar
}

// NewBarBatch returns false when bars is empty.
func NewBarBatch(kind Kind, sym Symbol, bars []Bar) (*BarBatch, bool) {
	if len(bars) == 0 {
		return nil, false
	}
	return &BarBatch{kind: kind, symbol: sym, Bars: bars}, true
}

func (b *BarBatch) Kind() Kind     { return b.kind }
func (b *BarBatch) Symbol() Symbol { return b.symbol }
func (b *BarBatch) Len() int       { return len(b.Bars) }
func (b *BarBatch) sealed()        {}

func (b *BarBatch) Records() []Record {
	out := make([]Record, len(b.Bars))
	for i := range b.Bars {
		out[i] = b.Bars[i]
	}
	return out
}

// MarginBatch carries margin sessions for one stock.
type MarginBatch struct {
	symbol  Symbol
	Margins []Margin
}

// NewMarginBatch returns false when margins is empty.
func NewMarginBatch(sym Symbol, margins []Margin) (*MarginBatch, bool) {
	if len(margins) == 0 {
		return nil, false
	}
	return &MarginBatch{symbol: sym, Margins: margins}, true
}

func (b *MarginBatch) Kind() Kind     { return KindStockMargin }
func (b *MarginBatch) Symbol() Symbol { return b.symbol }
func (b *MarginBatch) Len() int       { return len(b.Margins) }
func (b *MarginBatch) sealed()        {}

func (b *MarginBatch) Records() []Record {
	out := make([]Record, len(b.Margins))
	for i := range b.Margins {
		out[i] = b.Margins[i]
	}
	return out
}

// FinancialBatch carries quarterly reports for one stock.
type FinancialBatch struct {
	symbol     Symbol
	Financials []Financial
}

// NewFinancialBatch returns false when reports is empty.
func NewFinancialBatch(sym Symbol, reports []Financial) (*FinancialBatch, bool) {
	if len(reports) == 0 {
		return nil, false
	}
	return &FinancialBatch{symbol: sym, Financials: reports}, true
}

func (b *FinancialBatch) Kind() Kind     { return KindStockFinancial }
func (b *FinancialBatch) Symbol() Symbol { return b.symbol }
func (b *FinancialBatch) Len() int       { return len(b.Financials) }
func (b *FinancialBatch) sealed()        {}

func (b *FinancialBatch) Records() []Record {
	out := make([]Record, len(b.Financials))
	for i := range b.Financials {
		out[i] = b.Financials[i]
	}
	return out
}
