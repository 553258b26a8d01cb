// Package us fetches US equity data from the Alpaca APIs.
package us

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"marketsync/internal/config"
	"marketsync/internal/domain"
	"marketsync/internal/gather"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var (
	_ gather.BarFetcher   = (*Client)(nil)
	_ gather.SymbolLister = (*Client)(nil)
)

// barsAPI is the part of the market data client used here.
type barsAPI interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// tradingAPI is the part of the trading client used here.
type tradingAPI interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
	GetAssets(req alpaca.GetAssetsRequest) ([]alpaca.Asset, error)
}

// Client serves daily bars, the stock list and the trading calendar.
// Margin and financial kinds have no Alpaca source.
type Client struct {
	data    barsAPI
	trading tradingAPI
	feed    marketdata.Feed
	csvPath string
	log     *slog.Logger
}

// NewClient builds a Client from the alpaca config section.
func NewClient(cfg config.Alpaca) *Client {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	feed := cfg.Feed
	if feed == "" {
		feed = "sip"
	}
	return &Client{
		data: marketdata.NewClient(opts),
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		feed:    marketdata.Feed(feed),
		csvPath: cfg.SymbolsFile,
		log:     slog.Default().With("source", "us"),
	}
}

// FetchBars returns split-adjusted daily bars of sym within [start, end].
// The first bar's change is relative to its own open.
func (c *Client) FetchBars(ctx context.Context, kind domain.Kind, sym domain.Symbol, start, end *time.Time) ([]domain.Bar, error) {
	if !kind.IsBar() {
		return nil, fmt.Errorf("%w: %s is not a bar kind", domain.ErrUnsupported, kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.Split,
		Feed:       c.feed,
	}
	if start != nil {
		req.Start = *start
	}
	if end != nil {
		// End is exclusive on the API side.
		req.End = end.AddDate(0, 0, 1)
	}

	abs, err := c.data.GetBars(strings.ToUpper(sym.Code), req)
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", sym.Code, err)
	}

	bars := make([]domain.Bar, 0, len(abs))
	prev := 0.0
	for _, ab := range abs {
		ref := prev
		if ref == 0 {
			ref = ab.Open
		}
		chg := 0.0
		if ref != 0 {
			chg = (ab.Close - ref) / ref * 100
		}
		bars = append(bars, domain.Bar{
			Code:      sym.Code,
			Name:      sym.Name,
			TradeDate: domain.Day(ab.Timestamp.In(newYork)),
			Open:      ab.Open,
			Close:     ab.Close,
			High:      ab.High,
			Low:       ab.Low,
			Volume:    int64(ab.Volume),
			Amount:    ab.VWAP * float64(ab.Volume),
			ChgPct:    chg,
		})
		prev = ab.Close
	}
	return bars, nil
}

// ListSymbols lists active tradable US equities for stock_info, from the
// symbols file when one is configured.
func (c *Client) ListSymbols(ctx context.Context, kind domain.Kind) ([]domain.Symbol, error) {
	if kind != domain.KindStockInfo {
		return nil, fmt.Errorf("%w: %s has no alpaca source", domain.ErrUnsupported, kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.csvPath != "" {
		return LoadCSVSymbols(c.csvPath)
	}

	assets, err := c.trading.GetAssets(alpaca.GetAssetsRequest{
		Status:     "active",
		AssetClass: "us_equity",
	})
	if err != nil {
		return nil, fmt.Errorf("GetAssets: %w", err)
	}
	syms := make([]domain.Symbol, 0, len(assets))
	for _, a := range assets {
		if !a.Tradable {
			continue
		}
		syms = append(syms, domain.Symbol{Code: strings.ToUpper(a.Symbol), Name: a.Name})
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i].Code < syms[j].Code })
	c.logger().Info("listed assets", "total", len(assets), "tradable", len(syms))
	return syms, nil
}

func (c *Client) logger() *slog.Logger {
	if c.log == nil {
		return slog.Default()
	}
	return c.log
}
