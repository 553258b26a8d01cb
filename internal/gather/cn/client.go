// Package cn fetches China A-share data from the eastmoney quote and
// data-center HTTP APIs.
package cn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"marketsync/internal/config"
	"marketsync/internal/domain"
	"marketsync/internal/gather"
	"marketsync/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var (
	_ gather.BarFetcher       = (*Client)(nil)
	_ gather.MarginFetcher    = (*Client)(nil)
	_ gather.FinancialFetcher = (*Client)(nil)
	_ gather.SymbolLister     = (*Client)(nil)
)

// Default endpoints.
const (
	DefaultKlineURL      = "https://push2his.eastmoney.com/api/qt/stock/kline/get"
	DefaultDataCenterURL = "https://datacenter-web.eastmoney.com/api/data/v1/get"
	DefaultListURL       = "https://push2.eastmoney.com/api/qt/clist/get"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Client talks to the three eastmoney endpoints. All requests share one
// rate limiter.
type Client struct {
	klineURL      string
	dataCenterURL string
	listURL       string
	http          *http.Client
	limiter       *util.RateLimiter
	log           *slog.Logger
}

// NewClient builds a Client from the cn config section; empty URLs fall back
// to the public endpoints.
func NewClient(cfg config.CN) *Client {
	c := &Client{
		klineURL:      cfg.KlineURL,
		dataCenterURL: cfg.DataCenterURL,
		listURL:       cfg.ListURL,
		http:          &http.Client{Timeout: cfg.Timeout},
		limiter:       util.NewBurstRateLimiter(cfg.RateLimitPerMin, 4),
		log:           slog.Default().With("source", "cn"),
	}
	if c.klineURL == "" {
		c.klineURL = DefaultKlineURL
	}
	if c.dataCenterURL == "" {
		c.dataCenterURL = DefaultDataCenterURL
	}
	if c.listURL == "" {
		c.listURL = DefaultListURL
	}
	if c.http.Timeout <= 0 {
		c.http.Timeout = 15 * time.Second
	}
	return c
}

// get performs one rate-limited GET and returns the validated JSON body.
// Non-2xx statuses become *domain.APIError; a body that is not JSON is
// domain.ErrMalformed.
func (c *Client) get(ctx context.Context, base string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", "https://quote.eastmoney.com/")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       truncate(string(body), 256),
		}
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: %s returned invalid json", domain.ErrMalformed, base)
	}
	return body, nil
}

// secID maps a prefixed code to the quote API's "market.code" form.
func secID(code string) (string, error) {
	if len(code) != 8 {
		return "", fmt.Errorf("%w: code %q", domain.ErrUnsupported, code)
	}
	switch strings.ToLower(code[:2]) {
	case "sh":
		return "1." + code[2:], nil
	case "sz", "bj":
		return "0." + code[2:], nil
	}
	return "", fmt.Errorf("%w: code %q has no market prefix", domain.ErrUnsupported, code)
}

// bareCode strips the market prefix after validating it.
func bareCode(code string) (string, error) {
	if _, err := secID(code); err != nil {
		return "", err
	}
	return code[2:], nil
}

// prefixCode turns a bare code and its quote-API market id into a prefixed
// code.
func prefixCode(code string, market int64) string {
	switch {
	case market == 1:
		return "sh" + code
	case strings.HasPrefix(code, "4"), strings.HasPrefix(code, "8"), strings.HasPrefix(code, "92"):
		return "bj" + code
	default:
		return "sz" + code
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
