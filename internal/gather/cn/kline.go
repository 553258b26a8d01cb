package cn

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"marketsync/internal/domain"
	"marketsync/internal/util"
)

// Daily klines, forward adjusted. Field order of each kline line:
// date,open,close,high,low,volume,amount,amplitude,chg_pct,chg,turnover
const klineFields = "f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61"

// FetchBars returns the daily bars of sym within [start, end]. A nil start
// means from listing, a nil end up to the latest session.
func (c *Client) FetchBars(ctx context.Context, kind domain.Kind, sym domain.Symbol, start, end *time.Time) ([]domain.Bar, error) {
	if !kind.IsBar() {
		return nil, fmt.Errorf("%w: %s is not a bar kind", domain.ErrUnsupported, kind)
	}
	id, err := secID(sym.Code)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("secid", id)
	q.Set("fields1", "f1,f2,f3,f4,f5,f6")
	q.Set("fields2", klineFields)
	q.Set("klt", "101")
	q.Set("fqt", "1")
	q.Set("beg", "0")
	q.Set("end", "20500101")
	if start != nil {
		q.Set("beg", start.Format("20060102"))
	}
	if end != nil {
		q.Set("end", end.Format("20060102"))
	}

	body, err := c.get(ctx, c.klineURL, q)
	if err != nil {
		return nil, err
	}
	return parseKlines(body, sym)
}

// parseKlines decodes a kline response. A null data object means the source
// has nothing for the symbol.
func parseKlines(body []byte, sym domain.Symbol) ([]domain.Bar, error) {
	data := gjson.GetBytes(body, "data")
	if !data.Exists() || data.Type == gjson.Null {
		return nil, nil
	}
	klines := data.Get("klines")
	if !klines.IsArray() {
		return nil, fmt.Errorf("%w: klines missing for %s", domain.ErrMalformed, sym.Code)
	}
	name := sym.Name
	if name == "" {
		name = data.Get("name").String()
	}

	lines := klines.Array()
	bars := make([]domain.Bar, 0, len(lines))
	for _, line := range lines {
		b, err := parseKline(line.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %s kline %q: %v", domain.ErrMalformed, sym.Code, line.String(), err)
		}
		b.Code, b.Name = sym.Code, name
		bars = append(bars, b)
	}
	return bars, nil
}

func parseKline(line string) (domain.Bar, error) {
	f := strings.Split(line, ",")
	if len(f) < 11 {
		return domain.Bar{}, fmt.Errorf("want 11 fields, got %d", len(f))
	}
	date, err := domain.ParseDate(f[0])
	if err != nil {
		return domain.Bar{}, err
	}
	nums := make([]float64, 0, 10)
	for _, s := range f[1:11] {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Bar{}, err
		}
		nums = append(nums, v)
	}
	return domain.Bar{
		TradeDate: date,
		Open:      nums[0],
		Close:     nums[1],
		High:      nums[2],
		Low:       nums[3],
		Volume:    int64(nums[4]),
		Amount:    nums[5],
		ChgPct:    nums[7],
		Turnover:  nums[9],
	}, nil
}

// Calendar returns a calendar source built from the sessions of an index's
// daily klines.
func (c *Client) Calendar(indexCode string) util.CalendarSource {
	return &klineCalendar{client: c, code: indexCode}
}

type klineCalendar struct {
	client *Client
	code   string
}

func (k *klineCalendar) TradeDates(ctx context.Context) ([]time.Time, error) {
	bars, err := k.client.FetchBars(ctx, domain.KindIndexDaily, domain.Symbol{Code: k.code}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("calendar from %s: %w", k.code, err)
	}
	dates := make([]time.Time, len(bars))
	for i, b := range bars {
		dates[i] = b.TradeDate
	}
	return dates, nil
}
