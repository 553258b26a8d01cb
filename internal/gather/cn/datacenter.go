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
)

const (
	marginReport    = "RPTA_WEB_RZRQ_GGMX"
	financialReport = "RPT_LICO_FN_CPD"
	dataCenterPage  = 500
)

// dataCenterQuery describes one paged report query.
type dataCenterQuery struct {
	report     string
	codeColumn string
	dateColumn string
	code       string
	start, end *time.Time
}

func (q dataCenterQuery) filter() string {
	var b strings.Builder
	fmt.Fprintf(&b, `(%s="%s")`, q.codeColumn, q.code)
	if q.start != nil {
		fmt.Fprintf(&b, `(%s>='%s')`, q.dateColumn, domain.FormatDate(*q.start))
	}
	if q.end != nil {
		fmt.Fprintf(&b, `(%s<='%s')`, q.dateColumn, domain.FormatDate(*q.end))
	}
	return b.String()
}

// queryDataCenter walks every page of a report, oldest first, calling row
// for each record. A null result means no rows.
func (c *Client) queryDataCenter(ctx context.Context, dq dataCenterQuery, row func(gjson.Result) error) error {
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("reportName", dq.report)
		q.Set("columns", "ALL")
		q.Set("filter", dq.filter())
		q.Set("sortColumns", dq.dateColumn)
		q.Set("sortTypes", "1")
		q.Set("pageSize", strconv.Itoa(dataCenterPage))
		q.Set("pageNumber", strconv.Itoa(page))
		q.Set("source", "WEB")
		q.Set("client", "WEB")

		body, err := c.get(ctx, c.dataCenterURL, q)
		if err != nil {
			return err
		}
		result := gjson.GetBytes(body, "result")
		if !result.Exists() || result.Type == gjson.Null {
			return nil
		}
		data := result.Get("data")
		if !data.IsArray() {
			return fmt.Errorf("%w: %s result has no data array", domain.ErrMalformed, dq.report)
		}
		for _, r := range data.Array() {
			if err := row(r); err != nil {
				return err
			}
		}
		if pages := result.Get("pages").Int(); int64(page) >= pages {
			return nil
		}
	}
}

// reportDate reads a "2006-01-02 15:04:05" data-center date.
func reportDate(r gjson.Result, column string) (time.Time, error) {
	s := r.Get(column).String()
	if len(s) < 10 {
		return time.Time{}, fmt.Errorf("%w: %s %q", domain.ErrMalformed, column, s)
	}
	d, err := domain.ParseDate(s[:10])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q", domain.ErrMalformed, column, s)
	}
	return d, nil
}

// FetchMargin returns margin trading records of sym within [start, end].
func (c *Client) FetchMargin(ctx context.Context, sym domain.Symbol, start, end *time.Time) ([]domain.Margin, error) {
	code, err := bareCode(sym.Code)
	if err != nil {
		return nil, err
	}
	var out []domain.Margin
	err = c.queryDataCenter(ctx, dataCenterQuery{
		report:     marginReport,
		codeColumn: "SCODE",
		dateColumn: "DATE",
		code:       code,
		start:      start,
		end:        end,
	}, func(r gjson.Result) error {
		d, err := reportDate(r, "DATE")
		if err != nil {
			return err
		}
		name := sym.Name
		if name == "" {
			name = r.Get("SECNAME").String()
		}
		out = append(out, domain.Margin{
			Code:           sym.Code,
			Name:           name,
			TradeDate:      d,
			Close:          r.Get("SPJ").Float(),
			ChgPct:         r.Get("ZDF").Float(),
			FinBalance:     r.Get("RZYE").Float(),
			FinBuy:         r.Get("RZMRE").Float(),
			FinRepay:       r.Get("RZCHE").Float(),
			SecLendBalance: r.Get("RQYE").Float(),
			SecLendSell:    r.Get("RQMCL").Float(),
			TotalBalance:   r.Get("RZRQYE").Float(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchFinancial returns quarterly reports of sym within [start, end].
func (c *Client) FetchFinancial(ctx context.Context, sym domain.Symbol, start, end *time.Time) ([]domain.Financial, error) {
	code, err := bareCode(sym.Code)
	if err != nil {
		return nil, err
	}
	var out []domain.Financial
	err = c.queryDataCenter(ctx, dataCenterQuery{
		report:     financialReport,
		codeColumn: "SECURITY_CODE",
		dateColumn: "REPORTDATE",
		code:       code,
		start:      start,
		end:        end,
	}, func(r gjson.Result) error {
		d, err := reportDate(r, "REPORTDATE")
		if err != nil {
			return err
		}
		name := sym.Name
		if name == "" {
			name = r.Get("SECURITY_NAME_ABBR").String()
		}
		out = append(out, domain.Financial{
			Code:         sym.Code,
			Name:         name,
			ReportDate:   d,
			EPS:          r.Get("BASIC_EPS").Float(),
			Revenue:      r.Get("TOTAL_OPERATE_INCOME").Float(),
			RevenueYoY:   r.Get("YSTZ").Float(),
			NetProfit:    r.Get("PARENT_NETPROFIT").Float(),
			NetProfitYoY: r.Get("SJLTZ").Float(),
			BPS:          r.Get("BPS").Float(),
			ROE:          r.Get("WEIGHTAVG_ROE").Float(),
			GrossMargin:  r.Get("XSMLL").Float(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
