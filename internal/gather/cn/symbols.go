package cn

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"marketsync/internal/domain"
)

// Board filters of the list API.
const (
	stockBoards = "m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23,m:0+t:81+s:2048"
	indexBoards = "m:1+s:2,m:0+t:5"
	listPage    = 100
)

// ListSymbols returns every listed stock (stock_info) or index
// (index_info).
func (c *Client) ListSymbols(ctx context.Context, kind domain.Kind) ([]domain.Symbol, error) {
	var boards string
	switch kind {
	case domain.KindStockInfo:
		boards = stockBoards
	case domain.KindIndexInfo:
		boards = indexBoards
	default:
		return nil, fmt.Errorf("%w: %s is not a symbol list", domain.ErrUnsupported, kind)
	}

	var out []domain.Symbol
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("pn", strconv.Itoa(page))
		q.Set("pz", strconv.Itoa(listPage))
		q.Set("po", "0")
		q.Set("np", "1")
		q.Set("fltt", "2")
		q.Set("fid", "f12")
		q.Set("fs", boards)
		q.Set("fields", "f12,f13,f14")

		body, err := c.get(ctx, c.listURL, q)
		if err != nil {
			return nil, err
		}
		data := gjson.GetBytes(body, "data")
		if !data.Exists() || data.Type == gjson.Null {
			break
		}
		diff := data.Get("diff")
		if !diff.IsArray() {
			return nil, fmt.Errorf("%w: %s list has no diff array", domain.ErrMalformed, kind)
		}
		rows := diff.Array()
		for _, r := range rows {
			code := r.Get("f12").String()
			if code == "" {
				return nil, fmt.Errorf("%w: %s list row without code", domain.ErrMalformed, kind)
			}
			out = append(out, domain.Symbol{
				Code: prefixCode(code, r.Get("f13").Int()),
				Name: r.Get("f14").String(),
			})
		}
		c.log.Debug("listed page", "kind", string(kind), "page", page, "rows", len(rows))

		if len(rows) == 0 || int64(len(out)) >= data.Get("total").Int() {
			break
		}
	}
	return out, nil
}
