package strategy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketsync/internal/domain"
)

// Reserved parameter keys consumed by CommonParamFrom.
const (
	ParamTestEndDate  = "test_end_date"
	ParamMinTradeDays = "min_trade_days"
)

// CommonParam holds the parameters understood by every strategy.
type CommonParam struct {
	// TestEndDate splits history: bars up to it drive the signal, bars after
	// it are scored.
	TestEndDate time.Time
	// MinTradeDays is the minimum history a symbol needs to be tested.
	MinTradeDays int
}

// ParseParams turns key=value arguments into a map. Malformed and duplicate
// keys are configuration errors.
func ParseParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: parameter %q is not key=value", domain.ErrConfig, a)
		}
		if _, dup := params[k]; dup {
			return nil, fmt.Errorf("%w: duplicate param key: %s", domain.ErrConfig, k)
		}
		params[k] = strings.TrimSpace(v)
	}
	return params, nil
}

// CommonParamFrom extracts the common parameters. It returns nil unless both
// are present; a present but invalid value is an error either way.
func CommonParamFrom(params map[string]string) (*CommonParam, error) {
	var (
		cp             CommonParam
		hasEnd, hasMin bool
	)
	if s, ok := params[ParamTestEndDate]; ok {
		d, err := domain.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s format is not correct, expect 2006-01-02 or 20060102", domain.ErrConfig, ParamTestEndDate)
		}
		cp.TestEndDate, hasEnd = d, true
	}
	if s, ok := params[ParamMinTradeDays]; ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not a number: %q", domain.ErrConfig, ParamMinTradeDays, s)
		}
		cp.MinTradeDays, hasMin = n, true
	}
	if !hasEnd || !hasMin {
		return nil, nil
	}
	return &cp, nil
}

// StrategyParams returns params without the common keys, or nil when
// nothing is left.
func StrategyParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if k == ParamTestEndDate || k == ParamMinTradeDays {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
