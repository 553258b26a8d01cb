package gather

import (
	"context"
	"fmt"
	"log/slog"

	"marketsync/internal/domain"
	"marketsync/internal/util"
)

// SymbolSaver stores symbol lists.
type SymbolSaver interface {
	SaveSymbols(ctx context.Context, kind domain.Kind, symbols []domain.Symbol) error
}

// SyncSymbols refreshes one info kind from the source and returns the list.
// An empty listing leaves the store untouched.
func SyncSymbols(ctx context.Context, src SymbolLister, dst SymbolSaver, kind domain.Kind, policy util.RetryPolicy) ([]domain.Symbol, error) {
	if !kind.IsInfo() {
		return nil, fmt.Errorf("%w: %s is not a symbol list", domain.ErrUnsupported, kind)
	}
	if policy.Retryable == nil {
		policy.Retryable = domain.Retryable
	}
	syms, err := util.RetryValue(ctx, policy, func(ctx context.Context) ([]domain.Symbol, error) {
		return src.ListSymbols(ctx, kind)
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", kind, err)
	}
	if len(syms) == 0 {
		slog.Warn("source returned no symbols", "kind", string(kind))
		return nil, nil
	}
	if err := dst.SaveSymbols(ctx, kind, syms); err != nil {
		return nil, fmt.Errorf("saving %s: %w", kind, err)
	}
	slog.Info("symbols synced", "kind", string(kind), "count", len(syms))
	return syms, nil
}

// FilterSymbols keeps the symbols whose code is in codes, in codes order.
// Codes missing from all are returned with an empty name.
func FilterSymbols(all []domain.Symbol, codes []string) []domain.Symbol {
	if len(codes) == 0 {
		return all
	}
	byCode := make(map[string]domain.Symbol, len(all))
	for _, s := range all {
		byCode[s.Code] = s
	}
	out := make([]domain.Symbol, 0, len(codes))
	for _, c := range codes {
		if s, ok := byCode[c]; ok {
			out = append(out, s)
			continue
		}
		out = append(out, domain.Symbol{Code: c})
	}
	return out
}
