package us

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"marketsync/internal/domain"
)

// LoadCSVSymbols reads a symbol list from a CSV file with a header row. The
// "symbol" and "name" columns are located by header, defaulting to the first
// and second column. Symbols are upper-cased and de-duplicated.
func LoadCSVSymbols(path string) ([]domain.Symbol, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header %s: %w", path, err)
	}

	symbolIdx, nameIdx := 0, 1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "symbol", "code":
			symbolIdx = i
		case "name", "description":
			nameIdx = i
		}
	}

	var (
		out  []domain.Symbol
		seen = make(map[string]struct{})
	)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV %s: %w", path, err)
		}
		if len(rec) <= symbolIdx {
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(rec[symbolIdx]))
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		sym := domain.Symbol{Code: code}
		if len(rec) > nameIdx && nameIdx != symbolIdx {
			sym.Name = strings.TrimSpace(rec[nameIdx])
		}
		out = append(out, sym)
	}
	return out, nil
}
