package config

import (
	"fmt"
	"strings"

	"marketsync/internal/domain"
)

// Destination kinds accepted in a "kind=connection" specifier.
const (
	DestFile       = "file"
	DestSQLite     = "sqlite"
	DestMySQL      = "mysql"
	DestPostgres   = "postgres"
	DestMongoDB    = "mongodb"
	DestClickHouse = "clickhouse"
)

var destKinds = []string{DestFile, DestSQLite, DestMySQL, DestPostgres, DestMongoDB, DestClickHouse}

// Dest is a parsed storage destination.
type Dest struct {
	Kind string
	Conn string
}

func (d Dest) String() string { return d.Kind + "=" + d.Conn }

// ParseDest parses "kind=connection". Only the first '=' separates the two
// halves, so connection strings may contain further '=' characters.
func ParseDest(raw string) (Dest, error) {
	kind, conn, ok := strings.Cut(strings.TrimSpace(raw), "=")
	if !ok || kind == "" || conn == "" {
		return Dest{}, fmt.Errorf("%w: destination %q is not kind=connection", domain.ErrConfig, raw)
	}
	kind = strings.ToLower(kind)
	for _, k := range destKinds {
		if k == kind {
			return Dest{Kind: kind, Conn: conn}, nil
		}
	}
	return Dest{}, fmt.Errorf("%w: unknown destination kind %q (want one of %s)",
		domain.ErrConfig, kind, strings.Join(destKinds, ", "))
}

// ParseDests parses every specifier, failing on the first bad one.
func ParseDests(specs []string) ([]Dest, error) {
	out := make([]Dest, 0, len(specs))
	for _, s := range specs {
		d, err := ParseDest(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
