package store

import (
	"fmt"
	"net/url"
	"strings"
)

// sanitizeDBName restricts a show name to characters Postgres accepts
// unquoted in an identifier, since dbName is interpolated directly into
// a CREATE DATABASE statement (which cannot be parameterized).
func sanitizeDBName(show string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(show) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// withDatabase rewrites a postgres connection string's database path
// component to dbName.
func withDatabase(dsn, dbName string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("store: parse postgres dsn: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}
