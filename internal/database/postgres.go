package database

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
)

const postgresTablesQuery = `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = 'public'
	AND table_type = 'BASE TABLE' ORDER BY table_name
`

const postgresColumnsQuery = `
	SELECT column_name, data_type, is_nullable, column_default
	FROM information_schema.columns
	WHERE table_schema = 'public'
	AND table_name = $1
	ORDER BY ordinal_position
`

func postgresDSN(ep Endpoint) string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s connect_timeout=10",
		pqValue(ep.Host),
		ep.Port,
		pqValue(ep.Database),
		pqValue(ep.User),
	)
	if ep.Password != "" {
		connStr += fmt.Sprintf(" password=%s", pqValue(ep.Password))
	}
	if ep.SSLMode != "" {
		connStr += fmt.Sprintf(" sslmode=%s", pqValue(ep.SSLMode))
	}
	params := ep.params()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		connStr += fmt.Sprintf(" %s=%s", k, pqValue(params.Get(k)))
	}
	return connStr
}

// pqValue quotes a keyword/value connection parameter when needed.
func pqValue(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// pqMessage renders a Postgres server error with its SQLSTATE.
func pqMessage(err error) (string, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return "", false
	}
	msg := pqErr.Message
	if pqErr.Detail != "" {
		msg += ": " + pqErr.Detail
	}
	return fmt.Sprintf("%s (SQLSTATE %s)", msg, pqErr.Code), true
}
