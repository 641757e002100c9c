package database

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/robmartinson/tablesync/internal/dialect"
	"github.com/robmartinson/tablesync/internal/errs"
)

const mysqlTablesQuery = `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = DATABASE()
	AND table_type = 'BASE TABLE' ORDER BY table_name
`

const mysqlColumnsQuery = `
	SELECT column_name, data_type, is_nullable, column_default
	FROM information_schema.columns
	WHERE table_schema = DATABASE()
	AND table_name = ?
	ORDER BY ordinal_position
`

// mysqlDSN builds a go-sql-driver DSN. DATETIME values are read back as
// time.Time in UTC so their wall clock is never shifted.
func mysqlDSN(ep Endpoint) string {
	cfg := mysql.NewConfig()
	cfg.User = ep.User
	cfg.Passwd = ep.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
	cfg.DBName = ep.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Timeout = 10 * time.Second
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	for k, v := range ep.params() {
		cfg.Params[k] = v[0]
	}
	switch ep.SSLMode {
	case "require", "verify-full":
		cfg.TLSConfig = "true"
	case "skip-verify", "preferred":
		cfg.TLSConfig = ep.SSLMode
	}
	return cfg.FormatDSN()
}

// parseMySQLDSN accepts the native driver form user:pass@tcp(host:port)/db.
func parseMySQLDSN(raw string) (Endpoint, error) {
	cfg, err := mysql.ParseDSN(raw)
	if err != nil {
		return Endpoint{}, errs.Validation("invalid mysql dsn: %v", err)
	}
	ep := Endpoint{
		Dialect:  dialect.MySQL,
		User:     cfg.User,
		Password: cfg.Passwd,
		Database: cfg.DBName,
	}
	params := url.Values{}
	for k, v := range cfg.Params {
		params.Set(k, v)
	}
	ep.Params = params.Encode()
	host, port, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		ep.Host = cfg.Addr
		return ep, nil
	}
	ep.Host = host
	if p, err := strconv.Atoi(port); err == nil {
		ep.Port = p
	}
	return ep, nil
}

func mysqlMessage(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return "", false
	}
	return fmt.Sprintf("Error %d: %s", myErr.Number, myErr.Message), true
}
