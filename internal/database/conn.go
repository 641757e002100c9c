package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/robmartinson/tablesync/internal/dialect"
	"github.com/robmartinson/tablesync/internal/errs"
)

// Open connects to the endpoint, tunnelling over SSH when a key is
// configured. The returned Conn holds a single pooled connection.
func Open(ctx context.Context, ep Endpoint, logger *zap.Logger) (*Conn, error) {
	ep, err := ep.Normalize()
	if err != nil {
		return nil, err
	}
	if err := ep.Validate(); err != nil {
		return nil, err
	}

	target := ep
	var cleanup func()
	if ep.SSHKey != "" && ep.Dialect != dialect.SQLite {
		target, cleanup, err = SetupTunnel(ep, logger)
		if err != nil {
			return nil, errs.Connectivity(err, "failed to setup SSH tunnel")
		}
	}

	var dsn string
	switch target.Dialect {
	case dialect.MySQL:
		dsn = mysqlDSN(target)
	case dialect.SQLite:
		dsn = sqliteDSN(target)
	default:
		dsn = postgresDSN(target)
	}

	db, err := sql.Open(target.Dialect.DriverName(), dsn)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, errs.Connectivity(err, "failed to open %s", ep)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		if cleanup != nil {
			cleanup()
		}
		return nil, errs.Connectivity(err, "failed to connect to %s", ep)
	}

	logger.Debug("connected", zap.Stringer("endpoint", ep))
	return &Conn{
		DB:      db,
		Dialect: ep.Dialect,
		name:    ep.String(),
		cleanup: cleanup,
	}, nil
}

// Close closes the database connection and tears down any tunnel.
func (c *Conn) Close() error {
	var err error
	if c.DB != nil {
		err = c.DB.Close()
	}
	if c.cleanup != nil {
		c.cleanup()
	}
	return err
}

func (c *Conn) String() string { return c.name }

// Version returns the server version string.
func (c *Conn) Version(ctx context.Context) (string, error) {
	query := "SELECT VERSION()"
	if c.Dialect == dialect.SQLite {
		query = "SELECT sqlite_version()"
	}
	var v string
	if err := c.DB.QueryRowContext(ctx, query).Scan(&v); err != nil {
		return "", fmt.Errorf("failed to query version: %w", err)
	}
	return v, nil
}

// Tables returns the names of all base tables in the connected database.
func (c *Conn) Tables(ctx context.Context) ([]string, error) {
	var query string
	switch c.Dialect {
	case dialect.MySQL:
		query = mysqlTablesQuery
	case dialect.SQLite:
		query = sqliteTablesQuery
	default:
		query = postgresTablesQuery
	}

	rows, err := c.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// TableExists reports whether the named table exists.
func (c *Conn) TableExists(ctx context.Context, table string) (bool, error) {
	var query string
	switch c.Dialect {
	case dialect.MySQL:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	case dialect.SQLite:
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	default:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1"
	}
	var n int
	if err := c.DB.QueryRowContext(ctx, query, table).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return n > 0, nil
}

// Columns returns the live column definitions of a table.
func (c *Conn) Columns(ctx context.Context, table string) ([]ColumnInfo, error) {
	switch c.Dialect {
	case dialect.SQLite:
		return sqliteColumns(ctx, c.DB, table)
	case dialect.MySQL:
		return informationSchemaColumns(ctx, c.DB, mysqlColumnsQuery, table)
	default:
		return informationSchemaColumns(ctx, c.DB, postgresColumnsQuery, table)
	}
}

func informationSchemaColumns(ctx context.Context, db *sql.DB, query, table string) ([]ColumnInfo, error) {
	rows, err := db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []ColumnInfo
	for rows.Next() {
		var col ColumnInfo
		var isNullable string
		var defaultValue sql.NullString

		if err := rows.Scan(&col.Name, &col.Type, &isNullable, &defaultValue); err != nil {
			return nil, err
		}

		col.Nullable = isNullable == "YES"
		if defaultValue.Valid {
			col.Default = &defaultValue.String
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}
