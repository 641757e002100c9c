package database

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/robmartinson/tablesync/internal/dialect"
	"github.com/robmartinson/tablesync/internal/errs"
)

// Endpoint holds everything needed to reach one database. Endpoints are
// built per request and never persisted.
type Endpoint struct {
	Dialect  dialect.Dialect `json:"dialect" yaml:"dialect"`
	URL      string          `json:"url,omitempty" yaml:"url,omitempty"`
	Host     string          `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int             `json:"port,omitempty" yaml:"port,omitempty"`
	Database string          `json:"database,omitempty" yaml:"database,omitempty"`
	User     string          `json:"user,omitempty" yaml:"user,omitempty"`
	Password string          `json:"password,omitempty" yaml:"password,omitempty"`
	SSLMode  string          `json:"sslmode,omitempty" yaml:"sslmode,omitempty"`
	// Params holds further driver parameters in URL query form, such as
	// sslrootcert or options for postgres.
	Params   string          `json:"params,omitempty" yaml:"params,omitempty"`

	// SSH tunnel settings are only taken from local configuration.
	SSHKey        string `json:"-" yaml:"sshkey,omitempty"`
	SSHUser       string `json:"-" yaml:"sshuser,omitempty"`
	SSHHost       string `json:"-" yaml:"sshhost,omitempty"`
	SSHPort       int    `json:"-" yaml:"sshport,omitempty"`
	SSHKnownHosts string `json:"-" yaml:"sshknownhosts,omitempty"`
}

// ColumnInfo stores information about a column as reported by the database.
type ColumnInfo struct {
	Name     string
	Type     string
	Nullable bool
	Default  *string
}

// Row is one fetched row keyed by column name.
type Row map[string]any

// Page is one offset window of a table.
type Page struct {
	Table   string
	Offset  int
	Size    int
	Columns []string
	Rows    []Row
}

// Last reports whether the page was short, meaning the table is exhausted.
func (p *Page) Last() bool {
	return len(p.Rows) < p.Size
}

// Conn is an open connection to an endpoint.
type Conn struct {
	DB      *sql.DB
	Dialect dialect.Dialect
	name    string
	cleanup func()
}

// Normalize fills fields from URL and applies dialect defaults.
func (e Endpoint) Normalize() (Endpoint, error) {
	if e.URL != "" {
		parsed, err := parseURL(e.URL)
		if err != nil {
			return e, err
		}
		if e.Dialect == "" {
			e.Dialect = parsed.Dialect
		}
		if e.Host == "" {
			e.Host = parsed.Host
		}
		if e.Port == 0 {
			e.Port = parsed.Port
		}
		if e.Database == "" {
			e.Database = parsed.Database
		}
		if e.User == "" {
			e.User = parsed.User
		}
		if e.Password == "" {
			e.Password = parsed.Password
		}
		if e.SSLMode == "" {
			e.SSLMode = parsed.SSLMode
		}
		if e.Params == "" {
			e.Params = parsed.Params
		}
	}
	if e.Dialect != "" {
		d, err := dialect.Parse(string(e.Dialect))
		if err != nil {
			return e, errs.Validation("%v", err)
		}
		e.Dialect = d
	}
	if e.Port == 0 {
		switch e.Dialect {
		case dialect.Postgres:
			e.Port = 5432
		case dialect.MySQL:
			e.Port = 3306
		}
	}
	if e.SSHKey != "" && e.SSHPort == 0 {
		e.SSHPort = 22
	}
	return e, nil
}

// Validate checks that the required credential fields are present.
func (e Endpoint) Validate() error {
	if e.Dialect == "" {
		return errs.Validation("endpoint dialect is required")
	}
	if e.Dialect == dialect.SQLite {
		if e.Database == "" {
			return errs.Validation("sqlite endpoint requires a database path")
		}
		return nil
	}
	var missing []string
	if e.Host == "" {
		missing = append(missing, "host")
	}
	if e.User == "" {
		missing = append(missing, "user")
	}
	if e.Database == "" {
		missing = append(missing, "database")
	}
	if len(missing) > 0 {
		return errs.Validation("%s endpoint is missing %s", e.Dialect, strings.Join(missing, ", "))
	}
	return nil
}

// String identifies the endpoint in logs without credentials.
func (e Endpoint) String() string {
	if e.Dialect == dialect.SQLite {
		return "sqlite:" + e.Database
	}
	return fmt.Sprintf("%s://%s/%s", e.Dialect, net.JoinHostPort(e.Host, strconv.Itoa(e.Port)), e.Database)
}

// params decodes Params, ignoring malformed pairs.
func (e Endpoint) params() url.Values {
	v, _ := url.ParseQuery(e.Params)
	return v
}

func parseURL(raw string) (Endpoint, error) {
	if strings.HasPrefix(raw, "sqlite:") || strings.HasPrefix(raw, "sqlite3:") {
		path := raw[strings.Index(raw, ":")+1:]
		path = strings.TrimPrefix(path, "//")
		return Endpoint{Dialect: dialect.SQLite, Database: path}, nil
	}
	if strings.Contains(raw, "@tcp(") {
		return parseMySQLDSN(raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, errs.Validation("invalid endpoint url: %v", err)
	}
	d, err := dialect.Parse(u.Scheme)
	if err != nil {
		return Endpoint{}, errs.Validation("invalid endpoint url: %v", err)
	}

	query := u.Query()
	ep := Endpoint{
		Dialect:  d,
		Host:     u.Hostname(),
		Database: strings.TrimPrefix(u.Path, "/"),
		SSLMode:  query.Get("sslmode"),
	}
	query.Del("sslmode")
	ep.Params = query.Encode()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return Endpoint{}, errs.Validation("invalid endpoint port %q", p)
		}
		ep.Port = port
	}
	if u.User != nil {
		ep.User = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	return ep, nil
}
