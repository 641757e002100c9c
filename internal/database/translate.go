package database

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/robmartinson/tablesync/internal/dialect"
	"github.com/robmartinson/tablesync/internal/schema"
)

const (
	mysqlDateTime = "2006-01-02 15:04:05.999999"
	mysqlDate     = "2006-01-02"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	mysqlDate,
}

// Translator converts values read from one dialect into parameters the
// destination dialect accepts.
type Translator struct {
	Dest dialect.Dialect
}

// Value translates v for binding on the destination. col may be nil when
// the column is not declared in the catalog.
func (t Translator) Value(v any, col *schema.Column) any {
	n := Normalize(v, col)
	switch val := n.(type) {
	case bool:
		if t.Dest == dialect.Postgres {
			return val
		}
		if val {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		if t.Dest == dialect.MySQL {
			return mysqlTime(val, col)
		}
	case string:
		if t.Dest == dialect.MySQL && col != nil && (col.Kind == schema.KindTimestamp || col.Kind == schema.KindDate) {
			if ts, ok := parseTime(val); ok {
				return mysqlTime(ts, col)
			}
		}
	}
	return n
}

// Normalize converts a scanned driver value into one of nil, bool, int64,
// float64, string or time.Time, using the column kind where it is known.
func Normalize(v any, col *schema.Column) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		if col != nil && col.Kind == schema.KindUUID && len(val) == 16 {
			if u, err := uuid.FromBytes(val); err == nil {
				return u.String()
			}
		}
		return normalizeString(string(val), col)
	case string:
		return normalizeString(val, col)
	case int64:
		return normalizeInt(val, col)
	case int:
		return normalizeInt(int64(val), col)
	case int32:
		return normalizeInt(int64(val), col)
	case int16:
		return normalizeInt(int64(val), col)
	case int8:
		return normalizeInt(int64(val), col)
	case uint8:
		return normalizeInt(int64(val), col)
	case uint32:
		return normalizeInt(int64(val), col)
	case float32:
		return normalizeFloat(float64(val), col)
	case float64:
		return normalizeFloat(val, col)
	}
	return v
}

func normalizeInt(n int64, col *schema.Column) any {
	if col != nil && col.Kind == schema.KindBool {
		return n != 0
	}
	return n
}

func normalizeFloat(f float64, col *schema.Column) any {
	if col == nil {
		return f
	}
	switch col.Kind {
	case schema.KindBool:
		return f != 0
	case schema.KindInt:
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
	}
	return f
}

func normalizeString(s string, col *schema.Column) any {
	if col == nil {
		return s
	}
	switch col.Kind {
	case schema.KindBool:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	case schema.KindInt:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case schema.KindUUID:
		if u, err := uuid.Parse(s); err == nil {
			return u.String()
		}
	}
	return s
}

// mysqlTime renders the wall clock carried by t without zone conversion.
func mysqlTime(t time.Time, col *schema.Column) string {
	if col != nil && col.Kind == schema.KindDate {
		return t.Format(mysqlDate)
	}
	return t.Format(mysqlDateTime)
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
