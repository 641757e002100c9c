package database

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var escaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"\x00", `\0`,
	"\x1a", `\Z`,
)

// Escape escapes s for use inside a single-quoted MySQL string literal.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Literal renders v as a MySQL literal for textual dumps. Values should
// already have been passed through a MySQL Translator.
func Literal(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return "'" + val.Format(mysqlDateTime) + "'"
	case []byte:
		return "'" + Escape(string(val)) + "'"
	case string:
		return "'" + Escape(val) + "'"
	default:
		return "'" + Escape(fmt.Sprint(val)) + "'"
	}
}
