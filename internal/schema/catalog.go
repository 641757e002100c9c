package schema

import (
	"fmt"
	"strings"

	"github.com/robmartinson/tablesync/internal/errs"
)

// PrimaryKey is the column every syncable table is keyed on.
const PrimaryKey = "id"

// Catalog is the ordered allow-list of syncable tables. Tables appear after
// every table they reference.
type Catalog struct {
	Tables []TableSchema
	Enums  []EnumType
}

// Names returns the table names in dependency order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		names[i] = t.Name
	}
	return names
}

// Table looks up a table by name.
func (c *Catalog) Table(name string) (TableSchema, bool) {
	for _, t := range c.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSchema{}, false
}

// Resolve validates the requested names against the allow-list. An empty
// request selects every table. The caller's order is kept.
func (c *Catalog) Resolve(names []string) ([]string, error) {
	if len(names) == 0 {
		return c.Names(), nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if _, ok := c.Table(n); !ok {
			return nil, errs.Validation("unknown table %q", n)
		}
		if seen[n] {
			return nil, errs.Validation("table %q listed twice", n)
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}

// Select returns the schemas of the requested tables in catalog order.
func (c *Catalog) Select(names []string) ([]TableSchema, error) {
	resolved, err := c.Resolve(names)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(resolved))
	for _, n := range resolved {
		want[n] = true
	}
	var out []TableSchema
	for _, t := range c.Tables {
		if want[t.Name] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Enum looks up an enum type by name.
func (c *Catalog) Enum(name string) (EnumType, bool) {
	for _, e := range c.Enums {
		if e.Name == name {
			return e, true
		}
	}
	return EnumType{}, false
}

// Validate checks the catalog's internal consistency.
func (c *Catalog) Validate() error {
	var problems []string
	seen := map[string]bool{}
	for i, t := range c.Tables {
		if t.Name == "" {
			problems = append(problems, fmt.Sprintf("tables[%d]: empty name", i))
			continue
		}
		if seen[t.Name] {
			problems = append(problems, fmt.Sprintf("%s: duplicate table", t.Name))
		}
		pk, ok := t.Column(PrimaryKey)
		if !ok || !pk.PrimaryKey {
			problems = append(problems, fmt.Sprintf("%s: missing %s primary key", t.Name, PrimaryKey))
		}
		cols := map[string]bool{}
		for _, col := range t.Columns {
			if cols[col.Name] {
				problems = append(problems, fmt.Sprintf("%s.%s: duplicate column", t.Name, col.Name))
			}
			cols[col.Name] = true
			if col.References != "" && col.References != t.Name && !seen[col.References] {
				problems = append(problems, fmt.Sprintf("%s.%s: references %s which is not declared before it", t.Name, col.Name, col.References))
			}
			if col.Kind == KindEnum {
				if _, ok := c.Enum(col.Enum); !ok {
					problems = append(problems, fmt.Sprintf("%s.%s: unknown enum type %q", t.Name, col.Name, col.Enum))
				}
			}
		}
		seen[t.Name] = true
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid table catalog:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// CheckColumns returns the fetched column names that the static definition
// of table does not declare.
func (c *Catalog) CheckColumns(table string, cols []string) []string {
	t, ok := c.Table(table)
	if !ok {
		return nil
	}
	var unknown []string
	for _, name := range cols {
		if _, ok := t.Column(name); !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}
