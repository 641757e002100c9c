// Package schema holds the static table definitions shared by the schema
// bootstrapper, the dump formatter and the type translator.
package schema

// Kind is the dialect-neutral type of a column.
type Kind int

const (
	KindText Kind = iota
	KindUUID
	KindString
	KindInt
	KindDecimal
	KindBool
	KindDate
	KindTimestamp
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindUUID:
		return "uuid"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindDecimal:
		return "decimal"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	case KindTimestamp:
		return "timestamp"
	case KindEnum:
		return "enum"
	default:
		return "text"
	}
}

// Neutral column defaults; anything else is rendered as a literal.
const (
	DefaultNow        = "now()"
	DefaultRandomUUID = "gen_random_uuid()"
)

// Column describes one column of a TableSchema.
type Column struct {
	Name       string
	Kind       Kind
	Size       int // VARCHAR length for KindString (MySQL)
	Precision  int
	Scale      int
	Enum       string // enum type name for KindEnum
	NotNull    bool
	PrimaryKey bool
	Default    string
	References string // referenced table; the referenced column is always id
	// OnUpdateNow marks updated_at style columns (MySQL ON UPDATE CURRENT_TIMESTAMP).
	OnUpdateNow bool
}

// TableSchema is the static definition of a syncable table.
type TableSchema struct {
	Name    string
	Columns []Column
}

// Column returns the named column.
func (t TableSchema) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the declared column names in order.
func (t TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// EnumType is a Postgres enumerated type; other dialects store its values as strings.
type EnumType struct {
	Name   string
	Values []string
}
