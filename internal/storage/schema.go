// Table specs live here so the warehouse package and every backend dialect can
// share them without import cycles.
package storage

// TableSpec describes a table for idempotent bootstrap DDL.
type TableSpec struct {
	Name        string           `json:"name"`
	PrimaryKey  *PrimaryKeySpec  `json:"primary_key,omitempty"`
	Columns     []ColumnSpec     `json:"columns"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
}

// PrimaryKeySpec names the explicit integer surrogate key column.
// Keys are assigned by the loader, never by the database.
type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"` // logical type, normally "int"
}

// ColumnSpec is one non-key column. Type is a logical type ("int", "float",
// "date", "text") or a raw SQL type the dialect passes through unchanged.
type ColumnSpec struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	References string `json:"references,omitempty"`
	Nullable   *bool  `json:"nullable,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}
