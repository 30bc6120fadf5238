package storage

import (
	"context"
	"fmt"
	"strings"
)

// Dialect renders the backend-specific parts of the SQL the loaders issue.
//
// Everything else (statement shapes, argument order) is shared so that the
// dimension protocol behaves identically on every backend.
type Dialect interface {
	// Placeholder returns the n-th (1-based) bind parameter marker.
	Placeholder(n int) string

	// Ident quotes a single identifier.
	Ident(name string) string

	// ColumnType maps a logical column type ("int", "float", "date", "text")
	// to a concrete SQL type. Unknown types are returned unchanged.
	ColumnType(logical string) string

	// CreateTableIfMissing wraps a column definition list in an idempotent
	// CREATE TABLE statement.
	CreateTableIfMissing(table string, defs string) string

	// Savepoint statements. ReleaseSavepoint may return "" when the backend
	// has no release statement (SQL Server).
	Savepoint(name string) string
	RollbackToSavepoint(name string) string
	ReleaseSavepoint(name string) string

	// IsUniqueViolation reports whether err is a primary key or unique
	// constraint violation raised by this backend's driver.
	IsUniqueViolation(err error) bool
}

// TableIdent quotes a possibly schema-qualified name part by part.
//
// Example (SQL Server):
//
//	"dbo.barco" -> [dbo].[barco]
func TableIdent(d Dialect, name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = d.Ident(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// SelectByColumnsSQL builds `SELECT <ret> FROM <table> WHERE c1 = p1 AND ...`.
func SelectByColumnsSQL(d Dialect, table, ret string, where []string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(d.Ident(ret))
	b.WriteString(" FROM ")
	b.WriteString(TableIdent(d, table))
	b.WriteString(" WHERE ")
	for i, c := range where {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(d.Ident(c))
		b.WriteString(" = ")
		b.WriteString(d.Placeholder(i + 1))
	}
	return b.String()
}

// MaxSQL builds `SELECT MAX(<col>) FROM <table>`.
func MaxSQL(d Dialect, table, column string) string {
	return fmt.Sprintf("SELECT MAX(%s) FROM %s", d.Ident(column), TableIdent(d, table))
}

// InsertSQL builds a single-row INSERT for columns in the given order.
func InsertSQL(d Dialect, table string, columns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(TableIdent(d, table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Ident(c))
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Placeholder(i + 1))
	}
	b.WriteString(")")
	return b.String()
}

// BuildCreateSQL builds idempotent CREATE TABLE SQL for t.
//
// The primary key is a plain integer column: surrogate keys are assigned by
// the loader, so no identity/serial type is ever generated.
func BuildCreateSQL(d Dialect, t TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("storage: table name is empty")
	}

	var parts []string

	if t.PrimaryKey != nil {
		if strings.TrimSpace(t.PrimaryKey.Name) == "" {
			return "", fmt.Errorf("storage: %s primary key name is empty", t.Name)
		}
		typ := t.PrimaryKey.Type
		if typ == "" {
			typ = "int"
		}
		parts = append(parts, fmt.Sprintf("%s %s NOT NULL PRIMARY KEY", d.Ident(t.PrimaryKey.Name), d.ColumnType(typ)))
	}

	for _, c := range t.Columns {
		def, err := columnDef(d, c)
		if err != nil {
			return "", fmt.Errorf("storage: %s: %w", t.Name, err)
		}
		parts = append(parts, def)
	}

	for _, con := range t.Constraints {
		if !strings.EqualFold(con.Kind, "unique") {
			return "", fmt.Errorf("storage: %s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return "", fmt.Errorf("storage: %s unique constraint has no columns", t.Name)
		}
		cols := make([]string, len(con.Columns))
		for i, c := range con.Columns {
			cols[i] = d.Ident(c)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}

	return d.CreateTableIfMissing(t.Name, strings.Join(parts, ", ")), nil
}

func columnDef(d Dialect, c ColumnSpec) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("column name is empty")
	}
	if strings.TrimSpace(c.Type) == "" {
		return "", fmt.Errorf("column %s type is empty", c.Name)
	}

	var b strings.Builder
	b.WriteString(d.Ident(c.Name))
	b.WriteString(" ")
	b.WriteString(d.ColumnType(c.Type))

	nullable := true
	if c.Nullable != nil {
		nullable = *c.Nullable
	}
	if !nullable {
		b.WriteString(" NOT NULL")
	}
	if strings.TrimSpace(c.References) != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(c.References)
	}
	return b.String(), nil
}

// EnsureTables creates each table if it does not exist yet.
//
// Existing tables are never altered. This is a bootstrap helper for empty
// databases (development, tests), not a migration mechanism.
func EnsureTables(ctx context.Context, q Querier, d Dialect, tables []TableSpec) error {
	for _, t := range tables {
		stmt, err := BuildCreateSQL(d, t)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: create table %s: %w", t.Name, err)
		}
	}
	return nil
}
