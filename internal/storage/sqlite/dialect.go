// Package sqlite registers an embedded SQLite backend (modernc.org/sqlite, no
// cgo). It is used for local runs and for the package tests.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"tripetl/internal/storage"
)

// Kind is the storage kind this package registers.
const Kind = "sqlite"

func init() {
	storage.Register(Kind, storage.Backend{
		DriverName: "sqlite",
		Dialect:    Dialect{},
		DSN:        BuildDSN,
		Tune: func(db *sql.DB) {
			// SQLite allows a single writer; pinning one connection also keeps
			// the batch transaction and every statement on the same handle.
			db.SetMaxOpenConns(1)
		},
	})
}

// Dialect renders SQLite flavoured SQL.
//
// SQLite has no native DATE type; "date" maps to TEXT. modernc.org/sqlite
// binds time.Time parameters with a fixed text layout, so equality lookups on
// dates round-trip as long as every write goes through the driver.
type Dialect struct{}

func (Dialect) Placeholder(int) string { return "?" }

// Ident returns a double-quoted identifier.
func (Dialect) Ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Dialect) ColumnType(logical string) string {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case "int", "bigint":
		return "INTEGER"
	case "float":
		return "REAL"
	case "date", "text":
		return "TEXT"
	default:
		return logical
	}
}

func (d Dialect) CreateTableIfMissing(table, defs string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", storage.TableIdent(d, table), defs)
}

func (d Dialect) Savepoint(name string) string { return "SAVEPOINT " + d.Ident(name) }

func (d Dialect) RollbackToSavepoint(name string) string {
	return "ROLLBACK TO SAVEPOINT " + d.Ident(name)
}

func (d Dialect) ReleaseSavepoint(name string) string { return "RELEASE SAVEPOINT " + d.Ident(name) }

func (Dialect) IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// Primary result code only (extended codes disabled on the handle).
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}

// BuildDSN uses Endpoint.Database as the file path. A busy timeout and
// foreign key enforcement are always requested; Params add further pragmas.
func BuildDSN(e storage.Endpoint) string {
	path := e.Database
	if path == "" {
		path = "trips.sqlite"
	}

	pragmas := []string{"busy_timeout(5000)", "foreign_keys(1)"}
	keys := make([]string, 0, len(e.Params))
	for k := range e.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pragmas = append(pragmas, fmt.Sprintf("%s(%s)", k, e.Params[k]))
	}

	var b strings.Builder
	b.WriteString(path)
	for i, p := range pragmas {
		if i == 0 {
			b.WriteString("?")
		} else {
			b.WriteString("&")
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}
