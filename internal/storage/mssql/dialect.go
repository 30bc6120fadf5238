// Package mssql registers the SQL Server backend used as the default warehouse.
package mssql

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"tripetl/internal/storage"
)

// Kind is the storage kind this package registers.
const Kind = "sqlserver"

func init() {
	storage.Register(Kind, storage.Backend{
		DriverName: "sqlserver",
		Dialect:    Dialect{},
		DSN:        BuildDSN,
		Tune: func(db *sql.DB) {
			// One writer per run; a second connection is only used for pings.
			db.SetMaxOpenConns(4)
			db.SetMaxIdleConns(2)
		},
	})
}

// Dialect renders SQL Server flavoured SQL.
//
// Savepoints use SAVE TRANSACTION / ROLLBACK TRANSACTION; SQL Server has no
// release statement, a savepoint simply ends with the enclosing transaction.
type Dialect struct{}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

// Ident returns a bracket-quoted identifier, escaping ']' as ']]'.
func (Dialect) Ident(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (Dialect) ColumnType(logical string) string {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case "int":
		return "INT"
	case "bigint":
		return "BIGINT"
	case "float":
		return "FLOAT"
	case "date":
		return "DATE"
	case "text":
		// NVARCHAR(MAX) cannot carry a UNIQUE constraint.
		return "NVARCHAR(255)"
	default:
		return logical
	}
}

// CreateTableIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
//
// This keeps bootstrap idempotent without requiring IF NOT EXISTS syntax.
func (d Dialect) CreateTableIfMissing(table, defs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(table, "'", "''"),
		storage.TableIdent(d, table),
		defs,
	)
}

func (d Dialect) Savepoint(name string) string {
	return "SAVE TRANSACTION " + d.Ident(name)
}

func (d Dialect) RollbackToSavepoint(name string) string {
	return "ROLLBACK TRANSACTION " + d.Ident(name)
}

func (Dialect) ReleaseSavepoint(string) string { return "" }

// IsUniqueViolation matches error 2627 (PRIMARY KEY / UNIQUE constraint) and
// 2601 (duplicate key in unique index).
func (Dialect) IsUniqueViolation(err error) bool {
	var me mssql.Error
	if errors.As(err, &me) {
		return me.Number == 2627 || me.Number == 2601
	}
	return false
}

// BuildDSN renders a sqlserver:// URL.
//
// Endpoint.Params are added as query parameters in sorted order, so the same
// endpoint always yields the same DSN.
func BuildDSN(e storage.Endpoint) string {
	host := e.Host
	if host == "" {
		host = "127.0.0.1"
	}
	if e.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(e.Port))
	}

	u := url.URL{Scheme: "sqlserver", Host: host}
	if e.User != "" {
		u.User = url.UserPassword(e.User, e.Password)
	}

	q := url.Values{}
	if e.Database != "" {
		q.Set("database", e.Database)
	}
	keys := make([]string, 0, len(e.Params))
	for k := range e.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, e.Params[k])
	}
	u.RawQuery = q.Encode()
	return u.String()
}
