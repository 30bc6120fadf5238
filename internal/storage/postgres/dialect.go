// Package postgres registers a Postgres backend through pgx's database/sql
// driver. It can serve as the warehouse or as the reference source.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tripetl/internal/storage"
)

// Kind is the storage kind this package registers.
const Kind = "postgres"

// uniqueViolation is SQLSTATE 23505.
const uniqueViolation = "23505"

func init() {
	storage.Register(Kind, storage.Backend{
		DriverName: "pgx",
		Dialect:    Dialect{},
		DSN:        BuildDSN,
		Tune: func(db *sql.DB) {
			db.SetMaxOpenConns(4)
			db.SetMaxIdleConns(2)
		},
	})
}

// Dialect renders Postgres flavoured SQL.
type Dialect struct{}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// Ident returns a double-quoted identifier.
func (Dialect) Ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Dialect) ColumnType(logical string) string {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case "int":
		return "INTEGER"
	case "bigint":
		return "BIGINT"
	case "float":
		return "DOUBLE PRECISION"
	case "date":
		return "DATE"
	case "text":
		return "VARCHAR(255)"
	default:
		return logical
	}
}

func (d Dialect) CreateTableIfMissing(table, defs string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", storage.TableIdent(d, table), defs)
}

// Savepoints matter on Postgres: any failed statement aborts the whole
// transaction until it is rolled back to a savepoint.
func (d Dialect) Savepoint(name string) string { return "SAVEPOINT " + d.Ident(name) }

func (d Dialect) RollbackToSavepoint(name string) string {
	return "ROLLBACK TO SAVEPOINT " + d.Ident(name)
}

func (d Dialect) ReleaseSavepoint(name string) string { return "RELEASE SAVEPOINT " + d.Ident(name) }

func (Dialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// BuildDSN renders a postgres:// URL. sslmode defaults to "disable" unless
// Endpoint.Params overrides it.
func BuildDSN(e storage.Endpoint) string {
	host := e.Host
	if host == "" {
		host = "127.0.0.1"
	}
	if e.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(e.Port))
	}

	u := url.URL{Scheme: "postgres", Host: host, Path: "/" + e.Database}
	if e.User != "" {
		u.User = url.UserPassword(e.User, e.Password)
	}

	q := url.Values{}
	q.Set("sslmode", "disable")
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
