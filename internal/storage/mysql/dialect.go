// Package mysql registers the MySQL backend. It is the default reference
// source (vessels and their owning companies).
package mysql

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"tripetl/internal/storage"
)

// Kind is the storage kind this package registers.
const Kind = "mysql"

const (
	erDupEntry            = 1062
	erDupEntryWithKeyName = 1586
)

func init() {
	storage.Register(Kind, storage.Backend{
		DriverName: "mysql",
		Dialect:    Dialect{},
		DSN:        BuildDSN,
		Tune: func(db *sql.DB) {
			db.SetMaxOpenConns(2)
			db.SetConnMaxLifetime(5 * time.Minute)
		},
	})
}

// Dialect renders MySQL flavoured SQL.
type Dialect struct{}

func (Dialect) Placeholder(int) string { return "?" }

// Ident returns a backtick-quoted identifier.
func (Dialect) Ident(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (Dialect) ColumnType(logical string) string {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case "int":
		return "INT"
	case "bigint":
		return "BIGINT"
	case "float":
		return "DOUBLE"
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

func (d Dialect) Savepoint(name string) string { return "SAVEPOINT " + d.Ident(name) }

func (d Dialect) RollbackToSavepoint(name string) string {
	return "ROLLBACK TO SAVEPOINT " + d.Ident(name)
}

func (d Dialect) ReleaseSavepoint(name string) string { return "RELEASE SAVEPOINT " + d.Ident(name) }

func (Dialect) IsUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == erDupEntry || me.Number == erDupEntryWithKeyName
}

// BuildDSN renders a go-sql-driver DSN. The connection always uses utf8mb4
// and parses DATE/DATETIME columns into time.Time.
func BuildDSN(e storage.Endpoint) string {
	host := e.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := e.Port
	if port <= 0 {
		port = 3306
	}

	cfg := mysql.NewConfig()
	cfg.User = e.User
	cfg.Passwd = e.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = e.Database
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	for k, v := range e.Params {
		cfg.Params[k] = v
	}
	return cfg.FormatDSN()
}
