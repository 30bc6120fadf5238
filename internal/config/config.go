// Package config loads the trips loader configuration.
//
// Sources, lowest to highest precedence: built-in defaults, environment
// variables, command line flags. Environment variable names are the ones the
// warehouse operators already use (MSSQL_*, MYSQL_*, FP7, ...).
package config

import (
	"strings"

	"tripetl/internal/storage"
)

// Config is the full run configuration.
type Config struct {
	Input     InputConfig   `koanf:"input"`
	Warehouse DBConfig      `koanf:"warehouse"`
	Reference DBConfig      `koanf:"reference"`
	Load      LoadConfig    `koanf:"load"`
	Metrics   MetricsConfig `koanf:"metrics"`
	Verbose   bool          `koanf:"verbose"`
}

type InputConfig struct {
	Path string `koanf:"path"`

	// Comma is the single-character field delimiter.
	Comma    string `koanf:"comma"`
	Encoding string `koanf:"encoding"`
}

// DBConfig locates one database. DSN, when set, wins over the endpoint
// fields.
type DBConfig struct {
	Kind     string            `koanf:"kind"`
	DSN      string            `koanf:"dsn"`
	Host     string            `koanf:"host"`
	Port     int               `koanf:"port"`
	User     string            `koanf:"user"`
	Password string            `koanf:"password"`
	Database string            `koanf:"database"`
	Params   map[string]string `koanf:"params"`
}

type LoadConfig struct {
	// CommitEvery is the number of loaded rows per transaction.
	CommitEvery int     `koanf:"commit_every"`
	FeeRate     float64 `koanf:"fee_rate"`

	// FactCompanyColumn, when set, is the fact column that receives the
	// unknown company key. Empty means the fact table has no company column.
	FactCompanyColumn string `koanf:"fact_company_column"`

	// MaxRows stops the run after that many input records. 0 reads all.
	MaxRows int `koanf:"max_rows"`

	// StrictResolve makes an unresolvable dimension insert fatal instead of
	// skipping the row.
	StrictResolve bool `koanf:"strict_resolve"`

	// Cache memoizes dimension keys for the duration of the run.
	Cache bool `koanf:"cache"`

	EnsureSchema bool `koanf:"ensure_schema"`
}

type MetricsConfig struct {
	// Backend is "none", "pushgateway" or "datadog".
	Backend        string `koanf:"backend"`
	PushgatewayURL string `koanf:"pushgateway_url"`
	Job            string `koanf:"job"`

	// Tags are comma separated Datadog tags ("env:prod,team:dw").
	Tags string `koanf:"tags"`
}

// StorageConfig converts c into the form storage.Open expects. Kind names
// written the ODBC way ("ODBC Driver 18 for SQL Server") map to sqlserver.
// SQL Server connections trust the server certificate unless Params say
// otherwise. A zero Port leaves the backend default in place.
func (c DBConfig) StorageConfig() storage.Config {
	kind := NormalizeKind(c.Kind)
	params := make(map[string]string, len(c.Params)+1)
	for k, v := range c.Params {
		params[k] = v
	}
	if kind == "sqlserver" {
		if _, ok := params["TrustServerCertificate"]; !ok {
			params["TrustServerCertificate"] = "true"
		}
	}

	return storage.Config{
		Kind: kind,
		DSN:  c.DSN,
		Endpoint: storage.Endpoint{
			Host:     c.Host,
			Port:     c.Port,
			User:     c.User,
			Password: c.Password,
			Database: c.Database,
			Params:   params,
		},
	}
}

// NormalizeKind lowercases kind and folds common aliases onto registered
// storage kinds.
func NormalizeKind(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	switch {
	case strings.Contains(k, "sql server"), k == "mssql":
		return "sqlserver"
	case k == "postgresql", k == "pgx":
		return "postgres"
	case k == "sqlite3":
		return "sqlite"
	case k == "mariadb":
		return "mysql"
	}
	return k
}

// CommaRune returns the delimiter, ';' when unset.
func (c InputConfig) CommaRune() rune {
	for _, r := range c.Comma {
		return r
	}
	return ';'
}
