package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "tripetl/internal/storage/all"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "Dados_Mockaro.csv", cfg.Input.Path)
	assert.Equal(t, ';', cfg.Input.CommaRune())
	assert.Equal(t, "sqlserver", cfg.Warehouse.Kind)
	assert.Equal(t, "mysql", cfg.Reference.Kind)
	assert.Equal(t, 100, cfg.Load.CommitEvery)
	assert.InDelta(t, 0.85, cfg.Load.FeeRate, 1e-12)
	assert.Empty(t, cfg.Load.FactCompanyColumn)
	assert.False(t, cfg.Load.StrictResolve)
	assert.True(t, cfg.Load.Cache)
	assert.Equal(t, "none", cfg.Metrics.Backend)
}

func TestLoad_EnvAliases(t *testing.T) {
	t.Setenv("FP7", "viagens.csv")
	t.Setenv("MSSQL_HOST", "dw.local")
	t.Setenv("MSSQL_PORT", "14330")
	t.Setenv("MSSQL_USER", "etl")
	t.Setenv("MSSQL_PWD", "secret")
	t.Setenv("MSSQL_DB", "dw_viagens")
	t.Setenv("MSSQL_DRIVER", "ODBC Driver 18 for SQL Server")
	t.Setenv("MYSQL_DB", "frota")
	t.Setenv("FEE_RATE", "0.9")
	t.Setenv("STRICT_RESOLVE", "true")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "viagens.csv", cfg.Input.Path)
	assert.Equal(t, DBConfig{
		Kind: "sqlserver", Host: "dw.local", Port: 14330,
		User: "etl", Password: "secret", Database: "dw_viagens",
	}, cfg.Warehouse)
	assert.Equal(t, "frota", cfg.Reference.Database)
	assert.InDelta(t, 0.9, cfg.Load.FeeRate, 1e-12)
	assert.True(t, cfg.Load.StrictResolve)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("FP7", "from-env.csv")
	t.Setenv("FEE_RATE", "0.9")

	cfg, err := Load(newFlags(t, "--input", "from-flag.csv", "--commit-every", "25", "--no-cache", "--warehouse-kind", "sqlite"))
	require.NoError(t, err)

	assert.Equal(t, "from-flag.csv", cfg.Input.Path)
	assert.Equal(t, 25, cfg.Load.CommitEvery)
	assert.False(t, cfg.Load.Cache)
	assert.Equal(t, "sqlite", cfg.Warehouse.Kind)
	// Unset flags keep the env value.
	assert.InDelta(t, 0.9, cfg.Load.FeeRate, 1e-12)
}

func TestStorageConfig(t *testing.T) {
	t.Parallel()

	sc := DBConfig{Kind: "MSSQL", Host: "h", Database: "dw"}.StorageConfig()
	assert.Equal(t, "sqlserver", sc.Kind)
	assert.Equal(t, "true", sc.Endpoint.Params["TrustServerCertificate"])

	sc = DBConfig{Kind: "sqlserver", Params: map[string]string{"TrustServerCertificate": "false"}}.StorageConfig()
	assert.Equal(t, "false", sc.Endpoint.Params["TrustServerCertificate"])

	sc = DBConfig{Kind: "postgresql"}.StorageConfig()
	assert.Equal(t, "postgres", sc.Kind)
	assert.Empty(t, sc.Endpoint.Params)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(nil)
		require.NoError(t, err)
		cfg.Warehouse.Database = "dw"
		cfg.Reference.Database = "frota"
		return cfg
	}

	t.Run("defaults are valid", func(t *testing.T) {
		assert.Empty(t, Validate(base()))
	})

	tests := []struct {
		name     string
		mutate   func(*Config)
		path     string
		severity Severity
	}{
		{"empty input", func(c *Config) { c.Input.Path = " " }, "input.path", SeverityError},
		{"long delimiter", func(c *Config) { c.Input.Comma = ";;" }, "input.comma", SeverityError},
		{"zero commit", func(c *Config) { c.Load.CommitEvery = 0 }, "load.commit_every", SeverityError},
		{"negative rate", func(c *Config) { c.Load.FeeRate = -1 }, "load.fee_rate", SeverityError},
		{"negative max rows", func(c *Config) { c.Load.MaxRows = -5 }, "load.max_rows", SeverityError},
		{"bad company column", func(c *Config) { c.Load.FactCompanyColumn = "x; DROP TABLE viagens" }, "load.fact_company_column", SeverityError},
		{"unknown warehouse kind", func(c *Config) { c.Warehouse.Kind = "oracle" }, "warehouse.kind", SeverityError},
		{"bad port", func(c *Config) { c.Reference.Port = 70000 }, "reference.port", SeverityError},
		{"no database", func(c *Config) { c.Reference.Database = "" }, "reference.database", SeverityWarning},
		{"unknown metrics backend", func(c *Config) { c.Metrics.Backend = "statsd" }, "metrics.backend", SeverityWarning},
		{"pushgateway without url", func(c *Config) {
			c.Metrics.Backend = "pushgateway"
			c.Metrics.PushgatewayURL = ""
		}, "metrics.pushgateway_url", SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			issues := Validate(cfg)
			require.Len(t, issues, 1, "issues: %v", issues)
			assert.Equal(t, tt.path, issues[0].Path)
			assert.Equal(t, tt.severity, issues[0].Severity)
			assert.Equal(t, tt.severity == SeverityError, HasErrors(issues))
		})
	}
}
