package config

import (
	"fmt"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Defaults mirrors the values the job used before it was configurable.
func Defaults() map[string]any {
	return map[string]any{
		"input.path":     "Dados_Mockaro.csv",
		"input.comma":    ";",
		"input.encoding": "utf-8",

		"warehouse.kind": "sqlserver",
		"warehouse.host": "127.0.0.1",

		"reference.kind": "mysql",
		"reference.host": "127.0.0.1",

		"load.commit_every":        100,
		"load.fee_rate":            0.85,
		"load.fact_company_column": "",
		"load.max_rows":            0,
		"load.strict_resolve":      false,
		"load.cache":               true,
		"load.ensure_schema":       false,

		"metrics.backend":         "none",
		"metrics.pushgateway_url": "http://localhost:9091",
		"metrics.job":             "trips_etl",

		"verbose": false,
	}
}

// EnvAliases maps environment variables onto config keys.
var EnvAliases = map[string]string{
	"FP7":            "input.path",
	"INPUT_ENCODING": "input.encoding",

	"MSSQL_DRIVER": "warehouse.kind",
	"MSSQL_DSN":    "warehouse.dsn",
	"MSSQL_HOST":   "warehouse.host",
	"MSSQL_PORT":   "warehouse.port",
	"MSSQL_USER":   "warehouse.user",
	"MSSQL_PWD":    "warehouse.password",
	"MSSQL_DB":     "warehouse.database",

	"MYSQL_DRIVER": "reference.kind",
	"MYSQL_DSN":    "reference.dsn",
	"MYSQL_HOST":   "reference.host",
	"MYSQL_PORT":   "reference.port",
	"MYSQL_USER":   "reference.user",
	"MYSQL_PWD":    "reference.password",
	"MYSQL_DB":     "reference.database",

	"COMMIT_EVERY":        "load.commit_every",
	"FEE_RATE":            "load.fee_rate",
	"FACT_COMPANY_COLUMN": "load.fact_company_column",
	"STRICT_RESOLVE":      "load.strict_resolve",

	"METRICS_BACKEND": "metrics.backend",
	"PUSHGATEWAY_URL": "metrics.pushgateway_url",
	"METRICS_JOB":     "metrics.job",
	"METRICS_TAGS":    "metrics.tags",
}

// FlagKeys maps command line flag names onto config keys.
var FlagKeys = map[string]string{
	"input":           "input.path",
	"encoding":        "input.encoding",
	"commit-every":    "load.commit_every",
	"fee-rate":        "load.fee_rate",
	"max-rows":        "load.max_rows",
	"strict-resolve":  "load.strict_resolve",
	"ensure-schema":   "load.ensure_schema",
	"company-column":  "load.fact_company_column",
	"no-cache":        "",
	"warehouse-kind":  "warehouse.kind",
	"warehouse-dsn":   "warehouse.dsn",
	"reference-kind":  "reference.kind",
	"reference-dsn":   "reference.dsn",
	"metrics-backend": "metrics.backend",
	"pushgateway-url": "metrics.pushgateway_url",
	"verbose":         "verbose",
}

// Load builds a Config from defaults, the environment and flags. Only flags
// the user actually set override lower layers. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return EnvAliases[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			if f.Name == "no-cache" {
				return "load.cache", false
			}
			key, ok := FlagKeys[f.Name]
			if !ok || key == "" {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("config: load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Warehouse.Kind = NormalizeKind(cfg.Warehouse.Kind)
	cfg.Reference.Kind = NormalizeKind(cfg.Reference.Kind)
	return &cfg, nil
}

// RegisterFlags defines the command line flags Load understands. Flag
// defaults are informational only: unset flags never override env or
// built-in defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()

	fs.StringP("input", "i", d["input.path"].(string), "input CSV file (env FP7)")
	fs.String("encoding", d["input.encoding"].(string), "input charset (utf-8, windows-1252, iso-8859-1)")
	fs.Int("commit-every", d["load.commit_every"].(int), "loaded rows per commit")
	fs.Float64("fee-rate", d["load.fee_rate"].(float64), "multiplier applied to the fee column (env FEE_RATE)")
	fs.Int("max-rows", 0, "stop after this many input records (0 = all)")
	fs.Bool("strict-resolve", false, "abort the run when a dimension insert cannot be resolved")
	fs.Bool("ensure-schema", false, "create missing warehouse tables and the unknown company row")
	fs.String("company-column", "", "fact column that receives the unknown company key")
	fs.Bool("no-cache", false, "disable the in-run dimension key cache")
	fs.String("warehouse-kind", d["warehouse.kind"].(string), "warehouse backend (sqlserver, postgres, sqlite, mysql)")
	fs.String("warehouse-dsn", "", "warehouse DSN, overrides MSSQL_* endpoint settings")
	fs.String("reference-kind", d["reference.kind"].(string), "vessel registry backend (mysql, postgres, sqlite, sqlserver)")
	fs.String("reference-dsn", "", "vessel registry DSN, overrides MYSQL_* endpoint settings")
	fs.String("metrics-backend", d["metrics.backend"].(string), "metrics backend (none, pushgateway, datadog)")
	fs.String("pushgateway-url", d["metrics.pushgateway_url"].(string), "Pushgateway base URL")
	fs.BoolP("verbose", "v", false, "development logging at debug level")
}
