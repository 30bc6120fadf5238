package config

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"tripetl/internal/storage"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is the config key it concerns.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string { return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message) }

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks c. Storage kinds are checked against the registered
// backends, so callers must import the backends they support first.
func Validate(c *Config) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, args ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.Input.Path) == "" {
		add(SeverityError, "input.path", "input file is required")
	}
	if n := utf8.RuneCountInString(c.Input.Comma); n > 1 {
		add(SeverityError, "input.comma", "delimiter must be a single character, got %q", c.Input.Comma)
	}

	validateDB(c.Warehouse, "warehouse", add)
	validateDB(c.Reference, "reference", add)

	if c.Load.CommitEvery < 1 {
		add(SeverityError, "load.commit_every", "must be at least 1, got %d", c.Load.CommitEvery)
	}
	if c.Load.FeeRate <= 0 {
		add(SeverityError, "load.fee_rate", "must be positive, got %v", c.Load.FeeRate)
	}
	if c.Load.MaxRows < 0 {
		add(SeverityError, "load.max_rows", "must not be negative, got %d", c.Load.MaxRows)
	}
	if col := c.Load.FactCompanyColumn; col != "" && !identRE.MatchString(col) {
		add(SeverityError, "load.fact_company_column", "%q is not a plain column name", col)
	}

	switch strings.ToLower(c.Metrics.Backend) {
	case "", "none", "noop", "datadog", "dd":
	case "pushgateway", "prom", "prometheus":
		if strings.TrimSpace(c.Metrics.PushgatewayURL) == "" {
			add(SeverityError, "metrics.pushgateway_url", "required for the pushgateway backend")
		}
	default:
		add(SeverityWarning, "metrics.backend", "unknown backend %q; metrics will be disabled", c.Metrics.Backend)
	}

	return out
}

func validateDB(db DBConfig, path string, add func(Severity, string, string, ...any)) {
	kind := NormalizeKind(db.Kind)
	if kind == "" {
		add(SeverityError, path+".kind", "storage kind is required")
		return
	}
	if _, err := storage.DialectFor(kind); err != nil {
		add(SeverityError, path+".kind", "%v", err)
		return
	}
	if db.Port < 0 || db.Port > 65535 {
		add(SeverityError, path+".port", "out of range: %d", db.Port)
	}
	if db.DSN == "" && db.Database == "" {
		add(SeverityWarning, path+".database", "not set; the server default database is used")
	}
}
