package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a database through a
// registered backend.
//
// When to use:
//   - Use Config when calling Open for the warehouse or the reference source.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - When DSN is empty, Open builds one from Endpoint using the backend's DSN builder.
//
// Errors:
//   - Open returns an error if Kind is empty or unsupported.
type Config struct {
	Kind     string
	DSN      string
	Endpoint Endpoint
}

// Endpoint describes a network (or file) database location in backend-neutral terms.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// Params are appended to the generated DSN as backend-specific options
	// (e.g. TrustServerCertificate for SQL Server, sslmode for Postgres).
	Params map[string]string
}

// Querier is the subset of *sql.DB and *sql.Tx used by the loaders.
//
// Resolvers and fact writers accept a Querier so the same code runs inside a
// batch transaction, against a plain handle in tests, or against sqlmock.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is an open database handle paired with the dialect that produced it.
type DB struct {
	*sql.DB
	Kind    string
	Dialect Dialect
}

// Close releases the underlying handle. It is safe to call on a nil *DB.
func (d *DB) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// Backend describes how to reach one kind of database through database/sql.
type Backend struct {
	// DriverName is the database/sql driver name (e.g. "sqlserver", "pgx").
	DriverName string

	// Dialect renders SQL for this backend.
	Dialect Dialect

	// DSN builds a driver DSN from an Endpoint. Required.
	DSN func(Endpoint) string

	// Tune adjusts pool settings after sql.Open. Optional.
	Tune func(*sql.DB)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register registers a backend under a kind (e.g. "sqlserver", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by Open and DialectFor.
//
// Panics:
//   - If kind is empty.
//   - If the backend has no driver name, dialect or DSN builder.
//   - If kind is already registered. Duplicate registration fails fast to avoid
//     ambiguous backend selection.
func Register(kind string, b Backend) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if b.DriverName == "" || b.Dialect == nil || b.DSN == nil {
		panic(fmt.Sprintf("storage: incomplete backend for kind=%q", kind))
	}
	if _, exists := backends[kind]; exists {
		panic(fmt.Sprintf("storage: backend already registered for kind=%q", kind))
	}

	backends[kind] = b
}

// Kinds returns the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(backends))
	for k := range backends {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func lookup(kind string) (Backend, error) {
	if kind == "" {
		return Backend{}, fmt.Errorf("storage: missing kind")
	}
	mu.RLock()
	b, ok := backends[kind]
	mu.RUnlock()
	if !ok {
		return Backend{}, fmt.Errorf("storage: unsupported kind=%s (registered: %v)", kind, Kinds())
	}
	return b, nil
}

// DialectFor returns the dialect registered for kind.
func DialectFor(kind string) (Dialect, error) {
	b, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	return b.Dialect, nil
}

// ResolveDSN returns cfg.DSN, or the DSN the backend builds from cfg.Endpoint.
func ResolveDSN(cfg Config) (string, error) {
	b, err := lookup(cfg.Kind)
	if err != nil {
		return "", err
	}
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	return b.DSN(cfg.Endpoint), nil
}

// Open opens and pings a database using the registered backend.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns sql.Open and PingContext failures wrapped with the backend kind.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	b, err := lookup(cfg.Kind)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if dsn == "" {
		dsn = b.DSN(cfg.Endpoint)
	}

	raw, err := sql.Open(b.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", cfg.Kind, err)
	}
	if b.Tune != nil {
		b.Tune(raw)
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", cfg.Kind, err)
	}
	return &DB{DB: raw, Kind: cfg.Kind, Dialect: b.Dialect}, nil
}
