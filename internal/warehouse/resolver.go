// Package warehouse resolves star-schema dimension keys and writes trip facts.
//
// Every creatable dimension goes through the same get-or-create protocol:
//
//  1. look the row up by its natural key;
//  2. if absent, take max(key)+1 (1 on an empty table) and insert;
//  3. if the insert fails, look the natural key up again and return the row a
//     concurrent writer created; only if that also fails is the insert error
//     returned, as a *ResolveError.
//
// Surrogate keys are assigned here, never by the database. max+1 is only safe
// with a single writer per warehouse.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tripetl/internal/metrics"
	"tripetl/internal/storage"
)

// Dimension names a dimension table and its natural key columns.
type Dimension struct {
	// Name is the short label used in logs and metrics ("driver", "vessel").
	Name           string
	Table          string
	KeyColumn      string
	NaturalColumns []string
}

// RowBuilder returns the non-key columns and values for a new dimension row
// that will be inserted under key. It is only called after a lookup miss.
type RowBuilder func(ctx context.Context, key int64) (columns []string, values []any, err error)

// Outcome tells how a key was obtained.
type Outcome string

const (
	OutcomeFound   Outcome = "found"
	OutcomeCreated Outcome = "created"
	OutcomeRaced   Outcome = "raced"
	OutcomeCached  Outcome = "cached"
)

// Resolution is the result of ResolveOrCreate.
type Resolution struct {
	Key     int64
	Outcome Outcome
}

// ResolveError is returned when an insert failed and the follow-up lookup
// did not find the row either. It unwraps to the insert error.
type ResolveError struct {
	Dimension string
	Natural   []any
	Key       int64

	// Conflict is true when the driver reported a unique/primary key violation.
	Conflict bool

	// LookupErr is set when the follow-up lookup itself failed.
	LookupErr error
	Err       error
}

func (e *ResolveError) Error() string {
	msg := fmt.Sprintf("warehouse: resolve %s %v: insert key %d: %v", e.Dimension, e.Natural, e.Key, e.Err)
	if e.LookupErr != nil {
		msg += fmt.Sprintf(" (re-lookup: %v)", e.LookupErr)
	}
	return msg
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache memoizes resolved keys for the lifetime of the Resolver.
func WithCache(enabled bool) Option {
	return func(r *Resolver) { r.cacheEnabled = enabled }
}

// WithInsertSavepoint wraps every dimension insert in its own savepoint so a
// failed insert does not poison the enclosing transaction (PostgreSQL aborts
// the whole transaction on any error). Only use it when q is a transaction.
func WithInsertSavepoint(enabled bool) Option {
	return func(r *Resolver) { r.insertSavepoint = enabled }
}

// WithUnknownCompanyKey overrides the sentinel company key (default 1).
func WithUnknownCompanyKey(key int64) Option {
	return func(r *Resolver) { r.unknownCompany = key }
}

// Resolver implements the get-or-create protocol for one warehouse dialect.
//
// A Resolver is not safe for concurrent use. Keys created while a row is in
// flight are staged; the caller must finish every row with CommitRow or
// DiscardRow so the cache never holds keys of rolled-back rows.
type Resolver struct {
	dialect storage.Dialect
	logger  *zap.Logger

	cacheEnabled    bool
	insertSavepoint bool
	unknownCompany  int64

	cache  map[string]int64
	staged map[string]int64
}

func NewResolver(d storage.Dialect, logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		dialect:        d,
		logger:         logger,
		unknownCompany: UnknownCompanyKey,
		cache:          make(map[string]int64),
		staged:         make(map[string]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UnknownCompany returns the sentinel company key in use.
func (r *Resolver) UnknownCompany() int64 { return r.unknownCompany }

// Lookup finds the surrogate key for natural. ok is false when no row matches.
func (r *Resolver) Lookup(ctx context.Context, q storage.Querier, dim Dimension, natural []any) (key int64, ok bool, err error) {
	stmt := storage.SelectByColumnsSQL(r.dialect, dim.Table, dim.KeyColumn, dim.NaturalColumns)

	var k sql.NullInt64
	err = q.QueryRowContext(ctx, stmt, natural...).Scan(&k)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !k.Valid {
		return 0, false, nil
	}
	return k.Int64, true, nil
}

// NextKey returns max(column)+1 for table, or 1 when the table is empty.
func NextKey(ctx context.Context, q storage.Querier, d storage.Dialect, table, column string) (int64, error) {
	var top sql.NullInt64
	if err := q.QueryRowContext(ctx, storage.MaxSQL(d, table, column)).Scan(&top); err != nil {
		return 0, fmt.Errorf("warehouse: next key %s.%s: %w", table, column, err)
	}
	if !top.Valid {
		return 1, nil
	}
	return top.Int64 + 1, nil
}

// ResolveOrCreate returns the surrogate key for natural in dim, creating the
// row with build when it does not exist yet.
//
// Errors:
//   - lookup, next-key and build failures are returned wrapped;
//   - an insert failure that the follow-up lookup cannot explain is returned
//     as *ResolveError.
func (r *Resolver) ResolveOrCreate(ctx context.Context, q storage.Querier, dim Dimension, natural []any, build RowBuilder) (Resolution, error) {
	if len(natural) != len(dim.NaturalColumns) {
		return Resolution{}, fmt.Errorf("warehouse: %s expects %d natural key values, got %d",
			dim.Name, len(dim.NaturalColumns), len(natural))
	}

	ck := dim.Table + "\x1e" + storage.CompositeKey(natural)
	if r.cacheEnabled {
		if k, ok := r.cached(ck); ok {
			return r.done(dim, ck, k, OutcomeCached), nil
		}
	}

	key, ok, err := r.Lookup(ctx, q, dim, natural)
	if err != nil {
		return Resolution{}, fmt.Errorf("warehouse: lookup %s: %w", dim.Name, err)
	}
	if ok {
		return r.done(dim, ck, key, OutcomeFound), nil
	}

	next, err := NextKey(ctx, q, r.dialect, dim.Table, dim.KeyColumn)
	if err != nil {
		return Resolution{}, err
	}

	cols, vals, err := build(ctx, next)
	if err != nil {
		return Resolution{}, fmt.Errorf("warehouse: build %s: %w", dim.Name, err)
	}

	insErr := r.insert(ctx, q, dim.Table,
		append([]string{dim.KeyColumn}, cols...),
		append([]any{next}, vals...))
	if insErr == nil {
		return r.done(dim, ck, next, OutcomeCreated), nil
	}

	key, ok, lookErr := r.Lookup(ctx, q, dim, natural)
	if lookErr == nil && ok {
		r.logger.Info("dimension insert lost a race; using existing row",
			zap.String("dimension", dim.Name),
			zap.Int64("attempted_key", next),
			zap.Int64("key", key),
			zap.Error(insErr),
		)
		return r.done(dim, ck, key, OutcomeRaced), nil
	}

	metrics.IncCounter("etl_dimension_resolutions_total", 1, metrics.Labels{"dimension": dim.Name, "outcome": "error"})
	return Resolution{}, &ResolveError{
		Dimension: dim.Name,
		Natural:   natural,
		Key:       next,
		Conflict:  r.dialect.IsUniqueViolation(insErr),
		LookupErr: lookErr,
		Err:       insErr,
	}
}

func (r *Resolver) insert(ctx context.Context, q storage.Querier, table string, cols []string, vals []any) error {
	stmt := storage.InsertSQL(r.dialect, table, cols)
	if !r.insertSavepoint {
		_, err := q.ExecContext(ctx, stmt, vals...)
		return err
	}

	const sp = "dim_insert"
	if _, err := q.ExecContext(ctx, r.dialect.Savepoint(sp)); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, stmt, vals...); err != nil {
		if _, rbErr := q.ExecContext(ctx, r.dialect.RollbackToSavepoint(sp)); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	if rel := r.dialect.ReleaseSavepoint(sp); rel != "" {
		if _, err := q.ExecContext(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) cached(ck string) (int64, bool) {
	if k, ok := r.staged[ck]; ok {
		return k, true
	}
	k, ok := r.cache[ck]
	return k, ok
}

func (r *Resolver) done(dim Dimension, ck string, key int64, outcome Outcome) Resolution {
	if r.cacheEnabled && outcome != OutcomeCached {
		r.staged[ck] = key
	}
	metrics.IncCounter("etl_dimension_resolutions_total", 1, metrics.Labels{"dimension": dim.Name, "outcome": string(outcome)})
	if ce := r.logger.Check(zap.DebugLevel, "dimension resolved"); ce != nil {
		ce.Write(zap.String("dimension", dim.Name), zap.Int64("key", key), zap.String("outcome", string(outcome)))
	}
	return Resolution{Key: key, Outcome: outcome}
}

// CommitRow keeps the keys staged by the current row.
func (r *Resolver) CommitRow() {
	for k, v := range r.staged {
		r.cache[k] = v
	}
	clear(r.staged)
}

// DiscardRow drops the keys staged by the current row.
func (r *Resolver) DiscardRow() { clear(r.staged) }

// Reset empties the cache, e.g. after the batch transaction was rolled back.
func (r *Resolver) Reset() {
	clear(r.cache)
	clear(r.staged)
}
