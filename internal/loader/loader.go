// Package loader runs one trips load: it streams the input file, resolves
// every dimension of each row against the warehouse and inserts the facts,
// committing in batches.
package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"tripetl/internal/config"
	"tripetl/internal/metrics"
	csvparse "tripetl/internal/parser/csv"
	"tripetl/internal/reference"
	"tripetl/internal/storage"
	"tripetl/internal/transformer"
	"tripetl/internal/warehouse"
)

// ErrInputMissing is returned when the input file does not exist.
var ErrInputMissing = fmt.Errorf("input file missing: %w", fs.ErrNotExist)

const rowSavepoint = "trip_row"

// Stats summarizes a run.
type Stats struct {
	// Read counts input records, malformed ones included.
	Read    int
	Loaded  int
	Skipped int
	Commits int
}

// Runner executes loads. The zero value is not usable; use NewRunner.
type Runner struct {
	Logger *zap.Logger

	// Open connects to a database. Defaults to storage.Open.
	Open func(ctx context.Context, cfg storage.Config) (*storage.DB, error)

	// OpenInput opens the input file. Defaults to os.Open.
	OpenInput func(path string) (io.ReadCloser, error)
}

func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Logger: logger,
		Open:   storage.Open,
		OpenInput: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// Run loads cfg.Input.Path into the warehouse.
//
// Row failures (conversion, reference lookup, database) roll the row back to
// its savepoint and are counted as skipped. Everything else is fatal and
// rolls back the open batch: failing to open the input or a database,
// commit or begin failures, context cancellation, and, with
// load.strict_resolve, a *warehouse.ResolveError. Batches committed before a
// fatal error stay committed.
func (r *Runner) Run(ctx context.Context, cfg *config.Config) (stats Stats, err error) {
	start := time.Now()
	defer func() { metrics.RecordStep("run", err, start) }()

	log := r.Logger.With(zap.String("component", "loader"))

	in, err := r.OpenInput(cfg.Input.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stats, fmt.Errorf("loader: %w: %s", ErrInputMissing, cfg.Input.Path)
		}
		return stats, fmt.Errorf("loader: open input: %w", err)
	}
	defer in.Close()

	rd, err := csvparse.NewReader(in, transformer.Columns, csvparse.Options{
		Comma:     cfg.Input.CommaRune(),
		HasHeader: true,
		TrimSpace: true,
		Encoding:  cfg.Input.Encoding,
	})
	if err != nil {
		return stats, fmt.Errorf("loader: %w", err)
	}
	if missing := missingRequired(rd.MissingColumns()); len(missing) > 0 {
		log.Warn("input has no column for required fields; affected rows will be skipped",
			zap.String("path", cfg.Input.Path), zap.Strings("columns", missing))
	}

	wh, err := r.Open(ctx, cfg.Warehouse.StorageConfig())
	if err != nil {
		return stats, fmt.Errorf("loader: warehouse: %w", err)
	}
	defer wh.Close()

	ref, err := r.Open(ctx, cfg.Reference.StorageConfig())
	if err != nil {
		return stats, fmt.Errorf("loader: reference: %w", err)
	}
	defer ref.Close()

	if cfg.Load.EnsureSchema {
		stepStart := time.Now()
		err := warehouse.EnsureSchema(ctx, wh, wh.Dialect, cfg.Load.FactCompanyColumn)
		metrics.RecordStep("ensure_schema", err, stepStart)
		if err != nil {
			return stats, fmt.Errorf("loader: %w", err)
		}
		log.Info("warehouse schema ensured", zap.Duration("duration", durMS(stepStart)))
	}

	j := &job{
		log:      log,
		cfg:      cfg.Load,
		wh:       wh,
		resolver: warehouse.NewResolver(wh.Dialect, r.Logger.Named("resolver"), warehouse.WithCache(cfg.Load.Cache), warehouse.WithInsertSavepoint(true)),
		vessels:  reference.New(ref, ref.Dialect),
		facts:    warehouse.NewFactWriter(wh.Dialect, cfg.Load.FactCompanyColumn),
		start:    start,
	}
	if j.cfg.CommitEvery <= 0 {
		j.cfg.CommitEvery = 100
	}

	log.Info("load started",
		zap.String("path", cfg.Input.Path),
		zap.String("warehouse", wh.Kind),
		zap.String("reference", ref.Kind),
		zap.Int("commit_every", j.cfg.CommitEvery),
	)

	err = j.run(ctx, rd)
	stats = j.stats

	fields := []zap.Field{
		zap.Int("read", stats.Read),
		zap.Int("loaded", stats.Loaded),
		zap.Int("skipped", stats.Skipped),
		zap.Int("commits", stats.Commits),
		zap.Duration("duration", durMS(start)),
	}
	if err != nil {
		log.Error("load aborted", append(fields, zap.Error(err))...)
		return stats, err
	}
	log.Info("load finished", fields...)
	return stats, nil
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

func missingRequired(missing []string) []string {
	if len(missing) == 0 {
		return nil
	}
	required := make(map[string]bool, len(transformer.RequiredColumns))
	for _, c := range transformer.RequiredColumns {
		required[c] = true
	}
	var out []string
	for _, c := range missing {
		if required[c] {
			out = append(out, c)
		}
	}
	return out
}

// job is the state of one run.
type job struct {
	log      *zap.Logger
	cfg      config.LoadConfig
	wh       *storage.DB
	resolver *warehouse.Resolver
	vessels  warehouse.VesselSource
	facts    *warehouse.FactWriter
	start    time.Time

	tx      *sql.Tx
	pending int
	stats   Stats
}

func (j *job) run(ctx context.Context, rd *csvparse.Reader) error {
	if err := j.begin(ctx); err != nil {
		return err
	}
	defer func() {
		if j.tx != nil {
			_ = j.tx.Rollback()
			j.resolver.Reset()
		}
	}()

	row := transformer.GetRow(len(transformer.Columns))
	defer row.Free()

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("loader: %w", err)
		}
		if j.cfg.MaxRows > 0 && j.stats.Read >= j.cfg.MaxRows {
			j.log.Info("row limit reached", zap.Int("max_rows", j.cfg.MaxRows))
			break
		}

		err := rd.Next(row)
		if errors.Is(err, io.EOF) {
			break
		}
		j.stats.Read++
		metrics.IncCounter("etl_records_total", 1, metrics.Labels{"kind": "read"})

		var recErr *csvparse.RecordError
		switch {
		case errors.As(err, &recErr):
			j.skip(recErr.Line, "N/A", err)
			continue
		case err != nil:
			return fmt.Errorf("loader: read input: %w", err)
		}

		if err := j.loadRow(ctx, row); err != nil {
			if fatal := j.fatal(ctx, err); fatal != nil {
				return fatal
			}
			j.skip(row.Line, transformer.RowID(row), err)
			continue
		}

		j.stats.Loaded++
		j.pending++
		metrics.IncCounter("etl_records_total", 1, metrics.Labels{"kind": "loaded"})

		if j.pending >= j.cfg.CommitEvery {
			if err := j.commit(); err != nil {
				return err
			}
			if err := j.begin(ctx); err != nil {
				return err
			}
		}
	}

	return j.commit()
}

// rowFatalError marks a row failure that leaves the batch transaction
// unusable.
type rowFatalError struct{ err error }

func (e *rowFatalError) Error() string { return e.err.Error() }
func (e *rowFatalError) Unwrap() error { return e.err }

// fatal returns the error that ends the run for a failed row, or nil when
// the row is just skipped.
func (j *job) fatal(ctx context.Context, err error) error {
	var rf *rowFatalError
	if errors.As(err, &rf) {
		return fmt.Errorf("loader: %w", rf.err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("loader: %w", ctx.Err())
	}
	var re *warehouse.ResolveError
	if j.cfg.StrictResolve && errors.As(err, &re) {
		return fmt.Errorf("loader: strict resolve: %w", err)
	}
	return nil
}

func (j *job) skip(line int, rowID string, err error) {
	j.stats.Skipped++
	metrics.IncCounter("etl_records_total", 1, metrics.Labels{"kind": "skipped"})
	j.log.Warn("row skipped",
		zap.Int("line", line),
		zap.String("row_id", rowID),
		zap.Error(err),
	)
}

// loadRow converts and loads one row under its own savepoint. On failure
// every write of the row is undone and the keys it staged are dropped.
func (j *job) loadRow(ctx context.Context, row *transformer.Row) (err error) {
	start := time.Now()
	defer func() { metrics.RecordStep("row", err, start) }()

	trip, err := transformer.ParseTrip(row, j.cfg.FeeRate)
	if err != nil {
		return err
	}

	d := j.wh.Dialect
	if _, err := j.tx.ExecContext(ctx, d.Savepoint(rowSavepoint)); err != nil {
		return &rowFatalError{fmt.Errorf("savepoint: %w", err)}
	}

	fact, err := j.resolve(ctx, trip)
	if err == nil {
		_, err = j.facts.Insert(ctx, j.tx, fact)
	}

	if err != nil {
		j.resolver.DiscardRow()
		if _, rbErr := j.tx.ExecContext(ctx, d.RollbackToSavepoint(rowSavepoint)); rbErr != nil {
			return &rowFatalError{errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))}
		}
		return err
	}

	if rel := d.ReleaseSavepoint(rowSavepoint); rel != "" {
		if _, err := j.tx.ExecContext(ctx, rel); err != nil {
			j.resolver.DiscardRow()
			return &rowFatalError{fmt.Errorf("release savepoint: %w", err)}
		}
	}
	j.resolver.CommitRow()
	return nil
}

// resolve returns the fact for trip with every dimension key resolved. The
// company key is always the unknown company.
func (j *job) resolve(ctx context.Context, t transformer.Trip) (warehouse.Fact, error) {
	r, q := j.resolver, j.tx

	vessel, err := r.Vessel(ctx, q, j.vessels, warehouse.VesselInput{
		Name: t.VesselName, Type: t.VesselType, Capacity: t.Capacity,
	})
	if err != nil {
		return warehouse.Fact{}, err
	}
	day, err := r.Time(ctx, q, t.Arrival)
	if err != nil {
		return warehouse.Fact{}, err
	}
	driver, err := r.Driver(ctx, q, warehouse.Driver{Name: t.DriverName, Age: t.DriverAge, Certification: t.Certificate})
	if err != nil {
		return warehouse.Fact{}, err
	}
	location, err := r.Location(ctx, q, t.City, t.Country)
	if err != nil {
		return warehouse.Fact{}, err
	}
	tripType, err := r.TripType(ctx, q, t.VesselType)
	if err != nil {
		return warehouse.Fact{}, err
	}
	duration, err := r.DurationClass(ctx, q, t.DurationDays)
	if err != nil {
		return warehouse.Fact{}, err
	}

	return warehouse.Fact{
		DurationDays:     t.DurationDays,
		TotalFee:         t.Fee,
		Containers:       t.Containers,
		TotalWeight:      t.Weight,
		DurationClassKey: duration,
		LocationKey:      location,
		TripTypeKey:      tripType,
		DriverKey:        driver,
		VesselKey:        vessel,
		TimeKey:          day,
		CompanyKey:       r.UnknownCompany(),
	}, nil
}

func (j *job) begin(ctx context.Context) error {
	tx, err := j.wh.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("loader: begin: %w", err)
	}
	j.tx = tx
	j.pending = 0
	return nil
}

// commit ends the open batch.
func (j *job) commit() error {
	start := time.Now()
	err := j.tx.Commit()
	j.tx = nil
	metrics.RecordStep("commit", err, start)
	if err != nil {
		// The cache may hold keys of the lost batch.
		j.resolver.Reset()
		return fmt.Errorf("loader: commit: %w", err)
	}

	j.stats.Commits++
	metrics.IncCounter("etl_batches_total", 1, nil)
	j.log.Info("batch committed",
		zap.Int("rows", j.pending),
		zap.Int("loaded", j.stats.Loaded),
		zap.Int("skipped", j.stats.Skipped),
		zap.Duration("elapsed", durMS(j.start)),
	)
	j.pending = 0
	return nil
}
