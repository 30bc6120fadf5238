// Command trips_etl loads the trips CSV into the warehouse.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tripetl/internal/config"
	"tripetl/internal/loader"
	"tripetl/internal/metrics"
	"tripetl/internal/metrics/datadog"
	"tripetl/internal/metrics/prompush"
	csvparse "tripetl/internal/parser/csv"
	"tripetl/internal/probe"

	// Every backend is compiled in; configuration picks one per connection.
	_ "tripetl/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runner is the part of *loader.Runner the command uses.
type runner interface {
	Run(ctx context.Context, cfg *config.Config) (loader.Stats, error)
}

// appDeps are the side-effecting steps of runMain, replaceable in tests.
type appDeps struct {
	newLogger   func(verbose bool) (*zap.Logger, error)
	initMetrics func(ctx context.Context, cfg config.MetricsConfig, runID string, log *zap.Logger) (func(), error)
	newRunner   func(log *zap.Logger) runner
}

func defaultDeps() appDeps {
	return appDeps{
		newLogger:   newLogger,
		initMetrics: initMetrics,
		newRunner:   func(log *zap.Logger) runner { return loader.NewRunner(log) },
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// exitError carries the process exit code out of the cobra command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(code int, format string, a ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, a...)}
}

// runMain runs the command and returns the exit code: 0 on success, 1 for a
// missing input file or a failed run, 2 for usage and configuration errors.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	cmd := newRootCommand(stdout, stderr, deps)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintf(stderr, "trips_etl: %v\n", ee.err)
		return ee.code
	}
	fmt.Fprintf(stderr, "trips_etl: %v\n", err)
	fmt.Fprintln(stderr, "usage: trips_etl [flags] (see --help)")
	return 2
}

func newRootCommand(stdout, stderr io.Writer, deps appDeps) *cobra.Command {
	var validateOnly bool

	cmd := &cobra.Command{
		Use:           "trips_etl",
		Short:         "Load trip records from CSV into the trips warehouse",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return fail(2, "load config: %w", err)
			}

			issues := config.Validate(cfg)
			for _, iss := range issues {
				fmt.Fprintln(stderr, iss.String())
			}
			if config.HasErrors(issues) {
				return fail(2, "configuration is invalid")
			}
			if validateOnly {
				fmt.Fprintln(stdout, "configuration is valid")
				return nil
			}

			return run(cmd.Context(), cfg, stdout, deps)
		},
	}

	config.RegisterFlags(cmd.PersistentFlags())
	cmd.Flags().BoolVar(&validateOnly, "validate", false, "validate the configuration and exit")
	cmd.AddCommand(newProbeCommand(stdout))
	return cmd
}

// newProbeCommand reports what a load of the input would do, without
// connecting to any database.
func newProbeCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check the input file: skipped rows, duplicates and dimension cardinality",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return fail(2, "load config: %w", err)
			}

			f, err := os.Open(cfg.Input.Path)
			if errors.Is(err, fs.ErrNotExist) {
				return fail(1, "input file not found: %s", cfg.Input.Path)
			}
			if err != nil {
				return fail(1, "open input: %w", err)
			}
			defer f.Close()

			opt := csvparse.DefaultOptions()
			opt.Comma = cfg.Input.CommaRune()
			opt.Encoding = cfg.Input.Encoding

			rep, err := probe.Run(cmd.Context(), f, probe.Options{
				CSV:     opt,
				FeeRate: cfg.Load.FeeRate,
				MaxRows: cfg.Load.MaxRows,
			})
			if err != nil {
				return fail(1, "%w", err)
			}
			fmt.Fprintln(stdout, rep.Format())
			return nil
		},
	}
}

func run(ctx context.Context, cfg *config.Config, stdout io.Writer, deps appDeps) error {
	log, err := deps.newLogger(cfg.Verbose)
	if err != nil {
		return fail(1, "init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID))

	cleanup, err := deps.initMetrics(ctx, cfg.Metrics, runID, log)
	if err != nil {
		return fail(1, "init metrics: %w", err)
	}
	defer cleanup()

	stats, err := deps.newRunner(log).Run(ctx, cfg)
	if err != nil {
		if errors.Is(err, loader.ErrInputMissing) {
			return fail(1, "input file not found: %s", cfg.Input.Path)
		}
		return fail(1, "run: %w", err)
	}

	fmt.Fprintf(stdout, "facts inserted: %d\n", stats.Loaded)
	return nil
}

// metricsBackend is a backend with its own flush loop that must be closed.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string, grouping map[string]string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url, grouping)
	}
	setMetricsBackend = metrics.SetBackend
)

// initMetrics installs the configured metrics backend. The returned cleanup
// is never nil and flushes or closes the backend; it only logs failures.
// Unknown backends leave metrics disabled.
func initMetrics(ctx context.Context, cfg config.MetricsConfig, runID string, log *zap.Logger) (func(), error) {
	noop := func() {}
	job := cfg.Job
	if job == "" {
		job = "trips_etl"
	}

	switch name := strings.ToLower(strings.TrimSpace(cfg.Backend)); name {
	case "", "none", "noop":
		log.Debug("metrics disabled")
		return noop, nil

	case "pushgateway", "prom", "prometheus":
		b, err := newPushBackend(job, cfg.PushgatewayURL, map[string]string{"run_id": runID})
		if err != nil {
			return noop, fmt.Errorf("pushgateway: %w", err)
		}
		setMetricsBackend(b)
		log.Info("metrics enabled", zap.String("backend", "pushgateway"),
			zap.String("url", cfg.PushgatewayURL), zap.String("job", job))
		return func() {
			if err := b.Flush(); err != nil {
				log.Warn("metrics: pushgateway push failed", zap.Error(err))
			}
		}, nil

	case "datadog", "dd":
		tags := append(datadog.ParseTagsCSV(cfg.Tags), "run_id:"+runID)
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		log.Info("metrics enabled", zap.String("backend", "datadog"),
			zap.String("job", job), zap.Strings("tags", tags))
		return func() {
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close failed", zap.Error(err))
			}
		}, nil

	default:
		log.Warn("unknown metrics backend; metrics disabled", zap.String("backend", cfg.Backend))
		return noop, nil
	}
}
