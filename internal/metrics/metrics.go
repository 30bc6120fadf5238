// Package metrics is the backend-agnostic metrics facade used by the loader.
//
// Core code calls the package-level helpers; the CLI installs a concrete
// Backend (Datadog, Prometheus Pushgateway) with SetBackend. Until then every
// call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions (e.g. {"step": "commit", "status": "ok"}).
type Labels map[string]string

// Backend receives metric updates. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush asks the installed backend to submit buffered data.
func Flush() error { return current().Flush() }

// RecordStep counts one execution of step and records its duration.
func RecordStep(step string, err error, start time.Time) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter("etl_step_total", 1, l)
	ObserveHistogram("etl_step_duration_seconds", time.Since(start).Seconds(), l)
}
