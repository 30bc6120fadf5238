package prompush

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripetl/internal/metrics"
)

type gateway struct {
	mu      sync.Mutex
	methods []string
	paths   []string
	status  int
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	g.methods = append(g.methods, r.Method)
	g.paths = append(g.paths, r.URL.Path)
	status := g.status
	g.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func counterValue(t *testing.T, b *Backend, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := b.reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestBackend_AccumulatesAndPushes(t *testing.T) {
	gw := &gateway{}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	b, err := NewBackend("trips_etl", srv.URL, map[string]string{"run_id": "r1"})
	require.NoError(t, err)

	b.IncCounter("etl_records_total", 2, metrics.Labels{"kind": "loaded"})
	b.IncCounter("etl_records_total", 1, metrics.Labels{"kind": "loaded"})
	b.IncCounter("etl_records_total", -4, metrics.Labels{"kind": "loaded"})
	b.IncCounter("etl_dimension_resolutions_total", 1, metrics.Labels{"dimension": "driver", "outcome": "created"})
	b.IncCounter("etl_batches_total", 1, nil)
	b.IncCounter("not_a_metric", 1, nil)
	b.ObserveHistogram("etl_step_duration_seconds", 0.2, metrics.Labels{"step": "commit", "status": "ok"})

	assert.Equal(t, 3.0, counterValue(t, b, "etl_records_total", map[string]string{"kind": "loaded"}))
	assert.Equal(t, 1.0, counterValue(t, b, "etl_dimension_resolutions_total",
		map[string]string{"dimension": "driver", "outcome": "created"}))

	require.NoError(t, b.Flush())
	require.Len(t, gw.methods, 1)
	assert.Equal(t, http.MethodPut, gw.methods[0])
	assert.Equal(t, "/metrics/job/trips_etl/run_id/r1", gw.paths[0])
}

func TestBackend_PushError(t *testing.T) {
	gw := &gateway{status: http.StatusInternalServerError}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	b, err := NewBackend("", srv.URL, nil)
	require.NoError(t, err)
	b.IncCounter("etl_batches_total", 1, nil)

	err = b.Flush()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompush: push")
}

func TestNewBackend_RequiresURL(t *testing.T) {
	_, err := NewBackend("job", " ", nil)
	require.Error(t, err)
}
