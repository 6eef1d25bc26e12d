package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-gateway/backend/internal/backend"
	"mcp-gateway/backend/internal/registry"
	"mcp-gateway/backend/pkg/models"
)

type staticSource []registry.Entry

func (s staticSource) Entries() []registry.Entry { return s }

func entry(t *testing.T, ns, url string, timeout time.Duration) registry.Entry {
	t.Helper()
	e, err := registry.ParseEntry(ns, url, timeout)
	require.NoError(t, err)
	return e
}

func healthyServer(delay time.Duration) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
}

func TestSnapshotFansOutConcurrently(t *testing.T) {
	const probeTimeout = 500 * time.Millisecond

	var servers []*httptest.Server
	for i := 0; i < 3; i++ {
		s := healthyServer(200 * time.Millisecond)
		servers = append(servers, s)
		defer s.Close()
	}

	release := make(chan struct{})
	hanging := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer hanging.Close()
	defer close(release)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	source := staticSource{
		entry(t, "a", servers[0].URL, probeTimeout),
		entry(t, "b", servers[1].URL, probeTimeout),
		entry(t, "c", servers[2].URL, probeTimeout),
		entry(t, "hang", hanging.URL, probeTimeout),
		entry(t, "down", failing.URL, probeTimeout),
	}
	agg := NewAggregator(source, backend.NewHTTPClient())

	start := time.Now()
	snap := agg.Snapshot(context.Background())
	elapsed := time.Since(start)

	// Sequential probing would take at least 3*200ms + 500ms.
	assert.GreaterOrEqual(t, elapsed, probeTimeout)
	assert.Less(t, elapsed, probeTimeout+400*time.Millisecond)

	require.Len(t, snap.PerNamespace, 5)
	for _, ns := range []string{"a", "b", "c"} {
		assert.Equal(t, models.HealthHealthy, snap.PerNamespace[ns].Status, ns)
	}
	assert.Equal(t, models.HealthUnreachable, snap.PerNamespace["hang"].Status)
	assert.Contains(t, snap.PerNamespace["hang"].Error, "timed out")
	assert.Equal(t, models.HealthUnhealthy, snap.PerNamespace["down"].Status)
	assert.Equal(t, http.StatusServiceUnavailable, snap.PerNamespace["down"].StatusCode)
}

func TestLatestTracksMostRecentSnapshot(t *testing.T) {
	srv := healthyServer(0)
	defer srv.Close()

	agg := NewAggregator(staticSource{entry(t, "a", srv.URL, time.Second)}, backend.NewHTTPClient())
	_, ok := agg.Latest()
	assert.False(t, ok)

	first := agg.Snapshot(context.Background())
	latest, ok := agg.Latest()
	require.True(t, ok)
	assert.Equal(t, first.TakenAt, latest.TakenAt)

	second := agg.Snapshot(context.Background())
	latest, _ = agg.Latest()
	assert.Equal(t, second.TakenAt, latest.TakenAt)
}

func TestSnapshotWithNoBackends(t *testing.T) {
	snap := NewAggregator(staticSource{}, backend.NewHTTPClient()).Snapshot(context.Background())
	assert.Empty(t, snap.PerNamespace)
	assert.False(t, snap.TakenAt.IsZero())
}

func TestPoller(t *testing.T) {
	srv := healthyServer(0)
	defer srv.Close()

	agg := NewAggregator(staticSource{entry(t, "a", srv.URL, time.Second)}, backend.NewHTTPClient())
	p, err := NewPoller(agg, "@every 1h", nil)
	require.NoError(t, err)

	p.Start(context.Background())
	defer p.Stop()

	snap, ok := agg.Latest()
	require.True(t, ok, "Start takes an initial snapshot")
	assert.Equal(t, models.HealthHealthy, snap.PerNamespace["a"].Status)

	_, err = NewPoller(agg, "every now and then", nil)
	assert.Error(t, err)
}
