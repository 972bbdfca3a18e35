package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()

	assert.NotNil(t, c.Registry())
	assert.NotNil(t, c.jobsSubmitted)
	assert.NotNil(t, c.jobsFailed)
	assert.NotNil(t, c.renderDuration)

	// Collectors live on a private registry, so a second one must not clash.
	assert.NotPanics(t, func() { NewCollector() })
}

func TestJobCounters(t *testing.T) {
	c := NewCollector()

	c.JobSubmitted()
	c.JobSubmitted()
	c.JobSucceeded()
	c.JobFailed("ENGINE_ERROR")
	c.JobFailed("ENGINE_ERROR")
	c.JobFailed("TIMEOUT")

	assert.InDelta(t, 2, testutil.ToFloat64(c.jobsSubmitted), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.jobsSucceeded), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.jobsFailed.WithLabelValues("ENGINE_ERROR")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.jobsFailed.WithLabelValues("TIMEOUT")), 0)
}

func TestRenderStarted(t *testing.T) {
	c := NewCollector()

	done := c.RenderStarted()
	assert.InDelta(t, 1, testutil.ToFloat64(c.rendersRunning), 0)

	done("success")
	assert.InDelta(t, 0, testutil.ToFloat64(c.rendersRunning), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(c.renderDuration))

	c.RenderRetried()
	assert.InDelta(t, 1, testutil.ToFloat64(c.renderRetries), 0)
}

func TestWatchWorkspaces(t *testing.T) {
	c := NewCollector()
	active := int64(3)
	c.WatchWorkspaces(func() int64 { return active })

	n, err := testutil.GatherAndCount(c.Registry(), "slideshow_workspaces_active")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.JobSubmitted()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "slideshow_jobs_submitted_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNilCollector(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.JobSubmitted()
		c.JobSucceeded()
		c.JobFailed("TIMEOUT")
		c.RenderStarted()("success")
		c.RenderRetried()
		c.WatchWorkspaces(func() int64 { return 0 })
	})
	assert.Nil(t, c.Registry())

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
