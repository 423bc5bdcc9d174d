package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.VersionAppended("edit")
	c.VersionAppended("edit")
	c.VersionAppended("")
	c.RunFinished("gpt-5", "success", 1500*time.Millisecond)
	c.RunFinished("gpt-5", "error", 0)
	c.LLMCall("openai", "success", 10, 20)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.versions.WithLabelValues("edit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.versions.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("error", "gpt-5")))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.llmTokens.WithLabelValues("openai", "output")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.runLatency))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.VersionAppended("edit")
		c.RunFinished("m", "success", time.Second)
		c.LLMCall("p", "error", 0, 0)
		c.EvaluationScored("checklist", 50)
		c.HTTPRequest("GET", "/", 200, time.Millisecond)
	})
	assert.Nil(t, c.Registry())
}

func TestCollector_Handler(t *testing.T) {
	c := New(nil)
	c.EvaluationScored("checklist", 83.3)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "sparkling_evaluation_score_count"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
