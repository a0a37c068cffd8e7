package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triflow-ai/smoke/pkg/engine"
	"github.com/triflow-ai/smoke/pkg/replay"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()

	r.ObserveRun(true, "", 12*time.Second)
	r.ObserveRun(false, "navigation_mismatch", time.Second)
	r.ObserveRun(false, "navigation_mismatch", time.Second)
	r.ObserveFallback("logging_in")
	r.ObserveVariance("transient_ui_variance")
	r.ObserveVariance("transient_ui_variance")
	r.ObserveStage("logging_in", 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("success", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.runs.WithLabelValues("failure", "navigation_mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fallbacks.WithLabelValues("logging_in")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.variance.WithLabelValues("transient_ui_variance")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.stageDuration))
}

func TestRecorderSuccessDropsKind(t *testing.T) {
	r := NewRecorder()
	r.ObserveRun(true, "unclassified", time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("success", "")))
}

func TestRecorderObservesEngineRun(t *testing.T) {
	s, err := replay.LoadScenario("../../testdata/scenarios/login-redirect-timeout.yaml")
	require.NoError(t, err)

	r := NewRecorder()
	e := engine.New(replay.NewProvider(s), engine.Config{Observer: r})
	out := e.Run(context.Background(), engine.Input{
		BaseURL:  s.Input.BaseURL,
		Email:    s.Input.Email,
		Password: s.Input.Password,
	})
	require.True(t, out.OK, out.Error)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fallbacks.WithLabelValues(string(engine.StateLoggingIn))))
	assert.Equal(t, 5, testutil.CollectAndCount(r.stageDuration))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder()
	r.ObserveVariance("transient_ui_variance")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), `smoke_variance_total{kind="transient_ui_variance"} 1`))
	assert.Contains(t, string(body), "go_goroutines")
}
