package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_MetricsOnly(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "flowly-test", Environment: "test"}, zerolog.Nop())
	require.NoError(t, err)
	defer func() { assert.NoError(t, shutdown(context.Background())) }()

	counter, err := otel.Meter("flowly/test").Int64Counter("telemetry.test.requests")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	rr := httptest.NewRecorder()
	metricsServer("0").Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "telemetry_test_requests")
}

func TestNewResource(t *testing.T) {
	res, err := newResource(context.Background(), Config{ServiceName: "flowly-test", Environment: "staging"})
	require.NoError(t, err)

	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "flowly-test", attrs["service.name"])
	assert.Equal(t, "staging", attrs["deployment.environment"])
	assert.Contains(t, attrs, "telemetry.sdk.language")
}
