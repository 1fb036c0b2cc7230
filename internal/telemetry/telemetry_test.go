package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParseSampler(t *testing.T) {
	tests := []struct {
		name, arg, want string
	}{
		{"always_on", "", "AlwaysOnSampler"},
		{"ALWAYS_OFF", "", "AlwaysOffSampler"},
		{"traceidratio", "0.5", "TraceIDRatioBased{0.5}"},
		{"traceidratio", "7", "AlwaysOnSampler"},
		{"traceidratio", "-1", "TraceIDRatioBased{0}"},
		{"", "", "ParentBased{root:AlwaysOnSampler"},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.arg, func(t *testing.T) {
			assert.Contains(t, parseSampler(tt.name, tt.arg).Description(), tt.want)
		})
	}
}

func TestParseHeaders(t *testing.T) {
	assert.Empty(t, parseHeaders(""))
	assert.Equal(t, map[string]string{
		"authorization": "Bearer x=y",
		"team":          "ops",
	}, parseHeaders(" authorization = Bearer x=y , team=ops,broken,=nokey"))
}

func TestEnvInt(t *testing.T) {
	getenv := env(map[string]string{"A": "7", "B": "x"})
	assert.Equal(t, 7, envInt(getenv, "A", 1))
	assert.Equal(t, 1, envInt(getenv, "B", 1))
	assert.Equal(t, 1, envInt(getenv, "C", 1))
}

func TestInit(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Init(ctx, "", env(nil))
	require.NoError(t, err)
	_, span := otel.Tracer("test").Start(ctx, "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, shutdown(ctx))

	shutdown, err = Init(ctx, "vaultgate-test", env(map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT": "127.0.0.1:4318",
		"OTEL_EXPORTER_OTLP_INSECURE": "true",
		"OTEL_EXPORTER_OTLP_HEADERS":  "x-team=ops",
	}))
	require.NoError(t, err)
	// Nothing was recorded, so shutdown has nothing to send.
	require.NoError(t, shutdown(ctx))
}

func TestInstrumentClient(t *testing.T) {
	var traceparent string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
	}))
	defer ts.Close()

	ctx := context.Background()
	shutdown, err := Init(ctx, "", env(nil))
	require.NoError(t, err)
	defer shutdown(ctx)

	client := InstrumentClient(nil)
	assert.NotNil(t, client.Transport)

	ctx, span := otel.Tracer("test").Start(ctx, "call")
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	span.End()

	assert.Contains(t, traceparent, span.SpanContext().TraceID().String())
}
