package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/gptproxy/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"
)

// saveAndRestoreGlobalProvider snapshots the current global TracerProvider
// and restores it via t.Cleanup so tests don't leak state.
func saveAndRestoreGlobalProvider(t *testing.T) {
	t.Helper()
	orig := otel.GetTracerProvider()
	origMeter := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		otel.SetMeterProvider(origMeter)
	})
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProvider(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.tp, "TracerProvider should be nil when disabled")
	assert.Nil(t, p.mp, "MeterProvider should be nil when disabled")
	assert.NotNil(t, p.Tracer(), "noop tracer is still usable")
	assert.NotNil(t, p.Meter(), "noop meter is still usable")
}

func TestInit_Enabled(t *testing.T) {
	saveAndRestoreGlobalProvider(t)

	cfg := config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "gptproxy-test",
		SampleRate:   0.5,
	}

	p, err := Init(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	assert.NotNil(t, p.tp, "TracerProvider should be set when enabled")
	_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, isSDK, "global TracerProvider should be *sdktrace.TracerProvider")

	assert.Nil(t, p.mp, "metric export is opt-in")

	_, span := p.Tracer().Start(context.Background(), "upstream-call")
	span.End()
}

func TestInit_ExportMetrics(t *testing.T) {
	saveAndRestoreGlobalProvider(t)

	cfg := config.TelemetryConfig{
		Enabled:        true,
		OTLPEndpoint:   "localhost:4317",
		ServiceName:    "gptproxy-test",
		SampleRate:     1,
		ExportMetrics:  true,
		MetricInterval: time.Hour,
	}

	p, err := Init(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p.mp)

	_, isSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, isSDK, "global MeterProvider should be *sdkmetric.MeterProvider")

	counter, err := p.Meter().Int64Counter("gptproxy.test.calls")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// 收集器不存在时导出会失败，这里只要求关闭流程本身不阻塞
	_ = p.Shutdown(ctx)
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())
}

func TestProviders_Shutdown_Noop(t *testing.T) {
	saveAndRestoreGlobalProvider(t)

	p, err := Init(config.TelemetryConfig{}, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestBuildVersion(t *testing.T) {
	// In test binaries, debug.ReadBuildInfo typically returns "(devel)",
	// so buildVersion falls back to "dev".
	assert.Equal(t, "dev", buildVersion())
}
