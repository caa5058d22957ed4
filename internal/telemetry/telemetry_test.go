package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/opensource-finance/ethscore/internal/domain"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), domain.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestProviderResource(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()

	tp, err := newProvider(ctx, domain.TracingConfig{}, "1.2.3", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	defer tp.Shutdown(ctx)

	_, span := tp.Tracer("test").Start(ctx, "model.predict_proba")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "model.predict_proba", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Resource().Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "ethscore", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
}
