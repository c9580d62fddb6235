package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

func (t *Telemetry) initializeLogs(ctx context.Context, cfg Config, res *resource.Resource) error {
	exporter, err := otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlploggrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("failed to create otlp log exporter: %w", err)
	}

	t.loggerProvider = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	t.logHandler = otelslog.NewHandler(cfg.ServiceName, otelslog.WithLoggerProvider(t.loggerProvider))

	return nil
}

// LogHandler returns the handler that ships records over OTLP, or nil when
// log export is not configured.
func (t *Telemetry) LogHandler() slog.Handler {
	if t == nil {
		return nil
	}

	return t.logHandler
}
