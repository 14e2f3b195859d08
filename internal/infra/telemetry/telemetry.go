package telemetry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/taskplane/identity-service/internal/infra/config"
)

// Provider bundles the telemetry backends attached at startup. Request
// metrics are owned by the HTTP middleware; this handle manages tracing.
type Provider struct {
	tracing *TracerProvider
}

// Attach configures telemetry exporters and returns a provider handle.
// Tracing is optional: it activates only when an OTLP endpoint is configured.
func Attach(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	provider := &Provider{}

	if cfg.Telemetry.OTLPEndpoint != "" {
		tracing, err := NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		provider.tracing = tracing
	}

	return provider, nil
}

// Shutdown flushes and stops the attached exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tracing == nil {
		return nil
	}
	return p.tracing.Shutdown(ctx)
}
