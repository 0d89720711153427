package provider

import (
	"context"
	"fmt"
	"time"

	"parley/config"
	"parley/model"
)

// pingTimeout bounds a connection check started without a deadline.
const pingTimeout = 15 * time.Second

// HealthResult reports the outcome of a connection check.
type HealthResult struct {
	ConnectionID string
	Valid        bool
	Latency      time.Duration
	Err          error
}

// PingConnection validates a connection's credentials by calling Ping on a
// throwaway adapter. It is used when a connection is added or edited, before
// the configuration is saved, so the cached adapters are left alone.
func PingConnection(ctx context.Context, cfg Config) HealthResult {
	result := HealthResult{ConnectionID: cfg.name()}

	if cfg.Type == "" {
		cfg.Type = MapProviderIDToType(cfg.ID)
	}
	p, err := NewProvider(cfg)
	if err != nil {
		result.Err = fmt.Errorf("failed to create provider: %w", err)
		return result
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pingTimeout)
		defer cancel()
	}

	start := time.Now()
	err = p.Ping(ctx)
	result.Latency = time.Since(start)
	if err != nil {
		result.Err = fmt.Errorf("connection failed: %w", err)
		return result
	}

	result.Valid = true
	log := config.Logger("provider")
	log.Debug().Str("connection", result.ConnectionID).Dur("latency", result.Latency).Msg("ping successful")
	return result
}

// FetchModels lists the models of a single connection using a throwaway
// adapter.
func FetchModels(ctx context.Context, cfg Config) ([]model.ModelInfo, error) {
	if cfg.Type == "" {
		cfg.Type = MapProviderIDToType(cfg.ID)
	}
	p, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}

	models, err := p.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	log := config.Logger("provider")
	log.Debug().Int("count", len(models)).Str("connection", cfg.name()).Msg("fetched models")
	return models, nil
}
