package provider

import (
	"parley/config"
)

// ConfigFromConnection converts a configured connection into a factory
// Config. A connection without an explicit type falls back to the type
// implied by its ID.
func ConfigFromConnection(conn config.Connection) Config {
	t := ProviderType(conn.Type)
	if t == "" {
		t = MapProviderIDToType(conn.ID)
	}
	return Config{
		ID:      conn.ID,
		Type:    t,
		BaseURL: conn.BaseURL,
		APIKey:  conn.APIKey,
		Model:   conn.DefaultModel,
	}
}

// EnabledConfigs returns factory configs for every enabled connection.
func EnabledConfigs(conns *config.Connections) []Config {
	var cfgs []Config
	for _, conn := range conns.List() {
		if conn.Enabled {
			cfgs = append(cfgs, ConfigFromConnection(conn))
		}
	}
	return cfgs
}

// InitializeProviders builds adapters for all enabled connections so
// configuration mistakes surface at startup.
//
// Failures are logged and skipped (graceful degradation): a connection with
// a missing key must not prevent the others from working. Returns the IDs
// that were built successfully.
func InitializeProviders(m *Manager, conns *config.Connections) []string {
	log := config.Logger("provider")

	var ready []string
	for _, cfg := range EnabledConfigs(conns) {
		if _, err := m.GetAdapter(cfg); err != nil {
			log.Warn().Err(err).Str("connection", cfg.ID).Msg("failed to initialize provider")
			continue
		}
		ready = append(ready, cfg.ID)
		log.Debug().Str("connection", cfg.ID).Str("type", string(cfg.Type)).Msg("initialized provider")
	}
	return ready
}
