package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"parley/config"
	"parley/model"
)

// ErrUnknownConnection is returned when a connection ID is not configured
// or is disabled.
var ErrUnknownConnection = errors.New("unknown provider connection")

// listConcurrency bounds parallel model listings.
const listConcurrency = 4

type cachedAdapter struct {
	fingerprint string
	provider    model.Provider
}

// Manager builds adapters on demand and caches them per connection.
//
// An entry is reused while the connection's fingerprint (type, base URL,
// key, default model) is unchanged. Updating or deleting the connection in
// the attached config.Connections drops the entry, so the next lookup builds
// a fresh adapter with the new credentials. Construction never touches the
// network.
type Manager struct {
	mu      sync.Mutex
	entries map[string]cachedAdapter
	conns   *config.Connections
	build   func(Config) (model.Provider, error)
	stop    func()
	log     zerolog.Logger
}

// NewManager returns a Manager resolving IDs through conns. conns may be nil
// when callers only use GetAdapter with explicit configs.
func NewManager(conns *config.Connections) *Manager {
	m := &Manager{
		entries: make(map[string]cachedAdapter),
		conns:   conns,
		build:   NewProvider,
		log:     config.Logger("provider.manager"),
	}
	if conns != nil {
		m.stop = conns.OnChange(m.handleEvent)
	}
	return m
}

// Close detaches the manager from its connection store.
func (m *Manager) Close() {
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
}

// GetAdapter returns the cached adapter for cfg.ID, building one if none is
// cached or the configuration changed since it was built.
func (m *Manager) GetAdapter(cfg Config) (model.Provider, error) {
	if cfg.Type == "" {
		cfg.Type = MapProviderIDToType(cfg.ID)
	}
	key := cfg.name()
	fingerprint := cfg.Fingerprint()

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[key]; ok && entry.fingerprint == fingerprint {
		return entry.provider, nil
	}

	p, err := m.build(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %s: %w", key, err)
	}
	m.entries[key] = cachedAdapter{fingerprint: fingerprint, provider: p}
	m.log.Debug().Str("connection", key).Str("type", string(cfg.Type)).Str("fingerprint", fingerprint).Msg("adapter built")
	return p, nil
}

// Adapter resolves a connection ID through the attached connection store.
func (m *Manager) Adapter(connectionID string) (model.Provider, error) {
	if m.conns == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connectionID)
	}
	conn, ok := m.conns.Get(connectionID)
	if !ok || !conn.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connectionID)
	}
	return m.GetAdapter(ConfigFromConnection(conn))
}

// Invalidate drops the cached adapter for a connection.
func (m *Manager) Invalidate(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[connectionID]; ok {
		delete(m.entries, connectionID)
		m.log.Debug().Str("connection", connectionID).Msg("adapter invalidated")
	}
}

// InvalidateAll empties the cache.
func (m *Manager) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]cachedAdapter)
}

// Len reports how many adapters are cached.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) handleEvent(ev config.ConnectionEvent) {
	switch ev.Kind {
	case config.ConnectionUpdated, config.ConnectionDeleted:
		m.Invalidate(ev.ID)
	}
}

// ModelListing is the outcome of listing one connection's models.
type ModelListing struct {
	ConnectionID string
	Models       []model.ModelInfo
	Err          error
}

// ListAllModels lists models on every config concurrently. A failing
// connection is reported in its listing and does not affect the others.
func (m *Manager) ListAllModels(ctx context.Context, cfgs []Config) []ModelListing {
	results := make([]ModelListing, len(cfgs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)

	for i, cfg := range cfgs {
		results[i].ConnectionID = cfg.name()
		g.Go(func() error {
			p, err := m.GetAdapter(cfg)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Models, results[i].Err = p.ListModels(ctx)
			return nil
		})
	}

	_ = g.Wait()
	return results
}
