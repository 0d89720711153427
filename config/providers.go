package config

import (
	"fmt"
	"slices"
	"sync"
)

// Connection is a configured provider connection with its resolved API key.
type Connection struct {
	ProviderConfig
	APIKey string
}

// ConnectionEventKind says what happened to a connection.
type ConnectionEventKind int

const (
	ConnectionUpdated ConnectionEventKind = iota + 1
	ConnectionDeleted
)

func (k ConnectionEventKind) String() string {
	switch k {
	case ConnectionUpdated:
		return "updated"
	case ConnectionDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ConnectionEvent is emitted when a connection changes.
type ConnectionEvent struct {
	ID   string
	Kind ConnectionEventKind
}

// Connections is the in-memory connection store. Listeners registered with
// OnChange are called synchronously after the store is updated, outside the
// store's lock.
type Connections struct {
	mu        sync.RWMutex
	conns     map[string]Connection
	order     []string
	listeners map[int]func(ConnectionEvent)
	nextID    int
}

func NewConnections() *Connections {
	return &Connections{
		conns:     make(map[string]Connection),
		listeners: make(map[int]func(ConnectionEvent)),
	}
}

// Get returns a connection by ID.
func (c *Connections) Get(id string) (Connection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.conns[id]
	return conn, ok
}

// List returns every connection in configuration order.
func (c *Connections) List() []Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Connection, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.conns[id])
	}
	return out
}

// Upsert adds or replaces a connection. Listeners are told only when
// something actually changed.
func (c *Connections) Upsert(cfg ProviderConfig, apiKey string) {
	conn := Connection{ProviderConfig: cfg, APIKey: apiKey}

	c.mu.Lock()
	old, existed := c.conns[cfg.ID]
	if existed && old == conn {
		c.mu.Unlock()
		return
	}
	c.conns[cfg.ID] = conn
	if !existed {
		c.order = append(c.order, cfg.ID)
	}
	c.mu.Unlock()

	c.emit(ConnectionEvent{ID: cfg.ID, Kind: ConnectionUpdated})
}

// Delete removes a connection.
func (c *Connections) Delete(id string) {
	c.mu.Lock()
	if _, ok := c.conns[id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.conns, id)
	c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == id })
	c.mu.Unlock()

	c.emit(ConnectionEvent{ID: id, Kind: ConnectionDeleted})
}

// Replace swaps in a freshly loaded provider list. Connections that changed
// are reported as updated, ones that disappeared as deleted.
func (c *Connections) Replace(providers []ProviderConfig, creds *CredentialStore) {
	next := make(map[string]Connection, len(providers))
	order := make([]string, 0, len(providers))
	for _, p := range providers {
		if p.ID == "" {
			continue
		}
		if _, dup := next[p.ID]; !dup {
			order = append(order, p.ID)
		}
		next[p.ID] = Connection{ProviderConfig: p, APIKey: creds.Get(p.ID)}
	}

	var events []ConnectionEvent
	c.mu.Lock()
	for id, old := range c.conns {
		conn, ok := next[id]
		switch {
		case !ok:
			events = append(events, ConnectionEvent{ID: id, Kind: ConnectionDeleted})
		case conn != old:
			events = append(events, ConnectionEvent{ID: id, Kind: ConnectionUpdated})
		}
	}
	for id := range next {
		if _, ok := c.conns[id]; !ok {
			events = append(events, ConnectionEvent{ID: id, Kind: ConnectionUpdated})
		}
	}
	c.conns = next
	c.order = order
	c.mu.Unlock()

	for _, ev := range events {
		c.emit(ev)
	}
}

// OnChange registers fn for connection events and returns a function that
// removes it.
func (c *Connections) OnChange(fn func(ConnectionEvent)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Connections) emit(ev ConnectionEvent) {
	c.mu.RLock()
	fns := make([]func(ConnectionEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	log := Logger("config")
	log.Debug().Str("connection", ev.ID).Stringer("kind", ev.Kind).Msg("connection changed")
	for _, fn := range fns {
		fn(ev)
	}
}

// UpdateProviderField updates a single connection field, persists it, and
// applies it to conns so cached adapters are invalidated immediately.
//
// Fields: "apikey", "enabled", "base_url", "default_model", "type".
func UpdateProviderField(dataDir string, conns *Connections, creds *CredentialStore, providerID, fieldName, value string) error {
	if fieldName == "apikey" {
		creds.Set(providerID, value)
		if err := creds.Save(dataDir); err != nil {
			return fmt.Errorf("failed to persist credentials: %w", err)
		}
		if conn, ok := conns.Get(providerID); ok {
			conns.Upsert(conn.ProviderConfig, creds.Get(providerID))
		}
		// Don't save UserConfig for API key changes (already saved credentials)
		return nil
	}

	cfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	idx := slices.IndexFunc(cfg.Providers, func(p ProviderConfig) bool { return p.ID == providerID })
	if idx < 0 {
		cfg.Providers = append(cfg.Providers, ProviderConfig{
			ID:      providerID,
			Name:    getProviderDisplayName(providerID),
			Type:    providerID,
			BaseURL: getProviderDefaultBaseURL(providerID),
		})
		idx = len(cfg.Providers) - 1
	}

	p := &cfg.Providers[idx]
	switch fieldName {
	case "enabled":
		p.Enabled = value == "true"
	case "base_url":
		p.BaseURL = value
	case "default_model":
		p.DefaultModel = value
	case "type":
		p.Type = value
	default:
		return fmt.Errorf("unknown field for %s: %s", providerID, fieldName)
	}

	if err := SaveUserConfig(cfg, dataDir); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	conns.Upsert(*p, creds.Get(providerID))
	return nil
}

// getProviderDisplayName returns the display name for a provider
func getProviderDisplayName(providerID string) string {
	switch providerID {
	case "ollama":
		return "Ollama"
	case "openrouter":
		return "OpenRouter"
	case "anthropic":
		return "Anthropic"
	case "openai":
		return "OpenAI"
	case "gemini":
		return "Gemini"
	default:
		return providerID
	}
}

// getProviderDefaultBaseURL returns the default base URL for a provider
func getProviderDefaultBaseURL(providerID string) string {
	switch providerID {
	case "ollama":
		return "http://localhost:11434/v1"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "anthropic":
		return "https://api.anthropic.com"
	case "openai":
		return "https://api.openai.com/v1"
	case "gemini":
		return "https://generativelanguage.googleapis.com/v1beta"
	default:
		return ""
	}
}
