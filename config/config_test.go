package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []ConnectionEvent
}

func (l *eventLog) record(ev ConnectionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []ConnectionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConnectionEvent(nil), l.events...)
}

func TestConnectionsUpsertAndDelete(t *testing.T) {
	conns := NewConnections()
	log := &eventLog{}
	unsubscribe := conns.OnChange(log.record)

	openai := ProviderConfig{ID: "openai", Type: "openai", Enabled: true}
	conns.Upsert(openai, "k1")
	conns.Upsert(openai, "k1") // unchanged, no event
	conns.Upsert(openai, "k2")

	got, ok := conns.Get("openai")
	require.True(t, ok)
	assert.Equal(t, "k2", got.APIKey)

	conns.Delete("openai")
	conns.Delete("openai") // unknown, no event

	_, ok = conns.Get("openai")
	assert.False(t, ok)

	assert.Equal(t, []ConnectionEvent{
		{ID: "openai", Kind: ConnectionUpdated},
		{ID: "openai", Kind: ConnectionUpdated},
		{ID: "openai", Kind: ConnectionDeleted},
	}, log.snapshot())

	unsubscribe()
	conns.Upsert(openai, "k3")
	assert.Len(t, log.snapshot(), 3)
}

func TestConnectionsReplace(t *testing.T) {
	t.Setenv("PARLEY_OPENAI_API_KEY", "")
	t.Setenv("PARLEY_ANTHROPIC_API_KEY", "")
	t.Setenv("PARLEY_GEMINI_API_KEY", "")

	creds := NewCredentialStore()
	creds.Set("openai", "sk-1")
	creds.Set("anthropic", "sk-ant")

	conns := NewConnections()
	conns.Replace([]ProviderConfig{
		{ID: "openai", Type: "openai", Enabled: true},
		{ID: "anthropic", Type: "anthropic", Enabled: true},
	}, creds)

	log := &eventLog{}
	conns.OnChange(log.record)

	creds.Set("openai", "sk-2")
	conns.Replace([]ProviderConfig{
		{ID: "openai", Type: "openai", Enabled: true},
		{ID: "gemini", Type: "gemini", Enabled: true},
	}, creds)

	events := log.snapshot()
	assert.ElementsMatch(t, []ConnectionEvent{
		{ID: "openai", Kind: ConnectionUpdated},
		{ID: "anthropic", Kind: ConnectionDeleted},
		{ID: "gemini", Kind: ConnectionUpdated},
	}, events)

	ids := []string{}
	for _, c := range conns.List() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"openai", "gemini"}, ids)
}

func TestCredentialStoreEnvOverride(t *testing.T) {
	dir := t.TempDir()

	creds := NewCredentialStore()
	creds.Set("open-router", "stored")
	require.NoError(t, creds.Save(dir))

	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := NewCredentialStore()
	require.NoError(t, loaded.Load(dir))
	t.Setenv("PARLEY_OPEN_ROUTER_API_KEY", "")
	assert.Equal(t, "stored", loaded.Get("open-router"))

	t.Setenv("PARLEY_OPEN_ROUTER_API_KEY", "from-env")
	assert.Equal(t, "from-env", loaded.Get("open-router"))
}

func TestLoadUserConfigFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, os.WriteFile(path, []byte(`
[chat]
default_model = "gpt-4o-mini"

[[providers]]
id = "openai"
name = "OpenAI"
type = "openai"
enabled = true
`), 0600))

	cfg, err := LoadUserConfigFromPath(path)
	require.NoError(t, err)

	assert.True(t, cfg.Chat.AutoTitle, "omitted keys keep their defaults")
	assert.Equal(t, "gpt-4o-mini", cfg.Chat.DefaultModel)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "openai", cfg.Providers[0].ID)
	assert.Empty(t, cfg.Providers[0].BaseURL)
}

func TestLoadUserConfigCreatesTemplate(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadUserConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultUserConfig(), cfg)

	// The written template decodes to the same defaults.
	fromFile, err := LoadUserConfigFromPath(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultUserConfig(), fromFile)
}

func TestUpdateProviderField(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PARLEY_OPENAI_API_KEY", "")

	_, err := LoadUserConfig(dir)
	require.NoError(t, err)

	creds := NewCredentialStore()
	conns := NewConnections()
	conns.Replace(DefaultUserConfig().Providers, creds)

	log := &eventLog{}
	conns.OnChange(log.record)

	require.NoError(t, UpdateProviderField(dir, conns, creds, "openai", "enabled", "true"))
	require.NoError(t, UpdateProviderField(dir, conns, creds, "openai", "apikey", "sk-new"))

	conn, ok := conns.Get("openai")
	require.True(t, ok)
	assert.True(t, conn.Enabled)
	assert.Equal(t, "sk-new", conn.APIKey)
	assert.Len(t, log.snapshot(), 2)

	cfg, err := LoadUserConfig(dir)
	require.NoError(t, err)
	for _, p := range cfg.Providers {
		if p.ID == "openai" {
			assert.True(t, p.Enabled)
		}
	}

	assert.Error(t, UpdateProviderField(dir, conns, creds, "openai", "color", "blue"))
}

func TestWatchReloadsConnections(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PARLEY_OPENAI_API_KEY", "")
	t.Setenv("PARLEY_DEFAULT_MODEL", "")
	t.Setenv("PARLEY_DEFAULT_PROVIDER", "")

	write := func(body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0600))
	}
	write(`
[chat]
auto_title = true

[[providers]]
id = "openai"
type = "openai"
enabled = true
`)

	creds := NewCredentialStore()
	conns := NewConnections()
	settings := NewSettingsStore(Settings{})
	require.NoError(t, Reload(dir, conns, creds, settings))
	assert.True(t, settings.Get().AutoTitleChats)

	log := &eventLog{}
	conns.OnChange(log.record)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, Watch(ctx, dir, conns, creds, settings))

	write(`
[chat]
auto_title = false

[[providers]]
id = "openai"
type = "openai"
base_url = "http://proxy.local/v1"
enabled = true
`)

	require.Eventually(t, func() bool {
		conn, ok := conns.Get("openai")
		return ok && conn.BaseURL == "http://proxy.local/v1"
	}, 5*time.Second, 20*time.Millisecond)

	assert.False(t, settings.Get().AutoTitleChats)
	assert.Contains(t, log.snapshot(), ConnectionEvent{ID: "openai", Kind: ConnectionUpdated})
}

func TestReloadKeepsStateOnParseError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[[providers]\nid="), 0600))

	conns := NewConnections()
	conns.Upsert(ProviderConfig{ID: "ollama", Enabled: true}, "")

	assert.Error(t, Reload(dir, conns, nil, nil))
	_, ok := conns.Get("ollama")
	assert.True(t, ok)
}

func TestEnvKeyName(t *testing.T) {
	assert.Equal(t, "PARLEY_OPENAI_API_KEY", envKeyName("openai"))
	assert.Equal(t, "PARLEY_OPEN_ROUTER_API_KEY", envKeyName("open-router"))
	assert.Equal(t, "PARLEY_WORK_CLAUDE2_API_KEY", envKeyName("work.claude2"))
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("PARLEY_TEST_DIR", "exports")

	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "chats"), ExpandPath("~/chats/"))
	assert.Equal(t, filepath.Join("out", "exports"), ExpandPath("out/$PARLEY_TEST_DIR"))
	assert.Equal(t, "", ExpandPath(""))
}

func TestDefaultDataDirHonoursXDG(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("XDG_DATA_HOME is not consulted on Windows")
	}
	xdg := t.TempDir()
	t.Setenv("XDG_DATA_HOME", xdg)
	assert.Equal(t, filepath.Join(xdg, "parley"), GetDefaultDataDir())
	assert.Equal(t, filepath.Join(xdg, "parley", "parley.db"), DatabasePath(GetDefaultDataDir()))
}
