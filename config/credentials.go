package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// CredentialStore holds API keys per connection ID, persisted as plain-text
// TOML with 0600 permissions. PARLEY_<ID>_API_KEY overrides a stored key.
type CredentialStore struct {
	mu          sync.RWMutex
	credentials map[string]string // connectionID → API key
}

// NewCredentialStore creates an empty credential store
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		credentials: make(map[string]string),
	}
}

// Load replaces the stored keys with the contents of credentials.toml.
func (c *CredentialStore) Load(dataDir string) error {
	creds, err := loadPlainText(dataDir)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials = creds
	return nil
}

// Save writes the stored keys to credentials.toml.
func (c *CredentialStore) Save(dataDir string) error {
	c.mu.RLock()
	snapshot := make(map[string]string, len(c.credentials))
	for k, v := range c.credentials {
		snapshot[k] = v
	}
	c.mu.RUnlock()

	return savePlainText(dataDir, snapshot)
}

// Get retrieves the API key for a connection, preferring the environment.
func (c *CredentialStore) Get(connectionID string) string {
	if key := os.Getenv(envKeyName(connectionID)); key != "" {
		return key
	}
	if c == nil {
		return ""
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credentials[connectionID]
}

// Set stores a credential for a connection
func (c *CredentialStore) Set(connectionID string, apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials[connectionID] = apiKey
}

// Delete removes a credential for a connection
func (c *CredentialStore) Delete(connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.credentials, connectionID)
}

func (c *CredentialStore) replace(other *CredentialStore) {
	other.mu.RLock()
	creds := other.credentials
	other.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials = creds
}

func credentialsPath(dataDir string) string {
	return filepath.Join(dataDir, "credentials.toml")
}

type credentialsFile struct {
	Credentials map[string]string `toml:"credentials"`
}

func loadPlainText(dataDir string) (map[string]string, error) {
	path := credentialsPath(dataDir)

	// If file doesn't exist, return empty map (no error)
	if !FileExists(path) {
		return make(map[string]string), nil
	}

	var cf credentialsFile
	if _, err := toml.DecodeFile(path, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if cf.Credentials == nil {
		cf.Credentials = make(map[string]string)
	}

	return cf.Credentials, nil
}

func savePlainText(dataDir string, creds map[string]string) error {
	if err := EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return writeTOML(credentialsPath(dataDir), credentialsFile{Credentials: creds})
}
