package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events an editor save produces.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads config.toml and credentials.toml from dataDir whenever they
// change and applies the result to conns (and settings, when non-nil).
// Watching stops when ctx is done.
//
// The directory is watched rather than the files so atomic saves (write to
// a temp file, rename over) are seen.
func Watch(ctx context.Context, dataDir string, conns *Connections, creds *CredentialStore, settings *SettingsStore) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(dataDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dataDir, err)
	}

	go watchLoop(ctx, watcher, dataDir, conns, creds, settings)
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, dataDir string, conns *Connections, creds *CredentialStore, settings *SettingsStore) {
	log := Logger("config")
	defer watcher.Close()

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			switch filepath.Base(event.Name) {
			case "config.toml", "credentials.toml":
			default:
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			timer.Reset(reloadDebounce)

		case <-timer.C:
			if err := Reload(dataDir, conns, creds, settings); err != nil {
				log.Warn().Err(err).Msg("config reload failed, keeping previous configuration")
				continue
			}
			log.Debug().Int("connections", len(conns.List())).Msg("config reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// Reload re-reads the user config and credentials from dataDir and applies
// them. On a parse error nothing is changed.
func Reload(dataDir string, conns *Connections, creds *CredentialStore, settings *SettingsStore) error {
	userCfg, err := LoadUserConfigFromPath(userConfigPath(dataDir))
	if err != nil {
		return err
	}

	fresh := NewCredentialStore()
	if err := fresh.Load(dataDir); err != nil {
		return err
	}
	if creds != nil {
		creds.replace(fresh)
	} else {
		creds = fresh
	}

	cfg := &Config{}
	cfg.applyUserConfig(userCfg)
	cfg.applyEnvOverrides()

	conns.Replace(cfg.Providers, creds)
	if settings != nil {
		settings.Set(cfg.Settings())
	}
	return nil
}
