package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultServerURL is used when neither the environment nor the
// config file names a server.
const DefaultServerURL = "https://app.usechronicle.com"

// Environment overrides. These take precedence over the persisted
// credential: env > config file > default.
const (
	EnvAPIKey    = "CHRONICLE_API_KEY"
	EnvServerURL = "CHRONICLE_SERVER_URL"
	EnvConfigDir = "CHRONICLE_CONFIG_DIR"
)

// DefaultHookEvents are the lifecycle events that trigger a sync
// when the operator has not configured an explicit set.
var DefaultHookEvents = []string{"Stop", "PreCompact", "SessionEnd"}

// Credential is the persisted authentication record. It is mutated
// only through Merge (full-record read-overlay-rewrite) and Clear;
// nothing else writes the config file.
type Credential struct {
	APIKey            string   `json:"api_key,omitempty"`
	ServerURL         string   `json:"server_url,omitempty"`
	Username          string   `json:"username,omitempty"`
	DisplayName       string   `json:"display_name,omitempty"`
	AvatarURL         string   `json:"avatar_url,omitempty"`
	TenantID          string   `json:"tenant_id,omitempty"`
	TenantName        string   `json:"tenant_name,omitempty"`
	EnabledHookEvents []string `json:"enabled_hook_events,omitempty"`
}

// Authenticated reports whether the record carries enough to talk
// to the server.
func (c Credential) Authenticated() bool {
	return c.APIKey != "" && c.ServerURL != ""
}

// EnabledEvents returns the configured hook-event set, falling back
// to DefaultHookEvents.
func (c Credential) EnabledEvents() []string {
	if len(c.EnabledHookEvents) > 0 {
		return c.EnabledHookEvents
	}
	return DefaultHookEvents
}

// HookEnabled reports whether the given lifecycle event should
// trigger a sync. The "manual" sentinel always passes.
func (c Credential) HookEnabled(event string) bool {
	if event == "manual" {
		return true
	}
	for _, e := range c.EnabledEvents() {
		if e == event {
			return true
		}
	}
	return false
}

// Dir returns the config directory, honoring EnvConfigDir.
func Dir() (string, error) {
	if v := os.Getenv(EnvConfigDir); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	return filepath.Join(home, ".chronicle"), nil
}

func configPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// LogPath returns the append-only log file location.
func LogPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chronicle.log"), nil
}

// HistoryPath returns the local sync journal location.
func HistoryPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// Load reads the persisted credential and applies environment
// overrides and the default server URL. A missing config file is
// not an error; it yields an unauthenticated record.
func Load() (Credential, error) {
	var cred Credential

	path, err := configPath()
	if err != nil {
		return cred, err
	}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cred, fmt.Errorf("reading config: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, &cred); err != nil {
			return cred, fmt.Errorf("parsing config: %w", err)
		}
	}

	if v := os.Getenv(EnvAPIKey); v != "" {
		cred.APIKey = v
	}
	if v := os.Getenv(EnvServerURL); v != "" {
		cred.ServerURL = v
	}
	if cred.ServerURL == "" {
		cred.ServerURL = DefaultServerURL
	}
	return cred, nil
}

// Merge overlays the non-empty fields of partial onto the stored
// record and rewrites the file. Unknown keys already present in the
// file are preserved.
func Merge(partial Credential) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	existing := make(map[string]any)
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("existing config invalid: %w", err)
		}
	}

	overlay := map[string]string{
		"api_key":      partial.APIKey,
		"server_url":   partial.ServerURL,
		"username":     partial.Username,
		"display_name": partial.DisplayName,
		"avatar_url":   partial.AvatarURL,
		"tenant_id":    partial.TenantID,
		"tenant_name":  partial.TenantName,
	}
	for k, v := range overlay {
		if v != "" {
			existing[k] = v
		}
	}
	if len(partial.EnabledHookEvents) > 0 {
		existing["enabled_hook_events"] = partial.EnabledHookEvents
	}

	out, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Clear resets the store to an empty record. Clearing an absent or
// already-empty store succeeds.
func Clear() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
