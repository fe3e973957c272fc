package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/alexjbarnes/workspace-sync/internal/auth"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for workspace-sync.
// Per-workspace sync settings are not here: they are persisted with the
// workspace and changed through the settings command.
type Config struct {
	// Local directory mirrored from the remote workspace.
	WorkspaceDir string `env:"WORKSPACE_DIR"`

	// Remote organization whose projects are synchronized.
	OrganizationID string `env:"ORGANIZATION_ID"`

	// Remote API endpoint and credentials.
	RemoteAPIURL    string  `env:"REMOTE_API_URL"`
	RemoteAPIToken  string  `env:"REMOTE_API_TOKEN"`
	RemoteRateLimit float64 `env:"REMOTE_RATE_LIMIT" envDefault:"5"`

	// Path of the state database. Defaults to ~/.workspace-sync/state.db.
	StatePath string `env:"STATE_PATH"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// HTTP server settings, used by the serve command only.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8090"`
	AuthUsers  string `env:"AUTH_USERS"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// The workspace path keys the persisted config and the run history,
	// so it must not depend on the working directory.
	absDir, err := filepath.Abs(cfg.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace dir to absolute path: %w", err)
	}

	cfg.WorkspaceDir = absDir

	if cfg.StatePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determining home directory: %w", err)
		}

		cfg.StatePath = filepath.Join(home, ".workspace-sync", "state.db")
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.WorkspaceDir == "" {
		return fmt.Errorf("WORKSPACE_DIR is required")
	}

	if c.OrganizationID == "" {
		return fmt.Errorf("ORGANIZATION_ID is required")
	}

	if c.RemoteAPIURL == "" {
		return fmt.Errorf("REMOTE_API_URL is required")
	}

	if c.RemoteAPIToken == "" {
		return fmt.Errorf("REMOTE_API_TOKEN is required")
	}

	if c.RemoteRateLimit <= 0 {
		return fmt.Errorf("REMOTE_RATE_LIMIT must be positive, got %v", c.RemoteRateLimit)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ParseAuthUsers parses the AUTH_USERS string into a UserCredentials map.
// Format: "user1:bcrypt_hash1,user2:bcrypt_hash2".
func (c *Config) ParseAuthUsers() (auth.UserCredentials, error) {
	users := make(auth.UserCredentials)
	if c.AuthUsers == "" {
		return nil, fmt.Errorf("AUTH_USERS is required to serve")
	}

	for _, pair := range strings.Split(c.AuthUsers, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid user entry (missing ':')")
		}

		username := pair[:idx]

		hash := pair[idx+1:]
		if username == "" || hash == "" {
			return nil, fmt.Errorf("empty username or hash in entry %d", len(users)+1)
		}

		if !auth.IsBcryptHash(hash) {
			return nil, fmt.Errorf("entry %d for %q is not a bcrypt hash; use the hash-password command", len(users)+1, username)
		}

		if _, dup := users[username]; dup {
			return nil, fmt.Errorf("duplicate username %q in AUTH_USERS", username)
		}

		users[username] = hash
	}

	if len(users) == 0 {
		return nil, fmt.Errorf("AUTH_USERS has no entries")
	}

	return users, nil
}
