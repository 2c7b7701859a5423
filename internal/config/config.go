// Package config loads and validates the gateway configuration from a TOML
// file with environment-variable overrides for secrets.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Server contains HTTP listener configuration.
type Server struct {
	Bind            string `toml:"bind"`
	ReadTimeout     int    `toml:"read_timeout"`
	WriteTimeout    int    `toml:"write_timeout"`
	IdleTimeout     int    `toml:"idle_timeout"`
	MaxBodyMB       int    `toml:"max_body_mb"`
	RateLimitPerSec int    `toml:"rate_limit_per_sec"`
	RateLimitBurst  int    `toml:"rate_limit_burst"`
}

// ERP contains connection settings for the Business Central backend.
type ERP struct {
	BaseURL           string `toml:"base_url"`
	FixationEndpoint  string `toml:"fixation_endpoint"`
	IncidenceEndpoint string `toml:"incidence_endpoint"`
	TasksEndpoint     string `toml:"tasks_endpoint"`
	Company           string `toml:"company"`
	Username          string `toml:"username"`
	Password          string `toml:"password"`
	Timeout           int    `toml:"timeout"`
	LargeImageTimeout int    `toml:"large_image_timeout"`
}

// AuthService contains settings for the task-system identity provider.
type AuthService struct {
	BaseURL        string `toml:"base_url"`
	LoginEndpoint  string `toml:"login_endpoint"`
	UsersEndpoint  string `toml:"users_endpoint"`
	Timeout        int    `toml:"timeout"`
	DefaultTokenHr int    `toml:"default_token_hours"`
}

// Relay contains settings for the blob-hosting service that turns inline
// base64 payloads into durable URLs.
type Relay struct {
	SaveURL    string `toml:"save_url"`
	DeleteURL  string `toml:"delete_url"`
	Attempts   int    `toml:"attempts"`
	RetryDelay int    `toml:"retry_delay"`
	Timeout    int    `toml:"timeout"`
}

// Compression controls pre-upload image shrinking.
type Compression struct {
	Enabled   bool `toml:"enabled"`
	Quality   int  `toml:"quality"`
	MaxSizeMB int  `toml:"max_size_mb"`
}

// Sessions controls per-device session lifecycle.
type Sessions struct {
	MaxAgeHours    int    `toml:"max_age_hours"`
	SweepInterval  int    `toml:"sweep_interval_minutes"`
	TaskCacheTTL   int    `toml:"task_cache_ttl_minutes"`
	UsersCacheTTL  int    `toml:"users_cache_ttl_minutes"`
	SnapshotDir    string `toml:"snapshot_dir"`
	SnapshotToDisk bool   `toml:"snapshot_to_disk"`
}

// Jobs configures the durable background-job store.
type Jobs struct {
	DBPath        string `toml:"db_path"`
	RetentionDays int    `toml:"retention_days"`
}

// Incidence lists the incidence types offered to clients.
type Incidence struct {
	Types       []string `toml:"types"`
	DefaultType string   `toml:"default_type"`
}

// Config is the root configuration document.
type Config struct {
	Server      Server      `toml:"server"`
	ERP         ERP         `toml:"erp"`
	AuthService AuthService `toml:"auth_service"`
	Relay       Relay       `toml:"relay"`
	Compression Compression `toml:"compression"`
	Sessions    Sessions    `toml:"sessions"`
	Jobs        Jobs        `toml:"jobs"`
	Incidence   Incidence   `toml:"incidence"`
}

// DefaultPath is where Load looks when no explicit path is given.
func DefaultPath() string {
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, "incidencia", "incidencia.toml")
	}
	return "incidencia.toml"
}

// Load reads the configuration file at path, fills defaults, applies
// environment overrides and validates the result. A missing file yields the
// defaults rather than an error so the gateway can start unconfigured in dev.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// fall through to defaults
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteSample writes the commented sample configuration to path, refusing to
// clobber an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o600)
}

// applyEnv lets secrets and deployment-specific values come from the
// environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("INCIDENCIA_BIND"); v != "" {
		c.Server.Bind = v
	}
	if v := os.Getenv("INCIDENCIA_ERP_USERNAME"); v != "" {
		c.ERP.Username = v
	}
	if v := os.Getenv("INCIDENCIA_ERP_PASSWORD"); v != "" {
		c.ERP.Password = v
	}
	if v := os.Getenv("INCIDENCIA_ERP_BASE_URL"); v != "" {
		c.ERP.BaseURL = v
	}
	if v := os.Getenv("INCIDENCIA_AUTH_BASE_URL"); v != "" {
		c.AuthService.BaseURL = v
	}
	if v := os.Getenv("INCIDENCIA_RELAY_SAVE_URL"); v != "" {
		c.Relay.SaveURL = v
	}
	if v := os.Getenv("INCIDENCIA_RELAY_DELETE_URL"); v != "" {
		c.Relay.DeleteURL = v
	}
	if v := os.Getenv("INCIDENCIA_JOBS_DB"); v != "" {
		c.Jobs.DBPath = v
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Server.Bind) == "" {
		problems = append(problems, "server.bind must not be empty")
	}
	if strings.TrimSpace(c.ERP.BaseURL) == "" {
		problems = append(problems, "erp.base_url must not be empty")
	}
	if strings.TrimSpace(c.ERP.Company) == "" {
		problems = append(problems, "erp.company must not be empty")
	}
	if c.Compression.Quality < 1 || c.Compression.Quality > 100 {
		problems = append(problems, "compression.quality must be within 1..100")
	}
	if c.Compression.MaxSizeMB <= 0 {
		problems = append(problems, "compression.max_size_mb must be positive")
	}
	if c.Relay.Attempts <= 0 {
		problems = append(problems, "relay.attempts must be positive")
	}
	if c.Sessions.MaxAgeHours <= 0 {
		problems = append(problems, "sessions.max_age_hours must be positive")
	}
	if c.Incidence.DefaultType != "" && len(c.Incidence.Types) > 0 {
		found := false
		for _, t := range c.Incidence.Types {
			if t == c.Incidence.DefaultType {
				found = true
				break
			}
		}
		if !found {
			problems = append(problems, "incidence.default_type must be one of incidence.types")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// Convenience accessors ----------------------------------------------------

// FixationURL returns the full ERP endpoint used for photo fixations.
func (c *Config) FixationURL() string {
	return c.ERP.BaseURL + c.ERP.FixationEndpoint
}

// IncidenceURL returns the ERP endpoint for full incidence records, falling
// back to the fixation endpoint when a dedicated one is not deployed.
func (c *Config) IncidenceURL() string {
	if c.ERP.IncidenceEndpoint != "" {
		return c.ERP.BaseURL + c.ERP.IncidenceEndpoint
	}
	return c.FixationURL()
}

// TasksURL returns the ERP endpoint for QR work-order lookups.
func (c *Config) TasksURL() string {
	return c.ERP.BaseURL + c.ERP.TasksEndpoint
}

// LoginURL returns the identity-provider login endpoint.
func (c *Config) LoginURL() string {
	return c.AuthService.BaseURL + c.AuthService.LoginEndpoint
}

// UsersURL returns the identity-provider user-list endpoint.
func (c *Config) UsersURL() string {
	return c.AuthService.BaseURL + c.AuthService.UsersEndpoint
}

// SessionMaxAge returns the inactivity window after which a device session
// is evicted.
func (c *Config) SessionMaxAge() time.Duration {
	return time.Duration(c.Sessions.MaxAgeHours) * time.Hour
}

// SweepInterval returns how often the registry sweeps for expired sessions.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sessions.SweepInterval) * time.Minute
}
