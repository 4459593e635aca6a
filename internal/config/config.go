// Package config loads the calshare YAML configuration and applies
// environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Local provider kinds.
const (
	ProviderCalDAV = "caldav"
	ProviderGoogle = "google"
	ProviderMemory = "memory"
)

// Remote backends.
const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// Messaging gateways.
const (
	GatewayLog    = "log"
	GatewayTwilio = "twilio"
)

// CalDAVConfig configures the CalDAV device calendar. Defaults to iCloud.
type CalDAVConfig struct {
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"`
	// Password is an app-specific password for iCloud.
	Password string `yaml:"password"`
	// PrimaryCalendar names the calendar treated as primary. Empty picks the first one.
	PrimaryCalendar string `yaml:"primary_calendar"`
}

// GoogleConfig configures the Google Calendar device calendar.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// Account selects the token-<account>.json written by the auth command.
	Account string `yaml:"account"`
	// CalendarIDs limits the calendars used. Empty means every calendar on the account.
	CalendarIDs []string `yaml:"calendar_ids"`
}

// LocalConfig selects and configures the device calendar.
type LocalConfig struct {
	Provider string       `yaml:"provider"`
	CalDAV   CalDAVConfig `yaml:"caldav"`
	Google   GoogleConfig `yaml:"google"`
}

// RemoteConfig selects and configures the shared store.
type RemoteConfig struct {
	Backend  string `yaml:"backend"`
	MongoURI string `yaml:"mongo_uri"`
	Database string `yaml:"database"`
}

// TwilioConfig holds Twilio credentials.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
}

// MessagingConfig selects the text message gateway.
type MessagingConfig struct {
	Gateway string       `yaml:"gateway"`
	Twilio  TwilioConfig `yaml:"twilio"`
}

// SyncConfig controls reconciliation passes.
type SyncConfig struct {
	// Schedule is a five-field cron expression used by "sync --cron".
	Schedule   string `yaml:"schedule"`
	PastDays   int    `yaml:"past_days"`
	FutureDays int    `yaml:"future_days"`
	// TiePolicy is "local" or "remote".
	TiePolicy string `yaml:"tie_policy"`
}

// Window returns the sync window lengths.
func (s SyncConfig) Window() (past, future time.Duration) {
	return time.Duration(s.PastDays) * 24 * time.Hour, time.Duration(s.FutureDays) * 24 * time.Hour
}

// SharingConfig controls share status checks.
type SharingConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Concurrency int           `yaml:"concurrency"`
}

// Config is the top-level application configuration.
type Config struct {
	UserID      string `yaml:"user_id"`
	DisplayName string `yaml:"display_name"`
	// Phone is the user's own number, used to read incoming invitations and shares.
	Phone    string `yaml:"phone"`
	LogLevel string `yaml:"log_level"`
	CacheDir string `yaml:"cache_dir"`
	// Timeout bounds every single call to the device calendar or the remote store.
	Timeout time.Duration `yaml:"timeout"`

	Local     LocalConfig     `yaml:"local"`
	Remote    RemoteConfig    `yaml:"remote"`
	Messaging MessagingConfig `yaml:"messaging"`
	Sync      SyncConfig      `yaml:"sync"`
	Sharing   SharingConfig   `yaml:"sharing"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in zero values with defaults.
func (c *Config) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir()
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Local.Provider == "" {
		c.Local.Provider = ProviderCalDAV
	}
	if c.Local.CalDAV.Endpoint == "" {
		c.Local.CalDAV.Endpoint = "https://caldav.icloud.com/"
	}
	if c.Local.Google.Account == "" {
		c.Local.Google.Account = "default"
	}
	if c.Remote.Backend == "" {
		c.Remote.Backend = BackendMongo
	}
	if c.Remote.MongoURI == "" {
		c.Remote.MongoURI = "mongodb://localhost:27017"
	}
	if c.Remote.Database == "" {
		c.Remote.Database = "calshare"
	}
	if c.Messaging.Gateway == "" {
		c.Messaging.Gateway = GatewayLog
	}
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "*/15 * * * *"
	}
	if c.Sync.PastDays <= 0 {
		c.Sync.PastDays = 30
	}
	if c.Sync.FutureDays <= 0 {
		c.Sync.FutureDays = 365
	}
	if c.Sync.TiePolicy == "" {
		c.Sync.TiePolicy = "local"
	}
	if c.Sharing.MaxAttempts <= 0 {
		c.Sharing.MaxAttempts = 3
	}
	if c.Sharing.RetryDelay <= 0 {
		c.Sharing.RetryDelay = time.Second
	}
	if c.Sharing.Concurrency <= 0 {
		c.Sharing.Concurrency = 4
	}
}

// Validate rejects unknown backend names.
func (c *Config) Validate() error {
	var errs []error
	switch c.Local.Provider {
	case ProviderCalDAV, ProviderGoogle, ProviderMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown local provider %q", c.Local.Provider))
	}
	switch c.Remote.Backend {
	case BackendMongo, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown remote backend %q", c.Remote.Backend))
	}
	switch c.Messaging.Gateway {
	case GatewayLog, GatewayTwilio:
	default:
		errs = append(errs, fmt.Errorf("unknown messaging gateway %q", c.Messaging.Gateway))
	}
	switch c.Sync.TiePolicy {
	case "local", "remote":
	default:
		errs = append(errs, fmt.Errorf("unknown tie policy %q", c.Sync.TiePolicy))
	}
	return errors.Join(errs...)
}

// ApplyEnv overrides fields from environment variables. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.UserID, "CALSHARE_USER_ID")
	set(&c.DisplayName, "CALSHARE_DISPLAY_NAME")
	set(&c.Phone, "CALSHARE_PHONE")
	set(&c.LogLevel, "LOG_LEVEL")
	set(&c.CacheDir, "CALSHARE_CACHE_DIR")
	set(&c.Local.Provider, "CALSHARE_LOCAL_PROVIDER")
	set(&c.Local.CalDAV.Endpoint, "CALDAV_ENDPOINT")
	set(&c.Local.CalDAV.Username, "ICLOUD_USERNAME")
	set(&c.Local.CalDAV.Password, "ICLOUD_APP_SPECIFIC_PASSWORD")
	set(&c.Local.CalDAV.PrimaryCalendar, "ICLOUD_CALENDAR_NAME")
	set(&c.Local.Google.ClientID, "GOOGLE_CLIENT_ID")
	set(&c.Local.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	set(&c.Local.Google.Account, "GOOGLE_ACCOUNT")
	if v, ok := lookup("GOOGLE_CALENDAR_IDS"); ok && v != "" {
		c.Local.Google.CalendarIDs = splitList(v)
	}
	set(&c.Remote.Backend, "CALSHARE_REMOTE_BACKEND")
	set(&c.Remote.MongoURI, "MONGODB_URI")
	set(&c.Remote.Database, "MONGODB_DATABASE")
	set(&c.Messaging.Gateway, "CALSHARE_MESSAGING_GATEWAY")
	set(&c.Messaging.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	set(&c.Messaging.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	set(&c.Messaging.Twilio.From, "TWILIO_FROM_NUMBER")
	if v, ok := lookup("CALSHARE_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Timeout = d
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DefaultPath is $XDG_CONFIG_HOME/calshare/config.yaml or its platform equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "calshare", "config.yaml")
}

// DefaultCacheDir is the platform user cache directory plus "calshare".
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "calshare")
}

// Load reads the YAML file at path. On first run the file does not exist
// yet; a default config is written there and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calshare-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
