package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Local.Provider != ProviderCalDAV || cfg.Remote.Backend != BackendMongo || cfg.Messaging.Gateway != GatewayLog {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Timeout != 15*time.Second || cfg.Sharing.MaxAttempts != 3 || cfg.Sync.TiePolicy != "local" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v", info.Mode().Perm())
	}
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
user_id: u-olga
local:
  provider: google
  google:
    calendar_ids: [primary, work@example.com]
sync:
  past_days: 7
  tie_policy: remote
sharing:
  retry_delay: 250ms
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.UserID != "u-olga" || cfg.Local.Provider != ProviderGoogle || len(cfg.Local.Google.CalendarIDs) != 2 {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.Sharing.RetryDelay != 250*time.Millisecond {
		t.Fatalf("retry delay = %v", cfg.Sharing.RetryDelay)
	}
	past, future := cfg.Sync.Window()
	if past != 7*24*time.Hour || future != 365*24*time.Hour {
		t.Fatalf("window = %v, %v", past, future)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.DisplayName = "Olga"
	cfg.Timeout = 3 * time.Second
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.DisplayName != "Olga" || got.Timeout != 3*time.Second {
		t.Fatalf("got %+v", got)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CALSHARE_USER_ID":             "u-env",
		"ICLOUD_USERNAME":              "olga@icloud.com",
		"ICLOUD_APP_SPECIFIC_PASSWORD": "abcd-efgh",
		"GOOGLE_CALENDAR_IDS":          "primary, ,team@example.com",
		"TWILIO_FROM_NUMBER":           "+15550100",
		"CALSHARE_TIMEOUT":             "5s",
		"LOG_LEVEL":                    "",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	if cfg.UserID != "u-env" || cfg.Local.CalDAV.Username != "olga@icloud.com" || cfg.Local.CalDAV.Password != "abcd-efgh" {
		t.Fatalf("got %+v", cfg)
	}
	if ids := cfg.Local.Google.CalendarIDs; len(ids) != 2 || ids[1] != "team@example.com" {
		t.Fatalf("calendar ids = %v", ids)
	}
	if cfg.Messaging.Twilio.From != "+15550100" || cfg.Timeout != 5*time.Second {
		t.Fatalf("got %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Fatal("empty variable overrode a value")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Local.Provider = "outlook"
	cfg.Sync.TiePolicy = "coin"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error")
	}
}
