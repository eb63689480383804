package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != defaultListen || cfg.DefaultColor != "#4F46E5" || cfg.MaxOccurrencesPerTask != 5000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "timezone: Europe/Berlin\nbasic_auth:\n  username: admin\n  password: secret\nlog:\n  level: loud\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Timezone != "Europe/Berlin" || cfg.Listen != defaultListen {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.BasicAuth == nil || cfg.BasicAuth.Username != "admin" {
		t.Fatalf("basic auth not loaded: %+v", cfg.BasicAuth)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("unknown level should fall back to info, got %q", cfg.Log.Level)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: [unclosed"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Telegram = &TelegramConfig{Token: "t", ChatID: 7}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Telegram == nil || got.Telegram.ChatID != 7 {
		t.Fatalf("telegram not persisted: %+v", got.Telegram)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cfg.Timezone = "Mars/Olympus"
	cfg.DefaultColor = "indigo"
	cfg.ReminderCron = "every minute"
	cfg.Telegram = &TelegramConfig{Token: "t"}
	cfg.MaxOccurrencesPerTask = -1
	cfg.MaxRangeDays = -30
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"timezone", "default_color", "reminder_cron", "chat_id", "max_occurrences_per_task", "max_range_days"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"AGENDA_LISTEN":                   ":9000",
		"AGENDA_TIMEZONE":                 "Asia/Seoul",
		"AGENDA_MAX_OCCURRENCES_PER_TASK": "100",
		"AGENDA_MAX_RANGE_DAYS":           "400",
		"AGENDA_BASIC_AUTH_USER":          "u",
		"AGENDA_BASIC_AUTH_PASSWORD":      "p",
		"AGENDA_TELEGRAM_TOKEN":           "tok",
		"AGENDA_TELEGRAM_CHAT_ID":         "-100123",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.Timezone != "Asia/Seoul" || cfg.MaxOccurrencesPerTask != 100 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.MaxRangeDays != 400 {
		t.Fatalf("max range days not applied: %d", cfg.MaxRangeDays)
	}
	if cfg.BasicAuth == nil || cfg.BasicAuth.Password != "p" {
		t.Fatalf("basic auth not applied")
	}
	if cfg.Telegram == nil || cfg.Telegram.Token != "tok" || cfg.Telegram.ChatID != -100123 {
		t.Fatalf("telegram not applied: %+v", cfg.Telegram)
	}

	env["AGENDA_MAX_RANGE_DAYS"] = "-5"
	cfg = DefaultConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "max_range_days") {
		t.Fatalf("negative range from env must fail validation, got %v", err)
	}

	env["AGENDA_MAX_RANGE_DAYS"] = "wide"
	if err := DefaultConfig().ApplyEnv(lookup); err == nil {
		t.Fatalf("expected error for non-numeric range")
	}
	env["AGENDA_MAX_RANGE_DAYS"] = "400"

	env["AGENDA_TELEGRAM_CHAT_ID"] = "abc"
	if err := DefaultConfig().ApplyEnv(lookup); err == nil {
		t.Fatalf("expected error for non-numeric chat id")
	}
}
