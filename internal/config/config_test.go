package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.yaml", `
logging:
  level: debug
  console: true
  file:
    enabled: true
    path: /var/log/alarmd.log
storage:
  driver: sqlite
  path: /var/lib/alarmd/alarmd.db
  busy_timeout: 5s
scheduler:
  enabled: true
  timezone: America/New_York
  reload_every: 30s
  default_step_timeout: 2m
speech:
  command: "say {text}"
telegram:
  token: "123:abc"
  chat_id: 42
`)

	mgr := NewManager(path)
	cfg, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.File.Enabled {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "5s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.Timezone != "America/New_York" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Speech.Command != "say {text}" || cfg.Telegram.ChatID != 42 {
		t.Fatalf("speech/telegram = %+v %+v", cfg.Speech, cfg.Telegram)
	}
	if mgr.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.json", `{
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "storage": {"driver": "memory", "path": ""},
  "scheduler": {"enabled": true}
}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "memory" || !cfg.Scheduler.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.yaml", `
scheduler:
  enabled: true
  workers: 4
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown key should be rejected")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.yaml", `
scheduler:
  enabled: true
  reload_every: soon
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("bad duration should be rejected")
	}
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.yaml", `
scheduler:
  enabled: true
  timezone: Mars/Olympus_Mons
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("bad timezone should be rejected")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("ParseDurationField = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration should fail")
	}
	if _, err := ParseDurationField("x", "never"); err == nil {
		t.Fatal("junk duration should fail")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default = %v, %v", d, err)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.json", `{"scheduler": {"enabled": true}}`)
	mgr := NewManager(path)
	if _, err := mgr.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := mgr.Subscribe(1)
	next := &Config{Scheduler: SchedulerConfig{Enabled: false}}
	mgr.Commit(next)
	mgr.publish(next)

	select {
	case got := <-ch:
		if got != next {
			t.Fatal("subscriber received wrong config")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the update")
	}

	mgr.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}
