package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chat.MaxMessages != 50 || cfg.Chat.MaxTokens != 8000 {
		t.Errorf("chat limits = %+v", cfg.Chat)
	}
	if cfg.GroupID != DefaultGroupID {
		t.Errorf("group = %q", cfg.GroupID)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path == "" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestLoad_JSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	writeFile(t, path, `{
		// comments and trailing commas are fine
		group_id: "team notes",
		graphiti: { url: "http://graph:8000/", },
		chat: { max_messages: 20 },
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GroupID != "team-notes" {
		t.Errorf("group = %q, want team-notes", cfg.GroupID)
	}
	if cfg.Graphiti.URL != "http://graph:8000" {
		t.Errorf("graphiti url = %q", cfg.Graphiti.URL)
	}
	if cfg.Chat.MaxMessages != 20 {
		t.Errorf("max messages = %d", cfg.Chat.MaxMessages)
	}
	if cfg.Chat.MaxTokens != 8000 {
		t.Errorf("unset field lost its default: %d", cfg.Chat.MaxTokens)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "xerro:\n  url: http://xerro:9205\nstorage:\n  driver: memory\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Xerro.URL != "http://xerro:9205" || cfg.Storage.Driver != "memory" {
		t.Errorf("cfg = %+v / %+v", cfg.Xerro, cfg.Storage)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GB_GROUP_ID", "from-env")
	t.Setenv("GB_GRAPHITI_URL", "http://env:1")
	t.Setenv("GB_CHAT_MAX_TOKENS", "1234")
	t.Setenv("GB_LOG_LEVEL", "debug")

	path := filepath.Join(t.TempDir(), "config.json5")
	writeFile(t, path, `{group_id: "from-file", chat: {max_tokens: 10}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GroupID != "from-env" || cfg.Graphiti.URL != "http://env:1" {
		t.Errorf("env not applied: %q %q", cfg.GroupID, cfg.Graphiti.URL)
	}
	if cfg.Chat.MaxTokens != 1234 || cfg.Log.Level != "debug" {
		t.Errorf("env not applied: %d %q", cfg.Chat.MaxTokens, cfg.Log.Level)
	}
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	writeFile(t, path, `{chat: {max_messages: "lots"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvPath, "")
	if got := ResolvePath("/tmp/x.yaml"); got != "/tmp/x.yaml" {
		t.Errorf("flag path = %q", got)
	}

	t.Setenv(EnvPath, "/etc/gb.json5")
	if got := ResolvePath(""); got != "/etc/gb.json5" {
		t.Errorf("env path = %q", got)
	}

	t.Setenv(EnvPath, "")
	if got := ResolvePath(""); filepath.Base(got) != File {
		t.Errorf("default path = %q", got)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Auth.Token = "secret"
	r := cfg.Redacted()
	if r.Auth.Token != "***" {
		t.Errorf("token not redacted: %q", r.Auth.Token)
	}
	if cfg.Auth.Token != "secret" {
		t.Error("Redacted mutated the original")
	}
}

func TestNormalizeGroupID(t *testing.T) {
	cases := map[string]string{
		"":              "default",
		"   ":           "default",
		"notes":         "notes",
		"Work_Notes-2":  "Work_Notes-2",
		"team notes":    "team-notes",
		"  a/b/c  ":     "a-b-c",
		"--weird!!--":   "weird",
		"!!!":           "default",
		"proj.alpha.v2": "proj-alpha-v2",
	}
	for in, want := range cases {
		if got := NormalizeGroupID(in); got != want {
			t.Errorf("NormalizeGroupID(%q) = %q, want %q", in, got, want)
		}
	}

	long := ""
	for i := 0; i < 100; i++ {
		long += "ab "
	}
	if got := NormalizeGroupID(long); len(got) > 64 {
		t.Errorf("len = %d, want <= 64", len(got))
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	writeFile(t, path, `{chat: {max_messages: 10}}`)

	w := NewWatcher(path)
	w.debounce = 20 * time.Millisecond

	var last atomic.Int64
	w.OnChange(func(cfg *Config) { last.Store(int64(cfg.Chat.MaxMessages)) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, `{chat: {max_messages: 33}}`)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && last.Load() != 33 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := last.Load(); got != 33 {
		t.Fatalf("reloaded max_messages = %d, want 33", got)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	writeFile(t, path, `{}`)

	w := NewWatcher(path)
	w.debounce = 10 * time.Millisecond
	var calls atomic.Int32
	w.OnChange(func(*Config) { calls.Add(1) })

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	writeFile(t, filepath.Join(dir, "other.txt"), "x")
	time.Sleep(100 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("handler called %d times for an unrelated file", n)
	}
}
