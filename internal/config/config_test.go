package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GOOGLE_API_KEY", "ROBOTBOX_ADDR", "ROBOTBOX_MODEL", "ROBOTBOX_PUSH_INTERVAL",
		"ROBOTBOX_JPEG_QUALITY", "ROBOTBOX_VISION", "ROBOTBOX_STUN", "ROBOTBOX_SECRETS",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultValidatesWithKey(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected error without API key")
	}
	cfg.Model.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Tutor.PushInterval.Duration != time.Second {
		t.Errorf("Expected 1s push interval, got %v", cfg.Tutor.PushInterval)
	}
	if cfg.Capture.STUNServers[0] != DefaultSTUN {
		t.Errorf("Unexpected STUN default: %v", cfg.Capture.STUNServers)
	}
	if len(cfg.Model.Modalities) != 1 || cfg.Model.Modalities[0] != "TEXT" {
		t.Errorf("Expected TEXT turn-based modality, got %v", cfg.Model.Modalities)
	}
	if len(cfg.Model.LiveModalities) != 1 || cfg.Model.LiveModalities[0] != "AUDIO" {
		t.Errorf("Expected AUDIO live modality, got %v", cfg.Model.LiveModalities)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "robotbox.toml")
	content := `
secrets_path = ""

[server]
addr = ":9000"

[tutor]
push_interval = "250ms"
jpeg_quality = 55

[model]
model = "from-file"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ROBOTBOX_MODEL", "from-env")
	t.Setenv("GOOGLE_API_KEY", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("Expected file addr, got %s", cfg.Server.Addr)
	}
	if cfg.Tutor.PushInterval.Duration != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", cfg.Tutor.PushInterval)
	}
	if cfg.Tutor.JPEGQuality != 55 {
		t.Errorf("Expected quality 55, got %d", cfg.Tutor.JPEGQuality)
	}
	if cfg.Model.Model != "from-env" {
		t.Errorf("Expected env to override file, got %s", cfg.Model.Model)
	}
	if cfg.Model.APIKey != "env-key" {
		t.Errorf("Expected env key, got %q", cfg.Model.APIKey)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
}

func TestLoadBadEnvDuration(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("ROBOTBOX_PUSH_INTERVAL", "soon")
	_, err := Load("")
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) || cerr.Field != "ROBOTBOX_PUSH_INTERVAL" {
		t.Fatalf("Expected push interval error, got %v", err)
	}
}

func TestResolveAPIKeySecretsFirst(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.toml")
	if err := os.WriteFile(path, []byte(`GOOGLE_API_KEY = "from-secrets"`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOOGLE_API_KEY", "from-env")

	key, err := ResolveAPIKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if key != "from-secrets" {
		t.Errorf("Expected secrets file to win, got %q", key)
	}

	key, err = ResolveAPIKey(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if key != "from-env" {
		t.Errorf("Expected env fallback, got %q", key)
	}
}

func TestMissingKeyIsConfigurationError(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("Expected ErrMissingAPIKey, got %v", err)
	}
}

func TestInstructionFallbackAndReload(t *testing.T) {
	in, err := NewInstruction("", "default text", nil)
	if err != nil {
		t.Fatal(err)
	}
	if in.Text() != "default text" {
		t.Errorf("Expected fallback, got %q", in.Text())
	}
	if err := in.Watch(context.Background()); err != nil {
		t.Errorf("Watch without file should return nil, got %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "instruction.txt")
	if err := os.WriteFile(path, []byte("  first  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	in, err = NewInstruction(path, "default text", nil)
	if err != nil {
		t.Fatal(err)
	}
	if in.Text() != "first" {
		t.Errorf("Expected trimmed file text, got %q", in.Text())
	}

	if err := os.WriteFile(path, []byte("second"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := in.reload(); err != nil {
		t.Fatal(err)
	}
	if in.Text() != "second" {
		t.Errorf("Expected reloaded text, got %q", in.Text())
	}
}

// waitText rewrites the file with write until the instruction reports want.
// The first writes may land before the watcher is registered.
func waitText(t *testing.T, in *Instruction, want string, write func()) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		write()
		for i := 0; i < 10; i++ {
			if in.Text() == want {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("Expected %q after file change, still %q", want, in.Text())
}

func TestInstructionWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instruction.txt")
	if err := os.WriteFile(path, []byte("first"), 0o600); err != nil {
		t.Fatal(err)
	}
	in, err := NewInstruction(path, "default text", nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Watch(ctx) }()

	waitText(t, in, "edited in place", func() {
		if err := os.WriteFile(path, []byte("edited in place\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	})

	// Editors that save by writing a temp file and renaming it over the target.
	waitText(t, in, "replaced", func() {
		tmp := filepath.Join(dir, "instruction.txt.swp")
		if err := os.WriteFile(tmp, []byte("replaced"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := os.Rename(tmp, path); err != nil {
			t.Fatal(err)
		}
	})

	// Other files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("unrelated"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if in.Text() != "replaced" {
		t.Errorf("Unrelated file changed the instruction to %q", in.Text())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}
