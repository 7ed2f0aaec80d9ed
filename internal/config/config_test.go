package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Well-known development key, never used with funds.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testKeyAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

type testConfig struct {
	Timeout Duration   `yaml:"timeout"`
	Key     PrivateKey `yaml:"key"`
	URL     string     `yaml:"url"`
	Log     Log        `yaml:"log"`
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestReadYAML(t *testing.T) {
	t.Setenv("POLYTRADER_TEST_KEY", "0x"+testKeyHex)
	t.Setenv("POLYTRADER_TEST_HOST", "clob.example")

	path := writeTempFile(t, "config.yaml", `timeout: 1500ms
key: ${POLYTRADER_TEST_KEY}
url: https://${POLYTRADER_TEST_HOST}
log:
  level: debug
`)

	var cfg testConfig
	if err := ReadYAML(path, &cfg); err != nil {
		t.Fatalf("ReadYAML failed: %v", err)
	}
	if got := cfg.Timeout.Duration(); got != 1500*time.Millisecond {
		t.Errorf("timeout = %v, want 1.5s", got)
	}
	if cfg.URL != "https://clob.example" {
		t.Errorf("url = %q", cfg.URL)
	}
	if cfg.Key.PrivateKey == nil {
		t.Fatal("key was not decoded")
	}
	if got := cfg.Key.Address().Hex(); got != testKeyAddress {
		t.Errorf("address = %s, want %s", got, testKeyAddress)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestReadYAML_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad duration", "timeout: soon\n"},
		{"negative duration", "timeout: -1s\n"},
		{"bad key", "key: 0xnothex\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempFile(t, "config.yaml", tt.content)
			var cfg testConfig
			if err := ReadYAML(path, &cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestReadYAML_EmptyDuration(t *testing.T) {
	path := writeTempFile(t, "config.yaml", "timeout: \"\"\n")
	cfg := testConfig{Timeout: Duration(time.Second)}
	if err := ReadYAML(path, &cfg); err != nil {
		t.Fatalf("ReadYAML failed: %v", err)
	}
	if cfg.Timeout.Duration() != 0 {
		t.Errorf("timeout = %v, want 0", cfg.Timeout.Duration())
	}
}

func TestPrivateKeyString(t *testing.T) {
	key, err := ParsePrivateKey(testKeyHex)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}
	s := PrivateKey{key}.String()
	if s != "<redacted "+testKeyAddress+">" {
		t.Errorf("String() = %q", s)
	}
	if (PrivateKey{}).String() != "<unset>" {
		t.Error("unset key should print <unset>")
	}
}

func TestLoadEnv(t *testing.T) {
	path := writeTempFile(t, ".env", "POLYTRADER_TEST_FROM_FILE=loaded\n")
	t.Setenv("POLYTRADER_TEST_FROM_FILE", "")
	os.Unsetenv("POLYTRADER_TEST_FROM_FILE")

	if err := LoadEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}
	if got := os.Getenv("POLYTRADER_TEST_FROM_FILE"); got != "loaded" {
		t.Errorf("got %q, want loaded", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, closer, err := Log{Level: "info", Format: "json", File: path, MaxSizeMB: 1}.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Info("hello", "component", "test")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(b) == 0 {
		t.Error("log file is empty")
	}
}
