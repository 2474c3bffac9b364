package config

import (
	"log/slog"
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"HTTP_PORT", "DATA_DIR", "LOG_LEVEL", "LOG_FORMAT",
		"DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD",
		"ASTERISK_HOST", "ASTERISK_PORT", "ASTERISK_USERNAME", "ASTERISK_SECRET",
		"TRUNK_NAME", "TRUNK_HOST", "TRUNK_SECRET",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.AsteriskPort != defaultAsteriskPort {
		t.Errorf("AsteriskPort = %d, want %d", cfg.AsteriskPort, defaultAsteriskPort)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.TrunkName != defaultTrunkName {
		t.Errorf("TrunkName = %q, want %q", cfg.TrunkName, defaultTrunkName)
	}
	if cfg.UsePostgres() {
		t.Error("UsePostgres() = true with no DB_HOST")
	}
}

func TestEnvVarOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DB_HOST", "db.example.com")
	t.Setenv("ASTERISK_HOST", "pbx.example.com")
	t.Setenv("ASTERISK_SECRET", "s3cret")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.DBHost != "db.example.com" {
		t.Errorf("DBHost = %q", cfg.DBHost)
	}
	if !cfg.UsePostgres() {
		t.Error("UsePostgres() = false with DB_HOST set")
	}
	if cfg.AsteriskHost != "pbx.example.com" {
		t.Errorf("AsteriskHost = %q", cfg.AsteriskHost)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := load([]string{"--http-port", "3000", "--log-level", "warn"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000 (flag beats env)", cfg.HTTPPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (flag beats env)", cfg.LogLevel)
	}
}

func TestSecretPreservedVerbatim(t *testing.T) {
	clearEnv(t)
	t.Setenv("ASTERISK_SECRET", "  padded secret  ")

	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.AsteriskSecret != "  padded secret  " {
		t.Errorf("AsteriskSecret = %q, whitespace not preserved", cfg.AsteriskSecret)
	}
}

func TestValidation(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"bad http port", []string{"--http-port", "0"}},
		{"bad asterisk port", []string{"--asterisk-port", "70000"}},
		{"bad log level", []string{"--log-level", "verbose"}},
		{"bad log format", []string{"--log-format", "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load(tt.args); err == nil {
				t.Errorf("load(%v) succeeded, want error", tt.args)
			}
		})
	}
}

func TestTrunkDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRUNK_HOST", "sip.carrier.example")
	t.Setenv("TRUNK_USERNAME", "outbound")
	t.Setenv("TRUNK_SECRET", "trunkpass")

	settings := TrunkDefaults("default")

	if settings["host"] != "sip.carrier.example" {
		t.Errorf("host = %q", settings["host"])
	}
	if settings["username"] != "outbound" {
		t.Errorf("username = %q", settings["username"])
	}
	if settings["context"] != "from-trunk" {
		t.Errorf("context default = %q", settings["context"])
	}
	if settings["qualify"] != "yes" {
		t.Errorf("qualify default = %q", settings["qualify"])
	}
	if err := ValidateTrunk(settings); err != nil {
		t.Errorf("ValidateTrunk: %v", err)
	}
}

func TestTrunkNamedPrefix(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRUNK_CARRIER2_HOST", "sip2.carrier.example")

	settings := TrunkDefaults("carrier2")
	if settings["host"] != "sip2.carrier.example" {
		t.Errorf("host = %q, want sip2.carrier.example", settings["host"])
	}
}

func TestValidateTrunkMissingHost(t *testing.T) {
	if err := ValidateTrunk(map[string]string{}); err == nil {
		t.Error("ValidateTrunk with no host succeeded, want error")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.level}
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
