package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the SecureBridge server.
// Precedence: CLI flags > env vars > defaults. Secrets are carried verbatim:
// no value read from the environment is ever trimmed or re-encoded.
type Config struct {
	HTTPPort    int
	DataDir     string // SQLite fallback location when no DB_HOST is set
	LogLevel    string
	LogFormat   string // "text" or "json"
	CORSOrigins string // comma-separated; empty disables CORS

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	AsteriskHost     string
	AsteriskPort     int
	AsteriskUsername string
	AsteriskSecret   string

	TrunkName string // default outbound trunk used by Originate
}

// defaults
const (
	defaultHTTPPort     = 8080
	defaultDataDir      = "./data"
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
	defaultAsteriskPort = 5038
	defaultDBPort       = 5432
	defaultTrunkName    = "default"
)

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("securebridge", flag.ContinueOnError)

	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the embedded SQLite store")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated allowed CORS origins (empty disables CORS)")
	fs.StringVar(&cfg.DBHost, "db-host", "", "PostgreSQL host (empty selects the embedded SQLite store)")
	fs.IntVar(&cfg.DBPort, "db-port", defaultDBPort, "PostgreSQL port")
	fs.StringVar(&cfg.DBName, "db-name", "securebridge", "PostgreSQL database name")
	fs.StringVar(&cfg.DBUser, "db-user", "", "PostgreSQL user")
	fs.StringVar(&cfg.DBPassword, "db-password", "", "PostgreSQL password")
	fs.StringVar(&cfg.AsteriskHost, "asterisk-host", "", "Asterisk AMI host")
	fs.IntVar(&cfg.AsteriskPort, "asterisk-port", defaultAsteriskPort, "Asterisk AMI port")
	fs.StringVar(&cfg.AsteriskUsername, "asterisk-username", "", "Asterisk AMI username")
	fs.StringVar(&cfg.AsteriskSecret, "asterisk-secret", "", "Asterisk AMI secret (transmitted byte-identically)")
	fs.StringVar(&cfg.TrunkName, "trunk", defaultTrunkName, "default outbound trunk name")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"http-port":         "HTTP_PORT",
		"data-dir":          "DATA_DIR",
		"log-level":         "LOG_LEVEL",
		"log-format":        "LOG_FORMAT",
		"cors-origins":      "CORS_ORIGINS",
		"db-host":           "DB_HOST",
		"db-port":           "DB_PORT",
		"db-name":           "DB_NAME",
		"db-user":           "DB_USER",
		"db-password":       "DB_PASSWORD",
		"asterisk-host":     "ASTERISK_HOST",
		"asterisk-port":     "ASTERISK_PORT",
		"asterisk-username": "ASTERISK_USERNAME",
		"asterisk-secret":   "ASTERISK_SECRET",
		"trunk":             "TRUNK_NAME",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "data-dir":
			cfg.DataDir = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "db-host":
			cfg.DBHost = val
		case "db-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.DBPort = v
			}
		case "db-name":
			cfg.DBName = val
		case "db-user":
			cfg.DBUser = val
		case "db-password":
			cfg.DBPassword = val
		case "asterisk-host":
			cfg.AsteriskHost = val
		case "asterisk-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.AsteriskPort = v
			}
		case "asterisk-username":
			cfg.AsteriskUsername = val
		case "asterisk-secret":
			cfg.AsteriskSecret = val
		case "trunk":
			cfg.TrunkName = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.AsteriskPort < 1 || c.AsteriskPort > 65535 {
		return fmt.Errorf("asterisk-port must be between 1 and 65535, got %d", c.AsteriskPort)
	}
	if c.DBPort < 1 || c.DBPort > 65535 {
		return fmt.Errorf("db-port must be between 1 and 65535, got %d", c.DBPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// UsePostgres reports whether the PostgreSQL store is selected.
func (c *Config) UsePostgres() bool {
	return c.DBHost != ""
}

// TrunkDefaults resolves the TRUNK_* environment family for the given trunk.
// For the default trunk the prefix is TRUNK_; for a named trunk it is
// TRUNK_<NAME>_. Only set or defaulted values are returned.
func TrunkDefaults(trunkName string) map[string]string {
	prefix := "TRUNK_"
	if trunkName != "" && trunkName != defaultTrunkName {
		prefix = "TRUNK_" + strings.ToUpper(trunkName) + "_"
	}

	get := func(key, fallback string) string {
		if v := os.Getenv(prefix + key); v != "" {
			return v
		}
		return fallback
	}

	settings := map[string]string{
		"type":             get("TYPE", "friend"),
		"send_rpid":        get("SEND_RPID", "yes"),
		"send_early_media": get("SEND_EARLY_MEDIA", "yes"),
		"qualify":          get("QUALIFY", "yes"),
		"port":             get("PORT", "5060"),
		"nat":              get("NAT", "force_rport,comedia"),
		"insecure":         get("INSECURE", "port,invite"),
		"host":             get("HOST", ""),
		"fromuser":         get("FROMUSER", ""),
		"disallow":         get("DISALLOW", "all"),
		"context":          get("CONTEXT", "from-trunk"),
		"allow":            get("ALLOW", "ulaw,alaw"),
		"username":         get("USERNAME", ""),
		"secret":           get("SECRET", ""),
	}

	out := make(map[string]string, len(settings))
	for k, v := range settings {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// ValidateTrunk checks that a trunk configuration is usable.
func ValidateTrunk(settings map[string]string) error {
	if settings["host"] == "" {
		return fmt.Errorf("trunk host is required")
	}
	return nil
}

// SlogHandler returns a slog.Handler configured with the configured format
// and level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
