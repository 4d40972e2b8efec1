// Package config loads server settings. Later sources override earlier
// ones: built-in defaults, the YAML file named by --config, a .env file and
// PARLEY_* environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pliu/parley/internal/models"
	"github.com/spf13/pflag"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const envPrefix = "PARLEY_"

type Config struct {
	Addr     string         `yaml:"addr"`
	Database DatabaseConfig `yaml:"database"`
	Media    MediaConfig    `yaml:"media"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`

	// DefaultChannelQuotaMB applies when a channel is created without a
	// quota.
	DefaultChannelQuotaMB int64 `yaml:"default_channel_quota_mb"`
	// SlowQueryMS is the threshold for WARN-level query logging.
	SlowQueryMS int `yaml:"slow_query_ms"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite3, sqlite or postgres
	DSN    string `yaml:"dsn"`
}

type MediaConfig struct {
	Dir       string `yaml:"dir"`
	URLPrefix string `yaml:"url_prefix"`
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	CSRFKey       string        `yaml:"csrf_key"`
	SecureCookies bool          `yaml:"secure_cookies"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

func Default() Config {
	return Config{
		Addr:     ":8080",
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "parley.db"},
		Media:    MediaConfig{Dir: "media", URLPrefix: "/media"},
		Auth:     AuthConfig{SessionTTL: 7 * 24 * time.Hour},
		Log:      LogConfig{Level: "info", Format: "text"},

		DefaultChannelQuotaMB: 10,
		SlowQueryMS:           50,
	}
}

// Load builds the configuration for a process started with args (without
// the program name). pflag.ErrHelp is returned when --help was requested.
func Load(args []string) (*Config, error) {
	cfg := Default()
	flags := Default()
	var configPath, envFile string

	flagSet := pflag.NewFlagSet("parley", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file")
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment if present")
	flagSet.StringVar(&flags.Addr, "addr", flags.Addr, "http service address")
	flagSet.StringVar(&flags.Database.Driver, "db-driver", flags.Database.Driver, "database driver: sqlite3, sqlite or postgres")
	flagSet.StringVar(&flags.Database.DSN, "db-dsn", flags.Database.DSN, "database data source name")
	flagSet.StringVar(&flags.Media.Dir, "media-dir", flags.Media.Dir, "directory for uploaded files")
	flagSet.StringVar(&flags.Log.Level, "log-level", flags.Log.Level, "debug, info, warn or error")
	flagSet.StringVar(&flags.Log.Format, "log-format", flags.Log.Format, "text or json")
	flagSet.Int64Var(&flags.DefaultChannelQuotaMB, "default-quota-mb", flags.DefaultChannelQuotaMB, "attachment quota for new channels")
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := cfg.loadFile(configPath); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	flagSet.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = flags.Addr
		case "db-driver":
			cfg.Database.Driver = flags.Database.Driver
		case "db-dsn":
			cfg.Database.DSN = flags.Database.DSN
		case "media-dir":
			cfg.Media.Dir = flags.Media.Dir
		case "log-level":
			cfg.Log.Level = flags.Log.Level
		case "log-format":
			cfg.Log.Format = flags.Log.Format
		case "default-quota-mb":
			cfg.DefaultChannelQuotaMB = flags.DefaultChannelQuotaMB
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("ADDR", &c.Addr)
	str("DB_DRIVER", &c.Database.Driver)
	str("DB_DSN", &c.Database.DSN)
	str("MEDIA_DIR", &c.Media.Dir)
	str("MEDIA_URL", &c.Media.URLPrefix)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("CSRF_KEY", &c.Auth.CSRFKey)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup(envPrefix + "SESSION_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sSESSION_TTL: %w", envPrefix, err)
		}
		c.Auth.SessionTTL = d
	}
	if v, ok := lookup(envPrefix + "SECURE_COOKIES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSECURE_COOKIES: %w", envPrefix, err)
		}
		c.Auth.SecureCookies = b
	}
	if v, ok := lookup(envPrefix + "DEFAULT_QUOTA_MB"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sDEFAULT_QUOTA_MB: %w", envPrefix, err)
		}
		c.DefaultChannelQuotaMB = n
	}
	if v, ok := lookup(envPrefix + "SLOW_QUERY_MS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sSLOW_QUERY_MS: %w", envPrefix, err)
		}
		c.SlowQueryMS = n
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite3", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database dsn is required"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, fmt.Errorf("jwt secret must be at least 16 bytes (set %sJWT_SECRET)", envPrefix))
	}
	if c.Auth.CSRFKey != "" && len(c.Auth.CSRFKey) != 32 {
		errs = append(errs, errors.New("csrf key must be exactly 32 bytes"))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	if c.DefaultChannelQuotaMB <= 0 || c.DefaultChannelQuotaMB > models.MaxFileSizeMBLimit {
		errs = append(errs, fmt.Errorf("default channel quota must be between 1 and %d MB", models.MaxFileSizeMBLimit))
	}
	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// CSRFAuthKey returns the configured key, or one derived from the JWT
// secret when none is set.
func (c *Config) CSRFAuthKey() []byte {
	if c.Auth.CSRFKey != "" {
		return []byte(c.Auth.CSRFKey)
	}
	sum := blake3.Sum256([]byte("parley-csrf:" + c.Auth.JWTSecret))
	return sum[:]
}

func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryMS) * time.Millisecond
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", l.Level)
	}
	return level, nil
}

// NewLogger builds the process logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := l.level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
