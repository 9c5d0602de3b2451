/*
Package config loads the settings shared by cmd/server and cmd/creditctl.

SOURCES (later wins):
 1. Default()
 2. TOML file (-config / --config)
 3. .env file in the working directory, if present (never overrides the
    real environment)
 4. Environment variables
 5. Command-line flags, applied by the caller

FILE FORMAT:

	[server]
	port = 8080
	db_path = "./data/credit.db"
	allowed_origins = ["http://localhost:5173"]

	[engine]
	detail_concurrency = 6
	currency = "RWF"
	reconcile_interval = "5m"
	intent_grace = "2m"

	[client]
	base_url = "http://localhost:8080"
	timeout = "15s"
	shop = "shop-1"

	[log]
	level = "info"
	format = "text"      # or "json"
	file = ""            # rotated with lumberjack when set
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Server ServerConfig `toml:"server"`
	Engine EngineConfig `toml:"engine"`
	Client ClientConfig `toml:"client"`
	Log    LogConfig    `toml:"log"`
}

type ServerConfig struct {
	Port           int      `toml:"port" env:"CREDIT_PORT" validate:"min=1,max=65535"`
	DBPath         string   `toml:"db_path" env:"CREDIT_DB" validate:"required"`
	AllowedOrigins []string `toml:"allowed_origins" env:"CREDIT_ALLOWED_ORIGINS" envSeparator:","`
	// Scenario, when set, is loaded into the database at startup.
	Scenario string `toml:"scenario" env:"CREDIT_SCENARIO"`
}

type EngineConfig struct {
	DetailConcurrency int           `toml:"detail_concurrency" env:"CREDIT_DETAIL_CONCURRENCY" validate:"min=1"`
	Currency          string        `toml:"currency" env:"CREDIT_CURRENCY"`
	ReconcileInterval time.Duration `toml:"reconcile_interval" env:"CREDIT_RECONCILE_INTERVAL" validate:"gt=0"`
	IntentGrace       time.Duration `toml:"intent_grace" env:"CREDIT_INTENT_GRACE" validate:"gte=0"`
}

type ClientConfig struct {
	BaseURL string        `toml:"base_url" env:"CREDIT_LEDGER_URL" validate:"omitempty,url"`
	Timeout time.Duration `toml:"timeout" env:"CREDIT_CLIENT_TIMEOUT" validate:"gte=0"`
	Shop    string        `toml:"shop" env:"CREDIT_SHOP"`
}

type LogConfig struct {
	Level      string `toml:"level" env:"LOG_LEVEL" validate:"oneof=panic fatal error warn warning info debug trace"`
	Format     string `toml:"format" env:"LOG_FORMAT" validate:"oneof=text json"`
	File       string `toml:"file" env:"LOG_FILE"`
	MaxSizeMB  int    `toml:"max_size_mb" env:"LOG_MAX_SIZE_MB"`
	MaxBackups int    `toml:"max_backups" env:"LOG_MAX_BACKUPS"`
	MaxAgeDays int    `toml:"max_age_days" env:"LOG_MAX_AGE_DAYS"`
	Compress   bool   `toml:"compress" env:"LOG_COMPRESS"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			DBPath:         "./data/credit.db",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Engine: EngineConfig{
			DetailConcurrency: 6,
			Currency:          "RWF",
			ReconcileInterval: 5 * time.Minute,
			IntentGrace:       2 * time.Minute,
		},
		Client: ClientConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads path (optional) over the defaults, then applies .env and the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the `validate` tags. Each failing field becomes one error
// named by its TOML key.
func (c Config) Validate() error {
	err := validate.Struct(c)
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}
	errs := make([]error, 0, len(fields))
	for _, f := range fields {
		errs = append(errs, fmt.Errorf("%s: fails %q (got %v)", tomlKey(f.StructNamespace()), f.Tag(), f.Value()))
	}
	return errors.Join(errs...)
}

// tomlKey maps "Config.Engine.DetailConcurrency" to "engine.detail_concurrency".
func tomlKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 0 && parts[0] == "Config" {
		parts = parts[1:]
	}
	t := reflect.TypeOf(Config{})
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		f, ok := t.FieldByName(p)
		if !ok {
			keys = append(keys, strings.ToLower(p))
			continue
		}
		keys = append(keys, f.Tag.Get("toml"))
		t = f.Type
	}
	return strings.Join(keys, ".")
}

// =============================================================================
// LOGGING
// =============================================================================

// NewLogger builds a logrus logger for cfg. When cfg.File is set, output
// goes to stderr and to a size-rotated file.
func NewLogger(cfg LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}
	logger.SetOutput(out)

	return logger, nil
}
