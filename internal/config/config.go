// Package config builds the service configuration from defaults, an optional
// .env file and FRAUDSCORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/fraudscore/internal/domain"
)

// EnvPrefix prefixes every variable read by Load.
const EnvPrefix = "FRAUDSCORE_"

// Load reads configuration from environment variables on top of
// domain.DefaultConfig. It loads the given .env files first (".env" when none
// are given); missing files are ignored and variables already set in the
// environment win over the files.
func Load(envFiles ...string) (*domain.Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := domain.DefaultConfig()
	env := &reader{}

	// Server
	env.setString("HOST", &cfg.Server.Host)
	env.setInt("PORT", &cfg.Server.Port)
	env.setInt("READ_TIMEOUT", &cfg.Server.ReadTimeout)
	env.setInt("WRITE_TIMEOUT", &cfg.Server.WriteTimeout)

	// Model artifact
	env.setString("MODEL_STORE", &cfg.Model.Store)
	env.setString("MODEL_ID", &cfg.Model.ID)
	env.setString("MODEL_PATH", &cfg.Model.Path)
	env.setString("MODEL_DIR", &cfg.Model.Dir)
	env.setString("REDIS_ADDR", &cfg.Model.RedisAddr)
	env.setString("REDIS_PASSWORD", &cfg.Model.RedisPassword)
	env.setInt("REDIS_DB", &cfg.Model.RedisDB)

	// Dataset
	env.setString("DATASET_DRIVER", &cfg.Dataset.Driver)
	env.setString("DATASET_CSV", &cfg.Dataset.CSVPath)
	env.setString("SQLITE_PATH", &cfg.Dataset.SQLitePath)
	env.setString("POSTGRES_HOST", &cfg.Dataset.PostgresHost)
	env.setInt("POSTGRES_PORT", &cfg.Dataset.PostgresPort)
	env.setString("POSTGRES_USER", &cfg.Dataset.PostgresUser)
	env.setString("POSTGRES_PASSWORD", &cfg.Dataset.PostgresPassword)
	env.setString("POSTGRES_DB", &cfg.Dataset.PostgresDB)
	env.setString("POSTGRES_SSLMODE", &cfg.Dataset.PostgresSSLMode)
	env.setInt("DB_MAX_OPEN_CONNS", &cfg.Dataset.MaxOpenConns)
	env.setInt("DB_MAX_IDLE_CONNS", &cfg.Dataset.MaxIdleConns)
	env.setDuration("DB_CONN_MAX_LIFETIME", &cfg.Dataset.ConnMaxLifetime)

	// Event bus
	env.setString("BUS", &cfg.EventBus.Type)
	env.setInt("BUS_BUFFER", &cfg.EventBus.ChannelBufferSize)
	env.setString("NATS_URL", &cfg.EventBus.NATSUrl)
	env.setString("NATS_TOKEN", &cfg.EventBus.NATSToken)
	env.setInt("NATS_MAX_RECONNECTS", &cfg.EventBus.NATSMaxReconnects)
	env.setInt("NATS_RECONNECT_WAIT", &cfg.EventBus.NATSReconnectWait)

	// Logging
	env.setString("LOG_LEVEL", &cfg.Logging.Level)
	env.setString("LOG_FORMAT", &cfg.Logging.Format)
	env.setString("LOG_FILE", &cfg.Logging.File)
	debug := false
	env.setBool("DEBUG", &debug)
	if debug {
		cfg.Logging.Level = "debug"
	}

	// Tracing
	env.setBool("TRACING_ENABLED", &cfg.Tracing.Enabled)
	env.setString("SERVICE_NAME", &cfg.Tracing.ServiceName)
	env.setString("OTLP_ENDPOINT", &cfg.Tracing.Endpoint)

	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values Load cannot default.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("%sPORT must be between 1 and 65535, got %d", EnvPrefix, cfg.Server.Port))
	}

	switch cfg.Model.Store {
	case "file":
		if cfg.Model.Path == "" && cfg.Model.ID == "" {
			errs = append(errs, fmt.Errorf("%sMODEL_ID or %sMODEL_PATH is required", EnvPrefix, EnvPrefix))
		}
	case "redis":
		if cfg.Model.ID == "" {
			errs = append(errs, fmt.Errorf("%sMODEL_ID is required for the redis store", EnvPrefix))
		}
	default:
		errs = append(errs, fmt.Errorf("%sMODEL_STORE must be file or redis, got %q", EnvPrefix, cfg.Model.Store))
	}

	switch cfg.Dataset.Driver {
	case "csv":
		if cfg.Dataset.CSVPath == "" {
			errs = append(errs, fmt.Errorf("%sDATASET_CSV is required for the csv driver", EnvPrefix))
		}
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("%sDATASET_DRIVER must be csv, sqlite or postgres, got %q", EnvPrefix, cfg.Dataset.Driver))
	}

	switch cfg.EventBus.Type {
	case "channel", "nats", "none":
	default:
		errs = append(errs, fmt.Errorf("%sBUS must be channel, nats or none, got %q", EnvPrefix, cfg.EventBus.Type))
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%sLOG_LEVEL must be debug, info, warn or error, got %q", EnvPrefix, cfg.Logging.Level))
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("%sLOG_FORMAT must be json or text, got %q", EnvPrefix, cfg.Logging.Format))
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, fmt.Errorf("%sOTLP_ENDPOINT is required when tracing is enabled", EnvPrefix))
	}

	return errors.Join(errs...)
}

// reader applies set variables to config fields and collects parse errors.
type reader struct {
	errs []error
}

func (r *reader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *reader) setString(key string, dst *string) {
	if v, ok := r.lookup(key); ok {
		*dst = v
	}
}

func (r *reader) setInt(key string, dst *int) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %q is not an integer", EnvPrefix, key, v))
		return
	}
	*dst = n
}

func (r *reader) setBool(key string, dst *bool) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %q is not a boolean", EnvPrefix, key, v))
		return
	}
	*dst = b
}

func (r *reader) setDuration(key string, dst *time.Duration) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %q is not a duration", EnvPrefix, key, v))
		return
	}
	*dst = d
}
