package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	StorageFile     = "file"
	StoragePostgres = "postgres"

	RegistryMemory   = "memory"
	RegistryRedis    = "redis"
	RegistryPostgres = "postgres"
)

type Config struct {
	Env       string `yaml:"env" env:"APP_ENV" env-default:"development"`
	Port      string `yaml:"port" env:"PORT" env-default:"8080"`
	SentryDSN string `yaml:"sentry_dsn" env:"SENTRY_DSN"`

	Auth        Auth        `yaml:"auth"`
	Storage     Storage     `yaml:"storage"`
	Registry    Registry    `yaml:"registry"`
	Maintenance Maintenance `yaml:"maintenance"`
}

type Auth struct {
	JWTSecret         string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	JWTRefreshSecret  string        `yaml:"jwt_refresh_secret" env:"JWT_REFRESH_SECRET"`
	Issuer            string        `yaml:"issuer" env:"JWT_ISSUER"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL   time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	RefreshEnabled    bool          `yaml:"refresh_enabled" env:"REFRESH_TOKENS_ENABLED" env-default:"true"`
	MaxAttempts       int           `yaml:"max_attempts" env:"LOGIN_MAX_ATTEMPTS" env-default:"5"`
	LockWindow        time.Duration `yaml:"lock_window" env:"LOGIN_LOCK_WINDOW" env-default:"15m"`
	PasswordMinLength int           `yaml:"password_min_length" env:"PASSWORD_MIN_LENGTH" env-default:"6"`
	PasswordHasher    string        `yaml:"password_hasher" env:"PASSWORD_HASHER" env-default:"bcrypt"`
}

type Storage struct {
	Driver        string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"file"`
	UsersFile     string `yaml:"users_file" env:"USERS_FILE" env-default:"users.json"`
	DatabaseURL   string `yaml:"database_url" env:"DATABASE_URL"`
	RunMigrations bool   `yaml:"run_migrations" env:"RUN_MIGRATIONS_ON_STARTUP" env-default:"false"`
}

type Registry struct {
	Driver   string `yaml:"driver" env:"REFRESH_REGISTRY" env-default:"memory"`
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
}

type Maintenance struct {
	CronSecret string `yaml:"cron_secret" env:"CRON_SECRET"`
}

// Load reads CONFIG_PATH when set, otherwise the environment. A .env file is loaded
// first when loadDotEnv is true; variables already set win over it.
func Load(loadDotEnv bool) (*Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}

	var cfg Config
	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad(loadDotEnv bool) *Config {
	cfg, err := Load(loadDotEnv)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Auth.MaxAttempts <= 0 {
		return errors.New("LOGIN_MAX_ATTEMPTS must be positive")
	}
	if c.Auth.LockWindow <= 0 || c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return errors.New("lock window and token TTLs must be positive")
	}
	if c.Auth.PasswordMinLength < 0 {
		return errors.New("PASSWORD_MIN_LENGTH must not be negative")
	}

	switch c.Auth.PasswordHasher {
	case "bcrypt", "argon2", "plain":
	default:
		return fmt.Errorf("unknown PASSWORD_HASHER %q", c.Auth.PasswordHasher)
	}

	switch c.Storage.Driver {
	case StorageFile:
		if strings.TrimSpace(c.Storage.UsersFile) == "" {
			return errors.New("USERS_FILE is required for the file storage driver")
		}
	case StoragePostgres:
		if strings.TrimSpace(c.Storage.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}

	switch c.Registry.Driver {
	case RegistryMemory:
	case RegistryRedis:
		if strings.TrimSpace(c.Registry.RedisURL) == "" {
			return errors.New("REDIS_URL is required for the redis refresh registry")
		}
	case RegistryPostgres:
		if strings.TrimSpace(c.Storage.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required for the postgres refresh registry")
		}
	default:
		return fmt.Errorf("unknown REFRESH_REGISTRY %q", c.Registry.Driver)
	}

	return nil
}

// UsesDatabase reports whether any component needs DATABASE_URL.
func (c *Config) UsesDatabase() bool {
	return c.Storage.Driver == StoragePostgres || (c.Auth.RefreshEnabled && c.Registry.Driver == RegistryPostgres)
}

func (c *Config) RefreshSecret() string {
	if c.Auth.JWTRefreshSecret != "" {
		return c.Auth.JWTRefreshSecret
	}
	return c.Auth.JWTSecret
}
