// Package config loads server settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/Pulse/internal/blob"
	"github.com/soaringjerry/Pulse/internal/utils"
)

const (
	DefaultPath = "pulse.yaml"

	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"

	// BlobNone disables snapshot archiving.
	BlobNone = "none"
)

type StorageConfig struct {
	Driver        string `yaml:"driver"`
	MemoryPath    string `yaml:"memory_path"`
	SQLitePath    string `yaml:"sqlite_path"`
	MigrationsDir string `yaml:"migrations_dir"`
	PostgresDSN   string `yaml:"postgres_dsn"`
}

type AdminConfig struct {
	Email        string `yaml:"email"`
	PasswordHash string `yaml:"password_hash"`
}

type BlobConfig struct {
	Driver string        `yaml:"driver"`
	Root   string        `yaml:"root"`
	S3     blob.S3Config `yaml:"s3"`
}

// Config holds the runtime configuration for the server.
type Config struct {
	Addr        string        `yaml:"addr"`
	Storage     StorageConfig `yaml:"storage"`
	JWTSecret   string        `yaml:"jwt_secret"`
	Admin       AdminConfig   `yaml:"admin"`
	CORSOrigins []string      `yaml:"cors_origins"`
	Blob        BlobConfig    `yaml:"blob"`
	Metrics     bool          `yaml:"metrics"`
	StaticDir   string        `yaml:"static_dir"`
	DevFrontend string        `yaml:"dev_frontend_url"`
	Commit      string        `yaml:"-"`
	BuildTime   string        `yaml:"-"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Addr: ":8080",
		Storage: StorageConfig{
			Driver:     StorageMemory,
			MemoryPath: "./data/pulse.json",
			SQLitePath: "./data/pulse.db",
		},
		Blob:    BlobConfig{Driver: string(blob.DriverMemory)},
		Metrics: true,
	}
}

// Load reads .env (if present), then the YAML file named by PULSE_CONFIG
// (default pulse.yaml, missing is fine), then PULSE_* overrides.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return LoadFrom(utils.SafeEnv("PULSE_CONFIG", DefaultPath))
}

// LoadFrom is Load with an explicit YAML path. It does not read .env.
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	if err := cfg.readFile(path); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) readFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Addr = utils.SafeEnv("PULSE_ADDR", c.Addr)
	c.Storage.Driver = strings.ToLower(utils.SafeEnv("PULSE_STORAGE_DRIVER", c.Storage.Driver))
	c.Storage.MemoryPath = utils.SafeEnv("PULSE_DB_PATH", c.Storage.MemoryPath)
	c.Storage.SQLitePath = utils.SafeEnv("PULSE_SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.MigrationsDir = utils.SafeEnv("PULSE_MIGRATIONS_DIR", c.Storage.MigrationsDir)
	c.Storage.PostgresDSN = utils.SafeEnv("PULSE_POSTGRES_DSN", c.Storage.PostgresDSN)
	c.JWTSecret = utils.SafeEnv("PULSE_JWT_SECRET", c.JWTSecret)
	c.Admin.Email = utils.SafeEnv("PULSE_ADMIN_EMAIL", c.Admin.Email)
	c.Admin.PasswordHash = utils.SafeEnv("PULSE_ADMIN_PASSWORD_HASH", c.Admin.PasswordHash)
	c.CORSOrigins = utils.EnvList("PULSE_CORS_ORIGINS", c.CORSOrigins)
	c.StaticDir = utils.SafeEnv("PULSE_STATIC_DIR", c.StaticDir)
	c.DevFrontend = utils.SafeEnv("PULSE_DEV_FRONTEND_URL", c.DevFrontend)
	c.Commit = os.Getenv("PULSE_COMMIT")
	c.BuildTime = os.Getenv("PULSE_BUILD_TIME")

	c.Blob.Driver = strings.ToLower(utils.SafeEnv("PULSE_BLOB_DRIVER", c.Blob.Driver))
	c.Blob.Root = utils.SafeEnv("PULSE_BLOB_ROOT", c.Blob.Root)
	s3 := &c.Blob.S3
	s3.Bucket = utils.SafeEnv("PULSE_BLOB_S3_BUCKET", s3.Bucket)
	s3.Region = utils.SafeEnv("PULSE_BLOB_S3_REGION", s3.Region)
	s3.Endpoint = utils.SafeEnv("PULSE_BLOB_S3_ENDPOINT", s3.Endpoint)
	s3.Prefix = utils.SafeEnv("PULSE_BLOB_S3_PREFIX", s3.Prefix)
	s3.AccessKeyID = utils.SafeEnv("PULSE_BLOB_S3_ACCESS_KEY_ID", s3.AccessKeyID)
	s3.SecretAccessKey = utils.SafeEnv("PULSE_BLOB_S3_SECRET_ACCESS_KEY", s3.SecretAccessKey)

	var err error
	if s3.PathStyle, err = envBool("PULSE_BLOB_S3_PATH_STYLE", s3.PathStyle); err != nil {
		return err
	}
	if c.Metrics, err = envBool("PULSE_METRICS", c.Metrics); err != nil {
		return err
	}
	return nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// Validate rejects driver names and settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("config: sqlite storage needs sqlite_path")
		}
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: postgres storage needs postgres_dsn")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case BlobNone, string(blob.DriverMemory), string(blob.DriverFilesystem):
	case string(blob.DriverS3):
		if c.Blob.S3.Bucket == "" {
			return errors.New("config: s3 blob driver needs a bucket")
		}
	default:
		return fmt.Errorf("config: unknown blob driver %q", c.Blob.Driver)
	}
	if c.Admin.PasswordHash != "" && strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("config: jwt_secret is required when an admin account is configured")
	}
	return nil
}

// BlobStore returns the blob backend settings, or false when archiving is off.
func (c Config) BlobStore() (blob.Config, bool) {
	if c.Blob.Driver == BlobNone {
		return blob.Config{}, false
	}
	return blob.Config{Driver: blob.Driver(c.Blob.Driver), Root: c.Blob.Root, S3: c.Blob.S3}, true
}
