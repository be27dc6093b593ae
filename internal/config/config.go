package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr   = ":8080"
	defaultMetaDSN      = "memory://"
	defaultChunkSize    = 1 << 20
	defaultMinChunkSize = 64 << 10
	defaultMaxChunkSize = 16 << 20
	defaultMaxFileSize  = 1 << 30
	defaultSessionTTL   = 24 * time.Hour
	defaultSweepEvery   = 30 * time.Minute
	defaultFetchTimeout = 300 * time.Second
	defaultKeepAlive    = 90 * time.Second
	defaultProgressStep = 1 << 20
	defaultProgressTick = 500 * time.Millisecond
	defaultUserAgent    = "drive-lite/1.0"
	defaultArchivePool  = 2
)

type Config struct {
	ListenAddr string          `yaml:"listen_addr" json:"listen_addr"`
	MetaDSN    string          `yaml:"meta_dsn" json:"-"`
	LogLevel   string          `yaml:"log_level" json:"log_level"`
	LogPretty  bool            `yaml:"log_pretty" json:"log_pretty"`
	Storages   []StorageConfig `yaml:"storages" json:"storages"`
	Upload     UploadConfig    `yaml:"upload" json:"upload"`
	Remote     RemoteConfig    `yaml:"remote" json:"remote"`
	Auth       AuthConfig      `yaml:"auth" json:"-"`
	Archive    ArchiveConfig   `yaml:"archive" json:"archive"`
}

// StorageConfig — статически объявленное хранилище.
type StorageConfig struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Path            string   `yaml:"path" json:"path"`
	MaxFileSize     int64    `yaml:"max_file_size" json:"max_file_size"`
	AllowExtensions []string `yaml:"allow_extensions" json:"allow_extensions"`
	BlockExtensions []string `yaml:"block_extensions" json:"block_extensions"`
	Disabled        bool     `yaml:"disabled" json:"disabled"`
}

type UploadConfig struct {
	ChunkSize     int64         `yaml:"chunk_size" json:"chunk_size"`
	MinChunkSize  int64         `yaml:"min_chunk_size" json:"min_chunk_size"`
	MaxChunkSize  int64         `yaml:"max_chunk_size" json:"max_chunk_size"`
	MaxFileSize   int64         `yaml:"max_file_size" json:"max_file_size"`
	SessionTTL    time.Duration `yaml:"session_ttl" json:"session_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	TempDir       string        `yaml:"temp_dir" json:"temp_dir"`
}

type RemoteConfig struct {
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	KeepAliveTimeout time.Duration `yaml:"keep_alive_timeout" json:"keep_alive_timeout"`
	UserAgent        string        `yaml:"user_agent" json:"user_agent"`
	ProxyURL         string        `yaml:"proxy_url" json:"-"`
	ProgressBytes    int64         `yaml:"progress_bytes" json:"progress_bytes"`
	ProgressInterval time.Duration `yaml:"progress_interval" json:"progress_interval"`
	MaxConcurrent    int           `yaml:"max_concurrent" json:"max_concurrent"`
	S3Profile        string        `yaml:"s3_profile" json:"s3_profile"`
	S3Region         string        `yaml:"s3_region" json:"s3_region"`
	S3Endpoint       string        `yaml:"s3_endpoint" json:"s3_endpoint"`
	S3PathStyle      bool          `yaml:"s3_path_style" json:"s3_path_style"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type ArchiveConfig struct {
	Workers int `yaml:"workers" json:"workers"`
}

// Load читает YAML-конфигурацию по CONFIG_PATH, применяет ENV-переопределения и дефолты.
func Load() (*Config, error) {
	return LoadFile(getenv("CONFIG_PATH", "./config.yaml"))
}

// LoadFile читает конфигурацию из указанного файла.
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	c.applyEnv()
	c.ApplyDefaults()

	return &c, c.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("META_DSN"); v != "" {
		c.MetaDSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("UPLOAD_TEMP_DIR"); v != "" {
		c.Upload.TempDir = v
	}
}

// ApplyDefaults заполняет незаданные поля значениями по умолчанию.
func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.MetaDSN == "" {
		c.MetaDSN = defaultMetaDSN
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	u := &c.Upload
	if u.ChunkSize <= 0 {
		u.ChunkSize = defaultChunkSize
	}
	if u.MinChunkSize <= 0 {
		u.MinChunkSize = defaultMinChunkSize
	}
	if u.MaxChunkSize <= 0 {
		u.MaxChunkSize = defaultMaxChunkSize
	}
	if u.MaxFileSize <= 0 {
		u.MaxFileSize = defaultMaxFileSize
	}
	if u.SessionTTL <= 0 {
		u.SessionTTL = defaultSessionTTL
	}
	if u.SweepInterval <= 0 {
		u.SweepInterval = defaultSweepEvery
	}
	if u.TempDir == "" {
		u.TempDir = filepath.Join(os.TempDir(), "drive-lite-uploads")
	}

	r := &c.Remote
	if r.Timeout <= 0 {
		r.Timeout = defaultFetchTimeout
	}
	if r.KeepAliveTimeout <= 0 {
		r.KeepAliveTimeout = defaultKeepAlive
	}
	if r.UserAgent == "" {
		r.UserAgent = defaultUserAgent
	}
	if r.ProgressBytes <= 0 {
		r.ProgressBytes = defaultProgressStep
	}
	if r.ProgressInterval <= 0 {
		r.ProgressInterval = defaultProgressTick
	}

	if c.Archive.Workers <= 0 {
		c.Archive.Workers = defaultArchivePool
	}
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	if c.Upload.MinChunkSize > c.Upload.MaxChunkSize {
		return fmt.Errorf("upload.min_chunk_size exceeds upload.max_chunk_size")
	}
	seen := map[string]struct{}{}
	for _, s := range c.Storages {
		if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("storage entries need both id and path")
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate storage id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}

	return def
}
