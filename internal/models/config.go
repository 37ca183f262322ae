package models

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	ServerAddr  string `yaml:"server_addr"`
	DatabaseURL string `yaml:"database_url"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	KafkaBroker string `yaml:"kafka_broker"`
	KafkaTopic  string `yaml:"kafka_topic"`

	// Blob storage. Backend is "minio" or "fs"; StoragePath is the local
	// root used by the fs backend.
	BlobBackend    string `yaml:"blob_backend"`
	StoragePath    string `yaml:"storage_path"`
	MinioEndpoint  string `yaml:"minio_endpoint"`
	MinioAccessKey string `yaml:"minio_access_key"`
	MinioSecretKey string `yaml:"minio_secret_key"`
	MinioBucket    string `yaml:"minio_bucket"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`

	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	DefaultQuality int   `yaml:"default_quality"`

	// Role-specific cache TTLs, seconds.
	TransformTTLSec int `yaml:"transform_ttl_sec"`
	MetadataTTLSec  int `yaml:"metadata_ttl_sec"`
	ListTTLSec      int `yaml:"list_ttl_sec"`
}

// LoadConfig reads the yaml file at path and applies environment overrides.
// A .env file next to the binary is honored when present.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.ServerAddr, "SERVER_ADDR")
	overrideString(&c.DatabaseURL, "DATABASE_URL")
	overrideString(&c.RedisAddr, "REDIS_ADDR")
	overrideString(&c.RedisPassword, "REDIS_PASSWORD")
	overrideString(&c.KafkaBroker, "KAFKA_BROKER")
	overrideString(&c.KafkaTopic, "KAFKA_TOPIC")
	overrideString(&c.BlobBackend, "BLOB_BACKEND")
	overrideString(&c.StoragePath, "STORAGE_PATH")
	overrideString(&c.MinioEndpoint, "MINIO_ENDPOINT")
	overrideString(&c.MinioAccessKey, "MINIO_ACCESS_KEY")
	overrideString(&c.MinioSecretKey, "MINIO_SECRET_KEY")
	overrideString(&c.MinioBucket, "MINIO_BUCKET")
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxUploadBytes = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.BlobBackend == "" {
		c.BlobBackend = "fs"
	}
	if c.StoragePath == "" {
		c.StoragePath = "./data"
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 10 << 20
	}
	if c.DefaultQuality <= 0 || c.DefaultQuality > 100 {
		c.DefaultQuality = 85
	}
	if c.TransformTTLSec <= 0 {
		c.TransformTTLSec = 3600
	}
	if c.MetadataTTLSec <= 0 {
		c.MetadataTTLSec = 600
	}
	if c.ListTTLSec <= 0 {
		c.ListTTLSec = 300
	}
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
