package objectstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cadbridge-labs/cadbridge-go/internal/platform/env"
)

type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Region     string
	UseSSL     bool
	Bucket     string
	ReadTTL    time.Duration
	WriteTTL   time.Duration
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("CADBRIDGE_BLOB_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	readTTL, err := env.Duration("CADBRIDGE_BLOB_READ_TTL", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	writeTTL, err := env.Duration("CADBRIDGE_BLOB_WRITE_TTL", 10*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("CADBRIDGE_BLOB_ENDPOINT", "localhost:9000"),
		AccessKey: env.String("CADBRIDGE_BLOB_ACCESS_KEY", "cadbridge"),
		SecretKey: env.String("CADBRIDGE_BLOB_SECRET_KEY", "cadbridgeblob"),
		Region:    env.String("CADBRIDGE_BLOB_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("CADBRIDGE_BLOB_BUCKET", "conversions"),
		ReadTTL:   readTTL,
		WriteTTL:  writeTTL,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if c.ReadTTL <= 0 {
		return errors.New("read ttl must be positive")
	}
	if c.WriteTTL <= 0 {
		return errors.New("write ttl must be positive")
	}
	return nil
}
