package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lychevd/ETL/internal/platform/env"
)

// Config holds connection settings for an S3-compatible endpoint.
// Bucket and prefix selection belong to the adapters built on top.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("ETL_OBJECTSTORE_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("ETL_OBJECTSTORE_ENDPOINT", "localhost:9000"),
		AccessKey: env.String("ETL_OBJECTSTORE_ACCESS_KEY", ""),
		SecretKey: env.String("ETL_OBJECTSTORE_SECRET_KEY", ""),
		Region:    env.String("ETL_OBJECTSTORE_REGION", "us-east-1"),
		UseSSL:    useSSL,
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
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
