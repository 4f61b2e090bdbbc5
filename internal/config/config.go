package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds the application configuration. It is built once in main and
// passed down explicitly; nothing else reads the process environment.
type Config struct {
	ServerPort int    `env:"PORT" envDefault:"8080"`
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"http://localhost:3000"`

	DatabasePath string `env:"DATABASE_PATH" envDefault:"./vidstream.db"`
	TempDir      string `env:"TEMP_UPLOAD_DIR" envDefault:"./public/temp"`

	AccessTokenSecret  string        `env:"ACCESS_TOKEN_SECRET,required"`
	RefreshTokenSecret string        `env:"REFRESH_TOKEN_SECRET,required"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"24h"`
	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"240h"`

	// S3-compatible object storage for avatars and cover images.
	S3Endpoint        string `env:"S3_ENDPOINT,required"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID,required"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY,required"`
	S3Bucket          string `env:"S3_BUCKET,required"`
	S3Region          string `env:"S3_REGION" envDefault:"us-east-1"`
	S3UseSSL          bool   `env:"S3_USE_SSL"`
	S3PublicBaseURL   string `env:"S3_PUBLIC_BASE_URL,required"`
}

// Load loads configuration from environment variables. A local .env file is
// read first when present, so development setups need no exported vars.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); !os.IsNotExist(err) {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("loading .env file: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}
