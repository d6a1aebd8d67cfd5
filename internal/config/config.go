package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/example/bakeready/internal/archive"
	"github.com/example/bakeready/internal/endpoint"
)

type Config struct {
	Server    ServerConfig
	Inference InferenceConfig
	Storage   StorageConfig
	Auth      AuthConfig
	S3        archive.Config
	Telegram  TelegramConfig
}

type ServerConfig struct {
	Addr                string
	GRPCHealthAddr      string
	MaxUploadSize       int64
	HealthProbeInterval time.Duration
}

type InferenceConfig struct {
	// ExplicitURL wins over every other resolution strategy when set.
	ExplicitURL  string
	LocalURL     string
	RelativePath string
	// PublicOrigin is joined with relative endpoints.
	PublicOrigin string
	Timeout      time.Duration
}

type StorageConfig struct {
	DatabaseDSN string
	RedisAddr   string
}

type AuthConfig struct {
	JWTSecret   string
	JWTAudience string
}

type TelegramConfig struct {
	Token string
}

// Load reads configuration from the environment, after loading an optional
// .env file from the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("SERVER_ADDR", ":8080")
	v.SetDefault("GRPC_HEALTH_ADDR", ":9090")
	v.SetDefault("MAX_UPLOAD_SIZE", 10<<20)
	v.SetDefault("HEALTH_PROBE_INTERVAL", 30*time.Second)
	v.SetDefault("BAKEREADY_API_URL", "")
	v.SetDefault("LOCAL_API_URL", endpoint.DefaultLocalURL)
	v.SetDefault("RELATIVE_API_PATH", endpoint.DefaultRelativePath)
	v.SetDefault("PUBLIC_ORIGIN", "")
	v.SetDefault("PREDICT_TIMEOUT", 60*time.Second)
	v.SetDefault("DATABASE_DSN", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY_ID", "")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "")
	v.SetDefault("S3_BUCKET_NAME", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("TELEGRAM_TOKEN", "")

	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Addr:                v.GetString("SERVER_ADDR"),
			GRPCHealthAddr:      v.GetString("GRPC_HEALTH_ADDR"),
			MaxUploadSize:       v.GetInt64("MAX_UPLOAD_SIZE"),
			HealthProbeInterval: v.GetDuration("HEALTH_PROBE_INTERVAL"),
		},
		Inference: InferenceConfig{
			ExplicitURL:  v.GetString("BAKEREADY_API_URL"),
			LocalURL:     v.GetString("LOCAL_API_URL"),
			RelativePath: v.GetString("RELATIVE_API_PATH"),
			PublicOrigin: v.GetString("PUBLIC_ORIGIN"),
			Timeout:      v.GetDuration("PREDICT_TIMEOUT"),
		},
		Storage: StorageConfig{
			DatabaseDSN: v.GetString("DATABASE_DSN"),
			RedisAddr:   v.GetString("REDIS_ADDR"),
		},
		Auth: AuthConfig{
			JWTSecret:   v.GetString("JWT_SECRET"),
			JWTAudience: v.GetString("JWT_AUDIENCE"),
		},
		S3: archive.Config{
			Endpoint:        v.GetString("S3_ENDPOINT"),
			AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
			BucketName:      v.GetString("S3_BUCKET_NAME"),
			Region:          v.GetString("S3_REGION"),
		},
		Telegram: TelegramConfig{
			Token: v.GetString("TELEGRAM_TOKEN"),
		},
	}

	return cfg, nil
}

// Resolver builds the endpoint resolver described by the inference settings.
func (c *Config) Resolver() *endpoint.Resolver {
	return endpoint.NewResolver(c.Inference.ExplicitURL, c.Inference.LocalURL, c.Inference.RelativePath)
}

// ArchiveEnabled reports whether submitted images should be archived.
func (c *Config) ArchiveEnabled() bool {
	return c.S3.BucketName != ""
}
