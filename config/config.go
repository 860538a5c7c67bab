package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration parameters read from environment variables.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// LLM backend (OpenAI-compatible chat completions)
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	// Web search for research and claim verification
	SerperBaseURL string `envconfig:"SERPER_BASE_URL" default:"https://google.serper.dev"`
	SerperAPIKey  string `envconfig:"SERPER_API_KEY" required:"true"`

	// Stock images for cover selection; the image phase degrades gracefully when unset
	PexelsBaseURL string `envconfig:"PEXELS_BASE_URL" default:"https://api.pexels.com/v1"`
	PexelsAPIKey  string `envconfig:"PEXELS_API_KEY"`

	QueueCronSchedule   string `envconfig:"QUEUE_CRON_SCHEDULE" default:"* * * * *"`
	PublishCronSchedule string `envconfig:"PUBLISH_CRON_SCHEDULE" default:"*/5 * * * *"`

	ResearchMaxAttempts  int     `envconfig:"RESEARCH_MAX_ATTEMPTS" default:"3"`
	ValidationBatchLimit int     `envconfig:"VALIDATION_BATCH_LIMIT" default:"3"`
	CorrectionThreshold  float64 `envconfig:"CORRECTION_THRESHOLD" default:"0.7"`

	// Published-article snapshot archive; optional, snapshots are skipped when unset
	ArchiveS3Key    string `envconfig:"ARCHIVE_S3_KEY"`
	ArchiveS3Secret string `envconfig:"ARCHIVE_S3_SECRET"`
	ArchiveS3URL    string `envconfig:"ARCHIVE_S3_URL"`
	ArchiveS3Region string `envconfig:"ARCHIVE_S3_REGION"`
	ArchiveS3Bucket string `envconfig:"ARCHIVE_S3_BUCKET"`
}

// DSN returns the data source name for the PostgreSQL connection.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// ArchiveConfigured reports whether the S3 snapshot archive is fully configured.
func (c *Config) ArchiveConfigured() bool {
	return c.ArchiveS3Key != "" && c.ArchiveS3Secret != "" && c.ArchiveS3URL != "" &&
		c.ArchiveS3Region != "" && c.ArchiveS3Bucket != ""
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
