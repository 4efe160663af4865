package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API and worker processes.
type Config struct {
	AppName                  string
	AppEnv                   string
	AppPort                  string
	CORSAllowOrigins         string
	AccessLog                bool
	DatabaseURL              string
	RedisURL                 string
	NATSURL                  string
	EventsChannel            string
	JWTSecret                string
	CloudinaryCloudName      string
	CloudinaryAPIKey         string
	CloudinaryAPISecret      string
	CloudinaryUploadFolder   string
	AIProvider               string
	OpenAIAPIKey             string
	OpenAIBaseURL            string
	AIModel                  string
	AIMaxTokens              int
	AITimeout                time.Duration
	JobMaxAttempts           int
	JobInitialBackoff        time.Duration
	SessionInactivityTimeout time.Duration
	QueuePrefix              string
	WorkerConcurrency        int
	WorkerPollInterval       time.Duration
	WorkerConsumerID         string
	WorkerMetricsPort        string
	ReconcileInterval        time.Duration
	ReconcilePendingAfter    time.Duration
	UploadMaxFiles           int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// AuthEnabled reports whether requests carry a JWT identity.
func (c Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	hostname, _ := os.Hostname()

	v.SetDefault("app.name", "GEMA Assess API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("http.cors_origins", "*")
	v.SetDefault("http.access_log", false)
	v.SetDefault("events.channel", "gema:assess")
	v.SetDefault("cloudinary.folder", "gema/syllabus")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.max_tokens", 4096)
	v.SetDefault("ai.timeout", "90s")
	v.SetDefault("job.max_attempts", 3)
	v.SetDefault("job.initial_backoff", "500ms")
	v.SetDefault("session.inactivity_timeout", "30m")
	v.SetDefault("queue.prefix", "gema:queue")
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.poll_interval", "1s")
	v.SetDefault("worker.consumer_id", hostname)
	v.SetDefault("worker.metrics_port", "9091")
	v.SetDefault("reconcile.interval", "1m")
	v.SetDefault("reconcile.pending_after", "5m")
	v.SetDefault("upload.max_files", 20)

	durations := map[string]time.Duration{}
	for _, key := range []string{"ai.timeout", "job.initial_backoff", "session.inactivity_timeout", "worker.poll_interval", "reconcile.interval", "reconcile.pending_after"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", key)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:                  v.GetString("app.name"),
		AppEnv:                   v.GetString("app.env"),
		AppPort:                  v.GetString("app.port"),
		CORSAllowOrigins:         v.GetString("http.cors_origins"),
		AccessLog:                v.GetBool("http.access_log"),
		DatabaseURL:              v.GetString("database.url"),
		RedisURL:                 v.GetString("redis.url"),
		NATSURL:                  v.GetString("nats.url"),
		EventsChannel:            v.GetString("events.channel"),
		JWTSecret:                v.GetString("jwt.secret"),
		CloudinaryCloudName:      v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:         v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:      v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder:   v.GetString("cloudinary.folder"),
		AIProvider:               strings.ToLower(v.GetString("ai.provider")),
		OpenAIAPIKey:             v.GetString("openai_api_key"),
		OpenAIBaseURL:            v.GetString("openai_base_url"),
		AIModel:                  v.GetString("ai.model"),
		AIMaxTokens:              v.GetInt("ai.max_tokens"),
		AITimeout:                durations["ai.timeout"],
		JobMaxAttempts:           v.GetInt("job.max_attempts"),
		JobInitialBackoff:        durations["job.initial_backoff"],
		SessionInactivityTimeout: durations["session.inactivity_timeout"],
		QueuePrefix:              v.GetString("queue.prefix"),
		WorkerConcurrency:        v.GetInt("worker.concurrency"),
		WorkerPollInterval:       durations["worker.poll_interval"],
		WorkerConsumerID:         v.GetString("worker.consumer_id"),
		WorkerMetricsPort:        v.GetString("worker.metrics_port"),
		ReconcileInterval:        durations["reconcile.interval"],
		ReconcilePendingAfter:    durations["reconcile.pending_after"],
		UploadMaxFiles:           v.GetInt("upload.max_files"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url must be provided")
	}

	if cfg.JobMaxAttempts <= 0 {
		cfg.JobMaxAttempts = 3
	}

	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}

	if cfg.UploadMaxFiles <= 0 {
		cfg.UploadMaxFiles = 20
	}

	if cfg.AIProvider == "openai" && cfg.OpenAIAPIKey == "" {
		cfg.AIProvider = "mock"
	}

	return cfg, nil
}
