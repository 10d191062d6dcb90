package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID     string
	AccessKey     string
	SecretKey     string
	BucketName    string
	PublicBaseURL string
}

type Queue struct {
	PublishConcurrency int
	RefreshConcurrency int
	PollConcurrency    int
	MaxRetry           int
	RetryBase          time.Duration
}

type Schedules struct {
	RefreshSweepCron string
	StatusPollCron   string
}

type Config struct {
	InstagramClientID     string
	InstagramClientSecret string
	InstagramRedirectURI  string
	TiktokClientKey       string
	TiktokClientSecret    string
	TiktokRedirectURI     string
	GoogleClientID        string
	GoogleClientSecret    string
	GoogleRedirectURI     string
	GoogleLoginRedirect   string
	LinkedinClientID      string
	LinkedinClientSecret  string
	LinkedinRedirectURI   string
	BlueskyServiceURL     string
	PostgresURI           string
	RedisURI              string
	FrontendURL           string
	MetricsAddr           string
	R2                    R2
	Queue                 Queue
	Schedules             Schedules
	TokenExpiryBuffer     time.Duration
	RefreshCooldown       time.Duration
	SecretKey             string
	CookieName            string
}

func LoadConfig() *Config {
	return &Config{
		InstagramClientID:     getEnv("INSTAGRAM_CLIENT_ID", ""),
		InstagramClientSecret: getEnv("INSTAGRAM_CLIENT_SECRET", ""),
		InstagramRedirectURI:  getEnv("INSTAGRAM_REDIRECT_URI", ""),
		TiktokClientKey:       getEnv("TIKTOK_CLIENT_KEY", ""),
		TiktokClientSecret:    getEnv("TIKTOK_CLIENT_SECRET", ""),
		TiktokRedirectURI:     getEnv("TIKTOK_REDIRECT_URI", ""),
		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:     getEnv("GOOGLE_REDIRECT_URI", ""),
		GoogleLoginRedirect:   getEnv("GOOGLE_LOGIN_REDIRECT", ""),
		LinkedinClientID:      getEnv("LINKEDIN_CLIENT_ID", ""),
		LinkedinClientSecret:  getEnv("LINKEDIN_CLIENT_SECRET", ""),
		LinkedinRedirectURI:   getEnv("LINKEDIN_REDIRECT_URI", ""),
		BlueskyServiceURL:     getEnv("BLUESKY_SERVICE_URL", "https://bsky.social"),
		PostgresURI:           getEnv("POSTGRES_URI", ""),
		RedisURI:              getEnv("REDIS_URI", "127.0.0.1:6379"),
		FrontendURL:           getEnv("FRONTEND_URL", "http://localhost:5173"),
		MetricsAddr:           getEnv("METRICS_ADDR", ":9091"),
		R2: R2{
			AccountID:     getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:     getEnv("R2_ACCESS_KEY", ""),
			SecretKey:     getEnv("R2_SECRET_KEY", ""),
			BucketName:    getEnv("R2_BUCKET_NAME", ""),
			PublicBaseURL: getEnv("R2_PUBLIC_BASE_URL", ""),
		},
		Queue: Queue{
			PublishConcurrency: getEnvInt("PUBLISH_CONCURRENCY", 5),
			RefreshConcurrency: getEnvInt("REFRESH_CONCURRENCY", 2),
			PollConcurrency:    getEnvInt("POLL_CONCURRENCY", 1),
			MaxRetry:           getEnvInt("JOB_MAX_RETRY", 3),
			RetryBase:          getEnvDuration("JOB_RETRY_BASE", time.Second),
		},
		Schedules: Schedules{
			// Six-field cron, leading seconds column. Default is Sunday midnight.
			RefreshSweepCron: getEnv("REFRESH_SWEEP_CRON", "0 0 0 * * 0"),
			StatusPollCron:   getEnv("STATUS_POLL_CRON", "@every 15m"),
		},
		TokenExpiryBuffer: getEnvDuration("TOKEN_EXPIRY_BUFFER", 5*time.Minute),
		RefreshCooldown:   getEnvDuration("REFRESH_COOLDOWN", 5*time.Second),
		SecretKey:         getEnv("SECRET_KEY", ""),
		CookieName:        getEnv("COOKIE_NAME", "postmore_session"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
