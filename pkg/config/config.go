package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full application configuration assembled from the environment.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	OAuth         OAuthConfig
	Billing       BillingConfig
	AI            AIConfig
	Storage       StorageConfig
	Mail          MailConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	RateLimitPerSecond int
	RateLimitBurst     int
	AllowedOrigins     []string
	PublicURL          string
	// AppURL is the web frontend origin used in emailed links.
	AppURL string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN renders the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

type AuthConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	VerificationTTL time.Duration

	// SessionCookieKey signs the short-lived OAuth state cookie.
	SessionCookieKey string
}

type OAuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	CallbackBaseURL    string
	SuccessRedirectURL string
}

// Enabled reports whether Google sign-in has credentials.
func (o OAuthConfig) Enabled() bool {
	return o.GoogleClientID != "" && o.GoogleClientSecret != ""
}

type BillingConfig struct {
	WebhookSecret     string
	FreeCredits       int
	ProMonthlyCredits int
	OverageRate       string
	UsageIngestURL    string
	AccessToken       string
	UsageEventName    string
	WebhookTolerance  time.Duration
}

type AIConfig struct {
	GeminiAPIKey      string
	ImageModel        string
	GenerationTimeout time.Duration
	MaxReferenceBytes int64
}

type StorageConfig struct {
	Driver          string // "s3" or "memory"
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PresignTTL      time.Duration
	MaxUploadBytes  int64
}

type MailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	LogLevel       string
	ServiceName    string
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("SERVER_PORT", "8000"),
			ReadTimeout:        getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:    getDuration("SERVER_SHUTDOWN_TIMEOUT", 20*time.Second),
			RateLimitPerSecond: getInt("RATE_LIMIT_PER_SECOND", 20),
			RateLimitBurst:     getInt("RATE_LIMIT_BURST", 40),
			AllowedOrigins:     getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			PublicURL:          getEnv("PUBLIC_URL", "http://localhost:8000"),
			AppURL:             getEnv("APP_URL", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "spacemint"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			JWTSecret:        getEnv("JWT_SECRET", ""),
			AccessTokenTTL:   getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL:  getDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
			VerificationTTL:  getDuration("VERIFICATION_CODE_TTL", 15*time.Minute),
			SessionCookieKey: getEnv("SESSION_COOKIE_KEY", ""),
		},
		OAuth: OAuthConfig{
			GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			CallbackBaseURL:    getEnv("OAUTH_CALLBACK_BASE_URL", "http://localhost:8000"),
			SuccessRedirectURL: getEnv("OAUTH_SUCCESS_REDIRECT_URL", "http://localhost:3000/auth/callback"),
		},
		Billing: BillingConfig{
			WebhookSecret:     getEnv("BILLING_WEBHOOK_SECRET", ""),
			FreeCredits:       getInt("BILLING_FREE_CREDITS", 5),
			ProMonthlyCredits: getInt("BILLING_PRO_MONTHLY_CREDITS", 20),
			OverageRate:       getEnv("BILLING_OVERAGE_RATE", "0.50"),
			UsageIngestURL:    getEnv("BILLING_USAGE_INGEST_URL", ""),
			AccessToken:       getEnv("BILLING_ACCESS_TOKEN", ""),
			UsageEventName:    getEnv("BILLING_USAGE_EVENT_NAME", "generation_overage"),
			WebhookTolerance:  getDuration("BILLING_WEBHOOK_TOLERANCE", 5*time.Minute),
		},
		AI: AIConfig{
			GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
			ImageModel:        getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
			GenerationTimeout: getDuration("GENERATION_TIMEOUT", 90*time.Second),
			MaxReferenceBytes: int64(getInt("MAX_REFERENCE_BYTES", 10<<20)),
		},
		Storage: StorageConfig{
			Driver:          getEnv("STORAGE_DRIVER", "s3"),
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getBool("S3_USE_PATH_STYLE", false),
			PresignTTL:      getDuration("S3_PRESIGN_TTL", time.Hour),
			MaxUploadBytes:  int64(getInt("MAX_UPLOAD_BYTES", 10<<20)),
		},
		Mail: MailConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnv("SMTP_PORT", "587"),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("MAIL_FROM", "Spacemint AI <no-reply@spacemint.ai>"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getBool("METRICS_ENABLED", true),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ServiceName:    getEnv("SERVICE_NAME", "spacemint-api"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Storage.Driver == "s3" && c.Storage.Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET is required when STORAGE_DRIVER=s3"))
	}
	if c.Billing.FreeCredits < 0 || c.Billing.ProMonthlyCredits <= 0 {
		errs = append(errs, errors.New("billing credit allotments must be positive"))
	}
	if c.AI.GenerationTimeout <= 0 {
		errs = append(errs, errors.New("GENERATION_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getList(key string, fallback []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
