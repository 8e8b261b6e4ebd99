package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Audit    AuditConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Driver            string // postgres or memory
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	LockTimeout       time.Duration // bounds waits on a locked account row
	AutoMigrate       bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TrustedProxies []string
	LoginRateLimit int // requests per minute per IP
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	BcryptCost        int
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	TimingBaseDelayMs int
	TimingRandomMs    int
}

type AuditConfig struct {
	VerifyInterval time.Duration // 0 disables the background verifier
}

type EmailConfig struct {
	Enabled   bool
	AWSRegion string
	FromEmail string
	FromName  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	db, err := loadDatabase()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: *db,
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			LoginRateLimit: getEnvAsInt("LOGIN_RATE_LIMIT", 10),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 8*time.Hour),
			BcryptCost:        getEnvAsInt("BCRYPT_COST", 12),
			MaxFailedAttempts: getEnvAsInt("AUTH_MAX_FAILED_ATTEMPTS", 5),
			LockoutDuration:   getEnvAsDuration("AUTH_LOCKOUT_DURATION", 30*time.Minute),
			TimingBaseDelayMs: getEnvAsInt("AUTH_TIMING_BASE_DELAY_MS", 100),
			TimingRandomMs:    getEnvAsInt("AUTH_TIMING_RANDOM_DELAY_MS", 50),
		},
		Audit: AuditConfig{
			VerifyInterval: getEnvAsDuration("AUDIT_VERIFY_INTERVAL", 1*time.Hour),
		},
		Email: EmailConfig{
			Enabled:   getEnvAsBool("EMAIL_ENABLED", false),
			AWSRegion: getEnv("AWS_REGION", "us-east-1"),
			FromEmail: getEnv("EMAIL_FROM", ""),
			FromName:  getEnv("EMAIL_FROM_NAME", "Clinitrust"),
		},
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if cfg.Auth.MaxFailedAttempts < 1 {
		return nil, fmt.Errorf("AUTH_MAX_FAILED_ATTEMPTS must be positive")
	}
	if cfg.Auth.LockoutDuration <= 0 {
		return nil, fmt.Errorf("AUTH_LOCKOUT_DURATION must be positive")
	}
	if cfg.Email.Enabled && cfg.Email.FromEmail == "" {
		return nil, fmt.Errorf("EMAIL_FROM is required when EMAIL_ENABLED is set")
	}

	return cfg, nil
}

// LoadDatabase reads only the storage settings, for tools that never issue
// tokens.
func LoadDatabase() (*DatabaseConfig, error) {
	_ = godotenv.Load()
	return loadDatabase()
}

func loadDatabase() (*DatabaseConfig, error) {
	db := &DatabaseConfig{
		Driver:            getEnv("STORAGE_DRIVER", StorageDriverPostgres),
		Host:              getEnv("DB_HOST", "localhost"),
		Port:              getEnvAsInt("DB_PORT", 5432),
		User:              getEnv("DB_USER", "postgres"),
		Password:          getEnv("DB_PASSWORD", ""),
		Name:              getEnv("DB_NAME", "clinitrust"),
		SSLMode:           getEnv("DB_SSLMODE", "disable"),
		MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
		MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
		MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
		HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		ConnectTimeout:    getEnvAsDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
		LockTimeout:       getEnvAsDuration("DB_LOCK_TIMEOUT", 5*time.Second),
		AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
	}

	switch db.Driver {
	case StorageDriverPostgres:
		if db.Password == "" {
			return nil, fmt.Errorf("DB_PASSWORD is required")
		}
	case StorageDriverMemory:
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER must be %q or %q (got %q)",
			StorageDriverPostgres, StorageDriverMemory, db.Driver)
	}

	return db, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := getEnv(key, "")
	if value == "" {
		return nil
	}
	items := strings.Split(value, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
