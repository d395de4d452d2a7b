package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"quote_alert_backend/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`

	DBDriver   string `yaml:"db_driver"` // postgres, sqlite
	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	DBSSLMode  string `yaml:"db_sslmode"`
	SQLitePath string `yaml:"sqlite_path"`

	JWTSecret string `yaml:"jwt_secret"`

	QuoteAPIURL string `yaml:"quote_api_url"`
	QuoteAPIKey string `yaml:"quote_api_key"`

	PollIntervalSeconds  int    `yaml:"poll_interval_seconds"`
	AlertIntervalMinutes int    `yaml:"alert_interval_minutes"`
	RequiredPlan         string `yaml:"required_plan"`
	MaxConnections       int    `yaml:"max_connections"`
	HandshakesPerMinute  int    `yaml:"handshakes_per_minute"`
	HistoryRetentionDays int    `yaml:"history_retention_days"`

	NATSURL         string `yaml:"nats_url"`
	EmailWebhookURL string `yaml:"email_webhook_url"`
	SMSWebhookURL   string `yaml:"sms_webhook_url"`

	MongoURI string `yaml:"mongodb_uri"`
}

// defaults returns the built-in configuration
func defaults() *Config {
	return &Config{
		Port:                 "8080",
		Environment:          "development",
		DBDriver:             "postgres",
		DBHost:               "localhost",
		DBPort:               "5432",
		DBUser:               "postgres",
		DBName:               "quote_alerts",
		DBSSLMode:            "require",
		SQLitePath:           "data/quote_alerts.db",
		QuoteAPIURL:          "https://finnhub.io/api/v1",
		PollIntervalSeconds:  60,
		AlertIntervalMinutes: 5,
		RequiredPlan:         models.PlanPremium,
		MaxConnections:       1000,
		HandshakesPerMinute:  30,
		HistoryRetentionDays: 90,
	}
}

// LoadConfig loads configuration from defaults, an optional YAML file
// (CONFIG_FILE) and finally environment variables, later sources winning.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.mergeFile(path); err != nil {
			return config, err
		}
	}

	config.Port = getEnv("PORT", config.Port)
	config.Environment = getEnv("ENVIRONMENT", config.Environment)
	config.DBDriver = getEnv("DB_DRIVER", config.DBDriver)
	config.DBHost = getEnv("DB_HOST", config.DBHost)
	config.DBPort = getEnv("DB_PORT", config.DBPort)
	config.DBUser = getEnv("DB_USER", config.DBUser)
	config.DBPassword = getEnv("DB_PASSWORD", config.DBPassword)
	config.DBName = getEnv("DB_NAME", config.DBName)
	config.DBSSLMode = getEnv("DB_SSLMODE", config.DBSSLMode)
	config.SQLitePath = getEnv("SQLITE_PATH", config.SQLitePath)
	config.JWTSecret = getEnv("JWT_SECRET", config.JWTSecret)
	config.QuoteAPIURL = getEnv("QUOTE_API_URL", config.QuoteAPIURL)
	config.QuoteAPIKey = getEnv("QUOTE_API_KEY", config.QuoteAPIKey)
	config.PollIntervalSeconds = getEnvInt("POLL_INTERVAL_SECONDS", config.PollIntervalSeconds)
	config.AlertIntervalMinutes = getEnvInt("ALERT_INTERVAL_MINUTES", config.AlertIntervalMinutes)
	config.RequiredPlan = strings.ToLower(getEnv("REALTIME_REQUIRED_PLAN", config.RequiredPlan))
	config.MaxConnections = getEnvInt("MAX_CONNECTIONS", config.MaxConnections)
	config.HandshakesPerMinute = getEnvInt("WS_HANDSHAKES_PER_MINUTE", config.HandshakesPerMinute)
	config.HistoryRetentionDays = getEnvInt("HISTORY_RETENTION_DAYS", config.HistoryRetentionDays)
	config.NATSURL = getEnv("NATS_URL", config.NATSURL)
	config.EmailWebhookURL = getEnv("EMAIL_WEBHOOK_URL", config.EmailWebhookURL)
	config.SMSWebhookURL = getEnv("SMS_WEBHOOK_URL", config.SMSWebhookURL)
	config.MongoURI = getEnv("MONGODB_URI", config.MongoURI)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// mergeFile overlays values present in a YAML file
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config from YAML: %w", err)
	}
	return nil
}

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll interval must be greater than 0")
	}
	if c.AlertIntervalMinutes <= 0 {
		return fmt.Errorf("alert interval must be greater than 0")
	}
	if !models.IsValidPlan(c.RequiredPlan) {
		return fmt.Errorf("unknown required plan %q", c.RequiredPlan)
	}
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("unsupported database driver %q", c.DBDriver)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be greater than 0")
	}
	if c.HandshakesPerMinute <= 0 {
		return fmt.Errorf("handshakes per minute must be greater than 0")
	}
	return nil
}

// PollInterval returns the realtime poll cadence
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// AlertInterval returns the alert batch cadence
func (c *Config) AlertInterval() time.Duration {
	return time.Duration(c.AlertIntervalMinutes) * time.Minute
}

// InitDB initializes database connection
func InitDB(cfg *Config) (*gorm.DB, error) {
	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		log.Printf("Opening sqlite database: %s", cfg.SQLitePath)
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		// Log connection info (masked for security)
		log.Printf("Connecting to database: host=%s port=%s user=%s dbname=%s",
			maskHost(cfg.DBHost),
			cfg.DBPort,
			cfg.DBUser,
			cfg.DBName,
		)
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBName,
			cfg.DBPort,
			cfg.DBSSLMode,
		)
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		log.Printf("Database ping failed: %v", err)
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Printf("Database connection verified successfully")
	return db, nil
}

// Migrate runs all database migrations
func Migrate(db *gorm.DB) error {
	if err := models.MigrateUserModels(db); err != nil {
		return err
	}
	if err := models.MigrateSubscriptionModels(db); err != nil {
		return err
	}
	return models.MigrateAlertModels(db)
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable, ignoring unparsable values
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid integer for %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}
