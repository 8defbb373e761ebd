package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for our application
type Config struct {
	Port                      string
	Origin                    string
	Environment               string
	LogLevel                  string
	JWTSecret                 string
	JWTRefreshSecret          string
	Database                  DatabaseConfig
	Redis                     RedisConfig
	Kafka                     KafkaConfig
	Mailer                    MailerConfig
	OTP                       OTPConfig
	AI                        AIConfig
	Scheduling                SchedulingConfig
	JWTExpirationMinutes      int
	JWTRefreshExpirationHours int
	MaxUploadMB               int
	AuthRateLimit             int
	AuthRateWindow            time.Duration
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Driver   string // mysql or sqlite
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	DSN      string
}

// RedisConfig holds the Redis connection used for OTP codes and rate limiting.
// An empty Addr disables Redis and the in-memory fallbacks are used.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds the broker list used to publish notification events.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// MailerConfig holds email service configuration
type MailerConfig struct {
	Transport   string // "smtp" or "log"
	Host        string
	Port        int
	Username    string
	Password    string
	DefaultFrom string
}

// OTPConfig holds registration OTP settings.
type OTPConfig struct {
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
}

// AIConfig lists the chat-completion providers tried in order.
type AIConfig struct {
	Providers []AIProviderConfig
	Timeout   time.Duration
}

// AIProviderConfig describes one OpenAI-compatible endpoint and model.
type AIProviderConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
}

// SchedulingConfig holds booking engine settings.
type SchedulingConfig struct {
	TimeZone     string
	SlotMinutes  int
	ReminderCron string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	dbConfig := DatabaseConfig{
		Driver:   getEnv("DB_DRIVER", "mysql"),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "3306"),
		Username: getEnv("DB_USERNAME", "root"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "telehealth"),
	}

	switch dbConfig.Driver {
	case "mysql":
		dbConfig.DSN = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			dbConfig.Username, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name)
	case "sqlite":
		dbConfig.DSN = getEnv("DB_PATH", "telehealth.db")
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", dbConfig.Driver)
	}

	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	redisConfig := RedisConfig{
		Addr:     getEnv("REDIS_ADDR", ""),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       redisDB,
	}

	kafkaConfig := KafkaConfig{
		Brokers: splitList(getEnv("KAFKA_BROKERS", "")),
		Topic:   getEnv("KAFKA_NOTIFICATION_TOPIC", "telehealth.notifications"),
	}

	smtpPort, err := getInt("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}
	mailerConfig := MailerConfig{
		Transport:   getEnv("MAILER_TRANSPORT", "log"),
		Host:        getEnv("SMTP_HOST", ""),
		Port:        smtpPort,
		Username:    getEnv("SMTP_USERNAME", ""),
		Password:    getEnv("SMTP_PASSWORD", ""),
		DefaultFrom: getEnv("MAILER_DEFAULT_FROM", "no-reply@telehealth.local"),
	}

	otpTTL, err := getDuration("OTP_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	otpAttempts, err := getInt("OTP_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}
	otpCooldown, err := getDuration("OTP_RESEND_COOLDOWN", time.Minute)
	if err != nil {
		return nil, err
	}

	aiTimeout, err := getDuration("AI_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	slotMinutes, err := getInt("SLOT_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	if slotMinutes <= 0 || slotMinutes > 240 {
		return nil, fmt.Errorf("invalid SLOT_MINUTES: %d", slotMinutes)
	}

	jwtExpMinutes, err := getInt("JWT_EXPIRATION_MINUTES", 15)
	if err != nil {
		return nil, err
	}
	jwtRefreshExpHours, err := getInt("JWT_REFRESH_EXPIRATION_HOURS", 168) // 7 days
	if err != nil {
		return nil, err
	}
	maxUploadMB, err := getInt("MAX_UPLOAD_MB", 10)
	if err != nil {
		return nil, err
	}
	authRateLimit, err := getInt("AUTH_RATE_LIMIT", 10)
	if err != nil {
		return nil, err
	}
	authRateWindow, err := getDuration("AUTH_RATE_WINDOW", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:             getEnv("PORT", "3001"),
		Origin:           getEnv("ORIGIN", "http://localhost:4200"),
		Environment:      getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		JWTSecret:        getEnv("JWT_SECRET", "default_jwt_secret"),
		JWTRefreshSecret: getEnv("JWT_REFRESH_SECRET", "default_refresh_secret"),
		Database:         dbConfig,
		Redis:            redisConfig,
		Kafka:            kafkaConfig,
		Mailer:           mailerConfig,
		OTP: OTPConfig{
			TTL:            otpTTL,
			MaxAttempts:    otpAttempts,
			ResendCooldown: otpCooldown,
		},
		AI: AIConfig{
			Providers: loadAIProviders(),
			Timeout:   aiTimeout,
		},
		Scheduling: SchedulingConfig{
			TimeZone:     getEnv("CLINIC_TIMEZONE", "Local"),
			SlotMinutes:  slotMinutes,
			ReminderCron: getEnv("REMINDER_CRON", "0 18 * * *"),
		},
		JWTExpirationMinutes:      jwtExpMinutes,
		JWTRefreshExpirationHours: jwtRefreshExpHours,
		MaxUploadMB:               maxUploadMB,
		AuthRateLimit:             authRateLimit,
		AuthRateWindow:            authRateWindow,
	}, nil
}

// IsDevelopment reports whether the server runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Location resolves the clinic time zone used for slot dates.
func (c *Config) Location() (*time.Location, error) {
	if c.Scheduling.TimeZone == "" || c.Scheduling.TimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Scheduling.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid CLINIC_TIMEZONE: %w", err)
	}
	return loc, nil
}

// loadAIProviders reads AI_PROVIDERS (comma separated names) and, for each
// name, AI_<NAME>_BASE_URL, AI_<NAME>_API_KEY and AI_<NAME>_MODEL.
func loadAIProviders() []AIProviderConfig {
	var providers []AIProviderConfig
	for _, name := range splitList(getEnv("AI_PROVIDERS", "")) {
		prefix := "AI_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
		providers = append(providers, AIProviderConfig{
			Name:    name,
			BaseURL: getEnv(prefix+"BASE_URL", "https://api.openai.com/v1"),
			APIKey:  getEnv(prefix+"API_KEY", ""),
			Model:   getEnv(prefix+"MODEL", name),
		})
	}
	return providers
}

// Helper function to get environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
