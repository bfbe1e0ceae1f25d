package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the ledger server configuration.
type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	BusinessID            string
	AuthSecret            string
	AccessTokenTTLMinutes int
	// BootstrapAdminPassword creates an admin account on an empty user table.
	BootstrapAdminPassword string
	KafkaBrokers           []string
	KafkaTopic             string
	UTCOffsetHours         int
	SaleCacheTTLSeconds    int
}

// TerminalConfig is the point-of-sale terminal configuration.
type TerminalConfig struct {
	LedgerURL      string
	Username       string
	Password       string
	DeviceID       string
	BusinessID     string
	QueuePath      string
	RetentionDays  int
	DrainInterval  time.Duration
	LedgerTimeout  time.Duration
	UTCOffsetHours int
}

func Load() Config {
	loadDotEnv()

	return Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                getInt("REDIS_DB", 0, 0),
		BusinessID:             getEnv("DEFAULT_BUSINESS_ID", "main-store"),
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
		KafkaBrokers:           splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:             getEnv("KAFKA_TOPIC", "ledger.sales"),
		UTCOffsetHours:         getOffset("BUSINESS_UTC_OFFSET_HOURS", 2),
		SaleCacheTTLSeconds:    getInt("SALE_CACHE_TTL_SECONDS", 600, 1),
	}
}

func LoadTerminal() TerminalConfig {
	loadDotEnv()

	return TerminalConfig{
		LedgerURL:      getEnv("LEDGER_URL", "http://127.0.0.1:8080"),
		Username:       getEnv("TERMINAL_USERNAME", "cashier"),
		Password:       os.Getenv("TERMINAL_PASSWORD"),
		DeviceID:       getEnv("DEVICE_ID", hostnameOr("till-1")),
		BusinessID:     getEnv("DEFAULT_BUSINESS_ID", "main-store"),
		QueuePath:      getEnv("QUEUE_PATH", "pos-queue.db"),
		RetentionDays:  getInt("QUEUE_RETENTION_DAYS", 7, 1),
		DrainInterval:  time.Duration(getInt("DRAIN_INTERVAL_SECONDS", 30, 1)) * time.Second,
		LedgerTimeout:  time.Duration(getInt("LEDGER_TIMEOUT_SECONDS", 10, 1)) * time.Second,
		UTCOffsetHours: getOffset("BUSINESS_UTC_OFFSET_HOURS", 2),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) SaleCacheTTL() time.Duration {
	return time.Duration(c.SaleCacheTTLSeconds) * time.Second
}

func (c TerminalConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// loadDotEnv reads .env from the working directory when present. Variables
// already set in the environment win.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] WARN: .env: %v", err)
	}
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getInt(key string, fallback int, min int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < min {
		return fallback
	}
	return val
}

// getOffset accepts whole-hour offsets between -12 and +14.
func getOffset(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < -12 || val > 14 {
		return fallback
	}
	return val
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

func hostnameOr(fallback string) string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return fallback
	}
	return name
}
