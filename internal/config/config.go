package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr           string
	StoreMode            string
	DatabaseURL          string
	SessionEncryptionKey string
	AdminUsername        string
	AdminPassword        string
	JWTSecret            string
	AccountsFile         string
	ProxiesFile          string
	SchedulerIdle        time.Duration
	FailureThreshold     int
	RequestMinDelay      time.Duration
	RequestTimeout       time.Duration
	ProxyBanDuration     time.Duration
	TelegramBotToken     string
	TelegramChatID       string
}

func Load() Config {
	return Config{
		ListenAddr:           getEnv("LISTEN_ADDR", ":18090"),
		StoreMode:            getEnv("STORE_MODE", "memory"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		SessionEncryptionKey: getEnv("SESSION_ENCRYPTION_KEY", ""),
		AdminUsername:        getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:        getEnv("ADMIN_PASSWORD", "change-me"),
		JWTSecret:            getEnv("JWT_SECRET", "change-this-secret"),
		AccountsFile:         getEnv("ACCOUNTS_FILE", "accounts.json"),
		ProxiesFile:          getEnv("PROXIES_FILE", ""),
		SchedulerIdle:        getDuration("SCHEDULER_IDLE", 10*time.Second),
		FailureThreshold:     getInt("FAILURE_THRESHOLD", 3),
		RequestMinDelay:      getDuration("REQUEST_MIN_DELAY", time.Second),
		RequestTimeout:       getDuration("REQUEST_TIMEOUT", 30*time.Second),
		ProxyBanDuration:     getDuration("PROXY_BAN_DURATION", 5*time.Minute),
		TelegramBotToken:     getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:       getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
