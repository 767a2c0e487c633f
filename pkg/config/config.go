package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      string
	FirebaseProject string
	// Service account, inline JSON first then file path. Both empty means
	// application default credentials.
	ServiceAccountJSON string
	ServiceAccountPath string
	Environment        string
	StorageBucket      string
	ValkeyAddress      string
	MessageStore       string // "firestore" or "memory"
	AvatarURLTTL       time.Duration
	SendRateLimit      int // messages per minute per user
	SessionTTL         time.Duration
	AllowedOrigins     []string // websocket origins, empty allows any
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		FirebaseProject:    getEnv("FIREBASE_PROJECT_ID", ""),
		ServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		ServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		Environment:        getEnv("ENVIRONMENT", "development"),
		StorageBucket:      getEnv("STORAGE_BUCKET", ""),
		ValkeyAddress:      getEnv("VALKEY_ADDRESS", ""),
		MessageStore:       getEnv("MESSAGE_STORE", "firestore"),
		AvatarURLTTL:       time.Duration(getEnvAsInt64("AVATAR_URL_TTL_MINUTES", 60)) * time.Minute,
		SendRateLimit:      int(getEnvAsInt64("SEND_RATE_LIMIT", 10)),
		SessionTTL:         time.Duration(getEnvAsInt64("SESSION_TTL_HOURS", 24)) * time.Hour,
		AllowedOrigins:     getEnvAsList("ALLOWED_ORIGINS"),
	}

	return config, nil
}

// UseValkey reports whether session state should be shared through valkey.
// Without an address every tab of a session must hit the same process.
func (c *Config) UseValkey() bool {
	return c.ValkeyAddress != ""
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
