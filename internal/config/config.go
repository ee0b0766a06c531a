package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort string

	// Store backend: "postgres", "mongo" or "memory".
	StoreDriver string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	MongoURI    string
	MongoDB     string

	// Local cache backend: "pebble", "redis" or "memory".
	CacheDriver string
	CachePath   string
	RedisURL    string

	// Push relay: "expo", "nats" or "none".
	PushDriver   string
	PushRelayURL string
	NATSURL      string
	PushSubject  string

	PublicBaseURL         string
	JWTSecret             string
	JWTTTL                time.Duration
	LogLevel              string
	NotificationBodyLimit int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerPort:            getEnv("SERVER_PORT", "8080"),
		StoreDriver:           getEnv("STORE_DRIVER", "postgres"),
		DBHost:                getEnv("DB_HOST", "localhost"),
		DBPort:                getEnv("DB_PORT", "5432"),
		DBUser:                getEnv("DB_USER", "chatsync"),
		DBPassword:            getEnv("DB_PASSWORD", "chatsync_dev_password"),
		DBName:                getEnv("DB_NAME", "chatsync"),
		MongoURI:              getEnv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
		MongoDB:               getEnv("MONGO_DB", "chatsync"),
		CacheDriver:           getEnv("CACHE_DRIVER", "pebble"),
		CachePath:             getEnv("CACHE_PATH", ".chatsync/cache"),
		RedisURL:              getEnv("REDIS_URL", "localhost:6379"),
		PushDriver:            getEnv("PUSH_DRIVER", "expo"),
		PushRelayURL:          getEnv("PUSH_RELAY_URL", "https://exp.host/--/api/v2/push/send"),
		NATSURL:               getEnv("NATS_URL", "nats://localhost:4222"),
		PushSubject:           getEnv("PUSH_SUBJECT", "chatsync.push"),
		PublicBaseURL:         getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		JWTSecret:             getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTTTL:                getEnvDuration("JWT_TTL", 24*time.Hour),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		NotificationBodyLimit: getEnvInt("NOTIFICATION_BODY_LIMIT", 100),
	}
}

func getEnv(key, fallback string) string {
	val, exists := os.LookupEnv(key)

	if exists {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	val, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}

	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}

	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
