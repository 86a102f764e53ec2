package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port int
	Host string
	Env  string // "development" or "production"

	// Durable store
	StoreURI string // directory holding the SQLite store
	DBName   string // logical database namespace (file name without extension)

	// Identity provider
	JWTJWKSURL string
	JWTIssuer  string

	// File store limits
	MaxFileBytes int64
	AllowedExt   []string

	// Room lifecycle
	RoomIdleTTL     time.Duration
	PersistDebounce time.Duration
	PersistMaxWait  time.Duration

	// Realtime transport
	RTSubprotocol string
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton)
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

// load reads configuration from environment variables
func load() *Config {
	return &Config{
		// Server
		Port: getEnvInt("PORT", 8080),
		Host: getEnv("HOST", "0.0.0.0"),
		Env:  getEnv("ENV", "development"),

		// Store
		StoreURI: getEnv("STORE_URI", "./data"),
		DBName:   getEnv("DB_NAME", "codecollab"),

		// IdP
		JWTJWKSURL: getEnv("JWT_JWKS_URL", ""),
		JWTIssuer:  getEnv("JWT_ISSUER", ""),

		// Files
		MaxFileBytes: getEnvInt64("MAX_FILE_BYTES", 50<<20),
		AllowedExt:   splitExt(getEnv("ALLOWED_EXT", ".js,.java,.py,.zip")),

		// Rooms
		RoomIdleTTL:     time.Duration(getEnvInt("ROOM_IDLE_TTL_SEC", 7200)) * time.Second,
		PersistDebounce: time.Duration(getEnvInt("PERSIST_DEBOUNCE_MS", 2000)) * time.Millisecond,
		PersistMaxWait:  time.Duration(getEnvInt("PERSIST_MAX_WAIT_MS", 10000)) * time.Millisecond,

		// Realtime
		RTSubprotocol: getEnv("RT_SUBPROTOCOL", "codecollab.rt.v1"),
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// DatabasePath returns the full path of the SQLite database file
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StoreURI, c.DBName+".sqlite")
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// splitExt parses a comma-separated extension list, normalizing to
// lower-case entries with a leading dot.
func splitExt(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		out = append(out, part)
	}
	return out
}
