// Package config loads settings from the environment and builds the logger.
package config

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// Store backends accepted by MAIGRET_STORE.
const (
	StoreFile      = "file"
	StoreSQLite    = "sqlite"
	StoreSurrealDB = "surrealdb"
)

// Config holds all configuration values.
type Config struct {
	// HTTP server
	Addr        string
	CORSOrigins []string

	// Session persistence
	Store        string
	SessionsFile string
	SQLitePath   string

	// SurrealDB connection (Store == "surrealdb")
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Search tool
	ToolPath       string
	ToolArgs       []string
	WorkDir        string
	ReportsDir     string
	ToolEnv        []string
	TimeoutFloor   time.Duration
	UpdateInterval time.Duration

	// Optional site/tag catalog override
	CatalogFile string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// CLI
	ServerURL     string
	ClientTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		Addr:        getEnv("MAIGRET_API_ADDR", ":8000"),
		CORSOrigins: splitList(getEnv("MAIGRET_CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000,http://localhost:3003,http://127.0.0.1:3003"), ","),

		Store:        strings.ToLower(getEnv("MAIGRET_STORE", StoreFile)),
		SessionsFile: getEnv("MAIGRET_SESSIONS_FILE", "search_sessions.json"),
		SQLitePath:   getEnv("MAIGRET_SQLITE_PATH", "search_sessions.db"),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "maigret"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "sessions"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		ToolPath:       getEnv("MAIGRET_TOOL_PATH", "python3"),
		ToolArgs:       strings.Fields(getEnv("MAIGRET_TOOL_ARGS", "-m maigret.maigret")),
		WorkDir:        getEnv("MAIGRET_WORKDIR", "."),
		ReportsDir:     getEnv("MAIGRET_REPORTS_DIR", "reports"),
		ToolEnv:        splitList(getEnv("MAIGRET_TOOL_ENV", ""), ","),
		TimeoutFloor:   getDuration("MAIGRET_TIMEOUT_FLOOR", 60*time.Second),
		UpdateInterval: getDuration("MAIGRET_UPDATE_INTERVAL", 500*time.Millisecond),

		CatalogFile: getEnv("MAIGRET_CATALOG_FILE", ""),

		LogFile:  getEnv("MAIGRET_LOG_FILE", "/tmp/maigret-api.log"),
		LogLevel: parseLogLevel(getEnv("MAIGRET_LOG_LEVEL", "INFO")),

		ServerURL:     strings.TrimRight(getEnv("MAIGRET_SERVER_URL", "http://localhost:8000"), "/"),
		ClientTimeout: getDuration("MAIGRET_CLIENT_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getDuration parses a Go duration, falling back to defaultVal on error.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", raw, "default", defaultVal)
		return defaultVal
	}
	return d
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
