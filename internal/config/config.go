package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr          string
	SessionSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	CORSOrigin    string
	// Admin authentication. Hash wins when both are set.
	AdminPassword     string
	AdminPasswordHash string
	// Redis Configuration - in-memory session store when empty
	RedisURL string
	// Google Sheets Configuration
	SheetsCredentials string // service account JSON, opaque to the core
	SpreadsheetID     string
	DataWorksheet     string
	AuditWorksheet    string
	// Snapshot Configuration - snapshots disabled when endpoint empty
	SnapshotEndpoint  string
	SnapshotAccessKey string
	SnapshotSecretKey string
	SnapshotBucket    string
	SnapshotUseSSL    bool
}

func Load() Config {
	return Config{
		Addr:          getenv("API_ADDR", ":8686"),
		SessionSecret: getenv("JWP_SESSION_SECRET", "jwp-dev-secret"),
		AccessTTL:     time.Duration(getenvInt("JWP_ACCESS_TTL_SECONDS", 900)) * time.Second,
		RefreshTTL:    time.Duration(getenvInt("JWP_REFRESH_TTL_SECONDS", 2592000)) * time.Second,
		CORSOrigin:    getenv("JWP_CORS_ORIGIN", "*"),

		AdminPassword:     getenv("ADMIN_PASSWORD", ""),
		AdminPasswordHash: getenv("ADMIN_PASSWORD_HASH", ""),

		// Redis - empty by default, sessions stay in process memory
		RedisURL: getenv("REDIS_URL", ""),

		SheetsCredentials: getenv("GSPREAD_CREDENTIALS", ""),
		SpreadsheetID:     getenv("JWP_SPREADSHEET_ID", ""),
		DataWorksheet:     getenv("JWP_DATA_WORKSHEET", "Sheet1"),
		AuditWorksheet:    getenv("JWP_AUDIT_WORKSHEET", "Audit_Log"),

		// Snapshots - empty by default, disabled if not configured
		SnapshotEndpoint:  getenv("SNAPSHOT_ENDPOINT", ""),
		SnapshotAccessKey: getenv("SNAPSHOT_ACCESS_KEY", ""),
		SnapshotSecretKey: getenv("SNAPSHOT_SECRET_KEY", ""),
		SnapshotBucket:    getenv("SNAPSHOT_BUCKET", "jwp-snapshots"),
		SnapshotUseSSL:    getenvBool("SNAPSHOT_USE_SSL", false),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
