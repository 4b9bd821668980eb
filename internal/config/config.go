package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// DefaultAdminAddress is seeded as admin when MO_ADMIN_ADDRESS is unset.
const DefaultAdminAddress = "0x63915621df7B675B839aF403BdE9C56fdfBc8555"

// Cache backends.
const (
	CacheBackendSQL   = "sql"
	CacheBackendRedis = "redis"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	Debug        bool
	LogDir       string

	// AdminAddress is the wallet seeded with the admin role on first start.
	AdminAddress string
	// PeerID identifies this node in ledger entries it writes.
	PeerID           string
	Peers            []string
	PeerSyncSchedule string

	CacheBackend  string
	RedisAddr     string
	RedisPassword string

	IOTimeout        time.Duration
	ReplicationQueue int

	BackupDir      string
	BackupSchedule string

	AlertURL string
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
// A .env file in the working directory is applied first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("MO_DATA_DIR", "data")
	cfg := Config{
		Environment:      getEnv("MO_ENV", "development"),
		HTTPPort:         getEnv("MO_HTTP_PORT", "3000"),
		DatabasePath:     getEnv("MO_DB_PATH", filepath.Join(dataDir, "memoryorgan.db")),
		LogDir:           getEnv("MO_LOG_DIR", filepath.Join(dataDir, "logs")),
		AdminAddress:     getEnv("MO_ADMIN_ADDRESS", getEnv("ADMIN_ADDRESS", DefaultAdminAddress)),
		PeerID:           getEnv("MO_PEER_ID", defaultPeerID()),
		Peers:            splitList(os.Getenv("MO_PEERS")),
		PeerSyncSchedule: getEnv("MO_PEER_SYNC_SCHEDULE", "@every 10s"),
		CacheBackend:     strings.ToLower(getEnv("MO_CACHE_BACKEND", CacheBackendSQL)),
		RedisAddr:        getEnv("MO_REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("MO_REDIS_PASSWORD"),
		BackupDir:        getEnv("MO_BACKUP_DIR", filepath.Join(dataDir, "backups")),
		BackupSchedule:   getEnv("MO_BACKUP_SCHEDULE", "@daily"),
		AlertURL:         os.Getenv("MO_ALERT_URL"),
	}

	var err error
	if cfg.Debug, err = getBool("MO_DEBUG", cfg.Environment == "development"); err != nil {
		return Config{}, err
	}
	if cfg.IOTimeout, err = getDuration("MO_IO_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ReplicationQueue, err = getInt("MO_REPLICATION_QUEUE", 256); err != nil {
		return Config{}, err
	}

	if !common.IsHexAddress(cfg.AdminAddress) {
		return Config{}, fmt.Errorf("invalid admin address %q", cfg.AdminAddress)
	}
	switch cfg.CacheBackend {
	case CacheBackendSQL, CacheBackendRedis:
	default:
		return Config{}, fmt.Errorf("unsupported cache backend %q", cfg.CacheBackend)
	}
	if cfg.IOTimeout <= 0 {
		return Config{}, fmt.Errorf("MO_IO_TIMEOUT must be positive")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.TrimRight(p, "/"))
		}
	}
	return out
}

func defaultPeerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "memoryorgan"
	}
	return host
}
