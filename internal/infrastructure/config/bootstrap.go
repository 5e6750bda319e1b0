package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name
const AppName = "chatsync"

// HomeDir returns the configuration home: ~/.chatsync
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap ensures the directories referenced by cfg exist and writes a
// default config.yaml into root when none is present. Existing files are
// never overwritten.
func Bootstrap(root string, cfg *Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if root == "" {
		root = HomeDir()
	}

	dirs := []string{root}
	if cfg != nil {
		if cfg.Local.Driver == "file" {
			dirs = append(dirs, cfg.Local.Path)
		} else if cfg.Local.Driver == "sqlite" {
			dirs = append(dirs, filepath.Dir(cfg.Local.Path))
		}
		if cfg.Remote.Driver == "sqlite" {
			dirs = append(dirs, filepath.Dir(cfg.Remote.DSN))
		}
		dirs = append(dirs, cfg.Blob.Dir, cfg.Server.EventWALDir)
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	path := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		logger.Debug("Config home OK", zap.String("home", root))
		return nil
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0600); err != nil {
		logger.Warn("Failed to write default config", zap.String("path", path), zap.Error(err))
		return nil
	}
	logger.Info("Bootstrap complete", zap.String("home", root), zap.String("config", path))
	return nil
}

const defaultConfig = `# ═══════════════════════════════════════════════════════════════
# chatsync configuration
# Auto-generated on first launch. Environment variables override
# every key: CHATSYNC_REMOTE_DRIVER=mongo, CHATSYNC_AUTH_USER_ID=...
# ═══════════════════════════════════════════════════════════════

log:
  level: info                  # debug | info | warn | error
  format: console              # json | console
  output: stderr

# ─── Local cache store ───────────────────────────────────────
# Anonymous data and the write-through mirror for signed-in users.
local:
  driver: file                 # file | sqlite | memory
  path: ~/.chatsync/local      # directory (file) or database file (sqlite)
  cache_ttl: 30s
  watch: true                  # pick up writes from other processes

# ─── Remote document store ───────────────────────────────────
remote:
  driver: sqlite               # memory | sqlite | postgres | mongo | http
  dsn: ~/.chatsync/remote.db   # file path, postgres DSN or mongodb:// URI
  database: chatsync           # mongo only
  base_url: ""                 # http driver: document server URL
  batch_limit: 500
  use_transactions: false      # mongo replica sets only
  encryption_key: ""           # base64 AES-256 key for provider API keys
  timeout: 15s

# ─── Session ─────────────────────────────────────────────────
auth:
  user_id: ""                  # empty = anonymous
  anonymous: false
  token_secret: ""             # shared with the document server
  token_ttl: 5m

# ─── Blob storage ────────────────────────────────────────────
blob:
  dir: ~/.chatsync/blobs
  base_url: http://localhost:18790
  signing_key: ""
  url_ttl: 1h

# ─── Document server ─────────────────────────────────────────
server:
  host: 0.0.0.0
  port: 18790
  mode: local                  # local | production
  event_wal_dir: ~/.chatsync/wal

sync:
  page_size: 20
  message_page_size: 50
`
