package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Local  LocalConfig  `mapstructure:"local"`
	Remote RemoteConfig `mapstructure:"remote"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Blob   BlobConfig   `mapstructure:"blob"`
	Server ServerConfig `mapstructure:"server"`
	Sync   SyncConfig   `mapstructure:"sync"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// LocalConfig 本地缓存存储配置
type LocalConfig struct {
	Driver   string        `mapstructure:"driver"` // file, sqlite, memory
	Path     string        `mapstructure:"path"`   // 目录 (file) 或数据库文件 (sqlite)
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Watch    bool          `mapstructure:"watch"` // 监听外部进程写入
}

// RemoteConfig 远端文档存储配置
type RemoteConfig struct {
	Driver          string        `mapstructure:"driver"` // memory, sqlite, postgres, mongo, http
	DSN             string        `mapstructure:"dsn"`
	Database        string        `mapstructure:"database"` // mongo 数据库名
	BaseURL         string        `mapstructure:"base_url"` // http 驱动的文档服务地址
	BatchLimit      int           `mapstructure:"batch_limit"`
	UseTransactions bool          `mapstructure:"use_transactions"`
	EncryptionKey   string        `mapstructure:"encryption_key"` // base64 AES key, 为空则不加密
	Timeout         time.Duration `mapstructure:"timeout"`
}

// AuthConfig 会话配置
type AuthConfig struct {
	UserID      string        `mapstructure:"user_id"`
	Anonymous   bool          `mapstructure:"anonymous"`
	TokenSecret string        `mapstructure:"token_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

// BlobConfig 图片/文件存储配置
type BlobConfig struct {
	Dir        string        `mapstructure:"dir"`
	BaseURL    string        `mapstructure:"base_url"`
	SigningKey string        `mapstructure:"signing_key"`
	URLTTL     time.Duration `mapstructure:"url_ttl"`
}

// ServerConfig 文档服务配置
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Mode        string `mapstructure:"mode"` // local, production
	EventWALDir string `mapstructure:"event_wal_dir"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SyncConfig 分页配置
type SyncConfig struct {
	PageSize        int `mapstructure:"page_size"`
	MessagePageSize int `mapstructure:"message_page_size"`
}

// Load 加载配置
//
// 优先级 (低 → 高): 默认值 → 全局 ~/.chatsync/config.yaml → 项目本地 → 环境变量
func Load() (*Config, error) {
	v := newViper()

	// Layer 1: 全局配置
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(HomeDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	// Layer 2: 项目本地配置, 只取第一个找到的
	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	return unmarshal(v)
}

// LoadFile loads defaults, then the given file, then the environment.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// 环境变量覆盖: CHATSYNC_REMOTE_DRIVER → remote.driver
	v.SetEnvPrefix("CHATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Local.Path = expandHome(cfg.Local.Path)
	cfg.Blob.Dir = expandHome(cfg.Blob.Dir)
	cfg.Server.EventWALDir = expandHome(cfg.Server.EventWALDir)
	if cfg.Remote.Driver == "sqlite" {
		cfg.Remote.DSN = expandHome(cfg.Remote.DSN)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerations and limits.
func (c *Config) Validate() error {
	switch c.Local.Driver {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("local.driver: unsupported %q", c.Local.Driver)
	}
	switch c.Remote.Driver {
	case "memory", "sqlite", "postgres", "mongo", "http":
	default:
		return fmt.Errorf("remote.driver: unsupported %q", c.Remote.Driver)
	}
	if c.Remote.Driver == "http" && c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required for the http driver")
	}
	if c.Remote.BatchLimit <= 0 {
		return fmt.Errorf("remote.batch_limit must be positive")
	}
	if c.Sync.PageSize <= 0 || c.Sync.MessagePageSize <= 0 {
		return fmt.Errorf("sync page sizes must be positive")
	}
	return nil
}

// setDefaults 设置默认配置
func setDefaults(v *viper.Viper) {
	home := HomeDir()

	// Log 默认值
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stderr")

	// Local 默认值
	v.SetDefault("local.driver", "file")
	v.SetDefault("local.path", filepath.Join(home, "local"))
	v.SetDefault("local.cache_ttl", "30s")
	v.SetDefault("local.watch", true)

	// Remote 默认值
	v.SetDefault("remote.driver", "sqlite")
	v.SetDefault("remote.dsn", filepath.Join(home, "remote.db"))
	v.SetDefault("remote.database", "chatsync")
	v.SetDefault("remote.batch_limit", 500)
	v.SetDefault("remote.use_transactions", false)
	v.SetDefault("remote.timeout", "15s")
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.encryption_key", "")

	// Auth 默认值
	v.SetDefault("auth.user_id", "")
	v.SetDefault("auth.anonymous", false)
	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.token_ttl", "5m")

	// Blob 默认值
	v.SetDefault("blob.dir", filepath.Join(home, "blobs"))
	v.SetDefault("blob.base_url", "http://localhost:18790")
	v.SetDefault("blob.url_ttl", "1h")
	v.SetDefault("blob.signing_key", "")

	// Server 默认值
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 18790)
	v.SetDefault("server.mode", "local")
	v.SetDefault("server.event_wal_dir", filepath.Join(home, "wal"))

	// Sync 默认值
	v.SetDefault("sync.page_size", 20)
	v.SetDefault("sync.message_page_size", 50)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
