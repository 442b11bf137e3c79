package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/consoleprov/consoleprov/pkg/logger"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Console   ConsoleConfig   `mapstructure:"console"`
	Topology  TopologyConfig  `mapstructure:"topology"`
	Provision ProvisionConfig `mapstructure:"provision"`
	Dialogue  DialogueConfig  `mapstructure:"dialogue"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	SimulateEnable bool          `mapstructure:"simulate_enable"`
	// SimulateConfig 模拟控制台定义文件
	SimulateConfig string `mapstructure:"simulate_config"`
}

// LogConfig 日志配置
type LogConfig = logger.Config

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ConsoleConfig 控制台会话配置
type ConsoleConfig struct {
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxBuffer    int           `mapstructure:"max_buffer"`
	// Viewer 本地查看器命令，支持 {host} {port}，为空不启动
	Viewer []string         `mapstructure:"viewer"`
	SSH    SSHConsoleConfig `mapstructure:"ssh"`
}

// SSHConsoleConfig SSH 控制台凭据（protocol=ssh 的端点使用）
type SSHConsoleConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// TopologyConfig GNS3 服务配置
type TopologyConfig struct {
	Server   string `mapstructure:"server"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Project  string `mapstructure:"project"`
	// RequestInterval 相邻 API 调用的最小间隔
	RequestInterval time.Duration `mapstructure:"request_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
	// CacheTTL 控制台端点在 Redis 中的缓存时间
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// ProvisionConfig 安装配置流程参数
type ProvisionConfig struct {
	Platform     string        `mapstructure:"platform"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	ScriptDir    string        `mapstructure:"script_dir"`
	Concurrency  int           `mapstructure:"concurrency"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	LoginTimeout time.Duration `mapstructure:"login_timeout"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
	LeaseWait    time.Duration `mapstructure:"lease_wait"`
}

// DialogueConfig 对话定义与步骤截止时间覆盖
type DialogueConfig struct {
	Dir string `mapstructure:"dir"`
	// Overrides 平台 -> 步骤名 -> 截止时间
	Overrides map[string]map[string]time.Duration `mapstructure:"overrides"`
}

// StepOverrides 指定平台的覆盖表
func (d DialogueConfig) StepOverrides(platform string) map[string]time.Duration {
	return d.Overrides[strings.ToLower(platform)]
}

// StorageConfig 会话记录归档配置
type StorageConfig struct {
	// Backend local | minio | none
	Backend string             `mapstructure:"backend"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
	Minio   MinioConfig        `mapstructure:"minio"`
}

// LocalStorageConfig 本地存储配置
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// RedisConfig Redis 配置，Host 为空表示不使用（租约退回进程内实现）
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Prefix       string        `mapstructure:"prefix"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

var globalConfig *Config

// EnvPrefix 环境变量前缀，例如 CONSOLEPROV_TOPOLOGY_SERVER
const EnvPrefix = "CONSOLEPROV"

// Load 加载配置文件，configPath 为空时按默认路径查找，找不到文件则只使用默认值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &config
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.simulate_enable", false)
	v.SetDefault("server.simulate_config", "simulate/simulate.yaml")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file_path", "./logs/consoleprov.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("database.sqlite.path", "./data/consoleprov.db")
	v.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	v.SetDefault("console.dial_timeout", 10*time.Second)
	v.SetDefault("console.poll_interval", 100*time.Millisecond)
	v.SetDefault("console.max_buffer", 1<<20)
	v.SetDefault("console.viewer", []string{})

	v.SetDefault("topology.server", "http://localhost:3080")
	v.SetDefault("topology.request_interval", 300*time.Millisecond)
	v.SetDefault("topology.timeout", 15*time.Second)
	v.SetDefault("topology.cache_ttl", 5*time.Minute)

	v.SetDefault("provision.platform", "vyos")
	v.SetDefault("provision.script_dir", "./scripts")
	v.SetDefault("provision.concurrency", 4)
	v.SetDefault("provision.settle_delay", 10*time.Second)
	v.SetDefault("provision.login_timeout", 5*time.Minute)
	v.SetDefault("provision.lease_ttl", 30*time.Minute)
	v.SetDefault("provision.lease_wait", 10*time.Second)

	v.SetDefault("dialogue.dir", "./configs/dialogues")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.prefix", "transcripts")
	v.SetDefault("storage.local.base_dir", "./data")
	v.SetDefault("storage.minio.port", 9000)
	v.SetDefault("storage.minio.bucket", "consoleprov")

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.prefix", "consoleprov:")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "consoleprov")
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case "local", "minio", "none", "":
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}
	if c.Provision.Concurrency <= 0 {
		return fmt.Errorf("provision.concurrency must be positive")
	}
	if c.Topology.RequestInterval < 0 {
		return fmt.Errorf("topology.request_interval must not be negative")
	}
	return nil
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
