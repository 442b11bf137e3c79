package simulate

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/consoleprov/consoleprov/pkg/logger"
)

// Config simulate.yaml 配置结构
type Config struct {
	Listen   string                   `mapstructure:"listen"`
	Consoles map[string]ConsoleConfig `mapstructure:"consoles"`
}

// ConsoleConfig 单个模拟控制台
type ConsoleConfig struct {
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// BootDelay 连接后输出登录提示前的等待
	BootDelay time.Duration `mapstructure:"boot_delay"`
	// WrongChecksum md5sum 输出错误摘要
	WrongChecksum bool `mapstructure:"wrong_checksum"`
	// FailInstall install image 报错后回到 shell
	FailInstall bool `mapstructure:"fail_install"`
	// Silent 接受连接但从不输出
	Silent bool `mapstructure:"silent"`
}

// LoadConfig 读取 simulate.yaml
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetDefault("listen", "127.0.0.1")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read simulate config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulate config: %w", err)
	}
	return &cfg, nil
}

// Manager 管理多个模拟控制台，每个控制台独占一个端口
type Manager struct {
	mu      sync.Mutex
	servers map[string]*Server
}

// Start 启动配置中的全部控制台，单个失败只记录日志
func Start(cfg *Config) (*Manager, error) {
	m := &Manager{servers: make(map[string]*Server)}
	for name, cc := range cfg.Consoles {
		addr := net.JoinHostPort(cfg.Listen, strconv.Itoa(cc.Port))
		srv, err := Listen(addr, cc)
		if err != nil {
			logger.Errorf("Simulate: start console %s on %s failed: %v", name, addr, err)
			continue
		}
		m.servers[name] = srv
		logger.Infof("Simulate: console %s listening on %s", name, srv.Addr())
	}
	if len(cfg.Consoles) > 0 && len(m.servers) == 0 {
		return nil, fmt.Errorf("no simulated console could be started")
	}
	return m, nil
}

// Server 按名称取控制台
func (m *Manager) Server(name string) (*Server, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[name]
	return s, ok
}

// Names 已启动的控制台
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.servers))
	for n := range m.servers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Stop 停止所有模拟控制台
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, srv := range m.servers {
		srv.Close()
		logger.Infof("Simulate: console %s stopped", name)
	}
	m.servers = map[string]*Server{}
}
