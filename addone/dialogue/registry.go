package dialogue

import (
	"sort"
	"sync"
)

// DefaultPlatform Get 找不到平台时使用的插件
const DefaultPlatform = "vyos"

// 注册中心，按平台名称获取对话插件
var (
	registryMu sync.RWMutex
	registry   = map[string]Plugin{}
)

// Register 注册一个对话插件
func Register(name string, plugin Plugin) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = plugin
}

// Lookup 精确查找
func Lookup(name string) (Plugin, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// Get 获取指定平台的插件，不存在则返回 DefaultPlatform 的插件（可能为 nil）
func Get(name string) Plugin {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if p, ok := registry[name]; ok {
		return p
	}
	return registry[DefaultPlatform]
}

// Names 已注册的平台
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
