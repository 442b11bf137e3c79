package dialogue

import (
	"time"

	"github.com/consoleprov/consoleprov/pkg/console"
)

// Defaults 对话插件的默认运行参数
type Defaults struct {
	Username   string
	Password   string
	LineEnding string
	// LoginTimeout 等待登录提示，包含开机时间
	LoginTimeout time.Duration
	// PromptTimeout 认证与简单提示
	PromptTimeout time.Duration
	// DiskTimeout 分区与磁盘操作
	DiskTimeout time.Duration
	// DigestTimeout 远端摘要输出
	DigestTimeout time.Duration
	// ExecTimeout 远端脚本执行完成标记
	ExecTimeout time.Duration
	// UploadChunk 每条 echo 命令携带的 base64 字符数
	UploadChunk int
}

// Credentials 控制台登录凭据，为空时使用插件默认值
type Credentials struct {
	Username string
	Password string
}

// Resolve 用默认值补全
func (c Credentials) Resolve(d Defaults) Credentials {
	if c.Username == "" {
		c.Username = d.Username
	}
	if c.Password == "" {
		c.Password = d.Password
	}
	return c
}

// InstallParams 安装对话参数
type InstallParams struct {
	Credentials
	// LoginTimeout 非零时覆盖默认值
	LoginTimeout time.Duration
}

// ConfigureParams 配置对话参数
type ConfigureParams struct {
	Credentials
	LoginTimeout time.Duration
	// Content 配置脚本内容，会话开始前一次性读入
	Content []byte
}

// Plugin 对话插件接口
type Plugin interface {
	// Name 插件名称（如：vyos）
	Name() string
	// Defaults 返回插件的默认运行参数
	Defaults() Defaults
	// InstallScript 系统镜像安装对话
	InstallScript(p InstallParams) (*console.Script, error)
	// ConfigureScript 配置脚本上传、校验与执行对话
	ConfigureScript(p ConfigureParams) (*console.Script, error)
}
