package dialogue

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/consoleprov/consoleprov/pkg/console"
)

// Definition YAML 描述的设备对话
type Definition struct {
	Name       string        `yaml:"name"`
	LineEnding string        `yaml:"line_ending"`
	Defaults   DefinitionVar `yaml:"defaults"`
	Install    []StepDef     `yaml:"install"`
	Configure  ConfigureDef  `yaml:"configure"`
}

// DefinitionVar 默认凭据与提示符
type DefinitionVar struct {
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	ShellPrompt   string        `yaml:"shell_prompt"`
	LoginTimeout  time.Duration `yaml:"login_timeout"`
	PromptTimeout time.Duration `yaml:"prompt_timeout"`
	DigestTimeout time.Duration `yaml:"digest_timeout"`
	ExecTimeout   time.Duration `yaml:"exec_timeout"`
	UploadChunk   int           `yaml:"upload_chunk"`
}

// ConfigureDef 配置对话：登录步骤 + 通用上传执行 + 收尾步骤
type ConfigureDef struct {
	Login  []StepDef `yaml:"login"`
	Finish []StepDef `yaml:"finish"`
}

// StepDef 单个步骤，send 中可使用 ${username} ${password}
type StepDef struct {
	Name    string        `yaml:"name"`
	Send    *string       `yaml:"send"`
	Expect  []PatternDef  `yaml:"expect"`
	Timeout time.Duration `yaml:"timeout"`
	Delay   time.Duration `yaml:"delay"`
}

// PatternDef literal 与 regexp 二选一
type PatternDef struct {
	Literal string `yaml:"literal"`
	Regexp  string `yaml:"regexp"`
	Label   string `yaml:"label"`
	Abort   bool   `yaml:"abort"`
}

// LoadFile 读取并校验对话定义
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dialogue %s: %w", path, err)
	}
	return Parse(data)
}

// Parse 解析对话定义并试编译
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse dialogue: %w", err)
	}
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("dialogue name is empty")
	}
	if def.LineEnding == "" {
		def.LineEnding = "\n"
	}
	p := &FilePlugin{def: &def}
	if _, err := p.InstallScript(InstallParams{}); err != nil {
		return nil, err
	}
	if len(def.Configure.Login) > 0 || def.Defaults.ShellPrompt != "" {
		if _, err := p.ConfigureScript(ConfigureParams{Content: []byte("true\n")}); err != nil {
			return nil, err
		}
	}
	return &def, nil
}

// RegisterDir 加载目录下全部 *.yaml 对话并注册，返回注册的名称
func RegisterDir(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, path := range matches {
		def, err := LoadFile(path)
		if err != nil {
			return names, err
		}
		Register(def.Name, NewFilePlugin(def))
		names = append(names, def.Name)
	}
	return names, nil
}

// FilePlugin 由 YAML 定义驱动的对话插件
type FilePlugin struct {
	def *Definition
}

// NewFilePlugin 包装已解析的定义
func NewFilePlugin(def *Definition) *FilePlugin {
	return &FilePlugin{def: def}
}

func (p *FilePlugin) Name() string { return p.def.Name }

func (p *FilePlugin) Defaults() Defaults {
	v := p.def.Defaults
	d := Defaults{
		Username:      v.Username,
		Password:      v.Password,
		LineEnding:    p.def.LineEnding,
		LoginTimeout:  v.LoginTimeout,
		PromptTimeout: v.PromptTimeout,
		DigestTimeout: v.DigestTimeout,
		ExecTimeout:   v.ExecTimeout,
		UploadChunk:   v.UploadChunk,
	}
	if d.LoginTimeout <= 0 {
		d.LoginTimeout = 5 * time.Minute
	}
	if d.PromptTimeout <= 0 {
		d.PromptTimeout = 10 * time.Second
	}
	if d.DigestTimeout <= 0 {
		d.DigestTimeout = 5 * time.Second
	}
	if d.ExecTimeout <= 0 {
		d.ExecTimeout = 60 * time.Second
	}
	d.DiskTimeout = d.PromptTimeout
	return d
}

// InstallScript 编译 install 段
func (p *FilePlugin) InstallScript(params InstallParams) (*console.Script, error) {
	if len(p.def.Install) == 0 {
		return nil, fmt.Errorf("dialogue %s defines no install steps", p.def.Name)
	}
	d := p.Defaults()
	cred := params.Credentials.Resolve(d)
	b := console.NewScript(p.def.Name + "-install").LineEnding(d.LineEnding)
	if err := p.appendSteps(b, p.def.Install, cred, d); err != nil {
		return nil, err
	}
	return b.Build()
}

// ConfigureScript 编译 configure 段，中间插入通用上传执行步骤
func (p *FilePlugin) ConfigureScript(params ConfigureParams) (*console.Script, error) {
	if len(params.Content) == 0 {
		return nil, fmt.Errorf("dialogue %s: configuration script is empty", p.def.Name)
	}
	if p.def.Defaults.ShellPrompt == "" {
		return nil, fmt.Errorf("dialogue %s: defaults.shell_prompt is required for configure", p.def.Name)
	}
	d := p.Defaults()
	cred := params.Credentials.Resolve(d)
	b := console.NewScript(p.def.Name + "-configure").LineEnding(d.LineEnding)
	if err := p.appendSteps(b, p.def.Configure.Login, cred, d); err != nil {
		return nil, err
	}
	AppendUpload(b, UploadOptions{
		Content:       params.Content,
		Prompt:        p.def.Defaults.ShellPrompt,
		ChunkSize:     d.UploadChunk,
		PromptTimeout: d.PromptTimeout,
		DigestTimeout: d.DigestTimeout,
		ExecTimeout:   d.ExecTimeout,
	})
	if err := p.appendSteps(b, p.def.Configure.Finish, cred, d); err != nil {
		return nil, err
	}
	return b.Build()
}

func (p *FilePlugin) appendSteps(b *console.Builder, defs []StepDef, cred Credentials, d Defaults) error {
	vars := strings.NewReplacer("${username}", cred.Username, "${password}", cred.Password)
	for i, sd := range defs {
		exps := make([]console.Expectation, 0, len(sd.Expect))
		for j, pd := range sd.Expect {
			pat, err := pd.compile()
			if err != nil {
				return fmt.Errorf("dialogue %s step %d pattern %d: %w", p.def.Name, i, j, err)
			}
			if pd.Abort {
				exps = append(exps, console.AbortOn(pat))
			} else {
				exps = append(exps, console.On(pat))
			}
		}
		timeout := sd.Timeout
		if timeout <= 0 && len(exps) > 0 {
			timeout = d.PromptTimeout
		}
		step := console.Step{Name: sd.Name, Expect: exps, Timeout: timeout, Delay: sd.Delay}
		if sd.Send != nil {
			step.Send = []byte(vars.Replace(*sd.Send) + d.LineEnding)
		}
		b.Step(step)
	}
	return nil
}

func (pd PatternDef) compile() (console.Pattern, error) {
	var pat console.Pattern
	switch {
	case pd.Literal != "" && pd.Regexp != "":
		return pat, fmt.Errorf("literal and regexp are mutually exclusive")
	case pd.Literal != "":
		pat = console.Literal(pd.Literal)
	case pd.Regexp != "":
		var err error
		if pat, err = console.Regexp(pd.Regexp); err != nil {
			return pat, err
		}
	default:
		return pat, fmt.Errorf("pattern needs literal or regexp")
	}
	if pd.Label != "" {
		pat = pat.WithLabel(pd.Label)
	}
	return pat, nil
}
