package vyos

import (
	"fmt"
	"time"

	"github.com/consoleprov/consoleprov/addone/dialogue"
	"github.com/consoleprov/consoleprov/pkg/console"
)

// 对话中出现的提示文本
const (
	LoginPrompt     = "vyos login:"
	PasswordPrompt  = "Password:"
	ShellPrompt     = "vyos@vyos:~$"
	LoginIncorrect  = "Login incorrect"
	PoweroffConfirm = "Are you sure you want to poweroff this system"
)

// Plugin VyOS 安装与配置对话
type Plugin struct{}

func (p *Plugin) Name() string { return "vyos" }

func (p *Plugin) Defaults() dialogue.Defaults {
	return dialogue.Defaults{
		Username:      "vyos",
		Password:      "vyos",
		LineEnding:    "\n",
		LoginTimeout:  5 * time.Minute,
		PromptTimeout: 10 * time.Second,
		DiskTimeout:   30 * time.Second,
		DigestTimeout: 5 * time.Second,
		ExecTimeout:   60 * time.Second,
		UploadChunk:   1024,
	}
}

func (p *Plugin) login(b *console.Builder, d dialogue.Defaults, cred dialogue.Credentials, loginTimeout time.Duration) *console.Builder {
	if loginTimeout <= 0 {
		loginTimeout = d.LoginTimeout
	}
	return b.
		Expect("login", loginTimeout, console.On(console.Literal(LoginPrompt))).
		SendLine("username", cred.Username, d.PromptTimeout, console.On(console.Literal(PasswordPrompt))).
		SendLine("password", cred.Password, d.PromptTimeout,
			console.AbortOn(console.Literal(LoginIncorrect)),
			console.On(console.Literal(ShellPrompt)))
}

func (p *Plugin) poweroff(b *console.Builder, d dialogue.Defaults) *console.Builder {
	return b.
		SendLine("poweroff", "poweroff", d.PromptTimeout, console.On(console.Literal(PoweroffConfirm))).
		Delay(2*time.Second).
		SendLine("poweroff-confirm", "y", 2*time.Second)
}

// InstallScript 登录后执行 install image 并接受各项默认值，最后关机
func (p *Plugin) InstallScript(params dialogue.InstallParams) (*console.Script, error) {
	d := p.Defaults()
	cred := params.Credentials.Resolve(d)
	on := func(s string) console.Expectation { return console.On(console.Literal(s)) }

	b := console.NewScript("vyos-install").LineEnding(d.LineEnding)
	p.login(b, d, cred, params.LoginTimeout)
	b.
		SendLine("install-image", "install image", d.PromptTimeout, on("Would you like to continue? (Yes/No)")).
		SendLine("continue", "Yes", d.PromptTimeout, on("Partition (Auto/Parted/Skip)")).
		SendLine("partition", "Auto", d.PromptTimeout, on("Install the image on")).
		SendLine("target-disk", "", d.PromptTimeout, on("Continue? (Yes/No)")).
		SendLine("destroy-confirm", "Yes", d.DiskTimeout, on("How big of a root partition should I create")).
		SendLine("root-size", "", d.DiskTimeout, on("What would you like to name this image")).
		SendLine("image-name", "", d.DiskTimeout, on("Which one should I copy to")).
		SendLine("config-copy", "", d.PromptTimeout, on(fmt.Sprintf("Enter password for user '%s':", cred.Username))).
		SendLine("root-password", cred.Password, d.PromptTimeout, on(fmt.Sprintf("Retype password for user '%s':", cred.Username))).
		SendLine("root-password-confirm", cred.Password, d.PromptTimeout, on("Which drive should GRUB modify the boot partition on")).
		SendLine("grub-disk", "", d.DiskTimeout, on(ShellPrompt))
	p.poweroff(b, d)
	return b.Build()
}

// ConfigureScript 登录后上传配置脚本，校验摘要，执行并关机
func (p *Plugin) ConfigureScript(params dialogue.ConfigureParams) (*console.Script, error) {
	if len(params.Content) == 0 {
		return nil, fmt.Errorf("vyos configure: configuration script is empty")
	}
	d := p.Defaults()
	cred := params.Credentials.Resolve(d)

	b := console.NewScript("vyos-configure").LineEnding(d.LineEnding)
	p.login(b, d, cred, params.LoginTimeout)
	dialogue.AppendUpload(b, dialogue.UploadOptions{
		Content:       params.Content,
		Prompt:        ShellPrompt,
		ChunkSize:     d.UploadChunk,
		PromptTimeout: d.PromptTimeout,
		DigestTimeout: d.DigestTimeout,
		ExecTimeout:   d.ExecTimeout,
	})
	p.poweroff(b, d)
	return b.Build()
}

func init() {
	dialogue.Register("vyos", &Plugin{})
}
