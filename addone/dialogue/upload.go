package dialogue

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"time"

	"github.com/consoleprov/consoleprov/pkg/checksum"
	"github.com/consoleprov/consoleprov/pkg/console"
)

// 远端文件名
const (
	RemoteEncodedFile = "config.b64"
	RemoteScriptFile  = "config.sh"
	DoneMarker        = "Done"
)

// UploadOptions 经 shell 上传并执行脚本的参数
type UploadOptions struct {
	Content       []byte
	Prompt        string
	ChunkSize     int
	PromptTimeout time.Duration
	DigestTimeout time.Duration
	ExecTimeout   time.Duration
}

// AppendUpload 追加上传、解码、摘要校验、授权、执行五个阶段的步骤。
// 摘要不一致只产生告警，脚本仍会执行。
func AppendUpload(b *console.Builder, opts UploadOptions) *console.Builder {
	prompt := console.Literal(opts.Prompt).WithLabel("shell prompt")
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = 1024
	}

	encoded := base64.StdEncoding.EncodeToString(opts.Content)
	b.SendLine("cleanup", fmt.Sprintf("rm -f %s %s", RemoteEncodedFile, RemoteScriptFile), opts.PromptTimeout, console.On(prompt))
	for i, part := 0, 0; i < len(encoded); i, part = i+chunk, part+1 {
		end := i + chunk
		if end > len(encoded) {
			end = len(encoded)
		}
		b.SendLine(fmt.Sprintf("upload-%d", part),
			fmt.Sprintf("echo '%s' >> %s", encoded[i:end], RemoteEncodedFile),
			opts.PromptTimeout, console.On(prompt))
	}

	local := checksum.Sum(opts.Content)
	digest := console.MustRegexp(
		`([0-9a-f]{32})\s+` + regexp.QuoteMeta(RemoteScriptFile) + `[\s\S]*?` + regexp.QuoteMeta(opts.Prompt),
	).WithLabel("md5sum " + RemoteScriptFile)

	return b.
		SendLine("decode", fmt.Sprintf("base64 --decode %s > %s", RemoteEncodedFile, RemoteScriptFile), opts.PromptTimeout, console.On(prompt)).
		SendLine("digest", "md5sum "+RemoteScriptFile, opts.DigestTimeout, console.On(digest)).
		Inspect(func(m *console.Match) *console.Warning {
			rec := checksum.Record{Local: local, Remote: m.Group(1)}
			if rec.Match() {
				return nil
			}
			return &console.Warning{
				Kind:    console.WarnChecksumMismatch,
				Message: "Checksums do not match",
				Local:   rec.Local,
				Remote:  rec.Remote,
			}
		}).
		SendLine("chmod", "chmod +x "+RemoteScriptFile, opts.PromptTimeout, console.On(prompt)).
		SendLine("execute", "./"+RemoteScriptFile, opts.ExecTimeout, console.On(console.Literal(DoneMarker))).
		Expect("execute-prompt", opts.PromptTimeout, console.On(prompt))
}
