package console

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Viewer 会话期间的本地控制台查看器，release 在会话关闭时必定被调用
type Viewer interface {
	Start(ctx context.Context, ep Endpoint) (func(), error)
}

// NopViewer 不启动任何进程
type NopViewer struct{}

// Start 实现 Viewer
func (NopViewer) Start(context.Context, Endpoint) (func(), error) {
	return func() {}, nil
}

// ExecViewer 启动本地命令，参数中的 {host} {port} 会被替换
// 例如: konsole -e telnet {host} {port}
type ExecViewer struct {
	Command []string
}

// Args 替换占位符后的参数
func (v ExecViewer) Args(ep Endpoint) []string {
	r := strings.NewReplacer("{host}", ep.Host, "{port}", strconv.Itoa(ep.Port))
	args := make([]string, len(v.Command))
	for i, a := range v.Command {
		args[i] = r.Replace(a)
	}
	return args
}

// Start 实现 Viewer；进程与会话生命周期绑定而不是与 ctx 绑定
func (v ExecViewer) Start(_ context.Context, ep Endpoint) (func(), error) {
	if len(v.Command) == 0 {
		return func() {}, nil
	}
	args := v.Args(ep)
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return func() {}, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		})
	}, nil
}
