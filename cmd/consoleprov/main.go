// Package main 控制台安装配置命令行工具。
//
// 单次执行 install、configure 或 provision，运行记录写入与服务端相同的 SQLite。
package main

import (
	"fmt"
	"os"

	"github.com/consoleprov/consoleprov/cmd/consoleprov/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
