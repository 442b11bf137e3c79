// Package checksum 计算与远端 md5sum 输出可比对的内容摘要
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Sum 返回内容的 MD5 十六进制摘要
func Sum(data []byte) string {
	h := md5.Sum(data)
	return hex.EncodeToString(h[:])
}

// File 返回文件内容摘要
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Record 本地摘要与远端报告的摘要
type Record struct {
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// Match 忽略大小写与空白比较
func (r Record) Match() bool {
	return strings.EqualFold(strings.TrimSpace(r.Local), strings.TrimSpace(r.Remote))
}
