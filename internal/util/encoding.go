package util

import (
	"bytes"
	"io"
	"regexp"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// 串口控制台常见的非 UTF-8 编码，ISO8859_1 能解码任意字节，放在最后兜底
var consoleEncodings = []encoding.Encoding{
	simplifiedchinese.GB18030,
	charmap.CodePage437,
	charmap.Windows1252,
	charmap.ISO8859_1,
}

// ansiRe 终端控制序列（CSI、OSC、单字符 ESC 序列）
var ansiRe = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[ -/]*[@-~]|\][^\x07\x1b]*(?:\x07|\x1b\\)|[@-Z\\-_])`)

// EnsureUTF8Bytes 将非 UTF-8 字节按常见编码解码为 UTF-8 字符串
func EnsureUTF8Bytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	for _, enc := range consoleEncodings {
		if s, ok := tryDecode(enc, b); ok {
			return s
		}
	}
	return string(b)
}

// ConsoleText 控制台字节转可读文本：去掉终端控制序列、回车与 NUL，再转 UTF-8
func ConsoleText(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	b = ansiRe.ReplaceAll(b, nil)
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	b = bytes.ReplaceAll(b, []byte("\r"), nil)
	b = bytes.ReplaceAll(b, []byte{0}, nil)
	return EnsureUTF8Bytes(b)
}

func tryDecode(enc encoding.Encoding, b []byte) (string, bool) {
	reader := transform.NewReader(bytes.NewReader(b), enc.NewDecoder())
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", false
	}
	if utf8.Valid(decoded) {
		return string(decoded), true
	}
	return "", false
}
