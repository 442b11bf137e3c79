package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsoleTextStripsControlSequences(t *testing.T) {
	in := []byte("\x1b[?2004h\x1b[1;32mvyos@vyos\x1b[0m:~$ ls\r\nconfig.sh\r\n\x00")
	assert.Equal(t, "vyos@vyos:~$ ls\nconfig.sh\n", ConsoleText(in))
}

func TestEnsureUTF8BytesPassesValidInput(t *testing.T) {
	assert.Equal(t, "héllo", EnsureUTF8Bytes([]byte("héllo")))
	assert.Equal(t, "", EnsureUTF8Bytes(nil))
}

func TestEnsureUTF8BytesDecodesLegacy(t *testing.T) {
	// GBK 编码的 "中文"
	assert.Equal(t, "中文", EnsureUTF8Bytes([]byte{0xd6, 0xd0, 0xce, 0xc4}))

	out := EnsureUTF8Bytes([]byte{'a', 0xff, 'b'})
	assert.True(t, len(out) > 0)
	assert.Contains(t, out, "a")
}
