package checksum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumDeterministic(t *testing.T) {
	assert.Equal(t, Sum([]byte("echo hi")), Sum([]byte("echo hi")))
	assert.NotEqual(t, Sum([]byte("echo hi")), Sum([]byte("echo ho")))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", Sum(nil))
}

func TestFileMatchesSum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.sh")
	require.NoError(t, os.WriteFile(path, []byte("echo hi"), 0644))

	got, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, Sum([]byte("echo hi")), got)

	_, err = File(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestRecordMatch(t *testing.T) {
	assert.True(t, Record{Local: "ABCDEF", Remote: "abcdef\r"}.Match())
	assert.False(t, Record{Local: "abcdef", Remote: "abcde0"}.Match())
}
