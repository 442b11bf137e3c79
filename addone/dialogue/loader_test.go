package dialogue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consoleprov/consoleprov/pkg/console"
	"github.com/consoleprov/consoleprov/pkg/console/consoletest"
)

const sample = `
name: sample
defaults:
  username: admin
  password: s3cret
  shell_prompt: "admin$ "
install:
  - name: login
    expect:
      - literal: "login:"
    timeout: 1s
  - name: username
    send: "${username}"
    expect:
      - literal: "Password:"
  - name: password
    send: "${password}"
    expect:
      - literal: "denied"
        abort: true
      - regexp: 'admin\$ '
        label: prompt
configure:
  login:
    - name: login
      expect:
        - literal: "login:"
      timeout: 1s
`

func TestParseAndRunInstall(t *testing.T) {
	def, err := Parse([]byte(sample))
	require.NoError(t, err)
	p := NewFilePlugin(def)
	assert.Equal(t, "sample", p.Name())
	assert.Equal(t, 10*time.Second, p.Defaults().PromptTimeout)

	s, err := p.InstallScript(InstallParams{})
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())
	assert.Equal(t, time.Second, s.Step(0).Timeout)
	assert.Equal(t, "prompt", s.Step(2).Labels()[1])

	conn := consoletest.Script("login:", "admin\n", "Password:", "s3cret\n", "admin$ ")
	res := console.NewRunner(conn.Dialer(), console.WithPollInterval(5*time.Millisecond)).
		Run(context.Background(), console.Endpoint{Host: "h", Port: 1}, s)
	assert.True(t, res.Outcome.Succeeded(), res.Outcome.String())
}

func TestParseConfigureIncludesUpload(t *testing.T) {
	def, err := Parse([]byte(sample))
	require.NoError(t, err)

	s, err := NewFilePlugin(def).ConfigureScript(ConfigureParams{Content: []byte("echo hi")})
	require.NoError(t, err)

	var names []string
	for _, st := range s.Steps() {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"login", "cleanup", "upload-0", "decode", "digest", "chmod", "execute", "execute-prompt"}, names)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"no name":       "install: []",
		"no install":    "name: x",
		"bad regexp":    "name: x\ninstall:\n  - name: a\n    expect:\n      - regexp: '(['\n",
		"both patterns": "name: x\ninstall:\n  - name: a\n    expect:\n      - literal: a\n        regexp: b\n",
		"not yaml":      "name: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestRegisterDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.yaml"), []byte(sample), 0644))

	names, err := RegisterDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"sample"}, names)
	p, ok := Lookup("sample")
	require.True(t, ok)
	assert.Equal(t, "sample", p.Name())
	assert.Contains(t, Names(), "sample")
}

func TestShippedDialoguesParse(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("..", "..", "configs", "dialogues", "*.yaml"))
	require.NoError(t, err)
	for _, path := range matches {
		_, err := LoadFile(path)
		assert.NoError(t, err, path)
	}
}
