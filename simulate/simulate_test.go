package simulate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consoleprov/consoleprov/addone/dialogue"
	"github.com/consoleprov/consoleprov/addone/dialogue/platforms/vyos"
	"github.com/consoleprov/consoleprov/pkg/console"
)

const configScript = "#!/bin/vbash\nset system host-name edge-1\nset interfaces ethernet eth0 address dhcp\n"

func startConsole(t *testing.T, cfg ConsoleConfig) (*Server, console.Endpoint) {
	t.Helper()
	srv, err := Listen("127.0.0.1:0", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv, console.Endpoint{Host: "127.0.0.1", Port: srv.Addr().Port}
}

func runScript(t *testing.T, ep console.Endpoint, script *console.Script) *console.Result {
	t.Helper()
	runner := console.NewRunner(console.TelnetDialer{Timeout: time.Second}, console.WithPollInterval(20*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return runner.Run(ctx, ep, script)
}

func TestInstallAgainstSimulatedConsole(t *testing.T) {
	srv, ep := startConsole(t, ConsoleConfig{})

	script, err := (&vyos.Plugin{}).InstallScript(dialogue.InstallParams{})
	require.NoError(t, err)

	res := runScript(t, ep, script)
	require.True(t, res.Outcome.Succeeded(), res.Outcome.String())

	stats := srv.Stats()
	assert.Equal(t, 1, stats.Logins)
	assert.Equal(t, 1, stats.Installs)
	assert.Equal(t, 1, stats.PowerOffs)
}

func TestConfigureAgainstSimulatedConsole(t *testing.T) {
	srv, ep := startConsole(t, ConsoleConfig{})

	script, err := (&vyos.Plugin{}).ConfigureScript(dialogue.ConfigureParams{Content: []byte(configScript)})
	require.NoError(t, err)

	res := runScript(t, ep, script)
	require.True(t, res.Outcome.Succeeded(), res.Outcome.String())
	assert.Empty(t, res.Outcome.Warnings)
	assert.Equal(t, 1, srv.Stats().Executions)
}

func TestConfigureChecksumMismatchStillExecutes(t *testing.T) {
	srv, ep := startConsole(t, ConsoleConfig{WrongChecksum: true})

	script, err := (&vyos.Plugin{}).ConfigureScript(dialogue.ConfigureParams{Content: []byte(configScript)})
	require.NoError(t, err)

	res := runScript(t, ep, script)
	require.True(t, res.Outcome.Succeeded(), res.Outcome.String())
	assert.True(t, res.Outcome.HasWarning(console.WarnChecksumMismatch))
	assert.Equal(t, 1, srv.Stats().Executions)
}

func TestWrongPasswordAborts(t *testing.T) {
	srv, ep := startConsole(t, ConsoleConfig{Password: "secret"})

	script, err := (&vyos.Plugin{}).InstallScript(dialogue.InstallParams{})
	require.NoError(t, err)

	res := runScript(t, ep, script)
	assert.Equal(t, console.KindNoPatternMatch, res.Outcome.Kind)
	assert.Equal(t, "password", res.Outcome.StepName)
	assert.Equal(t, 1, srv.Stats().FailedLogin)
}

func TestFailedInstallTimesOut(t *testing.T) {
	_, ep := startConsole(t, ConsoleConfig{FailInstall: true})

	script, err := console.NewScript("short-install").LineEnding("\n").
		Expect("login", time.Second, console.On(console.Literal(vyos.LoginPrompt))).
		SendLine("username", "vyos", time.Second, console.On(console.Literal(vyos.PasswordPrompt))).
		SendLine("password", "vyos", time.Second, console.On(console.Literal(vyos.ShellPrompt))).
		SendLine("install-image", "install image", 300*time.Millisecond, console.On(console.Literal("Would you like to continue?"))).
		Build()
	require.NoError(t, err)

	res := runScript(t, ep, script)
	assert.Equal(t, console.KindStepTimeout, res.Outcome.Kind)
	assert.Equal(t, "install-image", res.Outcome.StepName)
}

func TestSilentConsoleTimesOut(t *testing.T) {
	_, ep := startConsole(t, ConsoleConfig{Silent: true})

	script, err := console.NewScript("silent").
		Expect("login", 200*time.Millisecond, console.On(console.Literal(vyos.LoginPrompt))).
		Build()
	require.NoError(t, err)

	res := runScript(t, ep, script)
	assert.Equal(t, console.KindStepTimeout, res.Outcome.Kind)
	assert.Equal(t, 0, res.Outcome.Step)
}

func TestManagerFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simulate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: 127.0.0.1
consoles:
  r1:
    port: 0
    password: pw
    boot_delay: 10ms
  r2:
    port: 0
    wrong_checksum: true
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Consoles, 2)
	assert.Equal(t, 10*time.Millisecond, cfg.Consoles["r1"].BootDelay)
	assert.True(t, cfg.Consoles["r2"].WrongChecksum)

	m, err := Start(cfg)
	require.NoError(t, err)
	defer m.Stop()
	assert.Equal(t, []string{"r1", "r2"}, m.Names())

	r1, ok := m.Server("r1")
	require.True(t, ok)
	assert.NotZero(t, r1.Addr().Port)
}
