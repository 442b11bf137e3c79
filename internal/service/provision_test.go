package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consoleprov/consoleprov/addone/dialogue"
	"github.com/consoleprov/consoleprov/internal/config"
	"github.com/consoleprov/consoleprov/internal/database"
	"github.com/consoleprov/consoleprov/internal/model"
	"github.com/consoleprov/consoleprov/pkg/checksum"
	"github.com/consoleprov/consoleprov/pkg/console"
	"github.com/consoleprov/consoleprov/pkg/console/consoletest"
	"github.com/consoleprov/consoleprov/pkg/lease"
	"github.com/consoleprov/consoleprov/pkg/metrics"
)

const quickPrompt = "\r\nrouter$ "

// quickPlugin 登录加可选上传，无关机等待
type quickPlugin struct{}

func (quickPlugin) Name() string { return "quick" }

func (quickPlugin) Defaults() dialogue.Defaults {
	return dialogue.Defaults{Username: "admin", Password: "admin", LineEnding: "\n",
		LoginTimeout: time.Second, PromptTimeout: time.Second}
}

func (p quickPlugin) login(cred dialogue.Credentials) *console.Builder {
	d := p.Defaults()
	cred = cred.Resolve(d)
	return console.NewScript("quick-"+cred.Username).
		Expect("login", d.LoginTimeout, console.On(console.Literal("login:"))).
		SendLine("username", cred.Username, d.PromptTimeout, console.On(console.Literal("Password:"))).
		SendLine("password", cred.Password, d.PromptTimeout,
			console.AbortOn(console.Literal("Login incorrect")),
			console.On(console.Literal("router$")))
}

func (p quickPlugin) InstallScript(params dialogue.InstallParams) (*console.Script, error) {
	return p.login(params.Credentials).Build()
}

func (p quickPlugin) ConfigureScript(params dialogue.ConfigureParams) (*console.Script, error) {
	b := p.login(params.Credentials)
	dialogue.AppendUpload(b, dialogue.UploadOptions{
		Content: params.Content, Prompt: "router$", PromptTimeout: time.Second,
		DigestTimeout: time.Second, ExecTimeout: time.Second,
	})
	return b.Build()
}

func init() {
	dialogue.Register("quick", quickPlugin{})
}

func loginRules(password string) []consoletest.Rule {
	reply := quickPrompt
	if password != "admin" {
		reply = "\r\nLogin incorrect\r\nlogin: "
	}
	return []consoletest.Rule{
		{Reply: "login: "},
		{Expect: "admin\n", Reply: "Password: "},
		{Expect: password + "\n", Reply: reply},
	}
}

func configureRules(content []byte) []consoletest.Rule {
	return append(loginRules("admin"),
		consoletest.Rule{Expect: "rm -f config.b64 config.sh\n", Reply: quickPrompt},
		consoletest.Rule{Expect: ">> config.b64\n", Reply: quickPrompt},
		consoletest.Rule{Expect: "> config.sh\n", Reply: quickPrompt},
		consoletest.Rule{Expect: "md5sum config.sh\n", Reply: checksum.Sum(content) + "  config.sh" + quickPrompt},
		consoletest.Rule{Expect: "chmod +x config.sh\n", Reply: quickPrompt},
		consoletest.Rule{Expect: "./config.sh\n", Reply: "Done"},
		consoletest.Rule{Reply: quickPrompt},
	)
}

// consoles 每次拨号按端口取下一个内存控制台
type consoles struct {
	mu    sync.Mutex
	queue map[int][]*consoletest.Conn
	used  []*consoletest.Conn
}

func newConsoles() *consoles {
	return &consoles{queue: map[int][]*consoletest.Conn{}}
}

func (c *consoles) add(port int, conn *consoletest.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue[port] = append(c.queue[port], conn)
}

func (c *consoles) dialer() console.Dialer {
	return console.DialerFunc(func(ctx context.Context, ep console.Endpoint) (console.Transport, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		q := c.queue[ep.Port]
		if len(q) == 0 {
			return nil, fmt.Errorf("connection refused: %s", ep)
		}
		c.queue[ep.Port] = q[1:]
		c.used = append(c.used, q[0])
		return q[0], nil
	})
}

type fakeTopology struct {
	mu    sync.Mutex
	power []string
}

func (f *fakeTopology) ResolveConsoleEndpoint(_ context.Context, nodeID string) (console.Endpoint, error) {
	var port int
	if _, err := fmt.Sscanf(nodeID, "node-%d", &port); err != nil {
		return console.Endpoint{}, fmt.Errorf("no such node %s", nodeID)
	}
	return console.Endpoint{Host: "127.0.0.1", Port: port, Protocol: console.ProtocolTelnet}, nil
}

func (f *fakeTopology) SetNodePower(_ context.Context, nodeID string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.power = append(f.power, fmt.Sprintf("%s:%v", nodeID, on))
	return nil
}

type fixture struct {
	cfg      *config.Config
	consoles *consoles
	topo     *fakeTopology
	store    *database.RunStore
	leaser   *lease.Memory
	svc      *ProvisionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Console.PollInterval = 5 * time.Millisecond
	cfg.Provision.Platform = "quick"
	cfg.Provision.Concurrency = 2
	cfg.Provision.LeaseTTL = time.Minute
	cfg.Provision.LeaseWait = 200 * time.Millisecond
	cfg.Provision.ScriptDir = dir
	cfg.Storage.Backend = "local"
	cfg.Storage.Prefix = "transcripts"
	cfg.Storage.Local.BaseDir = dir

	d, err := database.Open(config.SQLiteConfig{Path: filepath.Join(dir, "runs.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := d.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &fixture{
		cfg:      cfg,
		consoles: newConsoles(),
		topo:     &fakeTopology{},
		store:    database.NewRunStore(d),
		leaser:   lease.NewMemory(),
	}
	f.svc = NewProvisionService(cfg,
		WithDialer(f.consoles.dialer()),
		WithTopology(f.topo),
		WithLeaser(f.leaser),
		WithStore(f.store),
		WithStorageWriter(NewStorageWriter(cfg)),
		WithMetrics(metrics.New("test")),
	)
	t.Cleanup(func() { f.svc.Stop() })
	return f
}

func TestInstallByAddressPersistsAndArchives(t *testing.T) {
	f := newFixture(t)
	f.consoles.add(5001, consoletest.New(loginRules("admin")...))

	sum, err := f.svc.Install(context.Background(), Request{Target: Target{Host: "127.0.0.1", Port: 5001}})
	require.NoError(t, err)
	require.True(t, sum.Succeeded(), sum.Error)
	assert.Equal(t, -1, sum.Step)

	run, err := f.store.Get(sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, run.Status)
	assert.Equal(t, "quick-admin", run.Script)
	assert.Equal(t, "telnet", run.Protocol)
	assert.Equal(t, 5, run.TranscriptLen)

	entries, err := f.store.Transcript(sum.RunID)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "received", entries[0].Direction)
	assert.Equal(t, "sent", entries[1].Direction)
	assert.Equal(t, "admin\n", entries[1].Data)

	require.True(t, strings.HasPrefix(run.ArchiveURI, "file://"))
	data, err := os.ReadFile(strings.TrimPrefix(run.ArchiveURI, "file://"))
	require.NoError(t, err)
	assert.Contains(t, string(data), ">>> ")
	assert.Contains(t, string(data), "router$")
	assert.Equal(t, 0, f.leaser.Held())
}

func TestInstallFailureRecordsStep(t *testing.T) {
	f := newFixture(t)
	f.consoles.add(5002, consoletest.New(loginRules("wrong")...))

	sum, err := f.svc.Install(context.Background(), Request{
		Target: Target{Host: "127.0.0.1", Port: 5002, Password: "wrong"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, sum.Status)
	assert.Equal(t, string(console.KindNoPatternMatch), sum.Outcome)
	assert.Equal(t, "password", sum.StepName)
	assert.Equal(t, 2, sum.Step)
}

func TestProvisionSkipsConfigureAfterFailedInstall(t *testing.T) {
	f := newFixture(t)
	f.consoles.add(5003, consoletest.New(loginRules("wrong")...))

	res := f.svc.Provision(context.Background(), Request{
		Target:        Target{Host: "127.0.0.1", Port: 5003, Password: "wrong"},
		ScriptContent: "echo hi",
	})
	require.NotNil(t, res.Install)
	assert.Nil(t, res.Configure)
	assert.NotEmpty(t, res.Error)
	assert.Len(t, f.consoles.used, 1)
}

func TestProvisionByNode(t *testing.T) {
	f := newFixture(t)
	content := []byte("set system host-name r1\n")
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.Provision.ScriptDir, "r1.sh"), content, 0o644))
	f.consoles.add(5004, consoletest.New(loginRules("admin")...))
	f.consoles.add(5004, consoletest.New(configureRules(content)...))

	res := f.svc.Provision(context.Background(), Request{
		Target:     Target{NodeID: "node-5004", NodeName: "r1"},
		ScriptPath: "r1.sh",
	})
	require.Empty(t, res.Error)
	require.True(t, res.Configure.Succeeded(), res.Configure.Error)
	assert.Empty(t, res.Configure.Warnings)
	assert.Equal(t, []string{"node-5004:true", "node-5004:true"}, f.topo.power)

	run, err := f.store.Get(res.Configure.RunID)
	require.NoError(t, err)
	assert.Equal(t, checksum.Sum(content), run.LocalDigest)
	assert.Equal(t, "r1", run.NodeName)
	assert.Equal(t, 5004, run.Port)
}

func TestConsoleBusyIsRejected(t *testing.T) {
	f := newFixture(t)
	release, err := f.leaser.Acquire(context.Background(), "127.0.0.1:5005", time.Minute)
	require.NoError(t, err)
	defer release(context.Background())

	sum, err := f.svc.Install(context.Background(), Request{Target: Target{Host: "127.0.0.1", Port: 5005}})
	assert.ErrorIs(t, err, lease.ErrHeld)
	assert.Equal(t, model.RunStatusFailed, sum.Status)
	assert.Empty(t, f.consoles.used)

	run, err := f.store.Get(sum.RunID)
	require.NoError(t, err)
	assert.Contains(t, run.ErrorMsg, "busy")
}

func TestBusyConsoleLeavesPowerUntouched(t *testing.T) {
	f := newFixture(t)
	release, err := f.leaser.Acquire(context.Background(), "127.0.0.1:5007", time.Minute)
	require.NoError(t, err)
	defer release(context.Background())

	_, err = f.svc.Install(context.Background(), Request{Target: Target{NodeID: "node-5007"}})
	assert.ErrorIs(t, err, lease.ErrHeld)

	f.topo.mu.Lock()
	defer f.topo.mu.Unlock()
	assert.Empty(t, f.topo.power)
}

func TestConfigReloadDuringSessions(t *testing.T) {
	f := newFixture(t)
	const sessions = 4
	for i := 0; i < sessions; i++ {
		f.consoles.add(5030+i, consoletest.New(loginRules("admin")...))
	}

	stop := make(chan struct{})
	reloaded := make(chan struct{})
	go func() {
		defer close(reloaded)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			next := *f.cfg
			next.Provision.LeaseTTL = time.Minute + time.Duration(i)*time.Millisecond
			f.svc.UpdateConfig(&next)
			time.Sleep(time.Millisecond)
		}
	}()

	var wg sync.WaitGroup
	sums := make([]*RunSummary, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sums[i], _ = f.svc.Install(context.Background(), Request{Target: Target{Host: "127.0.0.1", Port: 5030 + i}})
		}(i)
	}
	wg.Wait()
	close(stop)
	<-reloaded

	for _, sum := range sums {
		require.NotNil(t, sum)
		assert.True(t, sum.Succeeded(), sum.Error)
	}
	assert.Equal(t, time.Minute, f.cfg.Provision.LeaseTTL, "original config left untouched")
}

func TestUpdateConfigAppliesToLaterSessions(t *testing.T) {
	f := newFixture(t)
	next := *f.cfg
	next.Provision.Password = "wrong"
	f.svc.UpdateConfig(&next)
	f.svc.UpdateConfig(nil)
	assert.Same(t, &next, f.svc.Config())

	f.consoles.add(5040, consoletest.New(loginRules("wrong")...))
	sum, err := f.svc.Install(context.Background(), Request{Target: Target{Host: "127.0.0.1", Port: 5040}})
	require.NoError(t, err)
	assert.Equal(t, "password", sum.StepName)
	assert.Equal(t, "", f.cfg.Provision.Password)
}

func TestConfigureRequiresScript(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Configure(context.Background(), Request{Target: Target{Host: "127.0.0.1", Port: 5006}})
	assert.Error(t, err)

	_, err = f.svc.Install(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestProvisionBatch(t *testing.T) {
	f := newFixture(t)
	content := []byte("echo ok")
	var reqs []Request
	for port := 5010; port < 5013; port++ {
		f.consoles.add(port, consoletest.New(loginRules("admin")...))
		f.consoles.add(port, consoletest.New(configureRules(content)...))
		reqs = append(reqs, Request{Target: Target{Host: "127.0.0.1", Port: port}, ScriptContent: string(content)})
	}

	results := f.svc.ProvisionBatch(context.Background(), "batch-1", reqs)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Empty(t, r.Error)
	}

	runs, total, err := f.store.List(database.RunFilter{BatchID: "batch-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 6, total)
	for _, r := range runs {
		assert.Equal(t, model.RunStatusSuccess, r.Status)
	}
}

func TestSubmitStopsWithService(t *testing.T) {
	f := newFixture(t)
	done := make(chan struct{})
	f.svc.Submit(func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})
	require.NoError(t, f.svc.Stop())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("submitted task not cancelled")
	}
}
