package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/consoleprov/consoleprov/addone/dialogue"
	"github.com/consoleprov/consoleprov/internal/config"
	"github.com/consoleprov/consoleprov/internal/database"
	"github.com/consoleprov/consoleprov/internal/model"
	"github.com/consoleprov/consoleprov/pkg/checksum"
	"github.com/consoleprov/consoleprov/pkg/console"
	"github.com/consoleprov/consoleprov/pkg/lease"
	"github.com/consoleprov/consoleprov/pkg/logger"
	"github.com/consoleprov/consoleprov/pkg/metrics"
	"github.com/consoleprov/consoleprov/pkg/ssh"
)

// ErrNoEndpoint 既没有节点 ID 也没有 host/port
var ErrNoEndpoint = errors.New("target has neither node_id nor host/port")

// ErrNoTopology 按节点 ID 定位但未配置 GNS3
var ErrNoTopology = errors.New("topology client not configured")

// NodeController GNS3 节点查询与电源控制
type NodeController interface {
	ResolveConsoleEndpoint(ctx context.Context, nodeID string) (console.Endpoint, error)
	SetNodePower(ctx context.Context, nodeID string, on bool) error
}

// Target 目标节点，NodeID 与 Host/Port 二选一
type Target struct {
	NodeID   string `json:"node_id,omitempty"`
	NodeName string `json:"node_name,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Platform string `json:"platform,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

func (t Target) label() string {
	if t.NodeName != "" {
		return t.NodeName
	}
	if t.NodeID != "" {
		return t.NodeID
	}
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// Request 单节点请求，配置脚本 ScriptContent 优先于 ScriptPath
type Request struct {
	Target
	RunID         string `json:"run_id,omitempty"`
	BatchID       string `json:"batch_id,omitempty"`
	ScriptPath    string `json:"script_path,omitempty"`
	ScriptContent string `json:"script_content,omitempty"`
}

// RunSummary 一次会话的摘要
type RunSummary struct {
	RunID      string            `json:"run_id"`
	Kind       string            `json:"kind"`
	Status     string            `json:"status"`
	Outcome    string            `json:"outcome,omitempty"`
	Step       int               `json:"step"`
	StepName   string            `json:"step_name,omitempty"`
	Error      string            `json:"error,omitempty"`
	Warnings   []console.Warning `json:"warnings,omitempty"`
	ArchiveURI string            `json:"archive_uri,omitempty"`
	Duration   string            `json:"duration"`
}

// Succeeded 会话是否成功
func (r *RunSummary) Succeeded() bool {
	return r != nil && r.Status == model.RunStatusSuccess
}

// ProvisionResult 安装加配置的结果
type ProvisionResult struct {
	Target    Target      `json:"target"`
	Install   *RunSummary `json:"install,omitempty"`
	Configure *RunSummary `json:"configure,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Option 服务选项
type Option func(*ProvisionService)

// WithTopology 设置 GNS3 客户端
func WithTopology(t NodeController) Option {
	return func(s *ProvisionService) { s.topology = t }
}

// WithDialer 替换控制台拨号器
func WithDialer(d console.Dialer) Option {
	return func(s *ProvisionService) { s.dialer = d }
}

// WithLeaser 替换端点租约实现
func WithLeaser(l lease.Leaser) Option {
	return func(s *ProvisionService) { s.leaser = l }
}

// WithStore 持久化会话记录
func WithStore(st *database.RunStore) Option {
	return func(s *ProvisionService) { s.store = st }
}

// WithStorageWriter 归档会话记录文本
func WithStorageWriter(w StorageWriter) Option {
	return func(s *ProvisionService) { s.writer = w }
}

// WithMetrics 记录会话指标
func WithMetrics(m *metrics.Collector) Option {
	return func(s *ProvisionService) { s.metrics = m }
}

// WithViewer 替换本地查看器
func WithViewer(v console.Viewer) Option {
	return func(s *ProvisionService) { s.viewer = v }
}

// ProvisionService 驱动安装与配置会话。
// 配置以快照方式读取，每个会话开始时取一次，热更新只影响之后开始的会话。
type ProvisionService struct {
	cfg      atomic.Pointer[config.Config]
	topology NodeController
	dialer   console.Dialer
	leaser   lease.Leaser
	store    *database.RunStore
	writer   StorageWriter
	metrics  *metrics.Collector
	viewer   console.Viewer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProvisionService 创建服务，未指定的依赖按配置构造
func NewProvisionService(cfg *config.Config, opts ...Option) *ProvisionService {
	s := &ProvisionService{}
	s.cfg.Store(cfg)
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = console.Dialers{
			console.ProtocolTelnet: console.TelnetDialer{Timeout: cfg.Console.DialTimeout},
			console.ProtocolSSH: ssh.NewDialer(ssh.Config{
				Timeout:  cfg.Console.DialTimeout,
				Username: cfg.Console.SSH.Username,
				Password: cfg.Console.SSH.Password,
			}),
		}
	}
	if s.leaser == nil {
		s.leaser = lease.NewMemory()
	}
	if s.viewer == nil {
		if len(cfg.Console.Viewer) > 0 {
			s.viewer = console.ExecViewer{Command: cfg.Console.Viewer}
		} else {
			s.viewer = console.NopViewer{}
		}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// UpdateConfig 替换配置快照，进行中的会话继续使用旧快照。
// 拨号、租约、存储等依赖在创建时已构造，不随之变化。
func (s *ProvisionService) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.cfg.Store(cfg)
}

// Config 当前配置快照，调用方不得修改
func (s *ProvisionService) Config() *config.Config {
	return s.cfg.Load()
}

// Start 加载对话定义目录
func (s *ProvisionService) Start(ctx context.Context) error {
	dir := strings.TrimSpace(s.Config().Dialogue.Dir)
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debugf("dialogue dir %s not found, using built-in platforms only", dir)
		return nil
	}
	names, err := dialogue.RegisterDir(dir)
	if err != nil {
		return fmt.Errorf("failed to load dialogues: %w", err)
	}
	logger.Infof("Dialogue platforms available: %s (loaded from %s: %v)", strings.Join(dialogue.Names(), ","), dir, names)
	return nil
}

// Stop 取消后台任务并等待退出
func (s *ProvisionService) Stop() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// Submit 在后台执行，Stop 时取消并等待
func (s *ProvisionService) Submit(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// Install 对目标执行安装对话
func (s *ProvisionService) Install(ctx context.Context, req Request) (*RunSummary, error) {
	return s.runSession(ctx, model.RunKindInstall, req, func(cfg *config.Config, p dialogue.Plugin, cred dialogue.Credentials) (*console.Script, string, error) {
		script, err := p.InstallScript(dialogue.InstallParams{
			Credentials:  cred,
			LoginTimeout: cfg.Provision.LoginTimeout,
		})
		return script, "", err
	})
}

// Configure 上传并执行配置脚本，脚本在会话开始前一次性读入
func (s *ProvisionService) Configure(ctx context.Context, req Request) (*RunSummary, error) {
	return s.runSession(ctx, model.RunKindConfigure, req, func(cfg *config.Config, p dialogue.Plugin, cred dialogue.Credentials) (*console.Script, string, error) {
		content, err := loadScript(cfg, req)
		if err != nil {
			return nil, "", err
		}
		script, err := p.ConfigureScript(dialogue.ConfigureParams{
			Credentials:  cred,
			LoginTimeout: cfg.Provision.LoginTimeout,
			Content:      content,
		})
		return script, checksum.Sum(content), err
	})
}

// Provision 安装，等待设备关机稳定，重新上电后配置；安装失败不再配置
func (s *ProvisionService) Provision(ctx context.Context, req Request) *ProvisionResult {
	res := &ProvisionResult{Target: req.Target}

	installReq := req
	installReq.RunID = ""
	inst, err := s.Install(ctx, installReq)
	res.Install = inst
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if !inst.Succeeded() {
		res.Error = "install did not succeed; configure skipped"
		return res
	}

	if err := sleepContext(ctx, s.Config().Provision.SettleDelay); err != nil {
		res.Error = err.Error()
		return res
	}

	configureReq := req
	configureReq.RunID = ""
	conf, err := s.Configure(ctx, configureReq)
	res.Configure = conf
	if err != nil {
		res.Error = err.Error()
	} else if !conf.Succeeded() {
		res.Error = "configure did not succeed"
	}
	return res
}

// ProvisionBatch 并发处理多个节点，并发度为 provision.concurrency
func (s *ProvisionService) ProvisionBatch(ctx context.Context, batchID string, reqs []Request) []*ProvisionResult {
	if batchID == "" {
		batchID = uuid.NewString()
	}
	results := make([]*ProvisionResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(s.Config().Provision.Concurrency)
	for i := range reqs {
		req := reqs[i]
		req.BatchID = batchID
		g.Go(func() error {
			results[i] = s.Provision(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	logger.WithFields(logrus.Fields{"batch_id": batchID, "nodes": len(reqs), "failed": failed}).Info("Provision batch finished")
	return results
}

type scriptFactory func(cfg *config.Config, p dialogue.Plugin, cred dialogue.Credentials) (*console.Script, string, error)

func (s *ProvisionService) runSession(ctx context.Context, kind string, req Request, build scriptFactory) (*RunSummary, error) {
	cfg := s.Config()
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	platform := strings.TrimSpace(req.Platform)
	if platform == "" {
		platform = cfg.Provision.Platform
	}
	plugin := dialogue.Get(platform)
	if plugin != nil {
		platform = plugin.Name()
	}

	rec := &model.ProvisionRun{
		ID:        runID,
		BatchID:   req.BatchID,
		NodeID:    req.NodeID,
		NodeName:  req.NodeName,
		Kind:      kind,
		Platform:  platform,
		Host:      req.Host,
		Port:      req.Port,
		Protocol:  req.Protocol,
		Status:    model.RunStatusRunning,
		Step:      -1,
		StartTime: time.Now(),
	}
	s.persist(rec, true)

	log := logger.WithFields(logrus.Fields{logger.FieldSessionID: runID, "kind": kind, "target": req.label()})

	cred := dialogue.Credentials{Username: req.Username, Password: req.Password}
	if cred.Username == "" {
		cred.Username = cfg.Provision.Username
	}
	if cred.Password == "" {
		cred.Password = cfg.Provision.Password
	}
	if plugin == nil {
		return s.abandon(rec, log, fmt.Errorf("no dialogue registered for platform %q", platform))
	}
	script, digest, err := build(cfg, plugin, cred)
	if err != nil {
		return s.abandon(rec, log, fmt.Errorf("failed to build %s dialogue: %w", kind, err))
	}
	script = script.WithTimeouts(cfg.Dialogue.StepOverrides(plugin.Name()))
	rec.Script = script.Name()
	rec.LocalDigest = digest

	ep, err := s.resolve(ctx, req.Target)
	if err != nil {
		return s.abandon(rec, log, err)
	}
	rec.Host, rec.Port, rec.Protocol = ep.Host, ep.Port, ep.Scheme()

	// 先占用控制台再上电，控制台被占用时不触碰节点电源
	leaseCtx, cancel := context.WithTimeout(ctx, cfg.Provision.LeaseWait)
	release, err := s.leaser.Acquire(leaseCtx, ep.Address(), cfg.Provision.LeaseTTL)
	cancel()
	if err != nil {
		return s.abandon(rec, log, fmt.Errorf("console %s busy: %w", ep, err))
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			log.Warnf("failed to release console lease: %v", err)
		}
	}()

	if req.NodeID != "" && s.topology != nil {
		if err := s.topology.SetNodePower(ctx, req.NodeID, true); err != nil {
			return s.abandon(rec, log, fmt.Errorf("failed to power on node %s: %w", req.NodeID, err))
		}
	}

	var observers console.Observers
	if s.metrics != nil {
		observers = append(observers, s.metrics)
	}
	runner := console.NewRunner(s.dialer,
		console.WithViewer(s.viewer),
		console.WithObserver(observers),
		console.WithPollInterval(cfg.Console.PollInterval),
		console.WithMaxBuffer(cfg.Console.MaxBuffer),
	)
	log.Infof("Starting %s session on %s", script.Name(), ep)
	result := runner.RunWithID(ctx, runID, ep, script)

	s.record(rec, result)
	s.archive(ctx, rec, result, log)
	s.persist(rec, false)
	s.saveTranscript(rec.ID, result, log)

	sum := summarize(rec)
	sum.Warnings = result.Outcome.Warnings
	return sum, nil
}

func (s *ProvisionService) resolve(ctx context.Context, t Target) (console.Endpoint, error) {
	if t.Host != "" && t.Port > 0 {
		ep := console.Endpoint{Host: t.Host, Port: t.Port, Protocol: t.Protocol}
		return ep, ep.Validate()
	}
	if t.NodeID == "" {
		return console.Endpoint{}, ErrNoEndpoint
	}
	if s.topology == nil {
		return console.Endpoint{}, ErrNoTopology
	}
	ep, err := s.topology.ResolveConsoleEndpoint(ctx, t.NodeID)
	if err != nil {
		return console.Endpoint{}, fmt.Errorf("failed to resolve console of node %s: %w", t.NodeID, err)
	}
	return ep, nil
}

func loadScript(cfg *config.Config, req Request) ([]byte, error) {
	if req.ScriptContent != "" {
		return []byte(req.ScriptContent), nil
	}
	p := strings.TrimSpace(req.ScriptPath)
	if p == "" {
		return nil, fmt.Errorf("configuration script not given")
	}
	if !filepath.IsAbs(p) && cfg.Provision.ScriptDir != "" {
		p = filepath.Join(cfg.Provision.ScriptDir, p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration script: %w", err)
	}
	return data, nil
}

// abandon 会话未开始即失败
func (s *ProvisionService) abandon(rec *model.ProvisionRun, log *logrus.Entry, err error) (*RunSummary, error) {
	rec.Status = model.RunStatusFailed
	rec.ErrorMsg = err.Error()
	rec.EndTime = time.Now()
	rec.Duration = rec.EndTime.Sub(rec.StartTime).Milliseconds()
	s.persist(rec, false)
	log.Errorf("%s not started: %v", rec.Kind, err)
	return summarize(rec), err
}

func (s *ProvisionService) record(rec *model.ProvisionRun, res *console.Result) {
	o := res.Outcome
	rec.Outcome = string(o.Kind)
	rec.Step = o.Step
	rec.StepName = o.StepName
	rec.StartTime = res.StartedAt
	rec.EndTime = res.EndedAt
	rec.Duration = res.Duration().Milliseconds()
	rec.TranscriptLen = res.Transcript.Len()
	if o.Succeeded() {
		rec.Status = model.RunStatusSuccess
		rec.Step = -1
	} else {
		rec.Status = model.RunStatusFailed
		rec.ErrorMsg = o.Err().Error()
	}
	if len(o.Warnings) > 0 {
		if data, err := json.Marshal(o.Warnings); err == nil {
			rec.Warnings = string(data)
		}
	}
}

func (s *ProvisionService) archive(ctx context.Context, rec *model.ProvisionRun, res *console.Result, log *logrus.Entry) {
	if s.writer == nil {
		return
	}
	obj, err := s.writer.Write(ctx, StorageMeta{
		RunID:     rec.ID,
		Kind:      rec.Kind,
		NodeName:  rec.NodeName,
		Host:      rec.Host,
		Port:      rec.Port,
		StartedAt: rec.StartTime,
	}, RenderTranscript(res))
	if err != nil {
		log.Warnf("failed to archive transcript: %v", err)
		return
	}
	rec.ArchiveURI = obj.URI
}

func (s *ProvisionService) persist(rec *model.ProvisionRun, create bool) {
	if s.store == nil {
		return
	}
	var err error
	if create {
		err = s.store.Create(rec)
	} else {
		err = s.store.Save(rec)
	}
	if err != nil {
		logger.Errorf("failed to persist run %s: %v", rec.ID, err)
	}
}

func (s *ProvisionService) saveTranscript(runID string, res *console.Result, log *logrus.Entry) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveTranscript(runID, TranscriptEntries(res)); err != nil {
		log.Errorf("failed to save transcript: %v", err)
	}
}

func summarize(rec *model.ProvisionRun) *RunSummary {
	return &RunSummary{
		RunID:      rec.ID,
		Kind:       rec.Kind,
		Status:     rec.Status,
		Outcome:    rec.Outcome,
		Step:       rec.Step,
		StepName:   rec.StepName,
		Error:      rec.ErrorMsg,
		ArchiveURI: rec.ArchiveURI,
		Duration:   (time.Duration(rec.Duration) * time.Millisecond).String(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
