package topology

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/consoleprov/consoleprov/internal/config"
	"github.com/consoleprov/consoleprov/pkg/console"
	"github.com/consoleprov/consoleprov/pkg/logger"
)

// ErrUnsupportedConsole 节点控制台类型不是 telnet
var ErrUnsupportedConsole = errors.New("unsupported console type")

// ErrProjectNotFound 项目不存在
var ErrProjectNotFound = errors.New("project not found")

// APIError GNS3 接口返回非 2xx
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gns3 %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Project GNS3 项目
type Project struct {
	ID     string `json:"project_id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Node GNS3 节点
type Node struct {
	ID          string `json:"node_id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	ConsoleType string `json:"console_type"`
	ConsoleHost string `json:"console_host"`
	Console     int    `json:"console"`
}

// Cache 控制台端点缓存
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 替换底层 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCache 缓存解析出的控制台端点
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// Client GNS3 v2 REST 客户端，相邻调用按 RequestInterval 间隔
type Client struct {
	base     *url.URL
	http     *http.Client
	username string
	password string
	project  string
	limiter  *rate.Limiter
	cache    Cache
	cacheTTL time.Duration

	mu        sync.Mutex
	projectID string
}

// New 创建客户端
func New(cfg config.TopologyConfig, opts ...Option) (*Client, error) {
	server := strings.TrimSpace(cfg.Server)
	if server == "" {
		return nil, fmt.Errorf("topology server not configured")
	}
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	base, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid topology server %q: %w", cfg.Server, err)
	}

	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		base:     base,
		http:     &http.Client{Timeout: timeout},
		username: cfg.Username,
		password: cfg.Password,
		project:  strings.TrimSpace(cfg.Project),
		limiter:  rate.NewLimiter(limit, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ServerHost GNS3 服务地址中的主机名
func (c *Client) ServerHost() string {
	return c.base.Hostname()
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	logger.Debugf("gns3 %s %s", method, path)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gns3 %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("gns3 %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("gns3 %s %s: decode: %w", method, path, err)
	}
	return nil
}

// Version 服务端版本
func (c *Client) Version(ctx context.Context) (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/version", nil, &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

// Project 按名称或 ID 解析配置的项目，未打开时打开
func (c *Client) Project(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.projectID != "" {
		return c.projectID, nil
	}
	if c.project == "" {
		return "", fmt.Errorf("topology project not configured")
	}

	var projects []Project
	if err := c.do(ctx, http.MethodGet, "/v2/projects", nil, &projects); err != nil {
		return "", err
	}
	var found *Project
	for i := range projects {
		if projects[i].ID == c.project || projects[i].Name == c.project {
			found = &projects[i]
			break
		}
	}
	if found == nil {
		return "", fmt.Errorf("%w: %s", ErrProjectNotFound, c.project)
	}
	if found.Status != "opened" {
		var opened Project
		if err := c.do(ctx, http.MethodPost, "/v2/projects/"+found.ID+"/open", struct{}{}, &opened); err != nil {
			return "", fmt.Errorf("failed to open project %s: %w", found.Name, err)
		}
		logger.Infof("GNS3 project %s %s", found.Name, opened.Status)
	}
	c.projectID = found.ID
	return found.ID, nil
}

// GetNode 查询节点
func (c *Client) GetNode(ctx context.Context, nodeID string) (*Node, error) {
	pid, err := c.Project(ctx)
	if err != nil {
		return nil, err
	}
	var n Node
	if err := c.do(ctx, http.MethodGet, "/v2/projects/"+pid+"/nodes/"+url.PathEscape(nodeID), nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Nodes 项目内全部节点
func (c *Client) Nodes(ctx context.Context) ([]Node, error) {
	pid, err := c.Project(ctx)
	if err != nil {
		return nil, err
	}
	var nodes []Node
	if err := c.do(ctx, http.MethodGet, "/v2/projects/"+pid+"/nodes", nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// FindNodes 名称从开头匹配 re 的节点
func (c *Client) FindNodes(ctx context.Context, re *regexp.Regexp) ([]Node, error) {
	nodes, err := c.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	var out []Node
	for _, n := range nodes {
		if loc := re.FindStringIndex(n.Name); loc != nil && loc[0] == 0 {
			out = append(out, n)
		}
	}
	return out, nil
}

// ResolveConsoleEndpoint 节点的 telnet 控制台地址，通配监听地址换成服务端主机
func (c *Client) ResolveConsoleEndpoint(ctx context.Context, nodeID string) (console.Endpoint, error) {
	if c.cache != nil {
		var ep console.Endpoint
		if err := c.cache.Get(ctx, c.cacheKey(nodeID), &ep); err == nil {
			return ep, nil
		}
	}

	n, err := c.GetNode(ctx, nodeID)
	if err != nil {
		return console.Endpoint{}, err
	}
	if n.ConsoleType != console.ProtocolTelnet {
		return console.Endpoint{}, fmt.Errorf("%w: node %s has %q", ErrUnsupportedConsole, nodeID, n.ConsoleType)
	}
	host := n.ConsoleHost
	if isWildcard(host) {
		host = c.ServerHost()
	}
	ep := console.Endpoint{Host: host, Port: n.Console, Protocol: console.ProtocolTelnet}
	if err := ep.Validate(); err != nil {
		return console.Endpoint{}, fmt.Errorf("node %s: %w", nodeID, err)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, c.cacheKey(nodeID), ep, c.cacheTTL); err != nil {
			logger.Warnf("failed to cache console endpoint of %s: %v", nodeID, err)
		}
	}
	return ep, nil
}

// SetNodePower 启动或停止节点
func (c *Client) SetNodePower(ctx context.Context, nodeID string, on bool) error {
	pid, err := c.Project(ctx)
	if err != nil {
		return err
	}
	action := "stop"
	if on {
		action = "start"
	}
	if err := c.do(ctx, http.MethodPost, "/v2/projects/"+pid+"/nodes/"+url.PathEscape(nodeID)+"/"+action, struct{}{}, nil); err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{"node_id": nodeID, "action": action}).Info("GNS3 node power changed")
	return nil
}

func (c *Client) cacheKey(nodeID string) string {
	return "gns3:" + c.base.Host + ":" + nodeID
}

func isWildcard(host string) bool {
	switch strings.Trim(host, "[]") {
	case "0.0.0.0", "::", "":
		return true
	}
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return ip.IsUnspecified()
	}
	return false
}
