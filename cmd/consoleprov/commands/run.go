package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/consoleprov/consoleprov/internal/config"
	"github.com/consoleprov/consoleprov/internal/database"
	"github.com/consoleprov/consoleprov/internal/service"
	"github.com/consoleprov/consoleprov/internal/topology"
	"github.com/consoleprov/consoleprov/pkg/logger"
)

// errRunFailed 至少一个会话失败，详情已输出
var errRunFailed = errors.New("provisioning failed")

// targetFlags 目标节点相关参数
type targetFlags struct {
	node     string
	match    string
	host     string
	port     int
	protocol string
	platform string
	username string
	password string
	script   string
}

func (t *targetFlags) bind(cmd *cobra.Command, withScript bool) {
	f := cmd.Flags()
	f.StringVar(&t.node, "node", "", "GNS3 node ID whose console is resolved through the topology server")
	f.StringVar(&t.host, "host", "", "Console host (with --port, bypasses GNS3)")
	f.IntVar(&t.port, "port", 0, "Console port")
	f.StringVar(&t.protocol, "protocol", "", "Console protocol: telnet (default) or ssh")
	f.StringVar(&t.platform, "platform", "", "Dialogue platform (default from config)")
	f.StringVar(&t.username, "username", "", "Console login user (default from config)")
	f.StringVar(&t.password, "password", "", "Console login password (default from config)")
	if withScript {
		f.StringVar(&t.script, "script", "", "Configuration script to upload and execute")
	}
}

func (t *targetFlags) validate(needScript bool) error {
	switch {
	case t.match != "" && (t.node != "" || t.host != ""):
		return fmt.Errorf("--match cannot be combined with --node or --host")
	case t.match == "" && t.node == "" && (t.host == "" || t.port <= 0):
		return fmt.Errorf("either --node or --host and --port is required")
	case t.node != "" && t.host != "":
		return fmt.Errorf("--node and --host are mutually exclusive")
	case needScript && t.script == "":
		return fmt.Errorf("--script is required")
	}
	return nil
}

func (t *targetFlags) request() service.Request {
	return service.Request{
		Target: service.Target{
			NodeID:   t.node,
			Host:     t.host,
			Port:     t.port,
			Protocol: t.protocol,
			Platform: t.platform,
			Username: t.username,
			Password: t.password,
		},
		ScriptPath: t.script,
	}
}

// env 单次命令使用的服务及其依赖
type env struct {
	svc      *service.ProvisionService
	topology *topology.Client
	close    func()
}

func newEnv(ctx context.Context, cfg *config.Config, withTopology bool) (*env, error) {
	rt := &env{close: func() {}}
	var opts []service.Option

	if db, err := database.Open(cfg.Database.SQLite); err != nil {
		logger.WithField("error", err).Warn("Run history disabled")
	} else {
		opts = append(opts, service.WithStore(database.NewRunStore(db)))
		rt.close = func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
	}
	opts = append(opts, service.WithStorageWriter(service.NewStorageWriter(cfg)))

	if withTopology {
		topo, err := topology.New(cfg.Topology)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.topology = topo
		opts = append(opts, service.WithTopology(topo))
	}

	rt.svc = service.NewProvisionService(cfg, opts...)
	if err := rt.svc.Start(ctx); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func printSummary(w io.Writer, label string, s *service.RunSummary) {
	if s == nil {
		return
	}
	fmt.Fprintf(w, "%-24s %-10s %-8s %-18s %s\n", label, s.Kind, s.Status, s.Outcome, s.Duration)
	if s.Error != "" {
		fmt.Fprintf(w, "    error: %s\n", s.Error)
	}
	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "    warning: %s (local %s, remote %s)\n", warn.Message, warn.Local, warn.Remote)
	}
	if s.ArchiveURI != "" {
		fmt.Fprintf(w, "    transcript: %s\n", s.ArchiveURI)
	}
}

func sessionCommand(g *globalFlags, use, short string, needScript bool,
	run func(*service.ProvisionService, context.Context, service.Request) (*service.RunSummary, error)) *cobra.Command {
	t := &targetFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := t.validate(needScript); err != nil {
				return err
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			rt, err := newEnv(cmd.Context(), cfg, t.node != "")
			if err != nil {
				return err
			}
			defer rt.close()
			defer rt.svc.Stop()

			req := t.request()
			req.RunID = uuid.NewString()
			summary, err := run(rt.svc, cmd.Context(), req)
			printSummary(cmd.OutOrStdout(), req.Target.NodeID+req.Target.Host, summary)
			if err != nil {
				return err
			}
			if !summary.Succeeded() {
				return errRunFailed
			}
			return nil
		},
	}
	t.bind(cmd, needScript)
	return cmd
}

// Install 单节点安装
func Install(g *globalFlags) *cobra.Command {
	return sessionCommand(g, "install", "Run the image install dialogue on one console", false,
		(*service.ProvisionService).Install)
}

// Configure 单节点配置
func Configure(g *globalFlags) *cobra.Command {
	return sessionCommand(g, "configure", "Upload and execute a configuration script on one console", true,
		(*service.ProvisionService).Configure)
}

// Provision 安装后配置，--match 按名称正则批量执行
func Provision(g *globalFlags) *cobra.Command {
	t := &targetFlags{}
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Install then configure one node, or every GNS3 node whose name matches --match",
		Long: `Install the image, wait for the node to settle, power it on and run the
configuration script. Configure is skipped when install fails.

With --match every node of the configured GNS3 project whose name matches the
regular expression from its first character is provisioned concurrently, bounded
by provision.concurrency.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := t.validate(true); err != nil {
				return err
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			rt, err := newEnv(cmd.Context(), cfg, t.node != "" || t.match != "")
			if err != nil {
				return err
			}
			defer rt.close()
			defer rt.svc.Stop()

			reqs := []service.Request{t.request()}
			if t.match != "" {
				if reqs, err = matchRequests(cmd.Context(), rt.topology, t); err != nil {
					return err
				}
			}

			results := rt.svc.ProvisionBatch(cmd.Context(), uuid.NewString(), reqs)
			failed := false
			for _, r := range results {
				label := r.Target.NodeName
				if label == "" {
					label = r.Target.NodeID + r.Target.Host
				}
				printSummary(cmd.OutOrStdout(), label, r.Install)
				printSummary(cmd.OutOrStdout(), label, r.Configure)
				if r.Error != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%-24s error: %s\n", label, r.Error)
				}
				if !r.Configure.Succeeded() {
					failed = true
				}
			}
			if failed {
				return errRunFailed
			}
			return nil
		},
	}
	t.bind(cmd, true)
	cmd.Flags().StringVar(&t.match, "match", "", "Regular expression selecting GNS3 nodes by name")
	return cmd
}

func matchRequests(ctx context.Context, topo *topology.Client, t *targetFlags) ([]service.Request, error) {
	re, err := regexp.Compile(t.match)
	if err != nil {
		return nil, fmt.Errorf("invalid --match: %w", err)
	}
	nodes, err := topo.FindNodes(ctx, re)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no node name matches %q", t.match)
	}
	reqs := make([]service.Request, 0, len(nodes))
	for _, n := range nodes {
		req := t.request()
		req.NodeID = n.ID
		req.NodeName = n.Name
		reqs = append(reqs, req)
	}
	return reqs, nil
}
