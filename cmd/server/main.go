package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/consoleprov/consoleprov/api/router"
	"github.com/consoleprov/consoleprov/internal/config"
	"github.com/consoleprov/consoleprov/internal/database"
	"github.com/consoleprov/consoleprov/internal/service"
	"github.com/consoleprov/consoleprov/internal/topology"
	"github.com/consoleprov/consoleprov/pkg/cache"
	"github.com/consoleprov/consoleprov/pkg/lease"
	"github.com/consoleprov/consoleprov/pkg/logger"
	"github.com/consoleprov/consoleprov/pkg/metrics"
	"github.com/consoleprov/consoleprov/simulate"
)

const version = "1.0.0"

// simulator 模拟控制台开关，配置热更新时启停
type simulator struct {
	mu  sync.Mutex
	mgr *simulate.Manager
}

func (s *simulator) apply(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case cfg.Server.SimulateEnable && s.mgr == nil:
		path := cfg.Server.SimulateConfig
		if _, err := os.Stat(path); err != nil {
			logger.WithField("path", path).Warn("Simulate: config missing, skip starting simulated consoles")
			return
		}
		sc, err := simulate.LoadConfig(path)
		if err != nil {
			logger.WithField("error", err).Warn("Simulate: failed to load config")
			return
		}
		mgr, err := simulate.Start(sc)
		if err != nil {
			logger.WithField("error", err).Warn("Simulate: failed to start")
			return
		}
		s.mgr = mgr
		logger.WithField("consoles", mgr.Names()).Info("Simulate: started")
	case !cfg.Server.SimulateEnable && s.mgr != nil:
		s.mgr.Stop()
		s.mgr = nil
		logger.Info("Simulate: stopped")
	}
}

func (s *simulator) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mgr != nil {
		s.mgr.Stop()
		s.mgr = nil
	}
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.WithField("version", version).Info("Starting console provisioning server")

	// 初始化数据库
	if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// Redis 可选：启用后用于控制台租约与端点缓存
	if err := cache.InitRedis(cfg.Redis); err != nil {
		logger.Fatalf("Failed to initialize redis: %v", err)
	}
	defer cache.Close()

	opts := []service.Option{
		service.WithStore(database.NewRunStore(database.GetDB())),
		service.WithStorageWriter(service.NewStorageWriter(cfg)),
	}

	var topoOpts []topology.Option
	if rdb := cache.GetRedis(); rdb != nil {
		opts = append(opts, service.WithLeaser(lease.NewRedis(rdb, cfg.Redis.Prefix)))
		topoOpts = append(topoOpts, topology.WithCache(cache.Default(), cfg.Topology.CacheTTL))
		logger.Info("Console leases shared through redis")
	}
	if topo, err := topology.New(cfg.Topology, topoOpts...); err != nil {
		logger.WithField("error", err).Warn("Topology client disabled, only explicit endpoints accepted")
	} else {
		opts = append(opts, service.WithTopology(topo))
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New(cfg.Metrics.Namespace)
		opts = append(opts, service.WithMetrics(collector))
	}

	provisionService := service.NewProvisionService(cfg, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := provisionService.Start(ctx); err != nil {
		logger.Fatalf("Failed to start provision service: %v", err)
	}
	defer provisionService.Stop()

	// 启动模拟控制台（可选）
	sim := &simulator{}
	sim.apply(cfg)
	defer sim.stop()

	// 设置路由
	r := router.SetupRouter(router.Deps{
		Provision: provisionService,
		Runs:      database.NewRunStore(database.GetDB()),
		Metrics:   collector,
		Mode:      cfg.Server.Mode,
	})

	// 创建HTTP服务器
	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		logger.WithFields(map[string]interface{}{"addr": server.Addr, "mode": cfg.Server.Mode}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 配置文件监听与热更新
	// 新配置整体替换快照，不修改已被会话读取的旧配置
	if err := config.Watch(ctx, *configPath, 300*time.Millisecond, func(newCfg *config.Config) {
		provisionService.UpdateConfig(newCfg)
		_ = logger.Init(newCfg.Log)
		sim.apply(newCfg)
	}); err != nil {
		logger.WithField("error", err).Warn("Config watch disabled")
	}

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Error("Server forced to shutdown")
	} else {
		logger.Info("Server shutdown complete")
	}
}
