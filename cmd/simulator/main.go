package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/api"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/api/middleware"
	cfgpkg "github.com/CaiserSz/simisimiocpp-sub002/internal/config"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/events"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/fleet"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/httpserver"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/logging"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/metrics"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/station"
	"github.com/CaiserSz/simisimiocpp-sub002/internal/wshub"
)

func main() {
	// 1) 加载配置
	cfg, err := cfgpkg.Load("")
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	log := zap.L()

	// 3) 指标注册与处理器
	reg := metrics.NewRegistry()
	appMetrics := metrics.NewAppMetrics(reg)
	metricsHandler := metrics.Handler(reg)

	// 4) 事件总线与车队管理器
	bus := events.NewBus()
	mgr := fleet.New(fleet.Deps{
		Logger:  log,
		Bus:     bus,
		Metrics: appMetrics,
		Station: station.Deps{
			Logger:            log,
			Bus:               bus,
			Metrics:           appMetrics,
			Policy:            station.PolicyFromConfig(cfg.Health),
			CSMS:              cfg.CSMS,
			Breaker:           cfg.Breaker,
			HeartbeatInterval: cfg.Simulation.HeartbeatInterval,
			VehicleTick:       cfg.Simulation.VehicleTick,
			HistoryCapacity:   cfg.Simulation.HistoryCapacity,
		},
		BatchOpTimeout: cfg.Simulation.BatchOpTimeout,
	})

	// 5) WebSocket 推送 Hub
	hub := wshub.NewHub(logging.Component(log, "wshub"), bus)
	hub.SetSnapshotProvider(func() any {
		return map[string]any{
			"stats":  mgr.Stats(),
			"health": mgr.GetHealthSummary(),
		}
	})
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	// 6) HTTP 服务与控制面路由
	httpSrv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, func() bool { return true })
	authCfg := middleware.AuthConfig{Enabled: cfg.Auth.Enabled, APIKeys: cfg.Auth.APIKeys}
	rlCfg := middleware.RateLimitConfig{
		Enabled:        cfg.HTTP.RateLimit.Enabled,
		RequestsPerSec: cfg.HTTP.RateLimit.RequestsPerSec,
		BurstSize:      cfg.HTTP.RateLimit.Burst,
	}
	api.RegisterRoutes(httpSrv.Router(), api.NewHandler(log, mgr, hub), authCfg, rlCfg, log)

	// 7) 启动场景（可选）
	if cfg.Simulation.ScenarioFile != "" {
		sc, err := fleet.LoadScenario(cfg.Simulation.ScenarioFile)
		if err != nil {
			log.Fatal("load scenario failed",
				zap.String("file", cfg.Simulation.ScenarioFile), zap.Error(err))
		}
		created := mgr.ApplyScenario(context.Background(), sc)
		log.Info("startup scenario applied",
			zap.String("name", sc.Name), zap.Int("stations", len(created)))
	}

	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}()
	log.Info("simulator started", zap.String("addr", cfg.HTTP.Addr))

	// 信号处理，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hubCancel()
	mgr.Shutdown()
	_ = httpSrv.Shutdown(ctx)
	log.Info("simulator stopped")
}
