package main

import (
	adhoc "PoseAssessServer/Adhoc"
	"PoseAssessServer/analysis"
	"PoseAssessServer/config"
	"PoseAssessServer/emitter"
	"PoseAssessServer/engine"
	backend "PoseAssessServer/gRPC"
	"PoseAssessServer/history"
	iface "PoseAssessServer/interface"
	"PoseAssessServer/logger"
	"PoseAssessServer/monitor"
	"PoseAssessServer/scoring"
	"PoseAssessServer/server"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml if present)")
	analyzePath := flag.String("analyze", "", "analyze a video file offline and print the result as JSON")
	movement := flag.String("movement", scoring.DeepSquatID, "movement type used with -analyze")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Development); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *analyzePath != "" {
		err = runBatch(ctx, cfg, *analyzePath, *movement)
	} else {
		err = serve(ctx, cfg)
	}
	if err != nil {
		logger.Log().Error("exiting with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func banner(cfg *config.Config) {
	fmt.Println(strings.Repeat("#", 64))
	CPUNum := runtime.NumCPU()
	fmt.Printf("CPU Cores: %d\n", CPUNum)
	fmt.Println(" HTTP  Port:", cfg.Server.HTTPPort)
	fmt.Println(" gRPC  Port:", cfg.Server.RPCPort)
	fmt.Println(" Metrics Port:", cfg.Server.MetricsPort)
	fmt.Println("Configured Workers Num:", cfg.Engine.Workers)
	fmt.Println(strings.Repeat("#", 64))
	if cfg.Engine.Workers > CPUNum {
		fmt.Println(strings.Repeat("!", 64))
		fmt.Println("Please noted that workers exceeds CPU cores, which may lead to performance degradation.")
		fmt.Println(strings.Repeat("!", 64))
	}
	fmt.Println(cfg.Dump())
}

func newPool(ctx context.Context, cfg *config.Config, size int) (*server.Pool, error) {
	return server.NewPool(ctx, size, func() (iface.Backend, error) {
		return engine.NewBackend(cfg.BackendConfig())
	}, cfg.EstimatorOptions())
}

func newAnalyzer(cfg *config.Config, pool *server.Pool, registry *scoring.Registry) analysis.Analyzer {
	switch cfg.Analysis.Mode {
	case "mock":
		return analysis.NewMockAnalyzer(cfg.Analysis.MockDelay, time.Now().UnixNano())
	case "remote":
		return analysis.NewClient(cfg.Analysis.RemoteURL, cfg.Analysis.Timeout)
	default:
		return server.NewPoolAnalyzer(pool, registry, cfg.Video())
	}
}

func newPublisher(ctx context.Context, cfg *config.Config) emitter.Publisher {
	if !cfg.MQTT.Enabled {
		return emitter.Nop{}
	}
	p := emitter.NewMQTTPublisher(cfg.Publisher())
	if err := p.Connect(ctx); err != nil {
		// 自动重连会继续尝试，发布失败只计数
		logger.Log().Warn("mqtt connect failed", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
	}
	return p
}

func serve(ctx context.Context, cfg *config.Config) error {
	banner(cfg)
	log := logger.Named("main")

	registry, err := scoring.NewDefaultRegistry(cfg.ScoringOptions())
	if err != nil {
		return fmt.Errorf("failed to build scoring registry: %w", err)
	}

	pool, err := newPool(ctx, cfg, cfg.Engine.Workers)
	if err != nil {
		return fmt.Errorf("failed to start estimators: %w", err)
	}
	defer pool.Dispose()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.StartMon(ctx, cfg.Server.MetricsPort)
	}()

	publisher := newPublisher(ctx, cfg)
	defer publisher.Close()

	store := history.NewAssessmentStore(cfg.History.Assessments)
	httpSrv, err := server.New(server.Options{
		Pool:            pool,
		Evaluator:       registry,
		Store:           store,
		Analyses:        history.NewAnalysisLog(cfg.History.Analyses),
		Analyzer:        newAnalyzer(cfg, pool, registry),
		Publisher:       publisher,
		Validator:       cfg.Validator(),
		Style:           cfg.Style(),
		Scheduler:       cfg.Scheduler,
		RefreshInterval: cfg.Pipeline.RefreshInterval,
		IdleTimeout:     cfg.Pipeline.SessionIdleTimeout,
		MaxUploadBytes:  cfg.Analysis.MaxUploadMB << 20,
	})
	if err != nil {
		return err
	}
	defer httpSrv.Close()
	web := httpSrv.Start(cfg.Server.HTTPPort)

	grpcSvc := backend.NewServer(backend.Deps{
		Evaluator: registry,
		Validator: cfg.Validator(),
		Store:     store,
		Publisher: publisher,
		Status:    func() any { return pool.Status() },
	})
	rpc, _, err := backend.StartGRPCServer(cfg.Server.RPCPort, grpcSvc)
	if err != nil {
		_ = web.Close()
		return err
	}

	if cfg.Registry.Enabled {
		ip, err := adhoc.GetOutboundIP()
		if err != nil {
			log.Warn("failed to get outbound IP, skipping registration", zap.Error(err))
		} else {
			hb := adhoc.NewHeartbeat(adhoc.RegServerConfig{
				Addr:     cfg.Registry.Host,
				Port:     cfg.Registry.Port,
				Interval: cfg.Registry.Interval,
			}, adhoc.Node{
				IP:            ip,
				HTTPPort:      cfg.Server.HTTPPort,
				RPCPort:       cfg.Server.RPCPort,
				InstanceClass: adhoc.InstanceClass(cfg.Engine.Backend),
				Load: func() (int, int) {
					status := pool.Status()
					idle := 0
					for _, w := range status {
						if w.State == "IDLE" {
							idle++
						}
					}
					return len(status), idle
				},
			})
			wg.Add(1)
			go hb.Run(ctx, &wg)
		}
	} else {
		log.Info("registry disabled, skipping registration")
	}

	select {
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case <-grpcSvc.Done():
		log.Info("shutdown requested, shutting down")
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := web.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown", zap.Error(err))
	}
	rpc.GracefulStop()
	httpSrv.Close()
	wg.Wait()
	log.Info("Safely exited")
	return nil
}

// runBatch 离线分析单个视频，进度条输出到 stderr，结果 JSON 输出到 stdout
func runBatch(ctx context.Context, cfg *config.Config, path, movementType string) error {
	registry, err := scoring.NewDefaultRegistry(cfg.ScoringOptions())
	if err != nil {
		return fmt.Errorf("failed to build scoring registry: %w", err)
	}
	pool, err := newPool(ctx, cfg, 1)
	if err != nil {
		return fmt.Errorf("failed to start estimator: %w", err)
	}
	defer pool.Dispose()

	bar := pb.New(0).SetWriter(os.Stderr).Start()
	resp, err := server.NewPoolAnalyzer(pool, registry, cfg.Video()).AnalyzeFile(ctx, path, movementType, func(done, total int) {
		bar.SetTotal(int64(total))
		bar.SetCurrent(int64(done))
	})
	bar.Finish()
	if err != nil {
		return fmt.Errorf("failed to analyze %s: %w", path, err)
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
