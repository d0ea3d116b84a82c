package monitor

import (
	"PoseAssessServer/logger"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	PID      *process.Process
	Registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	GRPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})
	InferenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pose_inference_total",
		Help: "Pose inference calls by result kind",
	}, []string{"kind"})
	InferenceSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pose_inference_seconds",
		Help:    "Pose inference latency",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
	})
	FallbackEstimators = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pose_estimator_fallback",
		Help: "Number of estimators running in synthetic fallback mode",
	})
	LoopInterval = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_interval_milliseconds",
		Help: "Current adaptive interval of each periodic loop",
	}, []string{"loop"})
	RenderFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "render_frames_total",
		Help: "Overlay render ticks by result",
	}, []string{"result"})
	KeypointsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keypoints_dropped_total",
		Help: "Raw keypoints rejected by validation",
	})
	AssessmentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assessments_total",
		Help: "Assessment records aggregated",
	})
)

var srv *http.Server

func init() {
	Registry.MustRegister(memUsage, cpuUsage, GRPCTotal, InferenceTotal, InferenceSeconds,
		FallbackEstimators, LoopInterval, RenderFrames, KeypointsDropped, AssessmentsTotal)
}

// Handler 暴露 /metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func prom(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("Prometheus server ListenAndServe error", zap.Error(err))
		}
	}()
}

func CheckProcessInfo() {
	if PID == nil {
		return
	}
	if memInfo, err := PID.MemoryInfo(); err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := PID.CPUPercent(); err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

func GotPID() error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	PID = p
	return nil
}

// StartMon 阻塞直到 ctx 结束，port <= 0 时只采集不监听
func StartMon(ctx context.Context, port int) {
	if err := GotPID(); err != nil {
		logger.Log().Warn("process stats unavailable", zap.Error(err))
	}
	if port > 0 {
		prom(port)
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			CheckProcessInfo()
		}
	}
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("Prometheus server Shutdown error", zap.Error(err))
	}
}
