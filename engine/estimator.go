package engine

import (
	iface "PoseAssessServer/interface"
	"PoseAssessServer/keypoint"
	"PoseAssessServer/logger"
	"PoseAssessServer/monitor"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Estimator 持有一个推理后端的完整生命周期：
// UNINITIALIZED -> LOADING -> READY，或重试耗尽后进入 FAILED_FALLBACK 输出合成骨架。
type Estimator struct {
	ID      string
	backend iface.Backend
	opts    Options
	sleep   func(context.Context, time.Duration) error
	log     *zap.Logger

	initMu      sync.Mutex
	mu          sync.RWMutex
	state       State
	lastInitErr error

	inFlight atomic.Bool
	last     atomic.Pointer[iface.RetData]

	synth      *keypoint.Synthesizer
	synthetic  chan []iface.RawKeypoint
	current    atomic.Pointer[[]iface.RawKeypoint]
	stopSynth  context.CancelFunc
	wg         sync.WaitGroup
	disposeOne sync.Once
}

func NewEstimator(backend iface.Backend, opts Options) *Estimator {
	opts = opts.withDefaults()
	id := uuid.NewString()
	return &Estimator{
		ID:        id,
		backend:   backend,
		opts:      opts,
		sleep:     sleepCtx,
		log:       logger.Named("estimator").With(zap.String("estimatorID", id)),
		state:     UNINITIALIZED,
		synth:     keypoint.NewSynthesizer(opts.Seed),
		synthetic: make(chan []iface.RawKeypoint, 1),
	}
}

func (e *Estimator) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// LastInitError 最近一次加载失败的原因，加载成功或从未失败时为 nil
func (e *Estimator) LastInitError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastInitErr
}

// transition 已释放的实例不会再改变状态
func (e *Estimator) transition(to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == DISPOSED {
		return false
	}
	e.state = to
	return true
}

// Initialize 加载模型，最多尝试 MaxAttempts 次，第 n 次失败后等待 BackoffBase*n。
// 重试耗尽后进入合成骨架模式并返回 nil；只有 ctx 被取消时返回错误。
func (e *Estimator) Initialize(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	switch e.State() {
	case READY, FAILED_FALLBACK:
		return nil
	case DISPOSED:
		return fmt.Errorf("%w: estimator disposed", ErrNotReady)
	}
	if !e.transition(LOADING) {
		return fmt.Errorf("%w: estimator disposed", ErrNotReady)
	}
	e.log.Info("loading model", zap.Any("config", e.backend.CheckConfig()))

	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		err := e.load(ctx)
		if err == nil {
			e.mu.Lock()
			e.lastInitErr = nil
			e.mu.Unlock()
			if e.transition(READY) {
				e.log.Info("model ready", zap.Int("attempt", attempt))
			}
			return nil
		}
		if ctx.Err() != nil {
			e.transition(UNINITIALIZED)
			return ctx.Err()
		}
		initErr := &ModelInitError{Attempt: attempt, Err: err}
		e.mu.Lock()
		e.lastInitErr = initErr
		e.mu.Unlock()
		e.log.Warn("model load failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt < e.opts.MaxAttempts {
			if err := e.sleep(ctx, e.opts.BackoffBase*time.Duration(attempt)); err != nil {
				e.transition(UNINITIALIZED)
				return err
			}
		}
	}

	e.enterFallback()
	return nil
}

func (e *Estimator) load(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("backend panic: %v", rec)
		}
	}()
	return e.backend.LoadModel(ctx)
}

func (e *Estimator) enterFallback() {
	first := e.synth.Next()
	e.current.Store(&first)

	e.mu.Lock()
	if e.state == DISPOSED {
		e.mu.Unlock()
		return
	}
	e.state = FAILED_FALLBACK
	ctx, cancel := context.WithCancel(context.Background())
	e.stopSynth = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	monitor.FallbackEstimators.Inc()
	e.log.Warn("model unavailable, emitting synthetic skeletons",
		zap.Duration("interval", e.opts.SyntheticInterval), zap.Error(e.LastInitError()))
	e.publishSynthetic(first)

	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.opts.SyntheticInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				next := e.synth.Next()
				e.current.Store(&next)
				e.publishSynthetic(next)
			}
		}
	}()
}

// publishSynthetic 只保留最新一帧，旧值被覆盖
func (e *Estimator) publishSynthetic(kps []iface.RawKeypoint) {
	for {
		select {
		case e.synthetic <- kps:
			return
		default:
		}
		select {
		case <-e.synthetic:
		default:
		}
	}
}

// Synthetic 合成骨架的推送通道，只有进入 FAILED_FALLBACK 后才会有数据
func (e *Estimator) Synthetic() <-chan []iface.RawKeypoint {
	return e.synthetic
}

func (e *Estimator) InFlight() bool {
	return e.inFlight.Load()
}

// Last 最近一次成功的推理结果
func (e *Estimator) Last() (iface.RetData, bool) {
	p := e.last.Load()
	if p == nil {
		return iface.RetData{}, false
	}
	return *p, true
}

// Reset 清除上一次结果，估计器交给新会话前调用
func (e *Estimator) Reset() {
	e.last.Store(nil)
}

// Infer 不可重入：已有调用在途时立即返回 KindBusy 和上一次结果。
// 每次调用受 InferTimeout 约束，超时返回空关键点与 KindTimeout。
func (e *Estimator) Infer(ctx context.Context, frame iface.Frame) iface.RetData {
	start := time.Now()
	switch e.State() {
	case FAILED_FALLBACK:
		kps := *e.current.Load()
		ret := iface.RetData{Success: true, Kind: iface.KindFallback, Keypoints: append([]iface.RawKeypoint(nil), kps...)}
		return e.record(ret, start)
	case READY:
	default:
		return e.record(iface.RetData{Kind: iface.KindNotReady, Err: ErrNotReady}, start)
	}

	if !e.inFlight.CompareAndSwap(false, true) {
		ret := iface.RetData{Kind: iface.KindBusy}
		if last, ok := e.Last(); ok {
			ret.Keypoints = last.Keypoints
		}
		return e.record(ret, start)
	}

	type detectResult struct {
		kps []iface.RawKeypoint
		err error
	}
	callCtx, cancel := context.WithTimeout(ctx, e.opts.InferTimeout)
	defer cancel()
	done := make(chan detectResult, 1)
	go func() {
		// 在途标记随后端调用结束才清除，超时返回后也不会并发发起第二次调用
		kps, err := e.detect(callCtx, frame)
		e.inFlight.Store(false)
		done <- detectResult{kps: kps, err: err}
	}()

	var ret iface.RetData
	select {
	case r := <-done:
		if r.err != nil {
			ret = iface.RetData{Kind: iface.KindBackendError, Err: r.err}
		} else {
			ret = iface.RetData{Success: true, Kind: iface.KindOK, Keypoints: r.kps}
		}
	case <-callCtx.Done():
		if ctx.Err() != nil {
			ret = iface.RetData{Kind: iface.KindBackendError, Err: ctx.Err()}
		} else {
			ret = iface.RetData{Kind: iface.KindTimeout, Err: ErrInferenceTimeout, Keypoints: []iface.RawKeypoint{}}
			e.log.Warn("inference timed out", zap.Uint64("seq", frame.Seq), zap.Duration("timeout", e.opts.InferTimeout))
		}
	}
	return e.record(ret, start)
}

func (e *Estimator) detect(ctx context.Context, frame iface.Frame) (kps []iface.RawKeypoint, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("backend panic: %v", rec)
		}
	}()
	return e.backend.Detect(ctx, frame)
}

func (e *Estimator) record(ret iface.RetData, start time.Time) iface.RetData {
	ret.Latency = time.Since(start)
	monitor.InferenceTotal.WithLabelValues(ret.Kind.String()).Inc()
	if ret.Kind == iface.KindOK {
		monitor.InferenceSeconds.Observe(ret.Latency.Seconds())
	}
	if ret.Success {
		e.last.Store(&ret)
	}
	return ret
}

// Dispose 释放后端资源，可重复调用
func (e *Estimator) Dispose() {
	e.disposeOne.Do(func() {
		e.mu.Lock()
		prev := e.state
		e.state = DISPOSED
		stop := e.stopSynth
		e.mu.Unlock()

		if prev == FAILED_FALLBACK {
			monitor.FallbackEstimators.Dec()
		}
		if stop != nil {
			stop()
		}
		e.wg.Wait()
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					e.log.Error("backend destroy panic", zap.Any("panic", rec))
				}
			}()
			e.backend.Destroy()
		}()
		e.log.Info("estimator disposed", zap.Stringer("previous", prev))
	})
}

// Config 后端配置，附带当前状态
func (e *Estimator) Config() iface.EngineConfig {
	return e.backend.CheckConfig()
}

// Status 对外展示的估计器状态
type Status struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	InFlight  bool   `json:"inFlight"`
	Backend   string `json:"backend"`
	ModelPath string `json:"modelPath"`
	InputSize int    `json:"inputSize"`
	InitError string `json:"initError,omitempty"`
}

func (e *Estimator) Status() Status {
	cfg := e.Config()
	s := Status{
		ID:        e.ID,
		State:     e.State().String(),
		InFlight:  e.InFlight(),
		Backend:   cfg.Backend,
		ModelPath: cfg.ModelPath,
		InputSize: cfg.InputSize,
	}
	if err := e.LastInitError(); err != nil {
		s.InitError = err.Error()
	}
	return s
}
