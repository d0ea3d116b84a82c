package pipeline

import (
	iface "PoseAssessServer/interface"
	"PoseAssessServer/keypoint"
	"PoseAssessServer/logger"
	"PoseAssessServer/monitor"
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Inferer 非重入的推理入口，engine.Estimator 满足该接口
type Inferer interface {
	Infer(ctx context.Context, frame iface.Frame) iface.RetData
	InFlight() bool
}

// FrameSource 外部采集方提供的最新帧，Mailbox[iface.Frame] 满足该接口。
// Seq 为 0 的帧视为未编号，按 Timestamp 判断是否为新帧；两者都为零值时每次都视为新帧。
type FrameSource interface {
	Latest() (iface.Frame, bool)
}

// Snapshot 一组通过校验的关键点，附带来源帧尺寸
type Snapshot struct {
	Seq       uint64
	FrameSeq  uint64
	Keypoints []iface.Keypoint
	Width     int
	Height    int
	Kind      iface.ResultKind
	At        time.Time
}

// ScoreJob 交给空闲时段执行的评分任务
type ScoreJob struct {
	Seq          uint64
	MovementType string
	Keypoints    []iface.Keypoint
	At           time.Time
}

type SchedulerConfig struct {
	Throttle        ThrottleConfig
	EvaluateEvery   int
	ChangeTolerance float64
	MovementType    string
	Validator       keypoint.Validator
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Throttle:        DefaultThrottleConfig(),
		EvaluateEvery:   3,
		ChangeTolerance: keypoint.DefaultChangeTolerance,
		Validator:       keypoint.NewValidator(),
	}
}

type inferResult struct {
	ret   iface.RetData
	frame iface.Frame
}

// Scheduler 帧调度：按自适应间隔发起异步推理，同一时刻最多一个调用在途。
// Tick 只能由一个 goroutine 调用；推理结果经容量为 1 的通道回到 Tick。
type Scheduler struct {
	cfg       SchedulerConfig
	inferer   Inferer
	frames    FrameSource
	synthetic <-chan []iface.RawKeypoint
	throttle  *Throttle
	results   chan inferResult
	snapshots *Mailbox[Snapshot]
	jobs      *Mailbox[ScoreJob]
	log       *zap.Logger

	pending      bool
	lastFrameSeq uint64
	lastFrameAt  time.Time
	lastGood     []iface.Keypoint
	width        int
	height       int
	processed    uint64
	snapSeq      uint64

	movementType atomic.Pointer[string]
	dispatched   atomic.Uint64
	completed    atomic.Uint64
}

func NewScheduler(cfg SchedulerConfig, inferer Inferer, frames FrameSource, now time.Time) *Scheduler {
	if cfg.EvaluateEvery <= 0 {
		cfg.EvaluateEvery = 3
	}
	if cfg.Validator.Threshold == 0 && len(cfg.Validator.Names) == 0 {
		cfg.Validator = keypoint.NewValidator()
	}
	s := &Scheduler{
		cfg:       cfg,
		inferer:   inferer,
		frames:    frames,
		throttle:  NewThrottle("inference", cfg.Throttle, now),
		results:   make(chan inferResult, 1),
		snapshots: NewMailbox[Snapshot](),
		jobs:      NewMailbox[ScoreJob](),
		log:       logger.Named("scheduler"),
	}
	s.SetMovementType(cfg.MovementType)
	return s
}

// WithSynthetic 没有新帧时消费合成骨架，保证渲染不中断
func (s *Scheduler) WithSynthetic(ch <-chan []iface.RawKeypoint) *Scheduler {
	s.synthetic = ch
	return s
}

// Snapshots 渲染循环读取的最新关键点
func (s *Scheduler) Snapshots() *Mailbox[Snapshot] { return s.snapshots }

// Jobs 空闲评分任务
func (s *Scheduler) Jobs() *Mailbox[ScoreJob] { return s.jobs }

func (s *Scheduler) Throttle() *Throttle { return s.throttle }

// LastGood 最近一次通过校验的关键点，跳过的帧复用它
func (s *Scheduler) LastGood() []iface.Keypoint { return s.lastGood }

func (s *Scheduler) Dispatched() uint64 { return s.dispatched.Load() }

func (s *Scheduler) Completed() uint64 { return s.completed.Load() }

// SetMovementType 可在运行中切换，下一个评分任务生效
func (s *Scheduler) SetMovementType(movementType string) {
	s.movementType.Store(&movementType)
}

func (s *Scheduler) MovementType() string {
	return *s.movementType.Load()
}

// Tick 收取结果、重算节奏、按需发起下一次推理，不会阻塞。
// 节奏按 tick 频率计算：调用方跟不上时放慢推理，跟得上时加快。
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.throttle.Record()
	s.collect(now)
	s.throttle.Recalculate(now)
	s.dispatch(ctx, now)
}

// collect 每个 tick 唯一的结果分支点：成功结果进入校验，其余情况复用上一份关键点
func (s *Scheduler) collect(now time.Time) {
	var (
		ret   iface.RetData
		frame iface.Frame
	)
	select {
	case r := <-s.results:
		s.pending = false
		s.completed.Add(1)
		ret, frame = r.ret, r.frame
	default:
		if s.synthetic == nil || s.pending {
			return
		}
		if _, ok := s.frames.Latest(); ok {
			return
		}
		select {
		case kps := <-s.synthetic:
			ret = iface.RetData{Success: true, Kind: iface.KindFallback, Keypoints: kps}
		default:
			return
		}
	}

	switch ret.Kind {
	case iface.KindOK, iface.KindFallback:
		kps, dropped := s.cfg.Validator.Validate(ret.Keypoints)
		if dropped > 0 {
			monitor.KeypointsDropped.Add(float64(dropped))
		}
		if len(kps) == 0 {
			s.log.Debug("no valid keypoints, reusing last good", zap.Uint64("frameSeq", frame.Seq), zap.Int("dropped", dropped))
			return
		}
		s.accept(kps, frame, ret.Kind, now)
	case iface.KindTimeout:
		s.log.Debug("inference timeout, treated as empty frame", zap.Uint64("frameSeq", frame.Seq))
	case iface.KindBackendError:
		s.log.Debug("backend error, reusing last good", zap.Uint64("frameSeq", frame.Seq), zap.Error(ret.Err))
	case iface.KindBusy, iface.KindNotReady:
	}
}

func (s *Scheduler) accept(kps []iface.Keypoint, frame iface.Frame, kind iface.ResultKind, now time.Time) {
	if frame.Width > 0 && frame.Height > 0 {
		s.width, s.height = frame.Width, frame.Height
	}
	changed := keypoint.Changed(s.lastGood, kps, s.cfg.ChangeTolerance)
	s.lastGood = kps
	s.processed++

	if changed {
		s.snapSeq++
		_ = s.snapshots.Publish(Snapshot{
			Seq:       s.snapSeq,
			FrameSeq:  frame.Seq,
			Keypoints: keypoint.Clone(kps),
			Width:     s.width,
			Height:    s.height,
			Kind:      kind,
			At:        now,
		})
	}
	if s.processed%uint64(s.cfg.EvaluateEvery) == 0 {
		_ = s.jobs.Publish(ScoreJob{
			Seq:          s.processed,
			MovementType: s.MovementType(),
			Keypoints:    keypoint.Clone(kps),
			At:           now,
		})
	}
}

// sameFrame 上一次推理用过的帧不再重复推理
func (s *Scheduler) sameFrame(frame iface.Frame) bool {
	if frame.Seq != 0 {
		return frame.Seq == s.lastFrameSeq
	}
	return !frame.Timestamp.IsZero() && frame.Timestamp.Equal(s.lastFrameAt)
}

func (s *Scheduler) dispatch(ctx context.Context, now time.Time) {
	if s.pending || !s.throttle.Due(now) || s.inferer.InFlight() {
		return
	}
	frame, ok := s.frames.Latest()
	if !ok || s.sameFrame(frame) {
		return
	}
	s.pending = true
	s.lastFrameSeq, s.lastFrameAt = frame.Seq, frame.Timestamp
	s.throttle.Mark(now)
	s.dispatched.Add(1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("inference panic recovered", zap.Any("panic", rec))
				s.results <- inferResult{ret: iface.RetData{Kind: iface.KindBackendError}, frame: frame}
			}
		}()
		s.results <- inferResult{ret: s.inferer.Infer(ctx, frame), frame: frame}
	}()
}

// Run 以 refresh 为周期驱动 Tick，直到 ctx 结束
func (s *Scheduler) Run(ctx context.Context, refresh time.Duration) error {
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	defer s.snapshots.Close()
	defer s.jobs.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.Tick(ctx, now)
		}
	}
}
