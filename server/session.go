package server

import (
	"PoseAssessServer/emitter"
	iface "PoseAssessServer/interface"
	"PoseAssessServer/logger"
	"PoseAssessServer/pipeline"
	"PoseAssessServer/render"
	"PoseAssessServer/scoring"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// controlMessage 文本消息若是 JSON 对象则视为控制指令
type controlMessage struct {
	Type         string `json:"type"`
	MovementType string `json:"movementType"`
}

type keypointsMessage struct {
	Type      string           `json:"type"`
	Seq       uint64           `json:"seq"`
	FrameSeq  uint64           `json:"frameSeq"`
	Kind      string           `json:"kind"`
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	Keypoints []iface.Keypoint `json:"keypoints"`
}

type evaluationMessage struct {
	Type         string             `json:"type"`
	Seq          uint64             `json:"seq"`
	MovementType string             `json:"movementType"`
	Score        float64            `json:"score"`
	Percent      int                `json:"percent"`
	Feedback     string             `json:"feedback"`
	Angles       map[string]float64 `json:"angles"`
	Details      map[string]any     `json:"details"`
}

// session 一个实时会话独占一个估计器，推理、评分、渲染三个循环各跑在自己的 goroutine 上
type session struct {
	id         string
	worker     *worker
	frames     *pipeline.Mailbox[iface.Frame]
	scheduler  *pipeline.Scheduler
	renderer   *render.Renderer
	canvas     *render.ImageCanvas
	lastActive atomic.Int64
	frameSeq   atomic.Uint64
	ctx        context.Context
	cancel     context.CancelFunc
	started    atomic.Bool
	loops      sync.WaitGroup

	writeMu   sync.Mutex
	conn      *websocket.Conn
	closeOnce sync.Once
	log       *zap.Logger
}

func (s *Server) newSession(id string, w *worker, movementType string) *session {
	ctx, cancel := context.WithCancel(s.ctx)
	frames := pipeline.NewMailbox[iface.Frame]()
	style := s.opts.Style
	canvas := render.NewImageCanvas(style.DefaultWidth, style.DefaultHeight)
	sess := &session{
		id:     id,
		worker: w,
		frames: frames,
		scheduler: pipeline.NewScheduler(s.opts.Scheduler(movementType), w.estimator, frames, time.Now()).
			WithSynthetic(w.estimator.Synthetic()),
		renderer: render.NewRenderer(canvas, style),
		canvas:   canvas,
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.Named("session").With(zap.String("sessionID", id)),
	}
	sess.touch()
	return sess
}

func (ss *session) touch() {
	ss.lastActive.Store(time.Now().UnixNano())
}

func (ss *session) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, ss.lastActive.Load()))
}

// send 串行化 websocket 写入
func (ss *session) send(messageType int, data []byte) error {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	if ss.conn == nil {
		return errors.New("websocket not connected")
	}
	_ = ss.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return ss.conn.WriteMessage(messageType, data)
}

func (ss *session) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ss.send(websocket.TextMessage, data)
}

// startLoops 启动推理、评分、渲染循环，只执行一次
func (s *Server) startLoops(ss *session) {
	if !ss.started.CompareAndSwap(false, true) {
		return
	}
	run := func(name string, fn func() error) {
		ss.loops.Add(1)
		go func() {
			defer ss.loops.Done()
			defer func() {
				if rec := recover(); rec != nil {
					ss.log.Error("loop panic recovered", zap.String("loop", name), zap.Any("panic", rec))
				}
			}()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pipeline.ErrMailboxClosed) {
				ss.log.Warn("loop stopped", zap.String("loop", name), zap.Error(err))
			}
		}()
	}
	refresh := s.opts.RefreshInterval
	run("inference", func() error {
		return ss.scheduler.Run(ss.ctx, refresh)
	})
	run("scoring", func() error {
		return pipeline.NewIdleRunner(ss.scheduler.Jobs(), s.opts.Evaluator, func(job pipeline.ScoreJob, ev scoring.Evaluation) {
			s.onEvaluation(ss, job, ev)
		}).Run(ss.ctx)
	})
	run("render", func() error {
		return ss.renderer.Run(ss.ctx, ss.scheduler.Snapshots(), refresh, func(snap pipeline.Snapshot) {
			s.onDraw(ss, snap)
		})
	})
}

func (s *Server) onDraw(ss *session, snap pipeline.Snapshot) {
	w, h := ss.canvas.Size()
	msg := keypointsMessage{
		Type:      "keypoints",
		Seq:       snap.Seq,
		FrameSeq:  snap.FrameSeq,
		Kind:      snap.Kind.String(),
		Width:     w,
		Height:    h,
		Keypoints: snap.Keypoints,
	}
	if err := ss.sendJSON(msg); err != nil {
		ss.log.Debug("failed to push keypoints", zap.Error(err))
		return
	}
	overlay, err := ss.canvas.PNG()
	if err != nil {
		ss.log.Warn("failed to encode overlay", zap.Error(err))
		return
	}
	if err := ss.send(websocket.BinaryMessage, overlay); err != nil {
		ss.log.Debug("failed to push overlay", zap.Error(err))
	}
}

func (s *Server) onEvaluation(ss *session, job pipeline.ScoreJob, ev scoring.Evaluation) {
	if err := ss.sendJSON(evaluationMessage{
		Type:         "evaluation",
		Seq:          job.Seq,
		MovementType: job.MovementType,
		Score:        ev.Score,
		Percent:      ev.Percent(),
		Feedback:     ev.Feedback,
		Angles:       ev.Angles,
		Details:      ev.Details,
	}); err != nil {
		ss.log.Debug("failed to push evaluation", zap.Error(err))
	}
	if err := s.opts.Publisher.PublishEvaluation(emitter.Evaluation{
		SessionID:    ss.id,
		MovementType: job.MovementType,
		Seq:          job.Seq,
		Evaluation:   ev,
		Percent:      ev.Percent(),
		Timestamp:    job.At,
	}); err != nil && !errors.Is(err, emitter.ErrNotConnected) {
		ss.log.Debug("evaluation not published", zap.Error(err))
	}
}

// handleMessage 二进制为编码后的图像，文本为 base64 图像或 JSON 控制指令
func (s *Server) handleMessage(ss *session, mt int, msg []byte) {
	var data []byte
	switch mt {
	case websocket.BinaryMessage:
		data = msg
	case websocket.TextMessage:
		if len(msg) > 0 && msg[0] == '{' {
			s.handleControl(ss, msg)
			return
		}
		decoded, err := decodeBase64(string(msg))
		if err != nil {
			_ = ss.sendJSON(map[string]string{"type": "error", "error": "invalid image: " + err.Error()})
			return
		}
		data = decoded
	default:
		_ = ss.sendJSON(map[string]string{"type": "error", "error": "unsupported message type"})
		return
	}
	frame, err := decodeFrame(ss.frameSeq.Add(1), data)
	if err != nil {
		_ = ss.sendJSON(map[string]string{"type": "error", "error": "invalid image: " + err.Error()})
		return
	}
	if err := ss.frames.Publish(frame); err != nil {
		ss.log.Debug("frame dropped", zap.Error(err))
	}
}

func (s *Server) handleControl(ss *session, msg []byte) {
	var ctl controlMessage
	if err := json.Unmarshal(msg, &ctl); err != nil {
		_ = ss.sendJSON(map[string]string{"type": "error", "error": "invalid control message"})
		return
	}
	switch ctl.Type {
	case "movement":
		ss.scheduler.SetMovementType(ctl.MovementType)
		ss.log.Info("movement type changed", zap.String("movementType", ctl.MovementType))
		_ = ss.sendJSON(map[string]string{"type": "movement", "movementType": ctl.MovementType})
	case "redraw":
		ss.renderer.Invalidate()
	default:
		_ = ss.sendJSON(map[string]string{"type": "error", "error": "unknown control type: " + ctl.Type})
	}
}
