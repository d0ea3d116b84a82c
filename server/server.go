package server

import (
	"PoseAssessServer/analysis"
	"PoseAssessServer/assessment"
	"PoseAssessServer/emitter"
	"PoseAssessServer/history"
	"PoseAssessServer/keypoint"
	"PoseAssessServer/logger"
	"PoseAssessServer/pipeline"
	"PoseAssessServer/render"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Evaluator 动作评分入口，scoring.Registry 满足该接口
type Evaluator interface {
	pipeline.Evaluator
	Movements() []string
}

type Options struct {
	Pool            *Pool
	Evaluator       Evaluator
	Aggregator      *assessment.Aggregator
	Store           *history.AssessmentStore
	Analyses        *history.AnalysisLog
	Analyzer        analysis.Analyzer
	Publisher       emitter.Publisher
	Validator       keypoint.Validator
	Style           render.Style
	// Scheduler 按初始动作类型生成会话的调度参数
	Scheduler       func(movementType string) pipeline.SchedulerConfig
	RefreshInterval time.Duration
	IdleTimeout     time.Duration
	MaxUploadBytes  int64
}

func (o *Options) setDefaults() {
	if o.Aggregator == nil {
		o.Aggregator = assessment.NewAggregator()
	}
	if o.Store == nil {
		o.Store = history.NewAssessmentStore(history.DefaultAssessments)
	}
	if o.Analyses == nil {
		o.Analyses = history.NewAnalysisLog(history.DefaultAnalyses)
	}
	if o.Publisher == nil {
		o.Publisher = emitter.Nop{}
	}
	if o.Validator.Names == nil {
		o.Validator = keypoint.NewValidator()
	}
	if o.Style.LineWidth == 0 {
		o.Style = render.DefaultStyle()
	}
	if o.Scheduler == nil {
		o.Scheduler = func(movementType string) pipeline.SchedulerConfig {
			cfg := pipeline.DefaultSchedulerConfig()
			cfg.MovementType = movementType
			return cfg
		}
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 16 * time.Millisecond
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 2 * time.Minute
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 200 << 20
	}
}

// Server HTTP 与 websocket 接口。每个会话借用池中的一个估计器，断开或超时后归还。
type Server struct {
	opts   Options
	engine *gin.Engine
	ctx    context.Context
	cancel context.CancelFunc

	sessionMu sync.RWMutex
	sessions  map[string]*session
	upgrader  websocket.Upgrader
	log       *zap.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Pool == nil {
		return nil, errors.New("server: estimator pool is required")
	}
	if opts.Evaluator == nil {
		return nil, errors.New("server: evaluator is required")
	}
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logger.Named("server"),
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 在后台监听 port，返回的 http.Server 交给调用方 Shutdown
func (s *Server) Start(port int) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return srv
}

// Close 释放所有会话
func (s *Server) Close() {
	s.sessionMu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.sessionMu.RUnlock()
	for _, id := range ids {
		s.releaseSession(id, "server shutting down")
	}
	s.cancel()
}

// allocSession 借用一个估计器并登记会话
func (s *Server) allocSession(movementType string) (*session, error) {
	id := uuid.New().String()
	w, err := s.opts.Pool.Acquire(id)
	if err != nil {
		return nil, err
	}
	ss := s.newSession(id, w, movementType)
	s.sessionMu.Lock()
	s.sessions[id] = ss
	s.sessionMu.Unlock()
	s.startIdleMonitor(ss)
	s.log.Info("session allocated", zap.String("sessionID", id), zap.String("workerID", w.ID()), zap.String("movementType", movementType))
	return ss, nil
}

func (s *Server) lookupSession(id string) (*session, bool) {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	ss, ok := s.sessions[id]
	return ss, ok
}

// releaseSession 停止会话循环并归还估计器，重复调用返回 false
func (s *Server) releaseSession(id, reason string) bool {
	s.sessionMu.Lock()
	ss, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.sessionMu.Unlock()
	if !ok {
		return false
	}

	ss.cancel()
	ss.frames.Close()
	ss.closeOnce.Do(func() {
		ss.writeMu.Lock()
		if ss.conn != nil {
			_ = ss.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
				time.Now().Add(time.Second))
			_ = ss.conn.Close()
		}
		ss.writeMu.Unlock()
	})
	ss.loops.Wait()
	s.opts.Pool.Release(ss.worker)
	ss.log.Info("session released", zap.String("reason", reason))
	return true
}

func (s *Server) startIdleMonitor(ss *session) {
	go func() {
		ticker := time.NewTicker(idleCheckInterval(s.opts.IdleTimeout))
		defer ticker.Stop()
		for {
			select {
			case <-ss.ctx.Done():
				return
			case now := <-ticker.C:
				if ss.idleFor(now) > s.opts.IdleTimeout {
					s.releaseSession(ss.id, fmt.Sprintf("%d ms not active, released", s.opts.IdleTimeout.Milliseconds()))
					return
				}
			}
		}
	}()
}

func idleCheckInterval(timeout time.Duration) time.Duration {
	d := timeout / 10
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	if d > time.Second {
		d = time.Second
	}
	return d
}
