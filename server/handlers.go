package server

import (
	"PoseAssessServer/assessment"
	iface "PoseAssessServer/interface"
	"PoseAssessServer/keypoint"
	"PoseAssessServer/monitor"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type evaluateRequest struct {
	MovementType string          `json:"movementType"`
	Keypoints    json.RawMessage `json:"keypoints" binding:"required"`
}

type sessionRequest struct {
	MovementType string `json:"movementType"`
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(monitor.Handler()))

	api := r.Group("/api")
	api.POST("/analyze", s.analyze)
	api.GET("/results", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": s.opts.Analyses.All()})
	})
	api.POST("/evaluate", s.evaluate)
	api.GET("/movements", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": s.opts.Evaluator.Movements()})
	})

	api.POST("/assessments", s.createAssessment)
	api.GET("/assessments", s.listAssessments)
	api.GET("/assessments/:id", s.withAssessment(func(c *gin.Context, a assessment.Assessment) {
		c.JSON(http.StatusOK, gin.H{"data": a})
	}))
	api.DELETE("/assessments/:id", func(c *gin.Context) {
		if !s.opts.Store.Delete(c.Param("id")) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Assessment not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "Assessment deleted"})
	})
	api.GET("/assessments/:id/exercises", s.withAssessment(func(c *gin.Context, a assessment.Assessment) {
		c.JSON(http.StatusOK, gin.H{"data": assessment.RecommendedExercises(a)})
	}))
	api.GET("/assessments/:id/report", s.withAssessment(func(c *gin.Context, a assessment.Assessment) {
		c.String(http.StatusOK, assessment.Report(a))
	}))

	api.GET("/workers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": s.opts.Pool.Status()})
	})
	api.POST("/sessions", s.createSession)
	api.POST("/sessions/:sessionID/release", func(c *gin.Context) {
		if !s.releaseSession(c.Param("sessionID"), "released by client") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "Session released"})
	})

	r.GET("/ws/:sessionID", s.serveWS)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	log := s.log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	workers := s.opts.Pool.Status()
	idle := 0
	for _, w := range workers {
		if w.State == "IDLE" {
			idle++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"workers":     len(workers),
		"idleWorkers": idle,
		"analyzer":    s.opts.Analyzer != nil,
		"publisher":   s.opts.Publisher.Stats(),
	})
}

func (s *Server) analyze(c *gin.Context) {
	if s.opts.Analyzer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Video analysis is disabled"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
		return
	}
	defer file.Close()

	movementType := c.PostForm("movementType")
	resp, err := s.opts.Analyzer.Analyze(c.Request.Context(), header.Filename, file, movementType)
	if err != nil {
		s.log.Warn("video analysis failed", zap.String("file", header.Filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Analysis failed: " + err.Error()})
		return
	}
	s.opts.Analyses.Add(*resp)
	c.JSON(http.StatusOK, resp)
}

// decodeKeypoints 接受命名对象 [{name,x,y,score}] 或模型输出顺序的 [[x,y,score]]
func (s *Server) decodeKeypoints(raw json.RawMessage) ([]iface.Keypoint, int, error) {
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, 0, errors.New("keypoints must be a list")
	}
	if len(items) > 0 {
		if obj, ok := items[0].(map[string]any); ok {
			if _, ok := obj["name"]; ok {
				var named []iface.Keypoint
				if err := json.Unmarshal(raw, &named); err != nil {
					return nil, 0, fmt.Errorf("invalid keypoints: %w", err)
				}
				kept := s.opts.Validator.Filter(named)
				return kept, len(named) - len(kept), nil
			}
		}
	}
	kps, dropped := s.opts.Validator.Validate(keypoint.DecodeRaw(items))
	return kps, dropped, nil
}

func (s *Server) evaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kps, dropped, err := s.decodeKeypoints(req.Keypoints)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if dropped > 0 {
		monitor.KeypointsDropped.Add(float64(dropped))
	}
	ev := s.opts.Evaluator.Evaluate(kps, req.MovementType)
	out := gin.H{
		"movementType": req.MovementType,
		"score":        ev.Score,
		"percent":      ev.Percent(),
		"feedback":     ev.Feedback,
		"angles":       ev.Angles,
		"details":      ev.Details,
		"keypoints":    kps,
	}
	if ev.Err != nil {
		out["warning"] = ev.Err.Error()
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) createAssessment(c *gin.Context) {
	var data assessment.PrimaryData
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a := s.opts.Aggregator.Process(data)
	monitor.AssessmentsTotal.Inc()
	s.opts.Store.Save(a)
	if err := s.opts.Publisher.PublishAssessment(a); err != nil {
		s.log.Debug("assessment not published", zap.String("id", a.ID), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"data": a})
}

func (s *Server) listAssessments(c *gin.Context) {
	if mt := c.Query("movementType"); mt != "" {
		c.JSON(http.StatusOK, gin.H{"data": s.opts.Store.GetByMovementType(mt)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.opts.Store.All()})
}

func (s *Server) withAssessment(fn func(*gin.Context, assessment.Assessment)) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := s.opts.Store.GetByID(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Assessment not found"})
			return
		}
		fn(c, a)
	}
}

func (s *Server) createSession(c *gin.Context) {
	var req sessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	ss, err := s.allocSession(req.MovementType)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "All workers are busy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionID":    ss.id,
		"workerID":     ss.worker.ID(),
		"movementType": req.MovementType,
		"wsURL":        fmt.Sprintf("ws://%s/ws/%s", c.Request.Host, ss.id),
		"timeoutMs":    s.opts.IdleTimeout.Milliseconds(),
	})
}

func (s *Server) serveWS(c *gin.Context) {
	sessionID := c.Param("sessionID")
	// 在升级前检查会话是否存在
	ss, exists := s.lookupSession(sessionID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 升级失败，不要再写 JSON
		return
	}
	conn.SetReadLimit(20 * 1024 * 1024)

	ss.writeMu.Lock()
	if ss.ctx.Err() != nil || ss.conn != nil {
		ss.writeMu.Unlock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session unavailable"))
		_ = conn.Close()
		return
	}
	ss.conn = conn
	ss.writeMu.Unlock()

	ss.touch()
	s.startLoops(ss)
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			// 客户端断开或读取错误，释放会话
			if s.releaseSession(sessionID, "connection closed") {
				ss.log.Info("connection closed", zap.Error(err))
			}
			return
		}
		ss.touch()
		s.handleMessage(ss, mt, msg)
	}
}
