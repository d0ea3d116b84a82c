package render

import (
	iface "PoseAssessServer/interface"
	"PoseAssessServer/keypoint"
	"PoseAssessServer/logger"
	"PoseAssessServer/monitor"
	"PoseAssessServer/pipeline"
	"context"
	"fmt"
	"image/color"
	"math"
	"time"

	"go.uber.org/zap"
)

type Style struct {
	// Threshold 连线两端与关键点本身的最低置信度
	Threshold float64
	// LabelBelow 置信度低于该值的点标注百分比
	LabelBelow    float64
	LineWidth     float64
	PointColor    color.RGBA
	LineColor     color.RGBA
	RingColor     color.RGBA
	LabelColor    color.RGBA
	DefaultWidth  int
	DefaultHeight int
	Connections   []keypoint.Connection
}

func DefaultStyle() Style {
	return Style{
		Threshold:     keypoint.DefaultThreshold,
		LabelBelow:    0.8,
		LineWidth:     3,
		PointColor:    Red,
		LineColor:     Cyan,
		RingColor:     White,
		LabelColor:    White,
		DefaultWidth:  640,
		DefaultHeight: 480,
		Connections:   keypoint.DefaultConnections,
	}
}

// Renderer 骨架叠加层。关键点与上次绘制结构相同且画布未失效时跳过重绘。
type Renderer struct {
	canvas    Canvas
	style     Style
	lastDrawn []iface.Keypoint
	drawn     bool
	invalid   bool
	last      pipeline.Snapshot
	throttle  *pipeline.Throttle
	log       *zap.Logger
}

func NewRenderer(canvas Canvas, style Style) *Renderer {
	if style.DefaultWidth <= 0 || style.DefaultHeight <= 0 {
		style.DefaultWidth, style.DefaultHeight = 640, 480
	}
	if style.Connections == nil {
		style.Connections = keypoint.DefaultConnections
	}
	return &Renderer{
		canvas: canvas,
		style:  style,
		log:    logger.Named("renderer"),
	}
}

func (r *Renderer) Canvas() Canvas { return r.canvas }

// Invalidate 强制下一次 Render 重绘，例如画布被外部清空
func (r *Renderer) Invalidate() {
	r.invalid = true
}

// Render 按快照绘制，返回是否真正重绘
func (r *Renderer) Render(snap pipeline.Snapshot) bool {
	w, h := snap.Width, snap.Height
	if w <= 0 || h <= 0 {
		w, h = r.style.DefaultWidth, r.style.DefaultHeight
	}
	if cw, ch := r.canvas.Size(); cw != w || ch != h {
		r.canvas.Resize(w, h)
		r.invalid = true
	}
	r.last = snap
	if r.drawn && !r.invalid && !keypoint.Changed(r.lastDrawn, snap.Keypoints, 0) {
		monitor.RenderFrames.WithLabelValues("skipped").Inc()
		return false
	}
	r.draw(snap.Keypoints, float64(w), float64(h))
	r.lastDrawn = keypoint.Clone(snap.Keypoints)
	r.drawn = true
	r.invalid = false
	monitor.RenderFrames.WithLabelValues("drawn").Inc()
	return true
}

func (r *Renderer) draw(kps []iface.Keypoint, w, h float64) {
	r.canvas.Clear()
	if len(kps) == 0 {
		return
	}
	set := keypoint.NewSet(kps)
	st := r.style

	for _, conn := range st.Connections {
		a, okA := set.Lookup(conn.From)
		b, okB := set.Lookup(conn.To)
		if !okA || !okB || a.Score < st.Threshold || b.Score < st.Threshold {
			continue
		}
		r.canvas.Line(
			clamp01(a.X)*w, clamp01(a.Y)*h,
			clamp01(b.X)*w, clamp01(b.Y)*h,
			st.LineColor, st.LineWidth, (a.Score+b.Score)/2,
		)
	}

	for _, kp := range kps {
		if kp.Score < st.Threshold {
			continue
		}
		x, y := clamp01(kp.X)*w, clamp01(kp.Y)*h
		size := 5 + kp.Score*2.5
		r.canvas.Circle(x, y, size+2, st.RingColor, kp.Score)
		r.canvas.Circle(x, y, size, st.PointColor, kp.Score)
		if kp.Score < st.LabelBelow {
			r.canvas.Text(x+8, y-8, fmt.Sprintf("%d%%", int(math.Round(kp.Score*100))), st.LabelColor, 1)
		}
	}
}

// Tick 渲染循环的一步：到期才读取最新快照，快照没有更新但画布失效时重绘上一份
func (r *Renderer) Tick(now time.Time, snapshots *pipeline.Mailbox[pipeline.Snapshot]) bool {
	if r.throttle == nil {
		r.throttle = pipeline.NewThrottle("render", pipeline.DefaultThrottleConfig(), now)
	}
	r.throttle.Record()
	r.throttle.Recalculate(now)
	if !r.throttle.Due(now) {
		return false
	}
	r.throttle.Mark(now)
	snap, ok := snapshots.Take()
	if !ok {
		if !r.invalid || !r.drawn {
			return false
		}
		snap = r.last
	}
	return r.Render(snap)
}

// Run 独立于推理循环的渲染循环，每次重绘后回调 onDraw
func (r *Renderer) Run(ctx context.Context, snapshots *pipeline.Mailbox[pipeline.Snapshot], refresh time.Duration, onDraw func(pipeline.Snapshot)) error {
	r.throttle = pipeline.NewThrottle("render", pipeline.DefaultThrottleConfig(), time.Now())
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if r.Tick(now, snapshots) && onDraw != nil {
				onDraw(r.last)
			}
			if snapshots.Closed() {
				r.log.Debug("snapshot mailbox closed, render loop exiting")
				return pipeline.ErrMailboxClosed
			}
		}
	}
}
