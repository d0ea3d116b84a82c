package analysis

import (
	iface "PoseAssessServer/interface"
	"PoseAssessServer/keypoint"
	"context"
	"io"
	"math/rand"
	"sync"
	"time"
)

var mockJoints = []string{"left_elbow", "right_elbow", "left_knee", "right_knee", "left_shoulder", "right_shoulder"}

// MockAnalyzer 不解码视频，给出随机但格式完整的结果，供前端联调
type MockAnalyzer struct {
	Delay time.Duration

	mu    sync.Mutex
	rng   *rand.Rand
	synth *keypoint.Synthesizer
}

func NewMockAnalyzer(delay time.Duration, seed int64) *MockAnalyzer {
	return &MockAnalyzer{
		Delay: delay,
		rng:   rand.New(rand.NewSource(seed)),
		synth: keypoint.NewSynthesizer(seed),
	}
}

func (m *MockAnalyzer) Analyze(ctx context.Context, _ string, video io.Reader, movementType string) (*Response, error) {
	start := time.Now()
	if video != nil {
		if _, err := io.Copy(io.Discard, video); err != nil {
			return nil, err
		}
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.Delay):
	}

	m.mu.Lock()
	score := 0.5 + m.rng.Float64()*0.5
	angles := make(map[string]float64, len(mockJoints))
	for _, j := range mockJoints {
		angles[j] = float64(150 + m.rng.Intn(30))
	}
	m.mu.Unlock()

	kps, _ := keypoint.Validator{Names: keypoint.CanonicalNames[:]}.Validate(m.synth.Next())
	if kps == nil {
		kps = []iface.Keypoint{}
	}
	return &Response{
		Score:             score,
		Feedback:          "Movement completed well, keep it up",
		Reason:            "Joint range of motion is normal and the movement is stable",
		Angles:            angles,
		ProcessingTime:    processingTime(time.Since(start)),
		KeypointsDetected: true,
		Details:           map[string]any{"mock": true},
		Timestamp:         time.Now().UTC(),
		Keypoints:         kps,
		MovementType:      movementType,
	}, nil
}
