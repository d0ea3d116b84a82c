package scoring

import (
	iface "PoseAssessServer/interface"
	"PoseAssessServer/keypoint"
	"errors"
	"math"
)

var (
	ErrInsufficientKeypoints = errors.New("insufficient keypoints")
	ErrUnknownMovementType   = errors.New("unknown movement type")
	ErrDuplicateMovement     = errors.New("movement type already registered")
)

const (
	neutralScore    = 0.5
	neutralFeedback = "Unable to evaluate the movement, make sure the whole body is in view"
)

// Evaluation 单帧评估结果，Score 统一为 [0,1]，展示时用 Percent 转成百分制
type Evaluation struct {
	Score    float64            `json:"score"`
	Feedback string             `json:"feedback"`
	Angles   map[string]float64 `json:"angles"`
	Details  map[string]any     `json:"details"`
	// Err 非致命的原因（关键点不足、未知动作），不参与序列化
	Err error `json:"-"`
}

func (e Evaluation) Percent() int {
	return int(math.Round(e.Score * 100))
}

// Neutral 无法评估时的默认结果
func Neutral() Evaluation {
	return Evaluation{
		Score:    neutralScore,
		Feedback: neutralFeedback,
		Angles:   map[string]float64{},
		Details:  map[string]any{},
	}
}

func (e *Evaluation) addCommonDetails(kps []iface.Keypoint) {
	if e.Angles == nil {
		e.Angles = map[string]float64{}
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details["keypointCount"] = len(kps)
	e.Details["avgConfidence"] = keypoint.MeanScore(kps)
	e.Score = math.Max(0, math.Min(1, e.Score))
}
