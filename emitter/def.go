package emitter

import (
	"PoseAssessServer/assessment"
	"PoseAssessServer/scoring"
	"time"
)

// Evaluation 实时会话推送的单次评分
type Evaluation struct {
	SessionID    string             `json:"sessionId"`
	MovementType string             `json:"movementType"`
	Seq          uint64             `json:"seq"`
	Evaluation   scoring.Evaluation `json:"evaluation"`
	Percent      int                `json:"percent"`
	Timestamp    time.Time          `json:"timestamp"`
}

// Publisher 把评估结果发给外部订阅方
type Publisher interface {
	PublishAssessment(a assessment.Assessment) error
	PublishEvaluation(ev Evaluation) error
	Stats() Stats
	Close() error
}

type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Nop 未启用 MQTT 时使用
type Nop struct{}

func (Nop) PublishAssessment(assessment.Assessment) error { return nil }
func (Nop) PublishEvaluation(Evaluation) error            { return nil }
func (Nop) Stats() Stats                                  { return Stats{Published: map[string]uint64{}} }
func (Nop) Close() error                                  { return nil }
