package assessment

import "time"

type Category string

const (
	Mobility  Category = "mobility"
	Stability Category = "stability"
	General   Category = "general"
)

// Score 0 <= Value <= MaxValue
type Score struct {
	Value       float64 `json:"value"`
	MaxValue    float64 `json:"maxValue"`
	Description string  `json:"description"`
	Feedback    string  `json:"feedback"`
}

func (s Score) Ratio() float64 {
	if s.MaxValue <= 0 {
		return 0
	}
	return s.Value / s.MaxValue
}

type Metric struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Score    Score          `json:"score"`
	Category Category       `json:"category"`
	Details  map[string]any `json:"details,omitempty"`
}

// Assessment 汇总后的评估记录
type Assessment struct {
	ID                   string    `json:"id"`
	Type                 string    `json:"type"`
	MovementType         string    `json:"movementType"`
	MovementName         string    `json:"movementName"`
	Timestamp            time.Time `json:"timestamp"`
	Metrics              []Metric  `json:"metrics"`
	OverallScore         Score     `json:"overallScore"`
	MobilityScore        Score     `json:"mobilityScore"`
	StabilityScore       Score     `json:"stabilityScore"`
	AsymmetryDetected    bool      `json:"asymmetryDetected"`
	CompensationPatterns []string  `json:"compensationPatterns"`
	Recommendations      []string  `json:"recommendations"`
	Notes                string    `json:"notes"`
}

// AdditionalMetric 随主数据一起提交的扩展指标
type AdditionalMetric struct {
	Name     string         `json:"name"`
	Score    float64        `json:"score"`
	MaxScore float64        `json:"maxScore"`
	Category Category       `json:"category"`
	Details  map[string]any `json:"details,omitempty"`
}

// PrimaryData 各动作测试的原始分（0-3）
type PrimaryData struct {
	MovementType           string                      `json:"movementType"`
	MovementName           string                      `json:"movementName"`
	HipMobilityScore       float64                     `json:"hipMobilityScore"`
	KneeStabilityScore     float64                     `json:"kneeStabilityScore"`
	ShoulderMobilityScore  float64                     `json:"shoulderMobilityScore"`
	CoreActivationScore    float64                     `json:"coreActivationScore"`
	PosturalAlignmentScore float64                     `json:"posturalAlignmentScore"`
	AdditionalMetrics      map[string]AdditionalMetric `json:"additionalMetrics,omitempty"`
	LeftSideScores         map[string]float64          `json:"leftSideScores,omitempty"`
	RightSideScores        map[string]float64          `json:"rightSideScores,omitempty"`
	CompensationPatterns   []string                    `json:"compensationPatterns,omitempty"`
	Notes                  string                      `json:"notes,omitempty"`
}

// NewScore 分数截断到 [0,max]，按比例给出等级描述
func NewScore(value, max float64) Score {
	if max < 0 {
		max = 0
	}
	if value < 0 {
		value = 0
	}
	if value > max {
		value = max
	}
	s := Score{Value: value, MaxValue: max}
	pct := s.Ratio() * 100
	switch {
	case pct >= 80:
		s.Description, s.Feedback = "excellent", "Performance is excellent, keep it up"
	case pct >= 60:
		s.Description, s.Feedback = "good", "Good performance with room to improve"
	case pct >= 40:
		s.Description, s.Feedback = "fair", "Fair performance, targeted training recommended"
	default:
		s.Description, s.Feedback = "needs improvement", "Needs improvement, focused training recommended"
	}
	return s
}
