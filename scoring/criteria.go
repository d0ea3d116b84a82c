package scoring

import (
	"fmt"
	"math"
)

type MeasurementType string

const (
	MeasurementAngle    MeasurementType = "angle"
	MeasurementDistance MeasurementType = "distance"
	MeasurementOther    MeasurementType = "other"
)

// 角度偏离理想范围 30 度及以上时该项得 0 分
const maxAngleDeviation = 30.0

type Measurement struct {
	Name  string
	Type  MeasurementType
	Value float64
}

// Criterion 一条评分标准。角度类使用 MinAngle/MaxAngle，其它类型使用 MinValue/MaxValue，
// 未设置的边界为 nil。
type Criterion struct {
	Name        string   `yaml:"name" json:"name"`
	MinAngle    *float64 `yaml:"minAngle,omitempty" json:"minAngle,omitempty"`
	MaxAngle    *float64 `yaml:"maxAngle,omitempty" json:"maxAngle,omitempty"`
	MinValue    *float64 `yaml:"minValue,omitempty" json:"minValue,omitempty"`
	MaxValue    *float64 `yaml:"maxValue,omitempty" json:"maxValue,omitempty"`
	Weight      float64  `yaml:"weight" json:"weight"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

type CriterionResult struct {
	Score    float64 `json:"score"`
	MaxScore float64 `json:"maxScore"`
	Feedback string  `json:"feedback"`
	RawValue float64 `json:"rawValue"`
}

type CriteriaResult struct {
	Score           float64                    `json:"score"`
	MaxScore        float64                    `json:"maxScore"`
	Feedback        string                     `json:"feedback"`
	Details         map[string]CriterionResult `json:"details"`
	OverallFeedback string                     `json:"overallFeedback"`
}

func (r CriteriaResult) Percentage() float64 {
	if r.MaxScore <= 0 {
		return 0
	}
	return r.Score / r.MaxScore * 100
}

// CalculateScore 按标准逐项打分并汇总。缺少对应测量值的标准记 0 分，且不计入总分母。
func CalculateScore(measurements []Measurement, criteria []Criterion) CriteriaResult {
	result := CriteriaResult{Details: make(map[string]CriterionResult, len(criteria))}
	byName := make(map[string]Measurement, len(measurements))
	for _, m := range measurements {
		byName[m.Name] = m
	}

	for _, c := range criteria {
		m, ok := byName[c.Name]
		if !ok {
			result.Details[c.Name] = CriterionResult{MaxScore: c.Weight, Feedback: "no matching measurement"}
			continue
		}
		var score float64
		var feedback string
		if m.Type == MeasurementAngle {
			score, feedback = scoreAngle(m.Value, c)
		} else {
			score, feedback = scoreValue(m.Value, c)
		}
		result.Details[c.Name] = CriterionResult{
			Score:    math.Round(score*100) / 100,
			MaxScore: c.Weight,
			Feedback: feedback,
			RawValue: m.Value,
		}
		result.Score += score
		result.MaxScore += c.Weight
	}

	pct := result.Percentage()
	switch {
	case pct >= 90:
		result.OverallFeedback = "excellent"
	case pct >= 75:
		result.OverallFeedback = "good"
	case pct >= 60:
		result.OverallFeedback = "fair"
	default:
		result.OverallFeedback = "needs improvement"
	}
	result.Feedback = fmt.Sprintf("Total %.1f/%.1f (%.1f%%) - %s", result.Score, result.MaxScore, pct, result.OverallFeedback)
	return result
}

func scoreAngle(angle float64, c Criterion) (float64, string) {
	deduct := func(dev float64) float64 {
		return c.Weight * (1 - math.Min(1, dev/maxAngleDeviation))
	}
	switch {
	case c.MinAngle != nil && c.MaxAngle != nil:
		lo, hi := *c.MinAngle, *c.MaxAngle
		if angle >= lo && angle <= hi {
			return c.Weight, "angle within the ideal range"
		}
		dev := math.Min(math.Abs(angle-lo), math.Abs(angle-hi))
		if angle < lo {
			return deduct(dev), fmt.Sprintf("angle %.1f degrees too small", dev)
		}
		return deduct(dev), fmt.Sprintf("angle %.1f degrees too large", dev)
	case c.MinAngle != nil:
		if angle >= *c.MinAngle {
			return c.Weight, "angle meets the minimum"
		}
		dev := *c.MinAngle - angle
		return deduct(dev), fmt.Sprintf("angle %.1f degrees too small", dev)
	case c.MaxAngle != nil:
		if angle <= *c.MaxAngle {
			return c.Weight, "angle within the allowed range"
		}
		dev := angle - *c.MaxAngle
		return deduct(dev), fmt.Sprintf("angle %.1f degrees too large", dev)
	}
	return 0, "criterion has no angle bounds"
}

func scoreValue(value float64, c Criterion) (float64, string) {
	switch {
	case c.MinValue != nil && c.MaxValue != nil:
		lo, hi := *c.MinValue, *c.MaxValue
		if value >= lo && value <= hi {
			return c.Weight, "value within the ideal range"
		}
		dev := math.Min(math.Abs(value-lo), math.Abs(value-hi))
		// 允许偏差为区间宽度的 50%
		allowed := (hi - lo) * 0.5
		score := 0.0
		if allowed > 0 {
			score = c.Weight * (1 - math.Min(1, dev/allowed))
		}
		if value < lo {
			return score, fmt.Sprintf("value %.2f too low", dev)
		}
		return score, fmt.Sprintf("value %.2f too high", dev)
	case c.MinValue != nil:
		if value >= *c.MinValue {
			return c.Weight, "value meets the minimum"
		}
		return 0, fmt.Sprintf("value %.2f too low", *c.MinValue-value)
	case c.MaxValue != nil:
		if value <= *c.MaxValue {
			return c.Weight, "value within the allowed range"
		}
		return 0, fmt.Sprintf("value %.2f too high", value-*c.MaxValue)
	}
	return 0, "criterion has no value bounds"
}
