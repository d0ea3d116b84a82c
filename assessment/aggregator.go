package assessment

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	CanonicalMax       = 3.0
	weakThreshold      = 2.0
	asymmetryThreshold = 1.0
	maxRecommendations = 5
)

const (
	HipMobility       = "hip_mobility"
	KneeStability     = "knee_stability"
	ShoulderMobility  = "shoulder_mobility"
	CoreActivation    = "core_activation"
	PosturalAlignment = "postural_alignment"
)

// exerciseTable 低分指标对应的针对性训练
var exerciseTable = map[string][]string{
	HipMobility:    {"Hip flexion mobility drills", "Hip flexor stretching"},
	KneeStability:  {"Single-leg balance training", "Knee stability strengthening"},
	CoreActivation: {"Core stability training", "Transversus abdominis activation"},
}

const (
	recAsymmetry   = "Balance training to correct left/right asymmetry"
	recMobility    = "Add joint range-of-motion training"
	recStability   = "Strengthen core and stability training"
	recMaintain    = "Keep the current training plan"
	recProgression = "Consider increasing training difficulty and variety"
)

// Aggregator 把各项原始分汇总为一条评估记录
type Aggregator struct {
	now   func() time.Time
	newID func() string
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (a *Aggregator) Process(data PrimaryData) Assessment {
	metrics := ExtractMetrics(data)
	asym := CheckAsymmetry(data.LeftSideScores, data.RightSideScores)
	movementType := data.MovementType
	if movementType == "" {
		movementType = "unknown"
	}
	movementName := data.MovementName
	if movementName == "" {
		movementName = "Unknown Movement"
	}
	patterns := data.CompensationPatterns
	if patterns == nil {
		patterns = []string{}
	}
	return Assessment{
		ID:                   "fms_" + a.newID(),
		Type:                 "FMS",
		MovementType:         movementType,
		MovementName:         movementName,
		Timestamp:            a.now().UTC(),
		Metrics:              metrics,
		OverallScore:         Composite(metrics, nil),
		MobilityScore:        Composite(metrics, func(m Metric) bool { return m.Category == Mobility }),
		StabilityScore:       Composite(metrics, func(m Metric) bool { return m.Category == Stability }),
		AsymmetryDetected:    asym,
		CompensationPatterns: patterns,
		Recommendations:      Recommendations(metrics, asym),
		Notes:                data.Notes,
	}
}

// ExtractMetrics 五项规范指标在前，扩展指标按 id 排序追加，与规范指标同名的扩展项被忽略
func ExtractMetrics(data PrimaryData) []Metric {
	metrics := []Metric{
		{ID: HipMobility, Name: "Hip mobility", Score: NewScore(data.HipMobilityScore, CanonicalMax), Category: Mobility},
		{ID: KneeStability, Name: "Knee stability", Score: NewScore(data.KneeStabilityScore, CanonicalMax), Category: Stability},
		{ID: ShoulderMobility, Name: "Shoulder mobility", Score: NewScore(data.ShoulderMobilityScore, CanonicalMax), Category: Mobility},
		{ID: CoreActivation, Name: "Core activation", Score: NewScore(data.CoreActivationScore, CanonicalMax), Category: Stability},
		{ID: PosturalAlignment, Name: "Postural alignment", Score: NewScore(data.PosturalAlignmentScore, CanonicalMax), Category: Stability},
	}
	seen := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		seen[m.ID] = true
	}
	keys := make([]string, 0, len(data.AdditionalMetrics))
	for k := range data.AdditionalMetrics {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		extra := data.AdditionalMetrics[k]
		name := extra.Name
		if name == "" {
			name = strings.ReplaceAll(k, "_", " ")
		}
		maxScore := extra.MaxScore
		if maxScore <= 0 {
			maxScore = CanonicalMax
		}
		category := extra.Category
		if category == "" {
			category = General
		}
		metrics = append(metrics, Metric{
			ID:       k,
			Name:     name,
			Score:    NewScore(extra.Score, maxScore),
			Category: category,
			Details:  extra.Details,
		})
	}
	return metrics
}

// Composite sum(value)/sum(maxValue)，与指标顺序无关。filter 为 nil 时使用全部指标。
func Composite(metrics []Metric, filter func(Metric) bool) Score {
	var total, max float64
	for _, m := range metrics {
		if filter != nil && !filter(m) {
			continue
		}
		total += m.Score.Value
		max += m.Score.MaxValue
	}
	return NewScore(total, max)
}

// CheckAsymmetry 任一左右成对的分数相差不小于 1 分即视为不对称，右侧缺失按 0 处理
func CheckAsymmetry(left, right map[string]float64) bool {
	if left == nil || right == nil {
		return false
	}
	for k, l := range left {
		if math.Abs(l-right[k]) >= asymmetryThreshold {
			return true
		}
	}
	return false
}

// Recommendations 顺序：低分指标、不对称、类别、保持。去重后最多 5 条。
func Recommendations(metrics []Metric, asymmetry bool) []string {
	var recs []string
	allGood := true
	for _, m := range metrics {
		if m.Score.Value < weakThreshold {
			allGood = false
			recs = append(recs, exercisesFor(m)...)
		}
	}
	if asymmetry {
		recs = append(recs, recAsymmetry)
	}
	var mobilityGap, stabilityGap bool
	for _, m := range metrics {
		if m.Score.Value >= m.Score.MaxValue {
			continue
		}
		switch m.Category {
		case Mobility:
			mobilityGap = true
		case Stability:
			stabilityGap = true
		}
	}
	if mobilityGap {
		recs = append(recs, recMobility)
	}
	if stabilityGap {
		recs = append(recs, recStability)
	}
	if allGood {
		recs = append(recs, recMaintain, recProgression)
	}
	return dedupe(recs, maxRecommendations)
}

// RecommendedExercises 只针对低分指标的训练动作
func RecommendedExercises(a Assessment) []string {
	var recs []string
	for _, m := range a.Metrics {
		if m.Score.Value < weakThreshold {
			recs = append(recs, exercisesFor(m)...)
		}
	}
	return dedupe(recs, maxRecommendations)
}

func exercisesFor(m Metric) []string {
	if ex, ok := exerciseTable[m.ID]; ok {
		return ex
	}
	return []string{m.Name + " training"}
}

func dedupe(in []string, limit int) []string {
	out := make([]string, 0, limit)
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}
