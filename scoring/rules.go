package scoring

import (
	"PoseAssessServer/geometry"
	iface "PoseAssessServer/interface"
	"PoseAssessServer/keypoint"
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	DeepSquatID        = "deep-squat"
	ShoulderMobilityID = "shoulder-mobility"
)

// DeepSquat 以左右膝角（髋-膝-踝）的平均值评分
type DeepSquat struct{}

func (DeepSquat) Score(set keypoint.Set, _ []iface.Keypoint) Evaluation {
	ev := Neutral()
	var valid []float64
	for _, name := range []string{"left_knee", "right_knee"} {
		a := geometry.Measure(set, name, geometry.Joints[name])
		if a.Valid {
			ev.Angles[name] = a.Degrees
			valid = append(valid, a.Degrees)
		}
	}
	if len(valid) == 0 {
		return ev
	}
	avg := stat.Mean(valid, nil)
	ev.Details["avgKneeAngle"] = avg
	ev.Score, ev.Feedback = ScoreKneeAngle(avg)
	return ev
}

// ScoreKneeAngle 90-100 度最佳，80-110 度次之
func ScoreKneeAngle(avg float64) (float64, string) {
	switch {
	case avg >= 90 && avg <= 100:
		return 0.9, "Good squat form, knee angle is on target"
	case avg >= 80 && avg <= 110:
		return 0.7, "Squat is mostly correct, try to lower the body a little further"
	default:
		return 0.5, "Squat depth is insufficient, lower your centre of gravity"
	}
}

// ShoulderMobility 以手腕高出肩膀的平均位移评分，位移按参考帧高换算为像素后除以 Scale
type ShoulderMobility struct {
	Scale           float64
	ReferenceHeight float64
}

func NewShoulderMobility() ShoulderMobility {
	return ShoulderMobility{Scale: 200, ReferenceHeight: 480}
}

func (s ShoulderMobility) Score(set keypoint.Set, _ []iface.Keypoint) Evaluation {
	ev := Neutral()
	for _, name := range []string{"left_shoulder", "right_shoulder"} {
		if a := geometry.Measure(set, name, geometry.Joints[name]); a.Valid {
			ev.Angles[name] = a.Degrees
		}
	}
	ls, lok := set.Lookup("left_shoulder")
	rs, rok := set.Lookup("right_shoulder")
	lw, lwok := set.Lookup("left_wrist")
	rw, rwok := set.Lookup("right_wrist")
	if !lok || !rok || !lwok || !rwok {
		return ev
	}
	// y 轴向下，手腕在肩膀上方时差值为正
	raise := ((ls.Y - lw.Y) + (rs.Y - rw.Y)) / 2 * s.ReferenceHeight
	ev.Details["avgArmRaise"] = raise
	ev.Score = math.Max(0, math.Min(1, raise/s.Scale))
	switch {
	case ev.Score > 0.8:
		ev.Feedback = "Shoulder mobility is good, arms are raised high enough"
	case ev.Score > 0.5:
		ev.Feedback = "Shoulder mobility is average, try raising the arms higher"
	default:
		ev.Feedback = "Shoulder mobility needs work, try lifting the arms above the shoulders"
	}
	return ev
}

// Generic 未注册动作的兜底：平均置信度即得分
type Generic struct{}

func (Generic) Score(set keypoint.Set, kps []iface.Keypoint) Evaluation {
	ev := Neutral()
	ev.Score = math.Min(1, keypoint.MeanScore(kps))
	ev.Feedback = "Movement detected, hold the current posture"
	ev.Angles = geometry.MeasureAll(set)
	return ev
}
