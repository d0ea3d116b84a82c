package keypoint

import (
	iface "PoseAssessServer/interface"
	"errors"
)

const DefaultThreshold = 0.2

// ErrInvalidKeypointData 校验阶段丢弃的条目，只用于计数和日志，不向外传播
var ErrInvalidKeypointData = errors.New("invalid keypoint data")

type Validator struct {
	// Threshold 置信度必须严格大于该值
	Threshold float64
	Names     []string
}

func NewValidator() Validator {
	return Validator{
		Threshold: DefaultThreshold,
		Names:     CanonicalNames[:],
	}
}

// Validate 清洗模型原始输出：剔除非数值、坐标越界、置信度不足的条目，
// 按位置重命名为规范关节名，多出的条目使用合成名。返回值可能比输入短，
// dropped 为被丢弃的条目数。不会因为脏数据失败。
func (v Validator) Validate(raw []iface.RawKeypoint) (kps []iface.Keypoint, dropped int) {
	kps = make([]iface.Keypoint, 0, len(raw))
	for i, r := range raw {
		if err := v.check(r); err != nil {
			dropped++
			continue
		}
		name := SyntheticName(i)
		if i < len(v.Names) {
			name = v.Names[i]
		}
		kps = append(kps, iface.Keypoint{Name: name, X: r.X, Y: r.Y, Score: r.Score})
	}
	return kps, dropped
}

func (v Validator) check(r iface.RawKeypoint) error {
	if !r.Numeric() {
		return ErrInvalidKeypointData
	}
	if r.X < 0 || r.X > 1 || r.Y < 0 || r.Y > 1 {
		return ErrInvalidKeypointData
	}
	if r.Score <= v.Threshold || r.Score > 1 {
		return ErrInvalidKeypointData
	}
	return nil
}

// Filter 对已命名的关键点（例如远端分析服务返回的）做同样的检查
func (v Validator) Filter(kps []iface.Keypoint) []iface.Keypoint {
	out := make([]iface.Keypoint, 0, len(kps))
	for _, kp := range kps {
		if v.check(iface.RawKeypoint{X: kp.X, Y: kp.Y, Score: kp.Score}) != nil {
			continue
		}
		out = append(out, kp)
	}
	return out
}
