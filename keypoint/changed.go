package keypoint

import (
	iface "PoseAssessServer/interface"
	"math"
)

const DefaultChangeTolerance = 0.02

// Changed 判断两组关键点是否有变化。tol 为 0 时等价于结构相等比较。
func Changed(prev, cur []iface.Keypoint, tol float64) bool {
	if len(prev) != len(cur) {
		return true
	}
	if tol <= 0 {
		for i := range cur {
			if prev[i] != cur[i] {
				return true
			}
		}
		return false
	}
	old := NewSet(prev)
	for _, kp := range cur {
		p, ok := old[kp.Name]
		if !ok {
			return true
		}
		if math.Abs(p.X-kp.X) > tol || math.Abs(p.Y-kp.Y) > tol {
			return true
		}
	}
	return false
}

// Clone 返回独立副本，发布到 mailbox 前使用
func Clone(kps []iface.Keypoint) []iface.Keypoint {
	if kps == nil {
		return nil
	}
	out := make([]iface.Keypoint, len(kps))
	copy(out, kps)
	return out
}
