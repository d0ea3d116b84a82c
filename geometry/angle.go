package geometry

import (
	iface "PoseAssessServer/interface"
	"PoseAssessServer/keypoint"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Angle 关节角度，Degrees 位于 [0,180]
type Angle struct {
	Joint   string  `json:"jointName"`
	Degrees float64 `json:"degrees"`
	Valid   bool    `json:"valid"`
}

// AngleAt 计算以 vertex 为顶点、a 与 c 为两端的夹角。
// 任一点缺失、位于原点（视为未设置）或向量长度为 0 时返回 {0, false}。
func AngleAt(a, vertex, c *iface.Keypoint) Angle {
	if unset(a) || unset(vertex) || unset(c) {
		return Angle{}
	}
	u := []float64{a.X - vertex.X, a.Y - vertex.Y}
	w := []float64{c.X - vertex.X, c.Y - vertex.Y}
	mag := floats.Norm(u, 2) * floats.Norm(w, 2)
	if mag == 0 {
		return Angle{}
	}
	cos := floats.Dot(u, w) / mag
	// 浮点误差可能让 cos 略微越界
	cos = math.Max(-1, math.Min(1, cos))
	return Angle{Degrees: math.Acos(cos) * 180 / math.Pi, Valid: true}
}

func unset(p *iface.Keypoint) bool {
	return p == nil || (p.X == 0 && p.Y == 0)
}

// Joint 一个角度由三点确定，Vertex 为顶点
type Joint struct {
	A, Vertex, C string
}

// Joints 常用关节角
var Joints = map[string]Joint{
	"left_knee":      {"left_hip", "left_knee", "left_ankle"},
	"right_knee":     {"right_hip", "right_knee", "right_ankle"},
	"left_hip":       {"left_shoulder", "left_hip", "left_knee"},
	"right_hip":      {"right_shoulder", "right_hip", "right_knee"},
	"left_elbow":     {"left_shoulder", "left_elbow", "left_wrist"},
	"right_elbow":    {"right_shoulder", "right_elbow", "right_wrist"},
	"left_shoulder":  {"left_hip", "left_shoulder", "left_elbow"},
	"right_shoulder": {"right_hip", "right_shoulder", "right_elbow"},
}

// Measure 在关键点集合上计算指定三点角
func Measure(set keypoint.Set, name string, j Joint) Angle {
	angle := AngleAt(set.Ptr(j.A), set.Ptr(j.Vertex), set.Ptr(j.C))
	angle.Joint = name
	return angle
}

// MeasureAll 计算 Joints 中所有可计算的角度，无效角度不出现在结果中
func MeasureAll(set keypoint.Set) map[string]float64 {
	names := make([]string, 0, len(Joints))
	for name := range Joints {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(map[string]float64, len(names))
	for _, name := range names {
		if a := Measure(set, name, Joints[name]); a.Valid {
			out[name] = a.Degrees
		}
	}
	return out
}
