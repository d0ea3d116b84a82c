package keypoint

import (
	iface "PoseAssessServer/interface"
	"fmt"
	"strings"
)

// CanonicalNames 模型输出的固定顺序（COCO 17 点）。
// 命名完全依赖位置，模型若调整输出顺序这里会静默错位。
var CanonicalNames = [17]string{
	"nose",
	"left_eye",
	"right_eye",
	"left_ear",
	"right_ear",
	"left_shoulder",
	"right_shoulder",
	"left_elbow",
	"right_elbow",
	"left_wrist",
	"right_wrist",
	"left_hip",
	"right_hip",
	"left_knee",
	"right_knee",
	"left_ankle",
	"right_ankle",
}

// Connection 一条可绘制的骨骼
type Connection struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// DefaultConnections 面部、手臂、躯干、腿部
var DefaultConnections = []Connection{
	{"nose", "left_eye"},
	{"nose", "right_eye"},
	{"left_eye", "left_ear"},
	{"right_eye", "right_ear"},

	{"left_shoulder", "left_elbow"},
	{"left_elbow", "left_wrist"},
	{"right_shoulder", "right_elbow"},
	{"right_elbow", "right_wrist"},

	{"left_shoulder", "right_shoulder"},
	{"left_shoulder", "left_hip"},
	{"right_shoulder", "right_hip"},
	{"left_hip", "right_hip"},

	{"left_hip", "left_knee"},
	{"left_knee", "left_ankle"},
	{"right_hip", "right_knee"},
	{"right_knee", "right_ankle"},
}

func SyntheticName(index int) string {
	return fmt.Sprintf("keypoint_%d", index)
}

// Aliases 返回同一关节在不同命名约定下的写法：snake_case、camelCase、紧凑写法。
// 上游服务的命名并不统一，查找时按顺序尝试。
func Aliases(name string) []string {
	if !strings.Contains(name, "_") {
		return []string{name}
	}
	parts := strings.Split(name, "_")
	var camel strings.Builder
	camel.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		camel.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	return []string{name, camel.String(), strings.Join(parts, "")}
}

// Set 按名称索引的一组关键点
type Set map[string]iface.Keypoint

func NewSet(kps []iface.Keypoint) Set {
	s := make(Set, len(kps))
	for _, kp := range kps {
		s[kp.Name] = kp
	}
	return s
}

// Lookup 依次尝试各命名约定
func (s Set) Lookup(name string) (iface.Keypoint, bool) {
	for _, alias := range Aliases(name) {
		if kp, ok := s[alias]; ok {
			return kp, true
		}
	}
	return iface.Keypoint{}, false
}

// Ptr 与 Lookup 相同，找不到时返回 nil
func (s Set) Ptr(name string) *iface.Keypoint {
	kp, ok := s.Lookup(name)
	if !ok {
		return nil
	}
	return &kp
}
