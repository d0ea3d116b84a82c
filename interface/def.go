package iface

import (
	"math"
	"time"
)

// Keypoint 归一化后的人体关键点，X/Y 为帧宽高的比例 [0,1]
type Keypoint struct {
	Name  string  `json:"name" msgpack:"name"`
	X     float64 `json:"x" msgpack:"x"`
	Y     float64 `json:"y" msgpack:"y"`
	Score float64 `json:"score" msgpack:"score"`
}

// RawKeypoint 模型原始输出中的一项，按位置对应固定的关节顺序。
// 非数值字段用 NaN 表示。
type RawKeypoint struct {
	X     float64
	Y     float64
	Score float64
}

func (r RawKeypoint) Numeric() bool {
	for _, v := range [3]float64{r.X, r.Y, r.Score} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Frame 由外部采集方提供的帧句柄，Data 为编码后的图像（jpg/png）
type Frame struct {
	Seq       uint64
	Width     int
	Height    int
	Data      []byte
	Timestamp time.Time
}

func (f Frame) Empty() bool {
	return len(f.Data) == 0
}
