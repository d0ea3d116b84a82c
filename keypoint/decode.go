package keypoint

import (
	iface "PoseAssessServer/interface"
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/stat"
)

// DecodeRaw 把 JSON / msgpack 解出来的通用结构转换成 RawKeypoint。
// 支持 [x, y, score] 与 {"x":..,"y":..,"score":..} 两种形式，
// 无法识别的字段记为 NaN，交给 Validator 丢弃。
func DecodeRaw(v any) []iface.RawKeypoint {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]iface.RawKeypoint, 0, len(items))
	for _, item := range items {
		out = append(out, decodeOne(item))
	}
	return out
}

func decodeOne(item any) iface.RawKeypoint {
	nan := math.NaN()
	r := iface.RawKeypoint{X: nan, Y: nan, Score: nan}
	switch t := item.(type) {
	case []any:
		if len(t) > 0 {
			r.X = toFloat(t[0])
		}
		if len(t) > 1 {
			r.Y = toFloat(t[1])
		}
		if len(t) > 2 {
			r.Score = toFloat(t[2])
		}
	case map[string]any:
		r.X = toFloat(t["x"])
		r.Y = toFloat(t["y"])
		if s, ok := t["score"]; ok {
			r.Score = toFloat(s)
		} else {
			r.Score = toFloat(t["confidence"])
		}
	}
	return r
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// MeanScore 平均置信度，空集返回 0
func MeanScore(kps []iface.Keypoint) float64 {
	if len(kps) == 0 {
		return 0
	}
	scores := make([]float64, len(kps))
	for i, kp := range kps {
		scores[i] = kp.Score
	}
	return stat.Mean(scores, nil)
}
