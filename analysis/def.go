package analysis

import (
	iface "PoseAssessServer/interface"
	"context"
	"fmt"
	"io"
	"time"
)

// Response 分析接口的返回结构，字段名与前端约定一致
type Response struct {
	Score             float64            `json:"score"`
	Feedback          string             `json:"feedback"`
	Reason            string             `json:"reason"`
	Angles            map[string]float64 `json:"angles"`
	ProcessingTime    string             `json:"processing_time"`
	KeypointsDetected bool               `json:"keypoints_detected"`
	AnnotatedImage    string             `json:"annotated_image,omitempty"`
	Details           map[string]any     `json:"details"`
	Timestamp         time.Time          `json:"timestamp"`
	Keypoints         []iface.Keypoint   `json:"keypoints"`
	MovementType      string             `json:"movementType,omitempty"`
}

// Analyzer 对一段上传的视频给出评分
type Analyzer interface {
	Analyze(ctx context.Context, filename string, video io.Reader, movementType string) (*Response, error)
}

// ProgressFunc 每处理一个采样帧回调一次，total 为预计采样数，未知时为 0
type ProgressFunc func(done, total int)

func processingTime(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
