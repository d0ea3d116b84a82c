package engine

import (
	iface "PoseAssessServer/interface"
	"PoseAssessServer/keypoint"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

type keypointsResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Keypoints []any  `json:"keypoints"`
}

// HTTPBackend 远端关键点服务：GET /health 视为加载，POST /keypoints 上传 multipart 帧
type HTTPBackend struct {
	Endpoint  string
	ModelPath string
	InputSize int
	client    *resty.Client
}

func NewHTTPBackend(endpoint, modelPath string, inputSize int, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		Endpoint:  endpoint,
		ModelPath: modelPath,
		InputSize: inputSize,
		client:    resty.New().SetBaseURL(endpoint).SetTimeout(timeout),
	}
}

func (b *HTTPBackend) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{
		Backend:   "http",
		ModelPath: b.ModelPath,
		Endpoint:  b.Endpoint,
		InputSize: b.InputSize,
	}
}

func (b *HTTPBackend) SetInputSize(size int) {
	b.InputSize = size
}

func (b *HTTPBackend) LoadModel(ctx context.Context) error {
	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParam("model", b.ModelPath).
		Get("/health")
	if err != nil {
		return fmt.Errorf("keypoint service unreachable: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("keypoint service unhealthy: %s", resp.Status())
	}
	return nil
}

func (b *HTTPBackend) Detect(ctx context.Context, frame iface.Frame) ([]iface.RawKeypoint, error) {
	data, width, height, err := prepareFrame(frame, b.InputSize)
	if err != nil {
		return nil, err
	}
	var out keypointsResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetFileReader("file", "frame.jpg", bytes.NewReader(data)).
		SetFormData(map[string]string{
			"width":  strconv.Itoa(width),
			"height": strconv.Itoa(height),
		}).
		SetResult(&out).
		Post("/keypoints")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("keypoint service returned %s: %s", resp.Status(), resp.String())
	}
	if !out.Success {
		return nil, fmt.Errorf("keypoint service failed: %s", out.Error)
	}
	return keypoint.DecodeRaw(out.Keypoints), nil
}

func (b *HTTPBackend) Destroy() {}
