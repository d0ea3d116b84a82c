package iface

import (
	"context"
	"time"
)

type ResultKind int

const (
	KindOK ResultKind = iota
	KindFallback
	KindTimeout
	KindBusy
	KindNotReady
	KindBackendError
)

func (k ResultKind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindFallback:
		return "fallback"
	case KindTimeout:
		return "timeout"
	case KindBusy:
		return "busy"
	case KindNotReady:
		return "not_ready"
	case KindBackendError:
		return "backend_error"
	default:
		return "unknown"
	}
}

// RetData 一次推理的结果。Success 为 false 时 Keypoints 为空或为上一次结果的复用，
// 具体含义由 Kind 决定。
type RetData struct {
	Success   bool
	Kind      ResultKind
	Keypoints []RawKeypoint
	Latency   time.Duration
	Err       error
}

type EngineConfig struct {
	Backend   string
	ModelPath string
	Endpoint  string
	InputSize int
}

// Backend 外部关键点模型的最小接口
type Backend interface {
	LoadModel(ctx context.Context) error
	Detect(ctx context.Context, frame Frame) ([]RawKeypoint, error)
	Destroy()
	CheckConfig() EngineConfig
	SetInputSize(size int)
}
