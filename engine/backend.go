package engine

import (
	iface "PoseAssessServer/interface"
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrBackendUnavailable = errors.New("keypoint backend unavailable")

type BackendConfig struct {
	Backend   string
	Command   string
	Args      []string
	Endpoint  string
	ModelPath string
	InputSize int
	Timeout   time.Duration
}

// NewBackend 按名称构造后端：subprocess | http | unavailable
func NewBackend(cfg BackendConfig) (iface.Backend, error) {
	switch cfg.Backend {
	case "subprocess":
		return NewSubprocessBackend(cfg.Command, cfg.Args, cfg.ModelPath, cfg.InputSize), nil
	case "http":
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		return NewHTTPBackend(cfg.Endpoint, cfg.ModelPath, cfg.InputSize, timeout), nil
	case "unavailable", "":
		return UnavailableBackend{}, nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

// UnavailableBackend 永远加载失败，估计器会直接进入合成骨架模式
type UnavailableBackend struct{}

func (UnavailableBackend) LoadModel(context.Context) error { return ErrBackendUnavailable }

func (UnavailableBackend) Detect(context.Context, iface.Frame) ([]iface.RawKeypoint, error) {
	return nil, ErrBackendUnavailable
}

func (UnavailableBackend) Destroy() {}

func (UnavailableBackend) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{Backend: "unavailable"}
}

func (UnavailableBackend) SetInputSize(int) {}
