package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type State int

const (
	UNINITIALIZED State = 0x0001 + iota
	LOADING
	READY
	FAILED_FALLBACK
	DISPOSED
)

func (s State) String() string {
	switch s {
	case UNINITIALIZED:
		return "UNINITIALIZED"
	case LOADING:
		return "LOADING"
	case READY:
		return "READY"
	case FAILED_FALLBACK:
		return "FAILED_FALLBACK"
	case DISPOSED:
		return "DISPOSED"
	default:
		return fmt.Sprintf("State(%#x)", int(s))
	}
}

var (
	ErrModelInit        = errors.New("model initialization failed")
	ErrInferenceTimeout = errors.New("inference timed out")
	ErrNotReady         = errors.New("estimator not ready")
)

// ModelInitError 某一次加载尝试的失败原因
type ModelInitError struct {
	Attempt int
	Err     error
}

func (e *ModelInitError) Error() string {
	return fmt.Sprintf("model init attempt %d: %v", e.Attempt, e.Err)
}

func (e *ModelInitError) Unwrap() []error {
	return []error{ErrModelInit, e.Err}
}

type Options struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	InferTimeout      time.Duration
	SyntheticInterval time.Duration
	Seed              int64
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		InferTimeout:      5 * time.Second,
		SyntheticInterval: 500 * time.Millisecond,
		Seed:              time.Now().UnixNano(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.InferTimeout <= 0 {
		o.InferTimeout = d.InferTimeout
	}
	if o.SyntheticInterval <= 0 {
		o.SyntheticInterval = d.SyntheticInterval
	}
	if o.Seed == 0 {
		o.Seed = d.Seed
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
