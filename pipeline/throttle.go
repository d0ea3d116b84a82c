package pipeline

import (
	"PoseAssessServer/monitor"
	"time"
)

type ThrottleConfig struct {
	Initial time.Duration
	Min     time.Duration
	Max     time.Duration
	Step    time.Duration
	// Low/High 每秒 tick 次数的上下界
	Low    float64
	High   float64
	Window time.Duration
}

func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		Initial: 100 * time.Millisecond,
		Min:     50 * time.Millisecond,
		Max:     200 * time.Millisecond,
		Step:    10 * time.Millisecond,
		Low:     15,
		High:    30,
		Window:  time.Second,
	}
}

// Throttle 自适应间隔：每个窗口按 tick 速率调整，低于 Low 放慢，高于 High 加快。
// 只由一个 goroutine 使用。
type Throttle struct {
	name        string
	cfg         ThrottleConfig
	interval    time.Duration
	last        time.Time
	windowStart time.Time
	completions int
}

func NewThrottle(name string, cfg ThrottleConfig, now time.Time) *Throttle {
	d := DefaultThrottleConfig()
	if cfg.Initial <= 0 {
		cfg.Initial = d.Initial
	}
	if cfg.Min <= 0 {
		cfg.Min = d.Min
	}
	if cfg.Max < cfg.Min {
		cfg.Max = max(d.Max, cfg.Min)
	}
	if cfg.Step <= 0 {
		cfg.Step = d.Step
	}
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	t := &Throttle{
		name:        name,
		cfg:         cfg,
		interval:    min(max(cfg.Initial, cfg.Min), cfg.Max),
		windowStart: now,
	}
	monitor.LoopInterval.WithLabelValues(name).Set(float64(t.interval.Milliseconds()))
	return t
}

func (t *Throttle) Interval() time.Duration {
	return t.interval
}

// Due 距上次触发已超过当前间隔
func (t *Throttle) Due(now time.Time) bool {
	return t.last.IsZero() || now.Sub(t.last) >= t.interval
}

func (t *Throttle) Mark(now time.Time) {
	t.last = now
}

// Record 记一次循环 tick，速率即 tick 频率
func (t *Throttle) Record() {
	t.completions++
}

// Recalculate 窗口结束时调整间隔并开启新窗口，返回是否发生了重算
func (t *Throttle) Recalculate(now time.Time) bool {
	elapsed := now.Sub(t.windowStart)
	if elapsed < t.cfg.Window {
		return false
	}
	rate := float64(t.completions) / elapsed.Seconds()
	switch {
	case rate < t.cfg.Low:
		t.interval = min(t.interval+t.cfg.Step, t.cfg.Max)
	case rate > t.cfg.High:
		t.interval = max(t.interval-t.cfg.Step, t.cfg.Min)
	}
	t.completions = 0
	t.windowStart = now
	monitor.LoopInterval.WithLabelValues(t.name).Set(float64(t.interval.Milliseconds()))
	return true
}
