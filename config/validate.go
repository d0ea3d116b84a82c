package config

import (
	"PoseAssessServer/render"
	"errors"
	"fmt"
)

func checkPort(name string, port int, allowZero bool) error {
	if port < 0 || port > 65535 || (port == 0 && !allowZero) {
		return fmt.Errorf("%s out of range: %d", name, port)
	}
	return nil
}

// Validate 汇总所有错误一次返回
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(checkPort("server.httpPort", c.Server.HTTPPort, false))
	add(checkPort("server.rpcPort", c.Server.RPCPort, true))
	add(checkPort("server.metricsPort", c.Server.MetricsPort, true))

	switch c.Engine.Backend {
	case "subprocess":
		if c.Engine.Command == "" {
			add(errors.New("engine.command is required for the subprocess backend"))
		}
	case "http":
		if c.Engine.Endpoint == "" {
			add(errors.New("engine.endpoint is required for the http backend"))
		}
	case "unavailable":
	default:
		add(fmt.Errorf("engine.backend must be subprocess, http or unavailable, got %q", c.Engine.Backend))
	}
	if c.Engine.Workers < 1 {
		add(fmt.Errorf("engine.workers must be at least 1, got %d", c.Engine.Workers))
	}
	if c.Engine.MaxAttempts < 1 {
		add(fmt.Errorf("engine.maxAttempts must be at least 1, got %d", c.Engine.MaxAttempts))
	}
	if c.Engine.InferTimeout <= 0 {
		add(errors.New("engine.inferTimeout must be positive"))
	}

	p := c.Pipeline
	if p.RefreshInterval <= 0 {
		add(errors.New("pipeline.refreshInterval must be positive"))
	}
	if p.MinInterval <= 0 || p.MinInterval > p.InitialInterval || p.InitialInterval > p.MaxInterval {
		add(fmt.Errorf("pipeline intervals must satisfy 0 < min <= initial <= max, got %s/%s/%s", p.MinInterval, p.InitialInterval, p.MaxInterval))
	}
	if p.LowRate >= p.HighRate {
		add(fmt.Errorf("pipeline.lowRate must be below highRate, got %v >= %v", p.LowRate, p.HighRate))
	}
	if p.EvaluateEvery < 1 {
		add(fmt.Errorf("pipeline.evaluateEvery must be at least 1, got %d", p.EvaluateEvery))
	}

	if c.Render.Threshold < 0 || c.Render.Threshold >= 1 {
		add(fmt.Errorf("render.threshold must be in [0,1), got %v", c.Render.Threshold))
	}
	for _, hex := range []string{c.Render.PointColor, c.Render.LineColor, c.Render.RingColor} {
		if _, err := render.ParseHexColor(hex); err != nil {
			add(fmt.Errorf("render: %w", err))
		}
	}

	switch c.Analysis.Mode {
	case "local", "mock":
	case "remote":
		if c.Analysis.RemoteURL == "" {
			add(errors.New("analysis.remoteURL is required in remote mode"))
		}
	default:
		add(fmt.Errorf("analysis.mode must be local, mock or remote, got %q", c.Analysis.Mode))
	}

	if c.History.Assessments < 1 || c.History.Analyses < 1 {
		add(errors.New("history capacities must be positive"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		add(errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.MQTT.QoS > 2 {
		add(fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Registry.Enabled {
		add(checkPort("registry.port", c.Registry.Port, false))
	}
	return errors.Join(errs...)
}
