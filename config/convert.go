package config

import (
	"PoseAssessServer/analysis"
	"PoseAssessServer/emitter"
	"PoseAssessServer/engine"
	"PoseAssessServer/keypoint"
	"PoseAssessServer/pipeline"
	"PoseAssessServer/render"
	"PoseAssessServer/scoring"
)

func (c *Config) BackendConfig() engine.BackendConfig {
	return engine.BackendConfig{
		Backend:   c.Engine.Backend,
		Command:   c.Engine.Command,
		Args:      c.Engine.Args,
		Endpoint:  c.Engine.Endpoint,
		ModelPath: c.Engine.ModelPath,
		InputSize: c.Engine.InputSize,
		Timeout:   c.Engine.InferTimeout,
	}
}

func (c *Config) EstimatorOptions() engine.Options {
	return engine.Options{
		MaxAttempts:       c.Engine.MaxAttempts,
		BackoffBase:       c.Engine.BackoffBase,
		InferTimeout:      c.Engine.InferTimeout,
		SyntheticInterval: c.Engine.SyntheticInterval,
		Seed:              c.Engine.Seed,
	}
}

func (c *Config) Throttle() pipeline.ThrottleConfig {
	return pipeline.ThrottleConfig{
		Initial: c.Pipeline.InitialInterval,
		Min:     c.Pipeline.MinInterval,
		Max:     c.Pipeline.MaxInterval,
		Step:    c.Pipeline.IntervalStep,
		Low:     c.Pipeline.LowRate,
		High:    c.Pipeline.HighRate,
	}
}

func (c *Config) Validator() keypoint.Validator {
	v := keypoint.NewValidator()
	v.Threshold = c.Render.Threshold
	return v
}

func (c *Config) Scheduler(movementType string) pipeline.SchedulerConfig {
	return pipeline.SchedulerConfig{
		Throttle:        c.Throttle(),
		EvaluateEvery:   c.Pipeline.EvaluateEvery,
		ChangeTolerance: c.Pipeline.ChangeTolerance,
		MovementType:    movementType,
		Validator:       c.Validator(),
	}
}

// Style 颜色已在 Validate 中检查过，这里解析失败时保留默认值
func (c *Config) Style() render.Style {
	st := render.DefaultStyle()
	st.Threshold = c.Render.Threshold
	st.LabelBelow = c.Render.LabelBelow
	if c.Render.LineWidth > 0 {
		st.LineWidth = c.Render.LineWidth
	}
	if col, err := render.ParseHexColor(c.Render.PointColor); err == nil {
		st.PointColor = col
	}
	if col, err := render.ParseHexColor(c.Render.LineColor); err == nil {
		st.LineColor = col
	}
	if col, err := render.ParseHexColor(c.Render.RingColor); err == nil {
		st.RingColor = col
	}
	if c.Render.DefaultWidth > 0 && c.Render.DefaultHeight > 0 {
		st.DefaultWidth, st.DefaultHeight = c.Render.DefaultWidth, c.Render.DefaultHeight
	}
	return st
}

func (c *Config) ScoringOptions() scoring.Options {
	return scoring.Options{
		MinKeypoints:    c.Scoring.MinKeypoints,
		ShoulderScale:   c.Scoring.ShoulderScale,
		ReferenceHeight: c.Scoring.ReferenceHeight,
		RulesFile:       c.Scoring.RulesFile,
	}
}

func (c *Config) Video() analysis.VideoConfig {
	return analysis.VideoConfig{
		SampleEvery: c.Analysis.SampleEvery,
		MaxFrames:   c.Analysis.MaxFrames,
		Style:       c.Style(),
		Validator:   c.Validator(),
	}
}

func (c *Config) Publisher() emitter.MQTTConfig {
	return emitter.MQTTConfig{
		Broker:   c.MQTT.Broker,
		ClientID: c.MQTT.ClientID,
		Topic:    c.MQTT.Topic,
		QoS:      c.MQTT.QoS,
	}
}
