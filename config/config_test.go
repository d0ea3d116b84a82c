package config

import (
	"PoseAssessServer/render"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.HTTPPort)
	assert.Equal(t, "subprocess", cfg.Engine.Backend)
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Engine.BackoffBase)
	assert.Equal(t, 5*time.Second, cfg.Engine.InferTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Pipeline.InitialInterval)
	assert.Equal(t, 3, cfg.Pipeline.EvaluateEvery)
	assert.Equal(t, 100, cfg.History.Assessments)
	assert.Equal(t, 10, cfg.History.Analyses)
	assert.Equal(t, []string{"pose_worker.py"}, cfg.Engine.Args)

	st := cfg.Style()
	assert.Equal(t, render.Red, st.PointColor)
	assert.Equal(t, render.Cyan, st.LineColor)
	assert.Equal(t, 640, st.DefaultWidth)

	th := cfg.Throttle()
	assert.Equal(t, 50*time.Millisecond, th.Min)
	assert.Equal(t, 200*time.Millisecond, th.Max)
	assert.Equal(t, 15.0, th.Low)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  httpPort: 9000
engine:
  backend: http
  endpoint: http://pose:8500
  workers: 4
analysis:
  mode: mock
  mockDelay: 50ms
`)
	t.Setenv("POSE_SERVER_RPCPORT", "6000")
	t.Setenv("POSE_MQTT_ENABLED", "true")
	t.Setenv("POSE_MQTT_TOPIC", "clinic")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 6000, cfg.Server.RPCPort)
	assert.Equal(t, "http", cfg.BackendConfig().Backend)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 50*time.Millisecond, cfg.Analysis.MockDelay)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "clinic", cfg.Publisher().Topic)
	assert.Equal(t, 9100, cfg.Server.MetricsPort)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"backend", "engine:\n  backend: onnx\n", "engine.backend"},
		{"workers", "engine:\n  workers: 0\n", "engine.workers"},
		{"intervals", "pipeline:\n  minInterval: 300ms\n", "pipeline intervals"},
		{"remote url", "analysis:\n  mode: remote\n", "analysis.remoteURL"},
		{"color", "render:\n  lineColor: cyan\n", "invalid color"},
		{"threshold", "render:\n  threshold: 1.5\n", "render.threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.want)
		})
	}

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestDump(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(cfg.Dump()), &back))
	assert.Contains(t, back, "engine")
	assert.Contains(t, back, "pipeline")
}

func TestScheduler(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	sc := cfg.Scheduler("deep-squat")
	assert.Equal(t, "deep-squat", sc.MovementType)
	assert.Equal(t, 0.2, sc.Validator.Threshold)
	assert.Len(t, sc.Validator.Names, 17)
	assert.Equal(t, 60, cfg.Video().MaxFrames)
	assert.Equal(t, 10, cfg.ScoringOptions().MinKeypoints)
}
