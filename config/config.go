package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "POSE"

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Render   RenderConfig   `mapstructure:"render" yaml:"render"`
	Scoring  ScoringConfig  `mapstructure:"scoring" yaml:"scoring"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`
	MQTT     MQTTConfig     `mapstructure:"mqtt" yaml:"mqtt"`
	Registry RegistryConfig `mapstructure:"registry" yaml:"registry"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	HTTPPort    int `mapstructure:"httpPort" yaml:"httpPort"`
	RPCPort     int `mapstructure:"rpcPort" yaml:"rpcPort"`
	MetricsPort int `mapstructure:"metricsPort" yaml:"metricsPort"`
}

type EngineConfig struct {
	Backend           string        `mapstructure:"backend" yaml:"backend"`
	Command           string        `mapstructure:"command" yaml:"command"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	ModelPath         string        `mapstructure:"modelPath" yaml:"modelPath"`
	InputSize         int           `mapstructure:"inputSize" yaml:"inputSize"`
	Workers           int           `mapstructure:"workers" yaml:"workers"`
	MaxAttempts       int           `mapstructure:"maxAttempts" yaml:"maxAttempts"`
	BackoffBase       time.Duration `mapstructure:"backoffBase" yaml:"backoffBase"`
	InferTimeout      time.Duration `mapstructure:"inferTimeout" yaml:"inferTimeout"`
	SyntheticInterval time.Duration `mapstructure:"syntheticInterval" yaml:"syntheticInterval"`
	Seed              int64         `mapstructure:"seed" yaml:"seed"`
}

type PipelineConfig struct {
	RefreshInterval    time.Duration `mapstructure:"refreshInterval" yaml:"refreshInterval"`
	InitialInterval    time.Duration `mapstructure:"initialInterval" yaml:"initialInterval"`
	MinInterval        time.Duration `mapstructure:"minInterval" yaml:"minInterval"`
	MaxInterval        time.Duration `mapstructure:"maxInterval" yaml:"maxInterval"`
	IntervalStep       time.Duration `mapstructure:"intervalStep" yaml:"intervalStep"`
	LowRate            float64       `mapstructure:"lowRate" yaml:"lowRate"`
	HighRate           float64       `mapstructure:"highRate" yaml:"highRate"`
	EvaluateEvery      int           `mapstructure:"evaluateEvery" yaml:"evaluateEvery"`
	ChangeTolerance    float64       `mapstructure:"changeTolerance" yaml:"changeTolerance"`
	SessionIdleTimeout time.Duration `mapstructure:"sessionIdleTimeout" yaml:"sessionIdleTimeout"`
}

type RenderConfig struct {
	Threshold     float64 `mapstructure:"threshold" yaml:"threshold"`
	LabelBelow    float64 `mapstructure:"labelBelow" yaml:"labelBelow"`
	LineWidth     float64 `mapstructure:"lineWidth" yaml:"lineWidth"`
	PointColor    string  `mapstructure:"pointColor" yaml:"pointColor"`
	LineColor     string  `mapstructure:"lineColor" yaml:"lineColor"`
	RingColor     string  `mapstructure:"ringColor" yaml:"ringColor"`
	DefaultWidth  int     `mapstructure:"defaultWidth" yaml:"defaultWidth"`
	DefaultHeight int     `mapstructure:"defaultHeight" yaml:"defaultHeight"`
}

type ScoringConfig struct {
	MinKeypoints    int     `mapstructure:"minKeypoints" yaml:"minKeypoints"`
	RulesFile       string  `mapstructure:"rulesFile" yaml:"rulesFile"`
	ShoulderScale   float64 `mapstructure:"shoulderScale" yaml:"shoulderScale"`
	ReferenceHeight float64 `mapstructure:"referenceHeight" yaml:"referenceHeight"`
}

type AnalysisConfig struct {
	// Mode local | mock | remote
	Mode        string        `mapstructure:"mode" yaml:"mode"`
	RemoteURL   string        `mapstructure:"remoteURL" yaml:"remoteURL"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	SampleEvery int           `mapstructure:"sampleEvery" yaml:"sampleEvery"`
	MaxFrames   int           `mapstructure:"maxFrames" yaml:"maxFrames"`
	MockDelay   time.Duration `mapstructure:"mockDelay" yaml:"mockDelay"`
	MaxUploadMB int64         `mapstructure:"maxUploadMB" yaml:"maxUploadMB"`
}

type HistoryConfig struct {
	Assessments int `mapstructure:"assessments" yaml:"assessments"`
	Analyses    int `mapstructure:"analyses" yaml:"analyses"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker"`
	ClientID string `mapstructure:"clientID" yaml:"clientID"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	QoS      byte   `mapstructure:"qos" yaml:"qos"`
}

// RegistryConfig 向调度中心定期登记本节点
type RegistryConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type LogConfig struct {
	Development bool `mapstructure:"development" yaml:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.httpPort", 8000)
	v.SetDefault("server.rpcPort", 50051)
	v.SetDefault("server.metricsPort", 9100)

	v.SetDefault("engine.backend", "subprocess")
	v.SetDefault("engine.command", "python3")
	v.SetDefault("engine.args", []string{"pose_worker.py"})
	v.SetDefault("engine.endpoint", "http://127.0.0.1:8500")
	v.SetDefault("engine.modelPath", "models/movenet_thunder.onnx")
	v.SetDefault("engine.inputSize", 256)
	v.SetDefault("engine.workers", 2)
	v.SetDefault("engine.maxAttempts", 3)
	v.SetDefault("engine.backoffBase", "2s")
	v.SetDefault("engine.inferTimeout", "5s")
	v.SetDefault("engine.syntheticInterval", "500ms")
	v.SetDefault("engine.seed", 0)

	v.SetDefault("pipeline.refreshInterval", "16ms")
	v.SetDefault("pipeline.initialInterval", "100ms")
	v.SetDefault("pipeline.minInterval", "50ms")
	v.SetDefault("pipeline.maxInterval", "200ms")
	v.SetDefault("pipeline.intervalStep", "10ms")
	v.SetDefault("pipeline.lowRate", 15)
	v.SetDefault("pipeline.highRate", 30)
	v.SetDefault("pipeline.evaluateEvery", 3)
	v.SetDefault("pipeline.changeTolerance", 0.02)
	v.SetDefault("pipeline.sessionIdleTimeout", "2m")

	v.SetDefault("render.threshold", 0.2)
	v.SetDefault("render.labelBelow", 0.8)
	v.SetDefault("render.lineWidth", 3)
	v.SetDefault("render.pointColor", "#FF0000")
	v.SetDefault("render.lineColor", "#00FFFF")
	v.SetDefault("render.ringColor", "#FFFFFF")
	v.SetDefault("render.defaultWidth", 640)
	v.SetDefault("render.defaultHeight", 480)

	v.SetDefault("scoring.minKeypoints", 10)
	v.SetDefault("scoring.rulesFile", "")
	v.SetDefault("scoring.shoulderScale", 200)
	v.SetDefault("scoring.referenceHeight", 480)

	v.SetDefault("analysis.mode", "local")
	v.SetDefault("analysis.remoteURL", "")
	v.SetDefault("analysis.timeout", "30s")
	v.SetDefault("analysis.sampleEvery", 5)
	v.SetDefault("analysis.maxFrames", 60)
	v.SetDefault("analysis.mockDelay", "300ms")
	v.SetDefault("analysis.maxUploadMB", 200)

	v.SetDefault("history.assessments", 100)
	v.SetDefault("history.analyses", 10)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "127.0.0.1:1883")
	v.SetDefault("mqtt.clientID", "pose-assess")
	v.SetDefault("mqtt.topic", "pose")
	v.SetDefault("mqtt.qos", 0)

	v.SetDefault("registry.enabled", false)
	v.SetDefault("registry.host", "127.0.0.1")
	v.SetDefault("registry.port", 8080)
	v.SetDefault("registry.interval", "5s")

	v.SetDefault("log.development", false)
}

// Load 读取配置文件并叠加 POSE_ 前缀的环境变量，例如 POSE_SERVER_HTTPPORT。
// path 为空时在当前目录查找 config.yaml，找不到则只使用默认值。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Dump 启动时打印的 YAML
func (c *Config) Dump() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(data)
}
