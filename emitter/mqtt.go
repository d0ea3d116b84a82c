package emitter

import (
	"PoseAssessServer/assessment"
	"PoseAssessServer/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("mqtt not connected")

type MQTTConfig struct {
	Broker   string
	ClientID string
	// Topic 前缀，实际主题为 {Topic}/assessments 与 {Topic}/evaluations/{sessionID}
	Topic string
	QoS   byte
}

// client mqtt.Client 中用到的部分
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

type MQTTPublisher struct {
	cfg    MQTTConfig
	client client

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
	log       *zap.Logger
}

func NewMQTTPublisher(cfg MQTTConfig) *MQTTPublisher {
	if cfg.Topic == "" {
		cfg.Topic = "pose"
	}
	cfg.Topic = strings.TrimSuffix(cfg.Topic, "/")
	return &MQTTPublisher{
		cfg:       cfg,
		published: make(map[string]uint64),
		log:       logger.Named("mqtt"),
	}
}

// Connect 连接 broker，断线后由 paho 自动重连
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	broker := p.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		p.setConnected(true)
		p.log.Info("mqtt connection established", zap.String("broker", broker), zap.String("clientID", p.cfg.ClientID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.setConnected(false)
		p.log.Warn("mqtt connection lost, will auto-reconnect", zap.String("broker", broker), zap.Error(err))
	}

	c := mqtt.NewClient(opts)
	p.client = c
	token := c.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	p.setConnected(true)
	return nil
}

func (p *MQTTPublisher) PublishAssessment(a assessment.Assessment) error {
	return p.publish(p.cfg.Topic+"/assessments", a)
}

func (p *MQTTPublisher) PublishEvaluation(ev Evaluation) error {
	return p.publish(fmt.Sprintf("%s/evaluations/%s", p.cfg.Topic, ev.SessionID), ev)
}

func (p *MQTTPublisher) publish(topic string, v any) error {
	if !p.isConnected() {
		p.fail()
		return ErrNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		p.fail()
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		p.fail()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.fail()
		return fmt.Errorf("publish failed: %w", err)
	}
	p.mu.Lock()
	p.published[topic]++
	p.mu.Unlock()
	p.log.Debug("message published", zap.String("topic", topic), zap.Int("size", len(payload)))
	return nil
}

func (p *MQTTPublisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	published := make(map[string]uint64, len(p.published))
	for k, v := range p.published {
		published[k] = v
	}
	return Stats{Connected: p.connected, Published: published, Errors: p.errors}
}

func (p *MQTTPublisher) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		p.log.Info("mqtt disconnected")
	}
	p.setConnected(false)
	return nil
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.client != nil
}

func (p *MQTTPublisher) fail() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
