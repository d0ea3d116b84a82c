package Adhoc

import (
	"PoseAssessServer/logger"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	LocalInstance     = 0x2001
	RemoteInstance    = 0x2002
	SyntheticInstance = 0x2003
	TimeOutSeconds    = 5
)

// InstanceClass 按关键点后端类型区分节点，调度中心据此分配会话
func InstanceClass(backend string) int {
	switch backend {
	case "subprocess":
		return LocalInstance
	case "http":
		return RemoteInstance
	default:
		return SyntheticInstance
	}
}

type RegisterRequest struct {
	Id            string `json:"id"`
	IP            string `json:"ip"`
	HTTPPort      int    `json:"httpPort"`
	RPCPort       int    `json:"rpcPort"`
	InstanceClass int    `json:"instanceClass"`
	Workers       int    `json:"workers"`
	IdleWorkers   int    `json:"idleWorkers"`
	TimeStamp     int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Addr     string
	Port     int
	Interval time.Duration
}

// Node 本节点登记信息，Load 返回当前估计器总数与空闲数
type Node struct {
	IP            string
	HTTPPort      int
	RPCPort       int
	InstanceClass int
	Load          func() (workers, idle int)
}

type Heartbeat struct {
	id     string
	url    string
	cfg    RegServerConfig
	node   Node
	client *resty.Client
	log    *zap.Logger
}

func NewHeartbeat(cfg RegServerConfig, node Node) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = TimeOutSeconds * time.Second
	}
	return &Heartbeat{
		id:     uuid.NewString(),
		url:    fmt.Sprintf("http://%s:%d/api/register", cfg.Addr, cfg.Port),
		cfg:    cfg,
		node:   node,
		client: resty.New().SetTimeout(TimeOutSeconds * time.Second), // 总超时
		log:    logger.Named("adhoc"),
	}
}

func (h *Heartbeat) ID() string { return h.id }

// Beat 发送一次登记，返回调度中心的应答
func (h *Heartbeat) Beat(ctx context.Context) (*RegisterResponse, error) {
	reqBody := RegisterRequest{
		Id:            h.id,
		IP:            h.node.IP,
		HTTPPort:      h.node.HTTPPort,
		RPCPort:       h.node.RPCPort,
		InstanceClass: h.node.InstanceClass,
		TimeStamp:     time.Now().Unix(),
	}
	if h.node.Load != nil {
		reqBody.Workers, reqBody.IdleWorkers = h.node.Load()
	}
	var respBody RegisterResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).     // resty 会 JSON 编码
		SetResult(&respBody). // 2xx 自动反序列化到 respBody
		Post(h.url)
	if err != nil {
		return nil, fmt.Errorf("register request failed: %w", err)
	}
	// 检查 HTTP 状态码
	if resp.IsError() {
		return nil, fmt.Errorf("register server returned %s: %s", resp.Status(), resp.String())
	}
	return &respBody, nil
}

// Run 立即登记一次，之后按 Interval 重复，直到 ctx 结束
func (h *Heartbeat) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	safeBeat := func() {
		defer func() {
			if r := recover(); r != nil {
				h.log.Error("heartbeat panic recovered", zap.Any("panic", r))
			}
		}()
		resp, err := h.Beat(ctx)
		if err != nil {
			if ctx.Err() == nil {
				h.log.Error("heartbeat failed", zap.String("url", h.url), zap.Error(err))
			}
			return
		}
		if !resp.Success {
			h.log.Warn("register server rejected node", zap.String("id", h.id))
		}
	}
	safeBeat()
	for {
		select {
		case <-ctx.Done():
			h.log.Info("heartbeat stopped")
			return
		case <-ticker.C:
			safeBeat()
		}
	}
}

// GetOutboundIP 通过 UDP 路由查询本地出口 IP，不会真正发包
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
