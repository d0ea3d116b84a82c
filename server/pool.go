package server

import (
	"PoseAssessServer/engine"
	iface "PoseAssessServer/interface"
	"PoseAssessServer/logger"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const (
	IDLE = 0x1001
	BUSY = 0x1002
)

var ErrNoWorkers = errors.New("no available workers")

type worker struct {
	mu        sync.Mutex
	State     int
	Owner     string
	estimator *engine.Estimator
}

func (w *worker) ID() string { return w.estimator.ID }

// WorkerInfo /api/workers 与 gRPC EstimatorStatus 的返回项
type WorkerInfo struct {
	ID        string        `json:"id"`
	State     string        `json:"state"`
	Owner     string        `json:"owner,omitempty"`
	Estimator engine.Status `json:"estimator"`
}

// Pool 固定数量的估计器，启动时全部初始化，会话与视频分析按需借用
type Pool struct {
	mu      sync.RWMutex
	workers []*worker
	log     *zap.Logger
}

// NewPool 并行初始化 size 个估计器。模型加载失败的估计器进入合成骨架模式，仍然可用；
// 只有 ctx 结束才会返回错误。
func NewPool(ctx context.Context, size int, newBackend func() (iface.Backend, error), opts engine.Options) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	p := &Pool{log: logger.Named("pool")}
	for i := 0; i < size; i++ {
		backend, err := newBackend()
		if err != nil {
			p.Dispose()
			return nil, fmt.Errorf("failed to create backend: %w", err)
		}
		p.workers = append(p.workers, &worker{State: IDLE, estimator: engine.NewEstimator(backend, opts)})
	}

	var wg sync.WaitGroup
	errs := make([]error, len(p.workers))
	for i, w := range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = w.estimator.Initialize(ctx)
		}()
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		p.Dispose()
		return nil, err
	}
	for _, w := range p.workers {
		p.log.Info("worker ready", zap.String("workerID", w.ID()), zap.Stringer("state", w.estimator.State()))
	}
	return p, nil
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// Acquire 取第一个空闲的估计器并标记为 owner 所有
func (p *Pool) Acquire(owner string) (*worker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, w := range p.workers {
		w.mu.Lock()
		if w.State == IDLE {
			w.State = BUSY
			w.Owner = owner
			w.mu.Unlock()
			return w, nil
		}
		w.mu.Unlock()
	}
	return nil, ErrNoWorkers
}

func (p *Pool) Release(w *worker) {
	w.mu.Lock()
	w.State = IDLE
	w.Owner = ""
	w.mu.Unlock()
	w.estimator.Reset()
}

func (p *Pool) Status() []WorkerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		w.mu.Lock()
		info := WorkerInfo{ID: w.ID(), State: "IDLE", Owner: w.Owner}
		if w.State == BUSY {
			info.State = "BUSY"
		}
		w.mu.Unlock()
		info.Estimator = w.estimator.Status()
		out = append(out, info)
	}
	return out
}

// Dispose 释放全部估计器，可重复调用
func (p *Pool) Dispose() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, w := range p.workers {
		w.estimator.Dispose()
	}
}
