package server

import (
	"PoseAssessServer/analysis"
	"PoseAssessServer/pipeline"
	"context"
	"fmt"
	"io"
)

// PoolAnalyzer 本地模式的视频分析：每次分析借用池中一个空闲估计器
type PoolAnalyzer struct {
	pool      *Pool
	evaluator pipeline.Evaluator
	cfg       analysis.VideoConfig
}

func NewPoolAnalyzer(pool *Pool, evaluator pipeline.Evaluator, cfg analysis.VideoConfig) *PoolAnalyzer {
	return &PoolAnalyzer{pool: pool, evaluator: evaluator, cfg: cfg}
}

func (a *PoolAnalyzer) Analyze(ctx context.Context, filename string, video io.Reader, movementType string) (*analysis.Response, error) {
	w, err := a.pool.Acquire("analyze:" + filename)
	if err != nil {
		return nil, fmt.Errorf("video analysis unavailable: %w", err)
	}
	defer a.pool.Release(w)
	return analysis.NewVideoAnalyzer(w.estimator, a.evaluator, a.cfg).Analyze(ctx, filename, video, movementType)
}

// AnalyzeFile 命令行批量模式使用，progress 可为 nil
func (a *PoolAnalyzer) AnalyzeFile(ctx context.Context, path, movementType string, progress analysis.ProgressFunc) (*analysis.Response, error) {
	w, err := a.pool.Acquire("analyze:" + path)
	if err != nil {
		return nil, fmt.Errorf("video analysis unavailable: %w", err)
	}
	defer a.pool.Release(w)
	return analysis.NewVideoAnalyzer(w.estimator, a.evaluator, a.cfg).OnProgress(progress).AnalyzeFile(ctx, path, movementType)
}
