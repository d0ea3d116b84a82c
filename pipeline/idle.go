package pipeline

import (
	iface "PoseAssessServer/interface"
	"PoseAssessServer/logger"
	"PoseAssessServer/scoring"
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Evaluator scoring.Registry 满足该接口
type Evaluator interface {
	Evaluate(kps []iface.Keypoint, movementType string) scoring.Evaluation
}

// IdleRunner 在调度 tick 之外执行较重的评分任务，只处理最新的一份
type IdleRunner struct {
	jobs      *Mailbox[ScoreJob]
	evaluator Evaluator
	onResult  func(ScoreJob, scoring.Evaluation)
	log       *zap.Logger
}

func NewIdleRunner(jobs *Mailbox[ScoreJob], evaluator Evaluator, onResult func(ScoreJob, scoring.Evaluation)) *IdleRunner {
	return &IdleRunner{
		jobs:      jobs,
		evaluator: evaluator,
		onResult:  onResult,
		log:       logger.Named("idle-runner"),
	}
}

func (r *IdleRunner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-r.jobs.Notify():
			if job, has := r.jobs.Take(); has {
				r.run(job)
			}
			if !ok {
				return ErrMailboxClosed
			}
		}
	}
}

func (r *IdleRunner) run(job ScoreJob) {
	ev, err := r.evaluate(job)
	if err != nil {
		r.log.Error("scoring job failed", zap.Uint64("seq", job.Seq), zap.Error(err))
		return
	}
	if ev.Err != nil {
		r.log.Debug("neutral evaluation", zap.String("movementType", job.MovementType), zap.Error(ev.Err))
	}
	if r.onResult != nil {
		r.onResult(job, ev)
	}
}

func (r *IdleRunner) evaluate(job ScoreJob) (ev scoring.Evaluation, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("evaluator panic: %v", rec)
		}
	}()
	return r.evaluator.Evaluate(job.Keypoints, job.MovementType), nil
}
