package scoring

import (
	iface "PoseAssessServer/interface"
	"PoseAssessServer/keypoint"
	"PoseAssessServer/logger"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

const DefaultMinKeypoints = 10

// Scorer 单个动作的评分策略，调用前已经检查过关键点数量
type Scorer interface {
	Score(set keypoint.Set, kps []iface.Keypoint) Evaluation
}

type ScorerFunc func(set keypoint.Set, kps []iface.Keypoint) Evaluation

func (f ScorerFunc) Score(set keypoint.Set, kps []iface.Keypoint) Evaluation {
	return f(set, kps)
}

// Registry 以动作 id 为键的评分策略表。已注册的条目不可覆盖，
// 新动作只需要 Register。
type Registry struct {
	mu           sync.RWMutex
	scorers      map[string]Scorer
	fallback     Scorer
	minKeypoints int
}

func NewRegistry(minKeypoints int) *Registry {
	if minKeypoints <= 0 {
		minKeypoints = DefaultMinKeypoints
	}
	return &Registry{
		scorers:      map[string]Scorer{},
		fallback:     Generic{},
		minKeypoints: minKeypoints,
	}
}

func (r *Registry) Register(movementType string, s Scorer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.scorers[movementType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMovement, movementType)
	}
	r.scorers[movementType] = s
	return nil
}

func (r *Registry) Lookup(movementType string) (Scorer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scorers[movementType]
	return s, ok
}

func (r *Registry) Movements() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.scorers))
	for id := range r.scorers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Evaluate 对一组已校验的关键点打分。不会 panic，也不会返回错误：
// 关键点不足时返回默认中性结果，未知动作使用平均置信度评分。
func (r *Registry) Evaluate(kps []iface.Keypoint, movementType string) Evaluation {
	if len(kps) < r.minKeypoints {
		ev := Neutral()
		ev.Err = ErrInsufficientKeypoints
		ev.addCommonDetails(kps)
		return ev
	}
	s, ok := r.Lookup(movementType)
	var unknown bool
	if !ok {
		s = r.fallback
		unknown = true
	}
	ev := r.safeScore(s, keypoint.NewSet(kps), kps, movementType)
	if unknown && ev.Err == nil {
		ev.Err = ErrUnknownMovementType
	}
	ev.addCommonDetails(kps)
	return ev
}

func (r *Registry) safeScore(s Scorer, set keypoint.Set, kps []iface.Keypoint, movementType string) (ev Evaluation) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Log().Error("scorer panic recovered", zap.String("movementType", movementType), zap.Any("panic", rec))
			ev = Neutral()
			ev.Feedback = "Movement evaluation failed"
		}
	}()
	return s.Score(set, kps)
}
