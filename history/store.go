package history

import (
	"PoseAssessServer/analysis"
	"PoseAssessServer/assessment"
	"sync"
)

const (
	DefaultAssessments = 100
	DefaultAnalyses    = 10
)

// AssessmentStore 最近优先的评估记录，超过容量时丢弃最旧的
type AssessmentStore struct {
	mu    sync.RWMutex
	cap   int
	items []assessment.Assessment
}

func NewAssessmentStore(capacity int) *AssessmentStore {
	if capacity <= 0 {
		capacity = DefaultAssessments
	}
	return &AssessmentStore{cap: capacity}
}

// Save 同 id 的记录原位替换，否则插到最前
func (s *AssessmentStore) Save(a assessment.Assessment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == a.ID {
			s.items[i] = a
			return
		}
	}
	s.items = append([]assessment.Assessment{a}, s.items...)
	if len(s.items) > s.cap {
		s.items = s.items[:s.cap]
	}
}

func (s *AssessmentStore) GetByID(id string) (assessment.Assessment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.items {
		if a.ID == id {
			return a, true
		}
	}
	return assessment.Assessment{}, false
}

func (s *AssessmentStore) GetByMovementType(movementType string) []assessment.Assessment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []assessment.Assessment{}
	for _, a := range s.items {
		if a.MovementType == movementType {
			out = append(out, a)
		}
	}
	return out
}

func (s *AssessmentStore) All() []assessment.Assessment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]assessment.Assessment{}, s.items...)
}

func (s *AssessmentStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

func (s *AssessmentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// AnalysisLog 最近几次视频分析的原始结果
type AnalysisLog struct {
	mu    sync.RWMutex
	cap   int
	items []analysis.Response
}

func NewAnalysisLog(capacity int) *AnalysisLog {
	if capacity <= 0 {
		capacity = DefaultAnalyses
	}
	return &AnalysisLog{cap: capacity}
}

func (l *AnalysisLog) Add(r analysis.Response) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append([]analysis.Response{r}, l.items...)
	if len(l.items) > l.cap {
		l.items = l.items[:l.cap]
	}
}

func (l *AnalysisLog) All() []analysis.Response {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]analysis.Response{}, l.items...)
}
