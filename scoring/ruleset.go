package scoring

import (
	"PoseAssessServer/geometry"
	iface "PoseAssessServer/interface"
	"PoseAssessServer/keypoint"
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed rules/default.yaml
var defaultRules []byte

// AngleSpec 三点角，Points 依次为 A、顶点、C
type AngleSpec struct {
	Name   string    `yaml:"name"`
	Points [3]string `yaml:"points"`
}

// DistanceSpec 两点间的归一化距离
type DistanceSpec struct {
	Name   string    `yaml:"name"`
	Points [2]string `yaml:"points"`
}

type MovementRules struct {
	Name      string         `yaml:"name"`
	Angles    []AngleSpec    `yaml:"angles"`
	Distances []DistanceSpec `yaml:"distances"`
	Criteria  []Criterion    `yaml:"criteria"`
}

type RuleSet struct {
	Movements map[string]MovementRules `yaml:"movements"`
}

func LoadRuleSet(r io.Reader) (*RuleSet, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	rs := &RuleSet{}
	if err := dec.Decode(rs); err != nil {
		return nil, fmt.Errorf("decode rule set: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

func LoadRuleFile(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadRuleSet(f)
}

// DefaultRuleSet 内置的其余 FMS 动作规则
func DefaultRuleSet() *RuleSet {
	rs, err := LoadRuleSet(bytes.NewReader(defaultRules))
	if err != nil {
		panic(fmt.Sprintf("embedded rule set is invalid: %v", err))
	}
	return rs
}

func (rs *RuleSet) Validate() error {
	if len(rs.Movements) == 0 {
		return errors.New("rule set has no movements")
	}
	for id, m := range rs.Movements {
		if len(m.Criteria) == 0 {
			return fmt.Errorf("movement %s: no criteria", id)
		}
		known := map[string]bool{}
		for _, a := range m.Angles {
			known[a.Name] = true
		}
		for _, d := range m.Distances {
			known[d.Name] = true
		}
		for _, c := range m.Criteria {
			if !known[c.Name] {
				return fmt.Errorf("movement %s: criterion %q has no measurement", id, c.Name)
			}
			if c.Weight <= 0 {
				return fmt.Errorf("movement %s: criterion %q needs a positive weight", id, c.Name)
			}
		}
	}
	return nil
}

// Register 将规则集中的每个动作注册为 CriteriaScorer
func (rs *RuleSet) Register(reg *Registry) error {
	ids := make([]string, 0, len(rs.Movements))
	for id := range rs.Movements {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := reg.Register(id, CriteriaScorer{Rules: rs.Movements[id]}); err != nil {
			return err
		}
	}
	return nil
}

// CriteriaScorer 根据 YAML 描述的测量项和评分标准打分
type CriteriaScorer struct {
	Rules MovementRules
}

func (s CriteriaScorer) Score(set keypoint.Set, _ []iface.Keypoint) Evaluation {
	ev := Neutral()
	measurements := make([]Measurement, 0, len(s.Rules.Angles)+len(s.Rules.Distances))
	for _, m := range s.Rules.Angles {
		a := geometry.Measure(set, m.Name, geometry.Joint{A: m.Points[0], Vertex: m.Points[1], C: m.Points[2]})
		if !a.Valid {
			continue
		}
		ev.Angles[m.Name] = a.Degrees
		measurements = append(measurements, Measurement{Name: m.Name, Type: MeasurementAngle, Value: a.Degrees})
	}
	for _, m := range s.Rules.Distances {
		p, pok := set.Lookup(m.Points[0])
		q, qok := set.Lookup(m.Points[1])
		if !pok || !qok {
			continue
		}
		measurements = append(measurements, Measurement{
			Name:  m.Name,
			Type:  MeasurementDistance,
			Value: math.Hypot(p.X-q.X, p.Y-q.Y),
		})
	}

	res := CalculateScore(measurements, s.Rules.Criteria)
	if res.MaxScore == 0 {
		return ev
	}
	ev.Score = res.Score / res.MaxScore
	ev.Feedback = res.Feedback
	ev.Details["criteria"] = res.Details
	ev.Details["overall"] = res.OverallFeedback
	return ev
}
