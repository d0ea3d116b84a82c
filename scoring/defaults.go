package scoring

type Options struct {
	MinKeypoints    int
	ShoulderScale   float64
	ReferenceHeight float64
	// RulesFile 额外的 YAML 规则，只能新增动作
	RulesFile string
}

func DefaultOptions() Options {
	return Options{
		MinKeypoints:    DefaultMinKeypoints,
		ShoulderScale:   200,
		ReferenceHeight: 480,
	}
}

// NewDefaultRegistry 注册深蹲、肩部灵活性以及内置规则集中的动作
func NewDefaultRegistry(opts Options) (*Registry, error) {
	reg := NewRegistry(opts.MinKeypoints)
	shoulder := NewShoulderMobility()
	if opts.ShoulderScale > 0 {
		shoulder.Scale = opts.ShoulderScale
	}
	if opts.ReferenceHeight > 0 {
		shoulder.ReferenceHeight = opts.ReferenceHeight
	}
	if err := reg.Register(DeepSquatID, DeepSquat{}); err != nil {
		return nil, err
	}
	if err := reg.Register(ShoulderMobilityID, shoulder); err != nil {
		return nil, err
	}
	if err := DefaultRuleSet().Register(reg); err != nil {
		return nil, err
	}
	if opts.RulesFile != "" {
		rs, err := LoadRuleFile(opts.RulesFile)
		if err != nil {
			return nil, err
		}
		if err := rs.Register(reg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
