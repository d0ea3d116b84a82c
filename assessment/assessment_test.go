package assessment

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedAggregator() *Aggregator {
	return &Aggregator{
		now:   func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) },
		newID: func() string { return "test" },
	}
}

func sample() PrimaryData {
	return PrimaryData{
		MovementType:           "deep-squat",
		MovementName:           "Deep Squat",
		HipMobilityScore:       1,
		KneeStabilityScore:     3,
		ShoulderMobilityScore:  2,
		CoreActivationScore:    2,
		PosturalAlignmentScore: 3,
		AdditionalMetrics: map[string]AdditionalMetric{
			"ankle_mobility": {Name: "Ankle mobility", Score: 2, MaxScore: 3, Category: Mobility},
			"hip_mobility":   {Name: "shadow", Score: 0, MaxScore: 3},
		},
	}
}

func TestNewScore(t *testing.T) {
	cases := []struct {
		value, max float64
		want       string
	}{
		{3, 3, "excellent"},
		{2, 3, "good"},
		{1.5, 3, "fair"},
		{0.5, 3, "needs improvement"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NewScore(c.value, c.max).Description)
	}

	t.Run("clamped", func(t *testing.T) {
		assert.Equal(t, 3.0, NewScore(7, 3).Value)
		assert.Equal(t, 0.0, NewScore(-1, 3).Value)
		assert.Equal(t, 0.0, NewScore(1, 0).Ratio())
	})
}

func TestProcess(t *testing.T) {
	a := fixedAggregator().Process(sample())

	assert.Equal(t, "fms_test", a.ID)
	assert.Equal(t, "deep-squat", a.MovementType)
	require.Len(t, a.Metrics, 6)
	assert.Equal(t, HipMobility, a.Metrics[0].ID)
	assert.Equal(t, 1.0, a.Metrics[0].Score.Value)
	assert.Equal(t, "ankle_mobility", a.Metrics[5].ID)

	assert.InDelta(t, 13.0, a.OverallScore.Value, 1e-9)
	assert.InDelta(t, 18.0, a.OverallScore.MaxValue, 1e-9)
	assert.InDelta(t, 5.0, a.MobilityScore.Value, 1e-9)
	assert.InDelta(t, 9.0, a.MobilityScore.MaxValue, 1e-9)
	assert.InDelta(t, 8.0, a.StabilityScore.Value, 1e-9)
	assert.InDelta(t, 9.0, a.StabilityScore.MaxValue, 1e-9)
	assert.NotNil(t, a.CompensationPatterns)

	t.Run("defaults for missing names", func(t *testing.T) {
		a := fixedAggregator().Process(PrimaryData{})
		assert.Equal(t, "unknown", a.MovementType)
		assert.Equal(t, "Unknown Movement", a.MovementName)
	})
}

func TestCompositeOrderInvariant(t *testing.T) {
	metrics := ExtractMetrics(sample())
	want := Composite(metrics, nil)
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]Metric(nil), metrics...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := Composite(shuffled, nil)
		assert.InDelta(t, want.Value, got.Value, 1e-9)
		assert.InDelta(t, want.MaxValue, got.MaxValue, 1e-9)
	}
}

func TestCheckAsymmetry(t *testing.T) {
	assert.True(t, CheckAsymmetry(map[string]float64{"a": 2}, map[string]float64{"a": 0}))
	assert.False(t, CheckAsymmetry(map[string]float64{"a": 2}, map[string]float64{"a": 1.5}))
	assert.True(t, CheckAsymmetry(map[string]float64{"a": 2}, map[string]float64{}))
	assert.False(t, CheckAsymmetry(nil, map[string]float64{"a": 0}))
}

func TestRecommendations(t *testing.T) {
	t.Run("capped and unique", func(t *testing.T) {
		data := PrimaryData{
			LeftSideScores:  map[string]float64{"hip": 3},
			RightSideScores: map[string]float64{"hip": 0},
		}
		a := fixedAggregator().Process(data)
		assert.LessOrEqual(t, len(a.Recommendations), 5)
		seen := map[string]bool{}
		for _, r := range a.Recommendations {
			assert.False(t, seen[r], r)
			seen[r] = true
		}
		assert.Equal(t, exerciseTable[HipMobility][0], a.Recommendations[0])
	})

	t.Run("generation order", func(t *testing.T) {
		data := PrimaryData{
			HipMobilityScore: 3, KneeStabilityScore: 3, ShoulderMobilityScore: 1,
			CoreActivationScore: 3, PosturalAlignmentScore: 2,
			LeftSideScores:  map[string]float64{"shoulder": 1},
			RightSideScores: map[string]float64{"shoulder": 3},
		}
		recs := fixedAggregator().Process(data).Recommendations
		assert.Equal(t, []string{"Shoulder mobility training", recAsymmetry, recMobility, recStability}, recs)
	})

	t.Run("maintenance when all good", func(t *testing.T) {
		data := PrimaryData{
			HipMobilityScore: 3, KneeStabilityScore: 3, ShoulderMobilityScore: 3,
			CoreActivationScore: 3, PosturalAlignmentScore: 3,
		}
		recs := fixedAggregator().Process(data).Recommendations
		assert.Equal(t, []string{recMaintain, recProgression}, recs)
	})
}

func TestRecommendedExercises(t *testing.T) {
	a := fixedAggregator().Process(sample())
	ex := RecommendedExercises(a)
	assert.Equal(t, exerciseTable[HipMobility], ex)
}

func TestReport(t *testing.T) {
	a := fixedAggregator().Process(sample())
	a.Notes = "left heel lifts"
	out := Report(a)
	assert.Contains(t, out, "Date: 2026-03-01 10:00:00")
	assert.Contains(t, out, "Deep Squat (deep-squat)")
	assert.Contains(t, out, "Overall: 13.0/18.0")
	assert.Contains(t, out, "1. "+a.Recommendations[0])
	assert.Contains(t, out, "Notes: left heel lifts")
	assert.True(t, strings.HasPrefix(out, "FMS Assessment Report"))
}
