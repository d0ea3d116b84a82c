package assessment

import (
	"fmt"
	"strings"
)

// Report 生成纯文本评估报告
func Report(a Assessment) string {
	var b strings.Builder
	b.WriteString("FMS Assessment Report\n")
	b.WriteString("=====================\n")
	fmt.Fprintf(&b, "Date: %s\n", a.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Movement: %s (%s)\n", a.MovementName, a.MovementType)
	fmt.Fprintf(&b, "Overall: %.1f/%.1f (%s)\n", a.OverallScore.Value, a.OverallScore.MaxValue, a.OverallScore.Description)
	fmt.Fprintf(&b, "Mobility: %.1f/%.1f  Stability: %.1f/%.1f\n",
		a.MobilityScore.Value, a.MobilityScore.MaxValue, a.StabilityScore.Value, a.StabilityScore.MaxValue)

	b.WriteString("\nMetrics:\n")
	for _, m := range a.Metrics {
		fmt.Fprintf(&b, "  - %s [%s]: %.1f/%.1f %s\n", m.Name, m.Category, m.Score.Value, m.Score.MaxValue, m.Score.Description)
	}

	b.WriteString("\nFindings:\n")
	if a.AsymmetryDetected {
		b.WriteString("  - Left/right asymmetry detected\n")
	}
	for _, p := range a.CompensationPatterns {
		fmt.Fprintf(&b, "  - Compensation: %s\n", p)
	}
	if !a.AsymmetryDetected && len(a.CompensationPatterns) == 0 {
		b.WriteString("  - None\n")
	}

	if len(a.Recommendations) > 0 {
		b.WriteString("\nRecommendations:\n")
		for i, r := range a.Recommendations {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, r)
		}
	}
	if a.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s\n", a.Notes)
	}
	return b.String()
}
