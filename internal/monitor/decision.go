package monitor

import (
	"fmt"
	"strconv"
	"strings"

	"stock-count-alerts/internal/storage"
)

// CategoryResult pairs a category target with its freshly scraped count.
type CategoryResult struct {
	Target storage.Target
	Count  int
}

// CategoryAlert is one category whose count reached its threshold.
type CategoryAlert struct {
	Name      string `json:"name"`
	Count     int    `json:"count"`
	Threshold int    `json:"threshold"`
}

// DecisionInput collects everything the alert decision needs. Previous is
// the adjusted count from the most recent history record, nil on the
// first-ever cycle.
type DecisionInput struct {
	RawCount      int
	Previous      *int
	Threshold     int
	JumpThreshold int
	Categories    []CategoryResult
	LinkURL       string
}

// Decision is the structured alert outcome plus the composed message.
type Decision struct {
	RawCount         int             `json:"rawCount"`
	AdjustedCount    int             `json:"adjustedCount"`
	TotalSubtracted  int             `json:"totalSubtracted"`
	Previous         *int            `json:"previous,omitempty"`
	Threshold        int             `json:"threshold"`
	ExceedsThreshold bool            `json:"exceedsThreshold"`
	JumpDetected     bool            `json:"jumpDetected"`
	CategoryAlerts   []CategoryAlert `json:"categoryAlerts"`
	ShouldNotify     bool            `json:"shouldNotify"`
	Message          string          `json:"-"`
}

// Decide computes the alert outcome. The main threshold is a strict
// greater-than; category thresholds are inclusive. That asymmetry is
// intentional. Jump detection compares adjusted counts between consecutive
// cycles and is skipped entirely on the first cycle.
func Decide(in DecisionInput) Decision {
	subtracted := 0
	alerts := make([]CategoryAlert, 0)
	for _, cat := range in.Categories {
		if cat.Target.SubtractFromTotal {
			subtracted += cat.Count
			continue
		}
		if cat.Count >= cat.Target.Threshold {
			alerts = append(alerts, CategoryAlert{
				Name:      cat.Target.Name,
				Count:     cat.Count,
				Threshold: cat.Target.Threshold,
			})
		}
	}

	adjusted := in.RawCount - subtracted
	if adjusted < 0 {
		adjusted = 0
	}

	exceeds := adjusted > in.Threshold
	jump := in.Previous != nil && adjusted-*in.Previous >= in.JumpThreshold

	decision := Decision{
		RawCount:         in.RawCount,
		AdjustedCount:    adjusted,
		TotalSubtracted:  subtracted,
		Previous:         in.Previous,
		Threshold:        in.Threshold,
		ExceedsThreshold: exceeds,
		JumpDetected:     jump,
		CategoryAlerts:   alerts,
		ShouldNotify:     exceeds || jump || len(alerts) > 0,
	}
	decision.Message = composeMessage(decision, in.LinkURL)
	return decision
}

// composeMessage renders the alert text: header, main-stock block (only when
// the threshold or jump fired), category block (only when non-empty), footer
// link. Display values use thousands separators; comparisons never do.
func composeMessage(d Decision, linkURL string) string {
	builder := strings.Builder{}
	builder.WriteString("🚨 Stock Monitor Alert!\n")

	if d.ExceedsThreshold || d.JumpDetected {
		builder.WriteString("\n")
		builder.WriteString(fmt.Sprintf("Adjusted Stock: %s\n", groupDigits(d.AdjustedCount)))
		if d.TotalSubtracted > 0 {
			builder.WriteString(fmt.Sprintf("Raw: %s - %s excluded\n", groupDigits(d.RawCount), groupDigits(d.TotalSubtracted)))
		}
		builder.WriteString(fmt.Sprintf("Threshold: %s\n", groupDigits(d.Threshold)))
		if d.JumpDetected && d.Previous != nil {
			builder.WriteString(fmt.Sprintf("Jump: +%s since last check (was %s)\n", groupDigits(d.AdjustedCount-*d.Previous), groupDigits(*d.Previous)))
		}
	}

	if len(d.CategoryAlerts) > 0 {
		builder.WriteString("\n⚠️ Category Alerts:\n")
		for _, alert := range d.CategoryAlerts {
			builder.WriteString(fmt.Sprintf("• %s: %s (threshold %s)\n", alert.Name, groupDigits(alert.Count), groupDigits(alert.Threshold)))
		}
	}

	if linkURL != "" {
		builder.WriteString(fmt.Sprintf("\n🔗 %s", linkURL))
	}
	return builder.String()
}

// groupDigits formats n with comma thousands separators for display.
func groupDigits(n int) string {
	s := strconv.Itoa(n)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)

	out := strings.Join(parts, ",")
	if neg {
		return "-" + out
	}
	return out
}
