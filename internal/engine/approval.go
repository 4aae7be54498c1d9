package engine

import "strings"

// approvalMarkers are the phrases a reviewer uses to sign off. Matching is
// case-insensitive and substring-based over the whole output.
var approvalMarkers = []string{
	"APPROVED",
	"LGTM",
	"LOOKS GOOD",
}

// Approved reports whether review output signals sign-off. Any occurrence of
// a marker counts, even inside a longer sentence, so reviewer prompts must
// steer the agent away from phrases like "not approved" in rejections.
func Approved(output string) bool {
	upper := strings.ToUpper(output)
	for _, marker := range approvalMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// ExtractFeedback returns the actionable portion of review output: the lines
// that do not carry an approval marker. If stripping leaves nothing, the raw
// output is returned so the implementer always has something to act on.
func ExtractFeedback(output string) string {
	var kept []string
	for _, line := range strings.Split(output, "\n") {
		upper := strings.ToUpper(line)
		marked := false
		for _, marker := range approvalMarkers {
			if strings.Contains(upper, marker) {
				marked = true
				break
			}
		}
		if !marked {
			kept = append(kept, line)
		}
	}

	feedback := strings.TrimSpace(strings.Join(kept, "\n"))
	if feedback == "" {
		return strings.TrimSpace(output)
	}
	return feedback
}
