package engine

import (
	"fmt"
	"strings"
)

// GeneratorPrompt asks the generator agent to turn a raw feature request
// into a detailed implementation prompt.
func GeneratorPrompt(feature string) string {
	var b strings.Builder
	b.WriteString("You are a technical planning assistant. Turn the feature request below into a detailed, self-contained implementation prompt for a coding agent.\n\n")
	b.WriteString("The prompt must describe:\n")
	b.WriteString("- What to build and the acceptance criteria\n")
	b.WriteString("- Relevant files or components to touch\n")
	b.WriteString("- Edge cases and error handling expectations\n")
	b.WriteString("- How to verify the change (tests to add or run)\n\n")
	b.WriteString("Respond with the implementation prompt only, no preamble.\n\n")
	fmt.Fprintf(&b, "Feature request:\n%s\n", feature)
	return b.String()
}

// FeedbackPrompt wraps the cached implementation prompt with the previous
// review's feedback for a retry iteration.
func FeedbackPrompt(generated, feedback string, iteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This is iteration %d of an implementation task. A previous attempt was reviewed and changes were requested.\n\n", iteration)
	b.WriteString("Original task:\n")
	b.WriteString(generated)
	b.WriteString("\n\nReviewer feedback to address:\n")
	b.WriteString(feedback)
	b.WriteString("\n\nApply the feedback to the existing work. Do not start over unless the feedback requires it.\n")
	return b.String()
}

// ReviewPrompt asks the reviewer agent to assess the current working tree
// against the original feature request.
func ReviewPrompt(feature string) string {
	var b strings.Builder
	b.WriteString("You are a code reviewer. Review the changes in the current working directory against the feature request below.\n\n")
	fmt.Fprintf(&b, "Feature request:\n%s\n\n", feature)
	b.WriteString("If the implementation is complete and correct, respond with the single word APPROVED.\n")
	b.WriteString("Otherwise list the specific changes required. Do not use the words APPROVED, LGTM, or LOOKS GOOD anywhere in a rejection.\n")
	return b.String()
}
