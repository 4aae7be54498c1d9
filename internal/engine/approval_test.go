package engine

import "testing"

func TestApproved(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   bool
	}{
		{"bare approved", "APPROVED", true},
		{"lowercase", "approved", true},
		{"lgtm with punctuation", "lgtm!", true},
		{"looks good mixed case", "Looks Good to me, ship it.", true},
		{"embedded in sentence", "The work is APPROVED after review.", true},
		{"rejection", "Needs better error handling.", false},
		{"empty", "", false},
		// Substring matching means a negated phrase still counts as
		// approval. The reviewer prompt forbids these words in rejections.
		{"negated phrase still matches", "This is not approved yet.", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Approved(tt.output); got != tt.want {
				t.Errorf("Approved(%q) = %v, want %v", tt.output, got, tt.want)
			}
		})
	}
}

func TestExtractFeedback(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{
			name:   "strips approval line",
			output: "APPROVED\nNice use of the builder pattern.",
			want:   "Nice use of the builder pattern.",
		},
		{
			name:   "keeps plain feedback",
			output: "Fix the nil check in Load.\nAdd a test for empty input.",
			want:   "Fix the nil check in Load.\nAdd a test for empty input.",
		},
		{
			name:   "falls back to raw output when everything is stripped",
			output: "LGTM",
			want:   "LGTM",
		},
		{
			name:   "trims surrounding whitespace",
			output: "\n  Tighten the validation.  \n",
			want:   "Tighten the validation.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractFeedback(tt.output); got != tt.want {
				t.Errorf("ExtractFeedback(%q) = %q, want %q", tt.output, got, tt.want)
			}
		})
	}
}
