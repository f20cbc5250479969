package confirm

import "testing"

func TestKeywordClassifier(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"yes", IntentConfirm},
		{"Yes", IntentConfirm},
		{"  YES!  ", IntentConfirm},
		{"yes please", IntentConfirm},
		{"go ahead", IntentConfirm},
		{"do it", IntentConfirm},
		{"ok", IntentConfirm},
		{"confirm", IntentConfirm},
		{"ship it", IntentConfirm},

		{"no", IntentCancel},
		{"No.", IntentCancel},
		{"nope", IntentCancel},
		{"cancel", IntentCancel},
		{"never mind", IntentCancel},
		{"no thanks", IntentCancel},

		// Anything carrying new instructions must reach the oracle.
		{"yes, and also pause the other one", IntentNone},
		{"no but raise the budget instead", IntentNone},
		{"pause the spring campaign", IntentNone},
		{"what does that do?", IntentNone},
		{"", IntentNone},
		{"maybe", IntentNone},
	}

	var c KeywordClassifier
	for _, tt := range tests {
		if got := c.Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
