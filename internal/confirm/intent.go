package confirm

import "strings"

// Intent classifies a user reply with respect to outstanding pending
// actions.
type Intent int

const (
	IntentNone Intent = iota
	IntentConfirm
	IntentCancel
)

// IntentClassifier decides whether a message is a bare affirmation or
// negation. It sits behind an interface so the heuristic can be swapped
// (or replaced with a model call) without touching the state machine.
type IntentClassifier interface {
	Classify(text string) Intent
}

// KeywordClassifier is the default pattern-matching classifier. It only
// fires on short, unqualified replies — "yes please" confirms, but
// "yes, and also pause the other one" carries new instructions and must
// go through the reasoning loop.
type KeywordClassifier struct{}

var confirmPhrases = map[string]bool{
	"yes": true, "y": true, "yep": true, "yeah": true, "yes please": true,
	"confirm": true, "confirmed": true, "do it": true, "go ahead": true,
	"sure": true, "ok": true, "okay": true, "proceed": true, "approve": true,
	"sounds good": true, "ship it": true,
}

var cancelPhrases = map[string]bool{
	"no": true, "n": true, "nope": true, "cancel": true, "abort": true,
	"stop": true, "don't": true, "dont": true, "nevermind": true,
	"never mind": true, "no thanks": true, "reject": true, "deny": true,
}

// Classify returns the intent of a reply. Messages longer than a few
// words never classify — length is the cheapest signal that the user
// said more than yes or no.
func (KeywordClassifier) Classify(text string) Intent {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.TrimRight(normalized, ".!?")

	if len(strings.Fields(normalized)) > 3 {
		return IntentNone
	}
	if confirmPhrases[normalized] {
		return IntentConfirm
	}
	if cancelPhrases[normalized] {
		return IntentCancel
	}
	return IntentNone
}
