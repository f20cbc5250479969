package facts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slyngg/adpilot/internal/llm"
)

const (
	// defaultEvery fires extraction on every Nth observed message.
	defaultEvery = 5
	// defaultWindow is how many trailing messages go into the prompt.
	defaultWindow = 10
	// maxFactsPerRun caps how many statements one extraction may add.
	maxFactsPerRun = 3
)

const extractorPrompt = `You distill durable facts about an advertising operator and their account from conversation excerpts. A durable fact is something worth remembering across conversations: preferences, recurring constraints, account structure, standing instructions. Day-to-day actions and one-off numbers are not durable facts.

Respond with only a JSON object of the form {"facts": ["...", "..."]} containing zero to three short factual statements. Return {"facts": []} when nothing is worth remembering.`

// Extractor runs periodic, best-effort fact extraction. It keeps its
// own per-conversation message counter rather than deriving cadence
// from stored message counts, so behavior is stable even if history is
// ever compacted or pruned. Failures are logged and discarded — they
// never affect the main turn.
type Extractor struct {
	store  *Store
	oracle llm.Client
	model  string
	logger *slog.Logger

	every   int
	window  int
	timeout time.Duration

	mu     sync.Mutex
	counts map[string]int
}

// NewExtractor creates a fact extractor using a lightweight oracle model.
func NewExtractor(store *Store, oracle llm.Client, model string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		store:   store,
		oracle:  oracle,
		model:   model,
		logger:  logger,
		every:   defaultEvery,
		window:  defaultWindow,
		timeout: 20 * time.Second,
		counts:  make(map[string]int),
	}
}

// SetCadence overrides how often extraction fires (every nth message).
func (e *Extractor) SetCadence(every int) {
	if every > 0 {
		e.every = every
	}
}

// Observe counts one completed message in a conversation and reports
// whether this message should trigger an extraction run.
func (e *Extractor) Observe(conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counts[conversationID]++
	return e.counts[conversationID]%e.every == 0
}

// ExtractAsync runs extraction in the background, detached from the
// caller's context so a finished turn doesn't cancel it. Panics and
// errors are swallowed after logging.
func (e *Extractor) ExtractAsync(user string, history []llm.Message) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Warn("fact extraction panicked", "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		if err := e.extract(ctx, user, history); err != nil {
			e.logger.Warn("fact extraction failed", "user", user, "error", err)
		}
	}()
}

func (e *Extractor) extract(ctx context.Context, user string, history []llm.Message) error {
	excerpt := e.buildExcerpt(history)
	if excerpt == "" {
		return nil
	}

	messages := []llm.Message{
		{Role: "system", Content: extractorPrompt},
		{Role: "user", Content: "Conversation excerpt:\n\n" + excerpt},
	}

	resp, err := e.oracle.Chat(ctx, e.model, messages, nil)
	if err != nil {
		return fmt.Errorf("oracle call: %w", err)
	}

	extracted, err := parseFacts(resp.Message.Content)
	if err != nil {
		return fmt.Errorf("parse facts: %w", err)
	}

	stored := 0
	for _, fact := range extracted {
		if _, err := e.store.Append(user, fact); err != nil {
			e.logger.Warn("failed to store fact", "user", user, "error", err)
			continue
		}
		stored++
	}

	if stored > 0 {
		e.logger.Info("facts extracted", "user", user, "count", stored)
	} else {
		e.logger.Debug("extraction found nothing worth remembering", "user", user)
	}
	return nil
}

// buildExcerpt renders the last few user/assistant messages as a
// transcript. Tool plumbing is skipped; it carries no durable facts.
func (e *Extractor) buildExcerpt(history []llm.Message) string {
	var turns []string
	for _, m := range history {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		if m.Content == "" {
			continue
		}
		turns = append(turns, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	if len(turns) > e.window {
		turns = turns[len(turns)-e.window:]
	}
	return strings.Join(turns, "\n")
}

// parseFacts decodes the oracle's {"facts": [...]} reply, tolerating
// surrounding prose or code fences.
func parseFacts(content string) ([]string, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var parsed struct {
		Facts []string `json:"facts"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil {
		return nil, err
	}

	var out []string
	for _, f := range parsed.Facts {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		out = append(out, f)
		if len(out) == maxFactsPerRun {
			break
		}
	}
	return out, nil
}
