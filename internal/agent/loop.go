// Package agent implements the reasoning loop driver: it carries one
// conversational turn through oracle round-trips, tool dispatch, and
// streaming, under the confirmation gateway's rules.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slyngg/adpilot/internal/confirm"
	"github.com/slyngg/adpilot/internal/facts"
	"github.com/slyngg/adpilot/internal/llm"
	"github.com/slyngg/adpilot/internal/memory"
	"github.com/slyngg/adpilot/internal/tools"
)

// ErrEmptyMessage rejects a turn before any side effect.
var ErrEmptyMessage = errors.New("message text is required")

// errStreamClosed is the internal signal that the caller disconnected.
var errStreamClosed = errors.New("stream closed")

const defaultMaxRounds = 8

const systemPersona = `You are Adpilot, an operations copilot for advertising and checkout platforms. You help an operator inspect spend and manage campaigns, ad sets, ad groups, and subscriptions.

Rules you must follow:
- Never claim a change was made unless a tool reported it executed.
- Write operations are staged for confirmation. When a tool returns pending_confirmation, tell the user exactly what will happen and ask them to confirm or cancel.
- When a tool returns not_found with candidates, present the numbered options and ask the user to choose. Never pick one yourself.
- Be concise. Lead with the answer, not with what you did.`

// Request is one inbound "send message" operation.
type Request struct {
	ConversationID string // empty creates a new conversation
	Message        string
	User           string
}

// Driver runs conversational turns. One Driver serves all
// conversations; turns are independent and may run concurrently.
type Driver struct {
	oracle    llm.Client
	model     string
	registry  *tools.Registry
	gate      *confirm.Store
	intents   confirm.IntentClassifier
	store     *memory.Store
	facts     *facts.Store
	extractor *facts.Extractor
	logger    *slog.Logger
	maxRounds int
}

// Options configures a Driver.
type Options struct {
	Oracle    llm.Client
	Model     string
	Registry  *tools.Registry
	Gate      *confirm.Store
	Intents   confirm.IntentClassifier
	Store     *memory.Store
	Facts     *facts.Store
	Extractor *facts.Extractor
	Logger    *slog.Logger
	MaxRounds int
}

// NewDriver creates a reasoning loop driver.
func NewDriver(opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = defaultMaxRounds
	}
	if opts.Intents == nil {
		opts.Intents = confirm.KeywordClassifier{}
	}
	return &Driver{
		oracle:    opts.Oracle,
		model:     opts.Model,
		registry:  opts.Registry,
		gate:      opts.Gate,
		intents:   opts.Intents,
		store:     opts.Store,
		facts:     opts.Facts,
		extractor: opts.Extractor,
		logger:    opts.Logger,
		maxRounds: opts.MaxRounds,
	}
}

// turn is the per-turn state: the conversation, the working message
// history, and the stream back to the caller.
type turn struct {
	conv    *memory.Conversation
	user    string
	history []llm.Message
	emit    Emitter
	closed  bool
	ctx     context.Context
}

// send emits an event unless the caller is gone. The context and the
// emitter are both checkpoints: either failing marks the stream closed
// and all later sends become no-ops.
func (t *turn) send(e Event) error {
	if t.closed {
		return errStreamClosed
	}
	if t.ctx.Err() != nil {
		t.closed = true
		return errStreamClosed
	}
	if err := t.emit.Emit(e); err != nil {
		t.closed = true
		return errStreamClosed
	}
	return nil
}

// Run executes one turn. Validation errors surface before any event is
// emitted so the transport can still reject the request outright.
func (d *Driver) Run(ctx context.Context, req Request, emit Emitter) error {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return ErrEmptyMessage
	}

	conv, err := d.loadOrCreateConversation(req, text)
	if err != nil {
		return err
	}

	if _, err := d.store.AppendMessage(conv.ID, memory.Message{Role: "user", Content: text}); err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}

	t := &turn{conv: conv, user: req.User, emit: emit, ctx: ctx}

	d.logger.Info("turn started", "conversation", conv.ID, "user", req.User)

	// Shortcut path: a bare yes/no with actions outstanding resolves
	// them directly, skipping the oracle round-trip entirely.
	if intent := d.intents.Classify(text); intent != confirm.IntentNone {
		if pending := d.gate.Pending(req.User); len(pending) > 0 {
			return d.runShortcut(ctx, t, intent)
		}
	}

	history, err := d.buildHistory(conv)
	if err != nil {
		return err
	}
	t.history = history

	return d.runLoop(ctx, t)
}

func (d *Driver) loadOrCreateConversation(req Request, text string) (*memory.Conversation, error) {
	if req.ConversationID == "" {
		return d.store.CreateConversation(req.User, titleFrom(text))
	}

	conv, err := d.store.Conversation(req.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Owner != req.User {
		// Same surface as a missing conversation; ids are not probeable.
		return nil, memory.ErrConversationNotFound
	}
	return conv, nil
}

// buildHistory assembles the oracle input: system context (persona and
// remembered facts) followed by the full ordered conversation.
func (d *Driver) buildHistory(conv *memory.Conversation) ([]llm.Message, error) {
	stored, err := d.store.Messages(conv.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	history := []llm.Message{{Role: "system", Content: d.systemContext(conv.Owner)}}
	for _, m := range stored {
		history = append(history, llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	return history, nil
}

func (d *Driver) systemContext(user string) string {
	var b strings.Builder
	b.WriteString(systemPersona)

	if d.facts != nil {
		if known, err := d.facts.Recent(user, 10); err == nil && len(known) > 0 {
			b.WriteString("\n\nThings you know about this operator:\n")
			for _, f := range known {
				b.WriteString("- ")
				b.WriteString(f.Fact)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// runLoop drives oracle round-trips until the oracle returns final
// text, the round cap is reached, or the caller goes away.
func (d *Driver) runLoop(ctx context.Context, t *turn) error {
	for round := 0; ; round++ {
		if round >= d.maxRounds {
			notice := fmt.Sprintf(
				"I stopped before finishing: this request needed more than %d tool steps in one turn. What was done so far is reflected above; tell me how you'd like to continue.",
				d.maxRounds)
			_ = t.send(Event{Type: EventText, Text: notice})
			return d.finishTurn(t, notice)
		}

		// Checkpoint before every oracle invocation.
		if t.closed || ctx.Err() != nil {
			d.logger.Info("turn abandoned by caller", "conversation", t.conv.ID, "round", round)
			return nil
		}

		resp, err := d.oracle.ChatStream(ctx, d.model, t.history, d.registry.Defs(), func(token string) {
			_ = t.send(Event{Type: EventText, Text: token})
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil // caller gone, nothing to report
			}
			d.logger.Error("oracle call failed", "conversation", t.conv.ID, "error", err)
			_ = t.send(Event{Type: EventError, Message: "the reasoning service is unavailable; your conversation is intact, try again"})
			return fmt.Errorf("oracle: %w", err)
		}

		if len(resp.Message.ToolCalls) == 0 {
			return d.finishTurn(t, resp.Message.Content)
		}

		if err := d.runToolRound(ctx, t, resp.Message); err != nil {
			return err
		}
	}
}

// runToolRound dispatches every tool call from one oracle reply, in
// request order, and appends the assistant message and the result
// bundle to history and storage.
func (d *Driver) runToolRound(ctx context.Context, t *turn, assistant llm.Message) error {
	if _, err := d.store.AppendMessage(t.conv.ID, memory.Message{
		Role:      "assistant",
		Content:   assistant.Content,
		ToolCalls: assistant.ToolCalls,
	}); err != nil {
		return fmt.Errorf("persist assistant tool request: %w", err)
	}
	t.history = append(t.history, assistant)

	// Side effects already started are allowed to finish even if the
	// caller disconnects mid-call; only the checkpoints between steps
	// observe cancellation.
	execCtx := context.WithoutCancel(ctx)

	for _, call := range assistant.ToolCalls {
		_ = t.send(Event{Type: EventToolStatus, Tool: call.Name, Status: StatusRunning})

		res, dispatchErr := d.registry.Dispatch(execCtx, t.user, call)

		status := StatusDone
		if dispatchErr != nil {
			status = StatusError
		}
		_ = t.send(Event{Type: EventToolStatus, Tool: call.Name, Status: status, Summary: res.Summary})
		if res.Chart != nil {
			_ = t.send(Event{Type: EventChart, Chart: res.Chart})
		}

		toolMsg := memory.Message{
			Role:       "tool",
			Content:    res.ForModel,
			ToolCallID: call.ID,
			Chart:      res.Chart,
		}
		if _, err := d.store.AppendMessage(t.conv.ID, toolMsg); err != nil {
			return fmt.Errorf("persist tool result: %w", err)
		}
		t.history = append(t.history, llm.Message{
			Role:       "tool",
			Content:    res.ForModel,
			ToolCallID: call.ID,
		})
	}
	return nil
}

// finishTurn persists the final assistant text, fires the memory
// extractor when due, and terminates the stream. A closed stream means
// the turn is incomplete: the final message is not persisted.
func (d *Driver) finishTurn(t *turn, finalText string) error {
	if t.closed || t.ctx.Err() != nil {
		d.logger.Info("turn abandoned before completion", "conversation", t.conv.ID)
		return nil
	}

	if finalText == "" {
		// The oracle sometimes ends a tool round with no prose at all.
		finalText = "Done."
		_ = t.send(Event{Type: EventText, Text: finalText})
	}

	if _, err := d.store.AppendMessage(t.conv.ID, memory.Message{Role: "assistant", Content: finalText}); err != nil {
		return fmt.Errorf("persist assistant message: %w", err)
	}
	t.history = append(t.history, llm.Message{Role: "assistant", Content: finalText})

	if d.extractor != nil && d.extractor.Observe(t.conv.ID) {
		d.extractor.ExtractAsync(t.user, t.history)
	}

	if pending := d.gate.Pending(t.user); len(pending) > 0 {
		_ = t.send(Event{Type: EventSuggestions, Suggestions: []string{"Confirm", "Cancel"}})
	}

	_ = t.send(Event{Type: EventDone, ConversationID: t.conv.ID})
	d.logger.Info("turn complete", "conversation", t.conv.ID)
	return nil
}

// runShortcut resolves all outstanding pending actions on a bare
// yes/no, without consulting the oracle.
func (d *Driver) runShortcut(ctx context.Context, t *turn, intent confirm.Intent) error {
	approve := intent == confirm.IntentConfirm
	verb := "Cancelled"
	if approve {
		verb = "Confirmed"
	}

	execCtx := context.WithoutCancel(ctx)
	outcomes := d.gate.ResolveAll(execCtx, t.user, approve)

	var lines []string
	for _, o := range outcomes {
		tool := "cancel_action"
		status := StatusDone
		summary := verb + ": " + o.Action.Description
		if o.Confirmed {
			tool = "confirm_action"
			if o.Err != nil {
				status = StatusError
				summary = fmt.Sprintf("Failed: %s (%s)", o.Action.Description, o.Err)
			} else if o.Result != "" {
				summary = o.Result
			}
		}
		_ = t.send(Event{Type: EventToolStatus, Tool: tool, Status: status, Summary: summary})
		lines = append(lines, "- "+summary)
	}

	var finalText string
	switch {
	case len(outcomes) == 0:
		finalText = "Those actions are no longer pending — they may have expired. Nothing was changed."
	case approve:
		finalText = "Here's what happened:\n" + strings.Join(lines, "\n")
	default:
		finalText = "Cancelled without making changes:\n" + strings.Join(lines, "\n")
	}

	if err := t.send(Event{Type: EventText, Text: finalText}); err != nil {
		return nil // caller gone; turn stays incomplete
	}
	return d.finishTurn(t, finalText)
}

// titleFrom derives a conversation title from its opening message.
func titleFrom(text string) string {
	const maxTitle = 60
	title := strings.Join(strings.Fields(text), " ")
	if len(title) > maxTitle {
		title = title[:maxTitle-1] + "…"
	}
	return title
}
