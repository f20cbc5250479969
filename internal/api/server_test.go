package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/slyngg/adpilot/internal/agent"
	"github.com/slyngg/adpilot/internal/confirm"
	"github.com/slyngg/adpilot/internal/llm"
	"github.com/slyngg/adpilot/internal/memory"
	"github.com/slyngg/adpilot/internal/platform"
	"github.com/slyngg/adpilot/internal/resolve"
	"github.com/slyngg/adpilot/internal/tools"
)

type scriptedOracle struct {
	script []llm.Message
	calls  int
}

func (o *scriptedOracle) Chat(ctx context.Context, model string, messages []llm.Message, defs []llm.ToolDef) (*llm.ChatResponse, error) {
	return o.ChatStream(ctx, model, messages, defs, nil)
}

func (o *scriptedOracle) ChatStream(ctx context.Context, model string, messages []llm.Message, defs []llm.ToolDef, onToken llm.TokenCallback) (*llm.ChatResponse, error) {
	o.calls++
	if len(o.script) == 0 {
		return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "nothing scripted"}}, nil
	}
	msg := o.script[0]
	o.script = o.script[1:]
	if onToken != nil && msg.Content != "" {
		onToken(msg.Content)
	}
	return &llm.ChatResponse{Message: msg, Done: true}, nil
}

func (o *scriptedOracle) Ping(ctx context.Context) error { return nil }

type fakePlatform struct{}

func (fakePlatform) Name() string      { return "ads" }
func (fakePlatform) Domains() []string { return []string{"campaign"} }

func (fakePlatform) ListEntities(ctx context.Context, domain string) ([]platform.Entity, error) {
	return []platform.Entity{{ID: "44", Name: "Holiday Teaser", Spend: 55}}, nil
}

func (fakePlatform) Pause(ctx context.Context, id string) error  { return nil }
func (fakePlatform) Enable(ctx context.Context, id string) error { return nil }
func (fakePlatform) AdjustBudget(ctx context.Context, id string, change platform.BudgetChange) error {
	return nil
}
func (fakePlatform) CancelSubscription(ctx context.Context, id string) error { return nil }

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testServer(t *testing.T, script ...llm.Message) (*Server, *memory.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(discard{}, nil))
	store, err := memory.NewStore(filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("memory.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gate := confirm.NewStore(logger, 5*time.Minute)
	registry, err := tools.DefaultRegistry(tools.Deps{
		Resolver:  resolve.New(logger, fakePlatform{}),
		Gate:      gate,
		Platforms: []platform.Client{fakePlatform{}},
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}

	driver := agent.NewDriver(agent.Options{
		Oracle:   &scriptedOracle{script: script},
		Model:    "test-model",
		Registry: registry,
		Gate:     gate,
		Store:    store,
		Logger:   logger,
	})
	return NewServer("127.0.0.1", 0, driver, store, gate, "operator", logger), store
}

// sseEvents parses a text/event-stream body into decoded events.
func sseEvents(t *testing.T, body string) []agent.Event {
	t.Helper()
	var out []agent.Event
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e agent.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		out = append(out, e)
	}
	return out
}

func TestChatStreamsEvents(t *testing.T) {
	s, store := testServer(t, llm.Message{Role: "assistant", Content: "You have one campaign."})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat",
		strings.NewReader(`{"message": "what campaigns do I have?"}`))
	req.Header.Set(userHeader, "alice")
	w := httptest.NewRecorder()

	s.handleChat(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	events := sseEvents(t, w.Body.String())
	if len(events) < 2 {
		t.Fatalf("got %d events: %s", len(events), w.Body.String())
	}
	if events[0].Type != agent.EventText || events[0].Text != "You have one campaign." {
		t.Errorf("first event = %+v", events[0])
	}
	last := events[len(events)-1]
	if last.Type != agent.EventDone || last.ConversationID == "" {
		t.Fatalf("last event = %+v, want done with conversation id", last)
	}

	// The turn was attributed to the header identity.
	convs, _ := store.ListConversations("alice")
	if len(convs) != 1 {
		t.Errorf("alice has %d conversations, want 1", len(convs))
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	s, _ := testServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"message":`},
		{"empty message", `{"message": "   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.handleChat(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestChatUnknownConversation(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat",
		strings.NewReader(`{"message": "hi", "conversation_id": "no-such-id"}`))
	w := httptest.NewRecorder()
	s.handleChat(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestConversationEndpoints(t *testing.T) {
	s, store := testServer(t)

	conv, err := store.CreateConversation("alice", "Budget review")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := store.AppendMessage(conv.ID, memory.Message{Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	req.Header.Set(userHeader, "alice")
	w := httptest.NewRecorder()
	s.handleConversationList(w, req)

	var list struct {
		Conversations []memory.Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Conversations) != 1 || list.Conversations[0].Title != "Budget review" {
		t.Errorf("list = %+v", list.Conversations)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/conversations/"+conv.ID, nil)
	req.Header.Set(userHeader, "alice")
	req.SetPathValue("id", conv.ID)
	w = httptest.NewRecorder()
	s.handleConversationGet(w, req)

	var detail struct {
		Conversation memory.Conversation `json:"conversation"`
		Messages     []memory.Message    `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(detail.Messages) != 1 || detail.Messages[0].Content != "hi" {
		t.Errorf("messages = %+v", detail.Messages)
	}
}

func TestConversationGetHidesOtherOwners(t *testing.T) {
	s, store := testServer(t)

	conv, _ := store.CreateConversation("alice", "private")

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/"+conv.ID, nil)
	req.Header.Set(userHeader, "bob")
	req.SetPathValue("id", conv.ID)
	w := httptest.NewRecorder()
	s.handleConversationGet(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 (not 403: ids are not probeable)", w.Code)
	}
}

func TestActionsEndpoint(t *testing.T) {
	s, _ := testServer(t)

	s.gate.Stage("alice", "pause_entity", nil, "Pause campaign", nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/actions", nil)
	req.Header.Set(userHeader, "alice")
	w := httptest.NewRecorder()
	s.handleActions(w, req)

	var payload struct {
		PendingActions []confirm.Action `json:"pending_actions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.PendingActions) != 1 || payload.PendingActions[0].Description != "Pause campaign" {
		t.Errorf("pending = %+v", payload.PendingActions)
	}

	// Default identity sees nothing of alice's.
	w = httptest.NewRecorder()
	s.handleActions(w, httptest.NewRequest(http.MethodGet, "/v1/actions", nil))
	payload.PendingActions = nil
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.PendingActions) != 0 {
		t.Errorf("default user sees %+v", payload.PendingActions)
	}
}

func TestHealthAndVersion(t *testing.T) {
	s, _ := testServer(t)

	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	s.handleVersion(w, httptest.NewRequest(http.MethodGet, "/v1/version", nil))
	var info map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	for _, key := range []string{"version", "git_commit", "go_version"} {
		if info[key] == "" {
			t.Errorf("version payload missing %s: %v", key, info)
		}
	}
}

func TestUserHeaderFallsBackToDefault(t *testing.T) {
	s, _ := testServer(t)

	if got := s.user(httptest.NewRequest(http.MethodGet, "/", nil)); got != "operator" {
		t.Errorf("user = %q, want operator", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(userHeader, "  alice  ")
	if got := s.user(req); got != "alice" {
		t.Errorf("user = %q, want alice", got)
	}
}
