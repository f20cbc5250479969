package memory

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/slyngg/adpilot/internal/llm"
	"github.com/slyngg/adpilot/internal/tools"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendPreservesOrder(t *testing.T) {
	s := testStore(t)

	conv, err := s.CreateConversation("alice", "Pause spring launch")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	contents := []string{"pause Spring Launch", "Which one did you mean?", "the US one", "Staged. Confirm?"}
	roles := []string{"user", "assistant", "user", "assistant"}
	for i, c := range contents {
		if _, err := s.AppendMessage(conv.ID, Message{Role: roles[i], Content: c}); err != nil {
			t.Fatalf("AppendMessage(%d): %v", i, err)
		}
	}

	msgs, err := s.Messages(conv.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != len(contents) {
		t.Fatalf("message count = %d, want %d", len(msgs), len(contents))
	}
	for i, m := range msgs {
		if m.Content != contents[i] || m.Role != roles[i] {
			t.Errorf("msgs[%d] = %s %q, want %s %q", i, m.Role, m.Content, roles[i], contents[i])
		}
		if m.Seq != int64(i+1) {
			t.Errorf("msgs[%d].Seq = %d, want %d", i, m.Seq, i+1)
		}
	}

	n, err := s.MessageCount(conv.ID)
	if err != nil {
		t.Fatalf("MessageCount: %v", err)
	}
	if n != len(contents) {
		t.Errorf("MessageCount = %d, want %d", n, len(contents))
	}
}

func TestToolMessageRoundTrip(t *testing.T) {
	s := testStore(t)

	conv, err := s.CreateConversation("alice", "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	calls := []llm.ToolCall{{
		ID:        "toolu_abc",
		Name:      "pause_entity",
		Arguments: map[string]any{"domain": "campaign", "name": "Spring Launch"},
	}}
	if _, err := s.AppendMessage(conv.ID, Message{Role: "assistant", ToolCalls: calls}); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	chart := &tools.ChartSpec{
		Kind:   "bar",
		Title:  "7-day spend by campaign",
		Labels: []string{"Spring Launch"},
		Values: []float64{840},
		Unit:   "USD",
	}
	if _, err := s.AppendMessage(conv.ID, Message{
		Role:       "tool",
		Content:    `{"status":"pending_confirmation"}`,
		ToolCallID: "toolu_abc",
		Chart:      chart,
	}); err != nil {
		t.Fatalf("append tool: %v", err)
	}

	msgs, err := s.Messages(conv.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("message count = %d, want 2", len(msgs))
	}

	assistant := msgs[0]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "toolu_abc" {
		t.Fatalf("assistant tool calls = %v", assistant.ToolCalls)
	}
	if got := assistant.ToolCalls[0].Arguments["name"]; got != "Spring Launch" {
		t.Errorf("tool call argument name = %v", got)
	}

	tool := msgs[1]
	if tool.ToolCallID != "toolu_abc" {
		t.Errorf("tool call id = %q, want toolu_abc", tool.ToolCallID)
	}
	if tool.Chart == nil || tool.Chart.Title != chart.Title || tool.Chart.Values[0] != 840 {
		t.Errorf("chart did not round-trip: %+v", tool.Chart)
	}
}

func TestEmptyOptionalFieldsStayEmpty(t *testing.T) {
	s := testStore(t)

	conv, _ := s.CreateConversation("alice", "")
	if _, err := s.AppendMessage(conv.ID, Message{Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := s.Messages(conv.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	m := msgs[0]
	if m.ToolCalls != nil || m.ToolCallID != "" || m.Chart != nil {
		t.Errorf("optional fields populated on plain message: %+v", m)
	}
}

func TestAppendToUnknownConversation(t *testing.T) {
	s := testStore(t)
	if _, err := s.AppendMessage("no-such-id", Message{Role: "user", Content: "hi"}); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("err = %v, want ErrConversationNotFound", err)
	}
}

func TestConversationLookup(t *testing.T) {
	s := testStore(t)

	conv, err := s.CreateConversation("alice", "Budget review")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	got, err := s.Conversation(conv.ID)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if got.Owner != "alice" || got.Title != "Budget review" {
		t.Errorf("got %+v", got)
	}

	if _, err := s.Conversation("no-such-id"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("unknown id err = %v, want ErrConversationNotFound", err)
	}
}

func TestListConversationsPerOwner(t *testing.T) {
	s := testStore(t)

	a1, _ := s.CreateConversation("alice", "first")
	a2, _ := s.CreateConversation("alice", "second")
	s.CreateConversation("bob", "bob's")

	// Touch the older conversation so it sorts first.
	if _, err := s.AppendMessage(a1.ID, Message{Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	convs, err := s.ListConversations("alice")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("conversation count = %d, want 2", len(convs))
	}
	if convs[0].ID != a1.ID || convs[1].ID != a2.ID {
		t.Errorf("order = [%s, %s], want most recently updated first", convs[0].Title, convs[1].Title)
	}
}
