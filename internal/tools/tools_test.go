package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/slyngg/adpilot/internal/confirm"
	"github.com/slyngg/adpilot/internal/llm"
	"github.com/slyngg/adpilot/internal/platform"
	"github.com/slyngg/adpilot/internal/resolve"
)

// fakePlatform records write calls so tests can assert side-effect
// timing against the confirmation gateway.
type fakePlatform struct {
	name     string
	domains  []string
	entities []platform.Entity

	pauseCalls  []string
	enableCalls []string
	budgetCalls []string
	cancelCalls []string

	failWrites error
}

func (f *fakePlatform) Name() string      { return f.name }
func (f *fakePlatform) Domains() []string { return f.domains }

func (f *fakePlatform) ListEntities(ctx context.Context, domain string) ([]platform.Entity, error) {
	return f.entities, nil
}

func (f *fakePlatform) Pause(ctx context.Context, id string) error {
	f.pauseCalls = append(f.pauseCalls, id)
	return f.failWrites
}

func (f *fakePlatform) Enable(ctx context.Context, id string) error {
	f.enableCalls = append(f.enableCalls, id)
	return f.failWrites
}

func (f *fakePlatform) AdjustBudget(ctx context.Context, id string, change platform.BudgetChange) error {
	f.budgetCalls = append(f.budgetCalls, id)
	return f.failWrites
}

func (f *fakePlatform) CancelSubscription(ctx context.Context, id string) error {
	f.cancelCalls = append(f.cancelCalls, id)
	return f.failWrites
}

func newFixture(t *testing.T) (*Registry, Deps, *fakePlatform) {
	t.Helper()

	ads := &fakePlatform{
		name:    "ads",
		domains: []string{"campaign", "ad set", "ad group"},
		entities: []platform.Entity{
			{ID: "42", Name: "Spring Launch", Spend: 840.00},
			{ID: "43", Name: "Spring Launch EU", Spend: 310.25},
			{ID: "44", Name: "Holiday Teaser", Spend: 55.00},
		},
	}

	logger := slog.New(slog.NewTextHandler(discard{}, nil))
	d := Deps{
		Resolver:  resolve.New(logger, ads),
		Gate:      confirm.NewStore(logger, 5*time.Minute),
		Platforms: []platform.Client{ads},
		Logger:    logger,
	}
	reg, err := DefaultRegistry(d)
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	return reg, d, ads
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func decodePayload(t *testing.T, res *Result) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(res.ForModel), &payload); err != nil {
		t.Fatalf("result payload is not JSON: %v\n%s", err, res.ForModel)
	}
	return payload
}

func dispatch(t *testing.T, reg *Registry, user, name string, args map[string]any) (*Result, error) {
	t.Helper()
	res, err := reg.Dispatch(context.Background(), user, llm.ToolCall{
		ID:        "call-1",
		Name:      name,
		Arguments: args,
	})
	if res == nil {
		t.Fatalf("Dispatch(%s) returned nil result", name)
	}
	return res, err
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, d, _ := newFixture(t)
	if _, err := NewRegistry(d.Logger, &pauseTool{d}, &pauseTool{d}); err == nil {
		t.Error("duplicate tool name accepted")
	}
}

func TestDefsCoverCatalogue(t *testing.T) {
	reg, _, _ := newFixture(t)

	defs := reg.Defs()
	want := []string{
		"list_entities", "spend_report", "list_pending_actions",
		"pause_entity", "enable_entity", "adjust_budget",
		"cancel_subscription", "confirm_action", "cancel_action",
	}
	if len(defs) != len(want) {
		t.Fatalf("def count = %d, want %d", len(defs), len(want))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("defs[%d] = %s, want %s", i, defs[i].Name, name)
		}
		if defs[i].InputSchema == nil {
			t.Errorf("%s has no input schema", name)
		}
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	reg, _, _ := newFixture(t)

	res, err := dispatch(t, reg, "alice", "delete_account", nil)
	if err == nil {
		t.Fatal("unknown tool dispatched without error")
	}
	if payload := decodePayload(t, res); payload["status"] != "error" {
		t.Errorf("payload = %v, want status error", payload)
	}
}

func TestDispatchInvalidArgs(t *testing.T) {
	reg, _, ads := newFixture(t)

	res, err := dispatch(t, reg, "alice", "pause_entity", map[string]any{"domain": "campaign"})
	if err == nil {
		t.Fatal("missing name accepted")
	}
	if payload := decodePayload(t, res); payload["status"] != "error" {
		t.Errorf("payload = %v, want status error", payload)
	}
	if len(ads.pauseCalls) != 0 {
		t.Error("platform called despite invalid arguments")
	}
}

func TestPauseStagesWithoutExecuting(t *testing.T) {
	reg, d, ads := newFixture(t)

	res, err := dispatch(t, reg, "alice", "pause_entity", map[string]any{
		"domain": "campaign",
		"name":   "Holiday Teaser",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	payload := decodePayload(t, res)
	if payload["status"] != "pending_confirmation" {
		t.Fatalf("status = %v, want pending_confirmation", payload["status"])
	}
	desc, _ := payload["description"].(string)
	if !strings.Contains(desc, "Holiday Teaser") || !strings.Contains(desc, "id 44") {
		t.Errorf("description = %q, want name and id", desc)
	}
	if _, ok := payload["expires_at"].(string); !ok {
		t.Error("payload missing expires_at")
	}
	if len(ads.pauseCalls) != 0 {
		t.Fatal("pause executed before confirmation")
	}
	if len(d.Gate.Pending("alice")) != 1 {
		t.Error("no pending action staged")
	}
}

func TestConfirmActionExecutesStagedEffect(t *testing.T) {
	reg, _, ads := newFixture(t)

	res, _ := dispatch(t, reg, "alice", "pause_entity", map[string]any{
		"domain": "campaign",
		"name":   "Holiday Teaser",
	})
	actionID, _ := decodePayload(t, res)["action_id"].(string)
	if actionID == "" {
		t.Fatal("staged result has no action_id")
	}

	res, err := dispatch(t, reg, "alice", "confirm_action", map[string]any{"action_id": actionID})
	if err != nil {
		t.Fatalf("confirm dispatch: %v", err)
	}
	payload := decodePayload(t, res)
	if payload["status"] != "executed" {
		t.Errorf("status = %v, want executed", payload["status"])
	}
	if len(ads.pauseCalls) != 1 || ads.pauseCalls[0] != "44" {
		t.Errorf("pause calls = %v, want [44]", ads.pauseCalls)
	}

	// Second confirm finds nothing.
	res, err = dispatch(t, reg, "alice", "confirm_action", map[string]any{"action_id": actionID})
	if err != nil {
		t.Fatalf("re-confirm dispatch: %v", err)
	}
	if payload := decodePayload(t, res); payload["status"] != "action_not_found" {
		t.Errorf("re-confirm status = %v, want action_not_found", payload["status"])
	}
	if len(ads.pauseCalls) != 1 {
		t.Errorf("pause ran %d times, want 1", len(ads.pauseCalls))
	}
}

func TestConfirmActionFailureConsumesAction(t *testing.T) {
	reg, _, ads := newFixture(t)
	ads.failWrites = errors.New("gateway returned 502")

	res, _ := dispatch(t, reg, "alice", "pause_entity", map[string]any{
		"domain": "campaign",
		"name":   "Holiday Teaser",
	})
	actionID, _ := decodePayload(t, res)["action_id"].(string)

	res, err := dispatch(t, reg, "alice", "confirm_action", map[string]any{"action_id": actionID})
	if err == nil {
		t.Fatal("failed execution reported no error")
	}
	payload := decodePayload(t, res)
	if payload["status"] != "executed" {
		t.Errorf("status = %v, want executed (consumed)", payload["status"])
	}
	if msg, _ := payload["error"].(string); !strings.Contains(msg, "502") {
		t.Errorf("payload error = %q", msg)
	}

	// The failed action was consumed, never re-offered.
	res, _ = dispatch(t, reg, "alice", "confirm_action", map[string]any{"action_id": actionID})
	if payload := decodePayload(t, res); payload["status"] != "action_not_found" {
		t.Errorf("re-confirm status = %v, want action_not_found", payload["status"])
	}
	if len(ads.pauseCalls) != 1 {
		t.Errorf("pause ran %d times, want 1 (no retry)", len(ads.pauseCalls))
	}
}

func TestCancelActionDiscards(t *testing.T) {
	reg, d, ads := newFixture(t)

	res, _ := dispatch(t, reg, "alice", "enable_entity", map[string]any{
		"domain": "campaign",
		"name":   "Holiday Teaser",
	})
	actionID, _ := decodePayload(t, res)["action_id"].(string)

	res, err := dispatch(t, reg, "alice", "cancel_action", map[string]any{"action_id": actionID})
	if err != nil {
		t.Fatalf("cancel dispatch: %v", err)
	}
	if payload := decodePayload(t, res); payload["status"] != "cancelled" {
		t.Errorf("status = %v, want cancelled", payload["status"])
	}
	if len(ads.enableCalls) != 0 {
		t.Error("enable executed despite cancellation")
	}
	if len(d.Gate.Pending("alice")) != 0 {
		t.Error("cancelled action still pending")
	}
}

func TestAmbiguousTargetReturnsCandidates(t *testing.T) {
	reg, d, ads := newFixture(t)

	res, err := dispatch(t, reg, "alice", "pause_entity", map[string]any{
		"domain": "campaign",
		"name":   "Launch",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	payload := decodePayload(t, res)
	if payload["status"] != "not_found" {
		t.Fatalf("status = %v, want not_found", payload["status"])
	}
	candidates, _ := payload["candidates"].([]any)
	if len(candidates) != 2 {
		t.Fatalf("candidate count = %d, want 2", len(candidates))
	}
	// Ranked by descending spend: Spring Launch ($840) before EU ($310).
	first, _ := candidates[0].(map[string]any)
	if first["id"] != "42" {
		t.Errorf("top candidate = %v, want id 42", first)
	}

	if len(d.Gate.Pending("alice")) != 0 {
		t.Error("ambiguous target staged an action")
	}
	if len(ads.pauseCalls) != 0 {
		t.Error("ambiguous target executed a pause")
	}
}

func TestNoMatchReturnsNotFound(t *testing.T) {
	reg, d, _ := newFixture(t)

	res, err := dispatch(t, reg, "alice", "pause_entity", map[string]any{
		"domain": "campaign",
		"name":   "zzzz",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	payload := decodePayload(t, res)
	if payload["status"] != "not_found" {
		t.Errorf("status = %v, want not_found", payload["status"])
	}
	if _, has := payload["candidates"]; has {
		t.Error("no-match payload carries candidates")
	}
	if len(d.Gate.Pending("alice")) != 0 {
		t.Error("unmatched target staged an action")
	}
}

func TestAdjustBudgetDescriptions(t *testing.T) {
	reg, d, _ := newFixture(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{
			name: "absolute",
			args: map[string]any{"domain": "campaign", "name": "Holiday Teaser", "amount": 150.0},
			want: "set the daily budget to $150.00",
		},
		{
			name: "percent cut",
			args: map[string]any{"domain": "campaign", "name": "Holiday Teaser", "amount": -20.0, "percent": true},
			want: "change the daily budget by -20.0%",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := dispatch(t, reg, "alice", "adjust_budget", tt.args)
			if err != nil {
				t.Fatalf("dispatch: %v", err)
			}
			payload := decodePayload(t, res)
			desc, _ := payload["description"].(string)
			if !strings.Contains(desc, tt.want) {
				t.Errorf("description = %q, want substring %q", desc, tt.want)
			}
		})
	}

	if got := len(d.Gate.Pending("alice")); got != 2 {
		t.Errorf("pending actions = %d, want 2", got)
	}
}

func TestAdjustBudgetRejectsZeroAmount(t *testing.T) {
	reg, _, _ := newFixture(t)
	if _, err := dispatch(t, reg, "alice", "adjust_budget", map[string]any{
		"domain": "campaign", "name": "Holiday Teaser", "amount": 0.0,
	}); err == nil {
		t.Error("zero absolute amount accepted")
	}
}

func TestListEntities(t *testing.T) {
	reg, _, _ := newFixture(t)

	res, err := dispatch(t, reg, "alice", "list_entities", map[string]any{"domain": "campaign"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	payload := decodePayload(t, res)
	entities, _ := payload["entities"].([]any)
	if len(entities) != 3 {
		t.Errorf("entity count = %d, want 3", len(entities))
	}
}

func TestSpendReportChart(t *testing.T) {
	reg, _, _ := newFixture(t)

	res, err := dispatch(t, reg, "alice", "spend_report", map[string]any{
		"domain": "campaign",
		"limit":  2,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Chart == nil {
		t.Fatal("spend report produced no chart")
	}
	if res.Chart.Kind != "bar" {
		t.Errorf("chart kind = %s, want bar", res.Chart.Kind)
	}
	if len(res.Chart.Labels) != 2 || len(res.Chart.Values) != 2 {
		t.Fatalf("chart size = %d labels / %d values, want 2/2", len(res.Chart.Labels), len(res.Chart.Values))
	}
	// Highest spend first.
	if res.Chart.Labels[0] != "Spring Launch" || res.Chart.Values[0] != 840.00 {
		t.Errorf("top entry = %s/%.2f, want Spring Launch/840.00", res.Chart.Labels[0], res.Chart.Values[0])
	}
}

func TestListPendingActions(t *testing.T) {
	reg, _, _ := newFixture(t)

	res, err := dispatch(t, reg, "alice", "list_pending_actions", nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	payload := decodePayload(t, res)
	if entries, _ := payload["pending_actions"].([]any); len(entries) != 0 {
		t.Errorf("pending entries = %v, want empty", entries)
	}

	dispatch(t, reg, "alice", "pause_entity", map[string]any{
		"domain": "campaign", "name": "Holiday Teaser",
	})

	res, _ = dispatch(t, reg, "alice", "list_pending_actions", nil)
	payload = decodePayload(t, res)
	entries, _ := payload["pending_actions"].([]any)
	if len(entries) != 1 {
		t.Fatalf("pending entries = %d, want 1", len(entries))
	}
	entry, _ := entries[0].(map[string]any)
	for _, key := range []string{"action_id", "tool", "description", "expires_at"} {
		if entry[key] == "" || entry[key] == nil {
			t.Errorf("pending entry missing %s: %v", key, entry)
		}
	}

	// Pending actions are per-user.
	res, _ = dispatch(t, reg, "bob", "list_pending_actions", nil)
	payload = decodePayload(t, res)
	if entries, _ := payload["pending_actions"].([]any); len(entries) != 0 {
		t.Error("bob sees alice's pending action")
	}
}

func TestWriteToolClasses(t *testing.T) {
	reg, _, _ := newFixture(t)

	writeTools := map[string]bool{
		"pause_entity": true, "enable_entity": true,
		"adjust_budget": true, "cancel_subscription": true,
	}
	for _, def := range reg.Defs() {
		tool := reg.Lookup(def.Name)
		if tool == nil {
			t.Fatalf("Lookup(%s) = nil", def.Name)
		}
		want := ClassRead
		if writeTools[def.Name] {
			want = ClassWrite
		}
		if tool.Class() != want {
			t.Errorf("%s class = %v, want %v", def.Name, tool.Class(), want)
		}
	}
}
