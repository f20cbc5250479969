// Package tools defines the closed catalogue of operations the
// reasoning oracle may call. Read-class tools execute immediately;
// write-class tools never perform their effect — they stage a pending
// action with the confirmation gateway and report what would happen.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/slyngg/adpilot/internal/confirm"
	"github.com/slyngg/adpilot/internal/llm"
	"github.com/slyngg/adpilot/internal/platform"
	"github.com/slyngg/adpilot/internal/resolve"
)

// Class is a tool's side-effect class.
type Class int

const (
	// ClassRead tools only query state and run immediately.
	ClassRead Class = iota
	// ClassWrite tools have external side effects and must be staged
	// through the confirmation gateway.
	ClassWrite
)

// Invocation carries the per-call context a tool needs beyond its
// arguments: the identity whose entities and actions are in scope.
type Invocation struct {
	User string
	Args json.RawMessage
}

// ChartSpec is an optional visualization attached to a tool result.
type ChartSpec struct {
	Kind   string    `json:"kind"` // currently always "bar"
	Title  string    `json:"title"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
	Unit   string    `json:"unit,omitempty"`
}

// Result is what a tool call produces: a payload for the oracle, a
// human-readable one-liner for the stream, and an optional chart.
type Result struct {
	ForModel string
	Summary  string
	Chart    *ChartSpec
}

// Tool is one entry in the catalogue. Implementations decode their own
// typed argument structs from Invocation.Args, so malformed input is a
// per-call error rather than a loose map access.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Class() Class

	// Run executes the tool. It may return both a non-nil Result and a
	// non-nil error: the Result is still the oracle-facing payload (a
	// confirmed action that failed mid-execution is consumed, and the
	// oracle needs to know), while the error marks the call failed on
	// the stream.
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// Deps is everything the built-in tools need.
type Deps struct {
	Resolver  *resolve.Resolver
	Gate      *confirm.Store
	Platforms []platform.Client
	Logger    *slog.Logger
}

func (d Deps) platformFor(domain string) (platform.Client, error) {
	for _, p := range d.Platforms {
		if platform.HasDomain(p, domain) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no platform serves domain %q", domain)
}

// Registry is the closed tool catalogue. The set is fixed at
// construction; there is no runtime registration.
type Registry struct {
	order  []Tool
	byName map[string]Tool
	logger *slog.Logger
}

// NewRegistry builds a registry from a fixed tool list.
func NewRegistry(logger *slog.Logger, catalogue ...Tool) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		byName: make(map[string]Tool, len(catalogue)),
		logger: logger,
	}
	for _, t := range catalogue {
		if _, dup := r.byName[t.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", t.Name())
		}
		r.byName[t.Name()] = t
		r.order = append(r.order, t)
	}
	return r, nil
}

// DefaultRegistry assembles the full adpilot catalogue.
func DefaultRegistry(d Deps) (*Registry, error) {
	return NewRegistry(d.Logger,
		&listEntitiesTool{d},
		&spendReportTool{d},
		&listPendingTool{d},
		&pauseTool{d},
		&enableTool{d},
		&adjustBudgetTool{d},
		&cancelSubscriptionTool{d},
		&confirmActionTool{d},
		&cancelActionTool{d},
	)
}

// Defs returns the catalogue in oracle-facing form.
func (r *Registry) Defs() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.order))
	for _, t := range r.order {
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	return defs
}

// Lookup returns the named tool, or nil.
func (r *Registry) Lookup(name string) Tool {
	return r.byName[name]
}

// Dispatch runs one oracle tool call. It never panics and never
// returns a nil Result: unknown names, bad arguments, and handler
// failures all come back as structured results so sibling calls in the
// same round-trip proceed. A non-nil error marks the call failed for
// stream reporting.
func (r *Registry) Dispatch(ctx context.Context, user string, call llm.ToolCall) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", call.Name, "panic", rec)
			err = fmt.Errorf("tool %s panicked: %v", call.Name, rec)
			res = errorResult(err)
		}
	}()

	tool := r.byName[call.Name]
	if tool == nil {
		err = fmt.Errorf("unknown tool %q", call.Name)
		return errorResult(err), err
	}

	args, marshalErr := json.Marshal(call.Arguments)
	if marshalErr != nil {
		err = fmt.Errorf("encode arguments for %s: %w", call.Name, marshalErr)
		return errorResult(err), err
	}

	res, err = tool.Run(ctx, Invocation{User: user, Args: args})
	if res == nil {
		res = errorResult(err)
	}
	if err != nil {
		r.logger.Warn("tool call failed", "tool", call.Name, "user", user, "error", err)
	} else {
		r.logger.Debug("tool call complete", "tool", call.Name, "user", user)
	}
	return res, err
}

func errorResult(err error) *Result {
	msg := "tool execution failed"
	if err != nil {
		msg = err.Error()
	}
	return &Result{
		ForModel: toJSON(map[string]any{"status": "error", "error": msg}),
		Summary:  msg,
	}
}

// decodeArgs unmarshals a tool's typed argument struct.
func decodeArgs[T any](raw json.RawMessage) (T, error) {
	var args T
	if len(raw) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, fmt.Errorf("invalid arguments: %w", err)
	}
	return args, nil
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"status":"error","error":"json encoding failed"}`
	}
	return string(b)
}

// domainProperty is the shared schema fragment for the entity domain
// argument.
func domainProperty() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Entity domain, e.g. 'campaign', 'ad set', 'ad group', 'subscription'",
	}
}
