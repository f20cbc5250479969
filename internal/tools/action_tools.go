package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/slyngg/adpilot/internal/confirm"
)

type actionArgs struct {
	ActionID string `json:"action_id"`
}

func actionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action_id": map[string]any{
				"type":        "string",
				"description": "The pending action id returned when the action was staged",
			},
		},
		"required": []string{"action_id"},
	}
}

// notFoundResult is the shared payload for confirm/cancel on an
// unknown, expired, or already-resolved action.
func notFoundResult(id string) *Result {
	return &Result{
		ForModel: toJSON(map[string]any{
			"status":  "action_not_found",
			"message": fmt.Sprintf("action %s does not exist, has expired, or was already resolved", id),
		}),
		Summary: "Action not found or expired",
	}
}

// confirmActionTool executes a staged action on the user's behalf.
// The oracle calls this when the user explicitly approves.
type confirmActionTool struct {
	deps Deps
}

func (t *confirmActionTool) Name() string { return "confirm_action" }
func (t *confirmActionTool) Class() Class { return ClassRead }

func (t *confirmActionTool) Description() string {
	return "Execute a staged action after the user has explicitly approved it. Only call this when the user clearly said yes to the specific action."
}

func (t *confirmActionTool) Schema() map[string]any { return actionSchema() }

func (t *confirmActionTool) Run(ctx context.Context, inv Invocation) (*Result, error) {
	args, err := decodeArgs[actionArgs](inv.Args)
	if err != nil {
		return nil, err
	}
	if args.ActionID == "" {
		return nil, fmt.Errorf("action_id is required")
	}

	outcome, err := t.deps.Gate.Confirm(ctx, inv.User, args.ActionID)
	if errors.Is(err, confirm.ErrActionNotFound) {
		return notFoundResult(args.ActionID), nil
	}
	if err != nil {
		return nil, err
	}

	if outcome.Err != nil {
		// The action is consumed; the failure is the result. Return the
		// error too so the stream marks this call failed.
		execErr := outcome.Err
		return &Result{
			ForModel: toJSON(map[string]any{
				"status":      "executed",
				"error":       execErr.Error(),
				"description": outcome.Action.Description,
				"message":     "the action was consumed but the platform call failed; it will not be retried automatically",
			}),
			Summary: fmt.Sprintf("Failed: %s (%s)", outcome.Action.Description, execErr),
		}, execErr
	}

	return &Result{
		ForModel: toJSON(map[string]any{
			"status": "executed",
			"result": outcome.Result,
		}),
		Summary: outcome.Result,
	}, nil
}

// cancelActionTool discards a staged action without executing it.
type cancelActionTool struct {
	deps Deps
}

func (t *cancelActionTool) Name() string { return "cancel_action" }
func (t *cancelActionTool) Class() Class { return ClassRead }

func (t *cancelActionTool) Description() string {
	return "Discard a staged action without executing it. Call this when the user declines or changes their mind."
}

func (t *cancelActionTool) Schema() map[string]any { return actionSchema() }

func (t *cancelActionTool) Run(ctx context.Context, inv Invocation) (*Result, error) {
	args, err := decodeArgs[actionArgs](inv.Args)
	if err != nil {
		return nil, err
	}
	if args.ActionID == "" {
		return nil, fmt.Errorf("action_id is required")
	}

	outcome, err := t.deps.Gate.Cancel(inv.User, args.ActionID)
	if errors.Is(err, confirm.ErrActionNotFound) {
		return notFoundResult(args.ActionID), nil
	}
	if err != nil {
		return nil, err
	}

	return &Result{
		ForModel: toJSON(map[string]any{
			"status":      "cancelled",
			"description": outcome.Action.Description,
		}),
		Summary: "Cancelled: " + outcome.Action.Description,
	}, nil
}
