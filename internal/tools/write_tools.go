package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/slyngg/adpilot/internal/confirm"
	"github.com/slyngg/adpilot/internal/platform"
)

// resolveTarget resolves a write-tool target to exactly one entity.
// When the name is ambiguous or matches nothing, the returned Result
// is the complete not_found payload (with ranked candidates) and the
// tool must return it as-is — no pending action is created.
func resolveTarget(ctx context.Context, d Deps, domain, name string) (*platform.Entity, platform.Client, *Result, error) {
	res, err := d.Resolver.Resolve(ctx, domain, name)
	if err != nil {
		return nil, nil, nil, err
	}

	if len(res.Candidates) > 0 {
		return nil, nil, &Result{
			ForModel: toJSON(map[string]any{
				"status":     "not_found",
				"message":    fmt.Sprintf("%q matches %d %s entities. Ask the user which one they mean.", name, len(res.Candidates), domain),
				"candidates": res.Candidates,
			}),
			Summary: fmt.Sprintf("%q is ambiguous: %d matches", name, len(res.Candidates)),
		}, nil
	}

	if res.NothingMatched() {
		return nil, nil, &Result{
			ForModel: toJSON(map[string]any{
				"status":  "not_found",
				"message": fmt.Sprintf("no %s named %q found among the user's entities", domain, name),
			}),
			Summary: fmt.Sprintf("No %s named %q", domain, name),
		}, nil
	}

	p, err := d.platformFor(domain)
	if err != nil {
		return nil, nil, nil, err
	}
	return res.Entity, p, nil, nil
}

// stage creates the pending action and builds the tool result that
// tells the oracle confirmation is required.
func stage(d Deps, inv Invocation, toolName, description string, exec confirm.ExecFunc) *Result {
	act := d.Gate.Stage(inv.User, toolName, inv.Args, description, exec)
	return &Result{
		ForModel: toJSON(map[string]any{
			"status":      "pending_confirmation",
			"action_id":   act.ID,
			"description": description,
			"expires_at":  act.ExpiresAt.UTC().Format(time.RFC3339),
			"note":        "No change has been made yet. The user must explicitly confirm before this executes.",
		}),
		Summary: "Awaiting confirmation: " + description,
	}
}

// targetArgs is the shared argument shape for entity-targeted writes.
type targetArgs struct {
	Domain string `json:"domain"`
	Name   string `json:"name"`
}

func (a targetArgs) validate() error {
	if a.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

func targetSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"domain": domainProperty(),
			"name": map[string]any{
				"type":        "string",
				"description": "Entity name as the user said it, or an exact entity id",
			},
		},
		"required": []string{"domain", "name"},
	}
}

// pauseTool stages a delivery pause.
type pauseTool struct {
	deps Deps
}

func (t *pauseTool) Name() string { return "pause_entity" }
func (t *pauseTool) Class() Class { return ClassWrite }

func (t *pauseTool) Description() string {
	return "Pause delivery for a campaign, ad set, or ad group. Stages the change for user confirmation; nothing is paused until the user confirms."
}

func (t *pauseTool) Schema() map[string]any { return targetSchema() }

func (t *pauseTool) Run(ctx context.Context, inv Invocation) (*Result, error) {
	args, err := decodeArgs[targetArgs](inv.Args)
	if err != nil {
		return nil, err
	}
	if err := args.validate(); err != nil {
		return nil, err
	}

	entity, p, notFound, err := resolveTarget(ctx, t.deps, args.Domain, args.Name)
	if err != nil || notFound != nil {
		return notFound, err
	}

	desc := fmt.Sprintf("Pause %s %q (id %s) on the %s platform", args.Domain, entity.Name, entity.ID, p.Name())
	id := entity.ID
	name := entity.Name
	return stage(t.deps, inv, t.Name(), desc, func(ctx context.Context) (string, error) {
		if err := p.Pause(ctx, id); err != nil {
			return "", fmt.Errorf("pause %q: %w", name, err)
		}
		return fmt.Sprintf("Paused %q (id %s)", name, id), nil
	}), nil
}

// enableTool stages re-enabling delivery.
type enableTool struct {
	deps Deps
}

func (t *enableTool) Name() string { return "enable_entity" }
func (t *enableTool) Class() Class { return ClassWrite }

func (t *enableTool) Description() string {
	return "Resume delivery for a paused campaign, ad set, or ad group. Stages the change for user confirmation."
}

func (t *enableTool) Schema() map[string]any { return targetSchema() }

func (t *enableTool) Run(ctx context.Context, inv Invocation) (*Result, error) {
	args, err := decodeArgs[targetArgs](inv.Args)
	if err != nil {
		return nil, err
	}
	if err := args.validate(); err != nil {
		return nil, err
	}

	entity, p, notFound, err := resolveTarget(ctx, t.deps, args.Domain, args.Name)
	if err != nil || notFound != nil {
		return notFound, err
	}

	desc := fmt.Sprintf("Enable %s %q (id %s) on the %s platform", args.Domain, entity.Name, entity.ID, p.Name())
	id := entity.ID
	name := entity.Name
	return stage(t.deps, inv, t.Name(), desc, func(ctx context.Context) (string, error) {
		if err := p.Enable(ctx, id); err != nil {
			return "", fmt.Errorf("enable %q: %w", name, err)
		}
		return fmt.Sprintf("Enabled %q (id %s)", name, id), nil
	}), nil
}

// adjustBudgetTool stages a budget change.
type adjustBudgetTool struct {
	deps Deps
}

type adjustBudgetArgs struct {
	targetArgs
	// Amount is the new absolute daily budget, or a signed percentage
	// delta when Percent is true.
	Amount  float64 `json:"amount"`
	Percent bool    `json:"percent"`
}

func (t *adjustBudgetTool) Name() string { return "adjust_budget" }
func (t *adjustBudgetTool) Class() Class { return ClassWrite }

func (t *adjustBudgetTool) Description() string {
	return "Change an entity's daily budget, either to an absolute amount or by a percentage delta (percent=true, amount=-20 cuts 20%). Stages the change for user confirmation."
}

func (t *adjustBudgetTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"domain": domainProperty(),
			"name": map[string]any{
				"type":        "string",
				"description": "Entity name as the user said it, or an exact entity id",
			},
			"amount": map[string]any{
				"type":        "number",
				"description": "New absolute daily budget in USD, or signed percentage when percent is true",
			},
			"percent": map[string]any{
				"type":        "boolean",
				"description": "Treat amount as a percentage delta instead of an absolute budget",
			},
		},
		"required": []string{"domain", "name", "amount"},
	}
}

func (t *adjustBudgetTool) Run(ctx context.Context, inv Invocation) (*Result, error) {
	args, err := decodeArgs[adjustBudgetArgs](inv.Args)
	if err != nil {
		return nil, err
	}
	if err := args.validate(); err != nil {
		return nil, err
	}
	if args.Amount == 0 && !args.Percent {
		return nil, fmt.Errorf("amount must be non-zero")
	}

	entity, p, notFound, err := resolveTarget(ctx, t.deps, args.Domain, args.Name)
	if err != nil || notFound != nil {
		return notFound, err
	}

	var effect string
	if args.Percent {
		effect = fmt.Sprintf("change the daily budget by %+.1f%%", args.Amount)
	} else {
		effect = fmt.Sprintf("set the daily budget to $%.2f", args.Amount)
	}
	desc := fmt.Sprintf("On %s %q (id %s): %s", args.Domain, entity.Name, entity.ID, effect)

	change := platform.BudgetChange{Amount: args.Amount, Percent: args.Percent}
	id := entity.ID
	name := entity.Name
	return stage(t.deps, inv, t.Name(), desc, func(ctx context.Context) (string, error) {
		if err := p.AdjustBudget(ctx, id, change); err != nil {
			return "", fmt.Errorf("adjust budget of %q: %w", name, err)
		}
		return fmt.Sprintf("Budget updated for %q (id %s): %s", name, id, effect), nil
	}), nil
}

// cancelSubscriptionTool stages a subscription cancellation.
type cancelSubscriptionTool struct {
	deps Deps
}

type cancelSubscriptionArgs struct {
	Name string `json:"name"`
}

func (t *cancelSubscriptionTool) Name() string { return "cancel_subscription" }
func (t *cancelSubscriptionTool) Class() Class { return ClassWrite }

func (t *cancelSubscriptionTool) Description() string {
	return "Cancel a checkout subscription. Stages the cancellation for user confirmation; nothing is cancelled until the user confirms."
}

func (t *cancelSubscriptionTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Subscription name as the user said it, or an exact subscription id",
			},
		},
		"required": []string{"name"},
	}
}

func (t *cancelSubscriptionTool) Run(ctx context.Context, inv Invocation) (*Result, error) {
	args, err := decodeArgs[cancelSubscriptionArgs](inv.Args)
	if err != nil {
		return nil, err
	}
	if args.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	const domain = "subscription"
	entity, p, notFound, err := resolveTarget(ctx, t.deps, domain, args.Name)
	if err != nil || notFound != nil {
		return notFound, err
	}

	desc := fmt.Sprintf("Cancel subscription %q (id %s) on the %s platform", entity.Name, entity.ID, p.Name())
	id := entity.ID
	name := entity.Name
	return stage(t.deps, inv, t.Name(), desc, func(ctx context.Context) (string, error) {
		if err := p.CancelSubscription(ctx, id); err != nil {
			return "", fmt.Errorf("cancel subscription %q: %w", name, err)
		}
		return fmt.Sprintf("Cancelled subscription %q (id %s)", name, id), nil
	}), nil
}
