package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// listEntitiesTool lists the user's owned entities in a domain.
type listEntitiesTool struct {
	deps Deps
}

type listEntitiesArgs struct {
	Domain string `json:"domain"`
}

func (t *listEntitiesTool) Name() string { return "list_entities" }
func (t *listEntitiesTool) Class() Class { return ClassRead }

func (t *listEntitiesTool) Description() string {
	return "List the entities the user owns in a domain (campaigns, ad sets, ad groups, subscriptions), with trailing 7-day spend. Use this to discover what exists before acting on it."
}

func (t *listEntitiesTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"domain": domainProperty(),
		},
		"required": []string{"domain"},
	}
}

func (t *listEntitiesTool) Run(ctx context.Context, inv Invocation) (*Result, error) {
	args, err := decodeArgs[listEntitiesArgs](inv.Args)
	if err != nil {
		return nil, err
	}
	if args.Domain == "" {
		return nil, fmt.Errorf("domain is required")
	}

	entities, err := t.deps.Resolver.Entities(ctx, args.Domain)
	if err != nil {
		return nil, err
	}

	return &Result{
		ForModel: toJSON(map[string]any{"domain": args.Domain, "entities": entities}),
		Summary:  fmt.Sprintf("Listed %d %s entities", len(entities), args.Domain),
	}, nil
}

// spendReportTool summarizes spend by entity and attaches a chart.
type spendReportTool struct {
	deps Deps
}

type spendReportArgs struct {
	Domain string `json:"domain"`
	Limit  int    `json:"limit"`
}

func (t *spendReportTool) Name() string { return "spend_report" }
func (t *spendReportTool) Class() Class { return ClassRead }

func (t *spendReportTool) Description() string {
	return "Report trailing 7-day spend for the top entities in a domain, highest first. Produces a chart the user sees inline."
}

func (t *spendReportTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"domain": domainProperty(),
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of entities to include (default 10)",
			},
		},
		"required": []string{"domain"},
	}
}

func (t *spendReportTool) Run(ctx context.Context, inv Invocation) (*Result, error) {
	args, err := decodeArgs[spendReportArgs](inv.Args)
	if err != nil {
		return nil, err
	}
	if args.Domain == "" {
		return nil, fmt.Errorf("domain is required")
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}

	entities, err := t.deps.Resolver.Entities(ctx, args.Domain)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Spend > entities[j].Spend
	})
	if len(entities) > limit {
		entities = entities[:limit]
	}

	var (
		lines  []string
		labels []string
		values []float64
		total  float64
	)
	for _, e := range entities {
		lines = append(lines, fmt.Sprintf("- %s (id %s): $%.2f", e.Name, e.ID, e.Spend))
		labels = append(labels, e.Name)
		values = append(values, e.Spend)
		total += e.Spend
	}

	var chart *ChartSpec
	if len(values) > 0 {
		chart = &ChartSpec{
			Kind:   "bar",
			Title:  fmt.Sprintf("7-day spend by %s", args.Domain),
			Labels: labels,
			Values: values,
			Unit:   "USD",
		}
	}

	return &Result{
		ForModel: fmt.Sprintf("7-day spend, top %d %s entities (total $%.2f):\n%s",
			len(entities), args.Domain, total, strings.Join(lines, "\n")),
		Summary: fmt.Sprintf("Spend report for %d %s entities", len(entities), args.Domain),
		Chart:   chart,
	}, nil
}

// listPendingTool reports the user's outstanding staged actions.
type listPendingTool struct {
	deps Deps
}

func (t *listPendingTool) Name() string { return "list_pending_actions" }
func (t *listPendingTool) Class() Class { return ClassRead }

func (t *listPendingTool) Description() string {
	return "List the user's staged actions still awaiting confirmation, with ids and expiry times."
}

func (t *listPendingTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *listPendingTool) Run(ctx context.Context, inv Invocation) (*Result, error) {
	pending := t.deps.Gate.Pending(inv.User)

	type entry struct {
		ActionID    string `json:"action_id"`
		Tool        string `json:"tool"`
		Description string `json:"description"`
		ExpiresAt   string `json:"expires_at"`
	}
	entries := make([]entry, 0, len(pending))
	for _, a := range pending {
		entries = append(entries, entry{
			ActionID:    a.ID,
			Tool:        a.Tool,
			Description: a.Description,
			ExpiresAt:   a.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	return &Result{
		ForModel: toJSON(map[string]any{"pending_actions": entries}),
		Summary:  fmt.Sprintf("%d action(s) awaiting confirmation", len(entries)),
	}, nil
}
