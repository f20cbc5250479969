// Package platform defines the external ad and checkout platform
// collaborators. Each platform exposes a small remote surface: list
// owned entities, pause, enable, adjust budget, cancel subscription.
// Calls are opaque and fallible; nothing here retries a call that may
// have reached the server.
package platform

import "context"

// Entity is one ownable object on a platform (campaign, ad set,
// subscription, ...). Spend is the trailing 7-day spend in USD and is
// the ranking metric used to order ambiguous name matches.
type Entity struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Spend float64 `json:"spend"`
}

// BudgetChange describes a budget adjustment: an absolute new daily
// budget, or a percentage delta when Percent is true (e.g. -20 for a
// 20% cut).
type BudgetChange struct {
	Amount  float64 `json:"amount"`
	Percent bool    `json:"percent"`
}

// Client is the surface every platform collaborator exposes.
type Client interface {
	// Name identifies the platform in logs and action descriptions.
	Name() string

	// Domains lists the entity domains this platform owns
	// (e.g. "campaign", "ad set" for ads; "subscription" for checkout).
	Domains() []string

	// ListEntities returns the user's owned entities in a domain.
	ListEntities(ctx context.Context, domain string) ([]Entity, error)

	Pause(ctx context.Context, id string) error
	Enable(ctx context.Context, id string) error
	AdjustBudget(ctx context.Context, id string, change BudgetChange) error
	CancelSubscription(ctx context.Context, id string) error
}

// HasDomain reports whether c owns the given entity domain.
func HasDomain(c Client, domain string) bool {
	for _, d := range c.Domains() {
		if d == domain {
			return true
		}
	}
	return false
}
