// Package resolve maps free-text entity names to canonical platform
// ids. Ambiguity is never broken silently: a name matching more than
// one owned entity yields ranked candidates for the user to pick from.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/slyngg/adpilot/internal/platform"
)

// Candidate is one possible target of an ambiguous name, ranked by
// descending spend. Option is the 1-based index the user can pick.
type Candidate struct {
	Option int     `json:"option"`
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Spend  float64 `json:"spend"`
}

// Resolution is the outcome of resolving a name: exactly one of a
// resolved Entity, ranked Candidates, or neither (no match at all).
type Resolution struct {
	Entity     *platform.Entity
	Candidates []Candidate
}

// Resolved reports whether the name mapped to exactly one entity.
func (r Resolution) Resolved() bool { return r.Entity != nil }

// NothingMatched reports whether no owned entity matched the name.
func (r Resolution) NothingMatched() bool { return r.Entity == nil && len(r.Candidates) == 0 }

// Resolver resolves names against the entities owned on the
// configured platforms.
type Resolver struct {
	platforms []platform.Client
	logger    *slog.Logger
}

// New creates a resolver over the given platform clients.
func New(logger *slog.Logger, platforms ...platform.Client) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{platforms: platforms, logger: logger}
}

// Domains returns every entity domain known across the platforms.
func (r *Resolver) Domains() []string {
	var out []string
	for _, p := range r.platforms {
		out = append(out, p.Domains()...)
	}
	return out
}

// Entities lists the owned entities in a domain across all platforms
// that serve it.
func (r *Resolver) Entities(ctx context.Context, domain string) ([]platform.Entity, error) {
	var (
		entities []platform.Entity
		served   bool
	)
	for _, p := range r.platforms {
		if !platform.HasDomain(p, domain) {
			continue
		}
		served = true
		list, err := p.ListEntities(ctx, domain)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name(), err)
		}
		entities = append(entities, list...)
	}
	if !served {
		return nil, fmt.Errorf("unknown entity domain %q (known: %s)", domain, strings.Join(r.Domains(), ", "))
	}
	return entities, nil
}

// Resolve maps a free-text name to an owned entity in a domain.
//
// Matching is tried in order of precision: exact id, exact
// case-insensitive name, case-insensitive substring, then fuzzy. The
// first tier that produces matches decides the outcome — one match
// resolves, several surface as candidates.
func (r *Resolver) Resolve(ctx context.Context, domain, name string) (Resolution, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Resolution{}, fmt.Errorf("entity name is required")
	}

	entities, err := r.Entities(ctx, domain)
	if err != nil {
		return Resolution{}, err
	}

	for _, tier := range []func(string, []platform.Entity) []platform.Entity{
		matchExactID,
		matchExactName,
		matchSubstring,
		matchFuzzy,
	} {
		matched := tier(name, entities)
		switch len(matched) {
		case 0:
			continue
		case 1:
			e := matched[0]
			r.logger.Debug("entity resolved", "domain", domain, "name", name, "id", e.ID)
			return Resolution{Entity: &e}, nil
		default:
			r.logger.Debug("ambiguous entity name",
				"domain", domain, "name", name, "matches", len(matched))
			return Resolution{Candidates: rankCandidates(matched)}, nil
		}
	}

	r.logger.Debug("no entity matched", "domain", domain, "name", name)
	return Resolution{}, nil
}

func matchExactID(name string, entities []platform.Entity) []platform.Entity {
	var out []platform.Entity
	for _, e := range entities {
		if e.ID == name {
			out = append(out, e)
		}
	}
	return out
}

func matchExactName(name string, entities []platform.Entity) []platform.Entity {
	var out []platform.Entity
	for _, e := range entities {
		if strings.EqualFold(e.Name, name) {
			out = append(out, e)
		}
	}
	return out
}

func matchSubstring(name string, entities []platform.Entity) []platform.Entity {
	lower := strings.ToLower(name)
	var out []platform.Entity
	for _, e := range entities {
		if strings.Contains(strings.ToLower(e.Name), lower) {
			out = append(out, e)
		}
	}
	return out
}

// entityNames adapts a slice of entities to fuzzy.Source.
type entityNames []platform.Entity

func (e entityNames) String(i int) string { return e[i].Name }
func (e entityNames) Len() int            { return len(e) }

func matchFuzzy(name string, entities []platform.Entity) []platform.Entity {
	results := fuzzy.FindFrom(name, entityNames(entities))
	out := make([]platform.Entity, 0, len(results))
	for _, m := range results {
		out = append(out, entities[m.Index])
	}
	return out
}

// rankCandidates orders matches by descending spend and assigns
// 1-based option indexes.
func rankCandidates(matched []platform.Entity) []Candidate {
	sorted := make([]platform.Entity, len(matched))
	copy(sorted, matched)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Spend > sorted[j].Spend
	})

	out := make([]Candidate, len(sorted))
	for i, e := range sorted {
		out[i] = Candidate{
			Option: i + 1,
			ID:     e.ID,
			Name:   e.Name,
			Spend:  e.Spend,
		}
	}
	return out
}
