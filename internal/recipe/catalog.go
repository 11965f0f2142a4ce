package recipe

import (
	"fmt"
	"sort"
)

// Catalog is a read-only set of recipes keyed by agent type. It is safe for
// concurrent use once constructed.
type Catalog struct {
	recipes map[string]Recipe
}

// NewCatalog validates recipes and builds a catalog. Duplicate ids are rejected.
func NewCatalog(recipes ...Recipe) (*Catalog, error) {
	c := &Catalog{recipes: make(map[string]Recipe, len(recipes))}
	for _, r := range recipes {
		if err := r.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.recipes[r.ID]; dup {
			return nil, fmt.Errorf("duplicate recipe %q", r.ID)
		}
		c.recipes[r.ID] = r.clone()
	}
	return c, nil
}

// MustDefaultCatalog returns the built-in catalog and panics if it is invalid.
func MustDefaultCatalog() *Catalog {
	c, err := NewCatalog(Defaults()...)
	if err != nil {
		panic(fmt.Sprintf("built-in recipes: %v", err))
	}
	return c
}

// Get returns the recipe for agentType or ErrUnknownAgent.
func (c *Catalog) Get(agentType string) (Recipe, error) {
	r, ok := c.recipes[agentType]
	if !ok {
		return Recipe{}, fmt.Errorf("%w: %q", ErrUnknownAgent, agentType)
	}
	return r.clone(), nil
}

// GuardrailsOf returns the agent's guardrails of the given kind, in recipe order.
func (c *Catalog) GuardrailsOf(agentType string, kind GuardrailKind) ([]GuardrailConfig, error) {
	r, ok := c.recipes[agentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, agentType)
	}
	var out []GuardrailConfig
	for _, g := range r.Guardrails {
		if g.Kind == kind {
			out = append(out, g.clone())
		}
	}
	return out, nil
}

// List returns all recipes sorted by id.
func (c *Catalog) List() []Recipe {
	out := make([]Recipe, 0, len(c.recipes))
	for _, r := range c.recipes {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Merge returns a new catalog where overlay recipes replace or extend c.
func (c *Catalog) Merge(overlay []Recipe) (*Catalog, error) {
	merged := make(map[string]Recipe, len(c.recipes)+len(overlay))
	for id, r := range c.recipes {
		merged[id] = r
	}
	for _, r := range overlay {
		if err := r.validate(); err != nil {
			return nil, err
		}
		merged[r.ID] = r.clone()
	}
	return &Catalog{recipes: merged}, nil
}
