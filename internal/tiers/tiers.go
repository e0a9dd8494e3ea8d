package tiers

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed tiers.yaml
var defaultCatalogYAML []byte

// Tier describes a subscription plan and its monthly analysis allowance.
// A negative MonthlyLimit means unlimited. PriceID is the billing provider's
// identifier for the plan; it is empty for the free tier. Priority orders
// tiers from cheapest to most capable.
type Tier struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	PriceID      string `yaml:"price_id" json:"priceId,omitempty"`
	MonthlyLimit int64  `yaml:"monthly_limit" json:"monthlyLimit"`
	Priority     int    `yaml:"priority" json:"priority"`
}

// Unlimited reports whether the tier has no monthly cap.
func (t Tier) Unlimited() bool {
	return t.MonthlyLimit < 0
}

// Catalog holds the known tiers and the default tier for new accounts.
type Catalog struct {
	tiers     map[string]Tier
	order     []string
	defaultID string
}

type catalogFile struct {
	Tiers   []Tier `yaml:"tiers"`
	Default string `yaml:"default"`
}

// Load reads a tier catalog from path, falling back to the embedded default
// catalog when path is empty.
func Load(path string) (*Catalog, error) {
	raw := defaultCatalogYAML
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read tiers config: %w", err)
		}
		raw = data
	}
	return parse(raw)
}

// Default returns the embedded tier catalog.
func Default() *Catalog {
	c, err := parse(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded tier catalog invalid: %v", err))
	}
	return c
}

func parse(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse tiers config: %w", err)
	}
	if len(file.Tiers) == 0 {
		return nil, fmt.Errorf("tiers config has no tiers")
	}

	c := &Catalog{tiers: make(map[string]Tier, len(file.Tiers))}
	for _, t := range file.Tiers {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return nil, fmt.Errorf("tiers config has a tier with empty id")
		}
		if _, dup := c.tiers[id]; dup {
			return nil, fmt.Errorf("tiers config has duplicate tier %q", id)
		}
		t.ID = id
		c.tiers[id] = t
		c.order = append(c.order, id)
	}

	c.defaultID = strings.TrimSpace(file.Default)
	if c.defaultID == "" {
		c.defaultID = c.order[0]
	}
	if _, ok := c.tiers[c.defaultID]; !ok {
		return nil, fmt.Errorf("tiers config default %q is not a known tier", c.defaultID)
	}
	return c, nil
}

// Resolve returns the tier for id, or the default tier when id is unknown.
func (c *Catalog) Resolve(id string) Tier {
	if t, ok := c.tiers[strings.TrimSpace(id)]; ok {
		return t
	}
	return c.tiers[c.defaultID]
}

// Lookup returns the tier for id and whether it exists.
func (c *Catalog) Lookup(id string) (Tier, bool) {
	t, ok := c.tiers[strings.TrimSpace(id)]
	return t, ok
}

// DefaultTier returns the tier assigned to accounts on first touch.
func (c *Catalog) DefaultTier() Tier {
	return c.tiers[c.defaultID]
}

// All returns the tiers in catalog order.
func (c *Catalog) All() []Tier {
	out := make([]Tier, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.tiers[id])
	}
	return out
}
