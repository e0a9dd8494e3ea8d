package tiers

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	def := c.DefaultTier()
	if def.ID != "free_trial" {
		t.Fatalf("expected default tier free_trial, got %s", def.ID)
	}
	if def.MonthlyLimit != 2 {
		t.Fatalf("expected free_trial limit 2, got %d", def.MonthlyLimit)
	}

	cases := map[string]int64{
		"free_trial": 2,
		"basic":      20,
		"pro":        50,
		"business":   100,
		"enterprise": -1,
	}
	for id, limit := range cases {
		tier, ok := c.Lookup(id)
		if !ok {
			t.Fatalf("expected tier %s in default catalog", id)
		}
		if tier.MonthlyLimit != limit {
			t.Errorf("tier %s limit = %d, want %d", id, tier.MonthlyLimit, limit)
		}
	}

	if !c.Resolve("enterprise").Unlimited() {
		t.Fatalf("expected enterprise to be unlimited")
	}
	if c.Resolve("basic").Unlimited() {
		t.Fatalf("expected basic to be limited")
	}

	if def.PriceID != "" {
		t.Fatalf("expected free_trial to have no price id, got %q", def.PriceID)
	}
	pro, _ := c.Lookup("pro")
	if pro.PriceID != "price_pro_monthly" {
		t.Fatalf("expected pro price id, got %q", pro.PriceID)
	}
	if pro.Priority <= def.Priority {
		t.Fatalf("expected pro priority above free_trial, got %d vs %d", pro.Priority, def.Priority)
	}
}

func TestResolveUnknownFallsBackToDefault(t *testing.T) {
	c := Default()
	got := c.Resolve("no-such-tier")
	if got.ID != "free_trial" {
		t.Fatalf("expected fallback to free_trial, got %s", got.ID)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.yaml")
	content := `
tiers:
  - id: starter
    name: Starter
    monthly_limit: 5
  - id: max
    name: Max
    monthly_limit: -1
default: starter
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write tiers file: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.DefaultTier().ID != "starter" {
		t.Fatalf("expected default starter, got %s", c.DefaultTier().ID)
	}
	if got := c.Resolve("max"); !got.Unlimited() {
		t.Fatalf("expected max unlimited")
	}
	if _, ok := c.Lookup("free_trial"); ok {
		t.Fatalf("file catalog should not contain free_trial")
	}
}

func TestLoadRejectsBadCatalog(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"empty":       "tiers: []\n",
		"dup":         "tiers:\n  - id: a\n    monthly_limit: 1\n  - id: a\n    monthly_limit: 2\n",
		"bad_default": "tiers:\n  - id: a\n    monthly_limit: 1\ndefault: missing\n",
		"not_yaml":    "{{{{",
	}
	for name, content := range cases {
		path := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("case %s: expected error", name)
		}
	}
}

func TestLoadEmptyPathUsesEmbedded(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := c.Lookup("pro"); !ok {
		t.Fatalf("expected embedded catalog to contain pro")
	}
}
