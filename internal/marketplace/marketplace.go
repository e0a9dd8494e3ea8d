package marketplace

import (
	"math"
	"strings"
)

// Recommendation is a suggested sales channel for an analyzed item.
// Suitability is a 0..1 fit score. Fees and EstimatedProfit are dollar
// amounts at the item's median estimated value.
type Recommendation struct {
	Platform        string  `json:"platform"`
	Suitability     float64 `json:"suitability"`
	Reasoning       string  `json:"reasoning,omitempty"`
	EstimatedProfit float64 `json:"estimatedProfit"`
	Fees            float64 `json:"fees"`
}

// FeeSchedule maps a platform to its selling fee rate.
type FeeSchedule map[string]float64

// DefaultFeeSchedule returns the built-in platform fee rates.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		"ebay":                 0.1325,
		"facebook_marketplace": 0.05,
		"mercari":              0.10,
		"poshmark":             0.20,
		"amazon":               0.15,
		"depop":                0.10,
		"vinted":               0.07,
	}
}

// NormalizePlatform converts a free-form platform name to its canonical form.
func NormalizePlatform(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// Rate returns the fee rate for a platform and whether it is known.
func (f FeeSchedule) Rate(name string) (float64, bool) {
	rate, ok := f[NormalizePlatform(name)]
	return rate, ok
}

// Known reports whether the platform has a fee entry.
func (f FeeSchedule) Known(name string) bool {
	_, ok := f.Rate(name)
	return ok
}

// Normalize canonicalizes platform names, drops platforms without a fee
// entry, clamps suitability to 0..1, and fills missing fees and profit from
// the item's median value. itemCost is subtracted from profit when known.
func (f FeeSchedule) Normalize(recs []Recommendation, medianValue, itemCost float64) []Recommendation {
	if medianValue < 0 {
		medianValue = 0
	}
	if itemCost < 0 {
		itemCost = 0
	}
	out := make([]Recommendation, 0, len(recs))
	for _, rec := range recs {
		rec.Platform = NormalizePlatform(rec.Platform)
		rate, ok := f[rec.Platform]
		if !ok {
			continue
		}
		// Models sometimes answer suitability on a 0-100 scale.
		if rec.Suitability > 1 {
			rec.Suitability = rec.Suitability / 100
		}
		if rec.Suitability < 0 {
			rec.Suitability = 0
		}
		if rec.Suitability > 1 {
			rec.Suitability = 1
		}
		if rec.Fees == 0 {
			rec.Fees = roundCents(medianValue * rate)
		}
		if rec.EstimatedProfit == 0 {
			rec.EstimatedProfit = roundCents(medianValue - rec.Fees - itemCost)
		}
		out = append(out, rec)
	}
	return out
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
