package analyses

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/duvallglobal/listapp-sub000/internal/marketplace"
)

// JSON schema expected from the inference provider:
// {
//   "productName": "string",
//   "brand": "string",
//   "category": "string",
//   "estimatedValue": {"low": number, "median": number, "high": number},
//   "marketplaceRecommendations": [
//     {
//       "platform": "string",
//       "suitability": "number (0-1)",
//       "reasoning": "string",
//       "estimatedProfit": "number",
//       "fees": "number"
//     }
//   ],
//   "confidenceScore": "number (0-1)",
//   "generatedTitle": "string",
//   "description": "string",
//   "tags": ["string"]
// }
type Result struct {
	ProductName     string                       `json:"productName"`
	Brand           string                       `json:"brand,omitempty"`
	Category        string                       `json:"category,omitempty"`
	EstimatedValue  PriceRange                   `json:"estimatedValue"`
	Recommendations []marketplace.Recommendation `json:"marketplaceRecommendations"`
	ConfidenceScore float64                      `json:"confidenceScore"`
	GeneratedTitle  string                       `json:"generatedTitle"`
	Description     string                       `json:"description"`
	Tags            []string                     `json:"tags"`
}

// PriceRange is the estimated resale value spread in USD.
type PriceRange struct {
	Low    float64 `json:"low"`
	Median float64 `json:"median"`
	High   float64 `json:"high"`
}

// ParseResult decodes and validates a provider payload, normalizing
// recommendations through the fee schedule. itemCost feeds the profit
// estimate when the seller supplied one.
func ParseResult(raw json.RawMessage, fees marketplace.FeeSchedule, itemCost float64) (*Result, error) {
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if err := r.normalize(fees, itemCost); err != nil {
		return nil, err
	}
	return &r, nil
}

// normalize checks schema constraints and repairs what is recoverable.
func (r *Result) normalize(fees marketplace.FeeSchedule, itemCost float64) error {
	if r == nil {
		return errors.New("result is nil")
	}
	r.ProductName = strings.TrimSpace(r.ProductName)
	if r.ProductName == "" {
		return errors.New("productName is required")
	}
	r.GeneratedTitle = strings.TrimSpace(r.GeneratedTitle)
	if r.GeneratedTitle == "" {
		r.GeneratedTitle = r.ProductName
	}

	v := &r.EstimatedValue
	if v.Low < 0 || v.Median < 0 || v.High < 0 {
		return errors.New("estimatedValue must be non-negative")
	}
	if v.High < v.Low {
		return fmt.Errorf("estimatedValue range is inverted: low %.2f high %.2f", v.Low, v.High)
	}
	if v.Median == 0 {
		v.Median = (v.Low + v.High) / 2
	}
	if v.Median < v.Low {
		v.Median = v.Low
	}
	if v.Median > v.High {
		v.Median = v.High
	}

	if len(r.Recommendations) == 0 {
		return errors.New("marketplaceRecommendations is required")
	}
	r.Recommendations = fees.Normalize(r.Recommendations, v.Median, itemCost)
	// Normalize drops platforms without a fee entry; a payload naming only
	// unknown platforms must not complete with an empty list.
	if len(r.Recommendations) == 0 {
		return errors.New("marketplaceRecommendations names no known platform")
	}

	r.ConfidenceScore = clampUnitScore(r.ConfidenceScore)

	tags := make([]string, 0, len(r.Tags))
	for _, tag := range r.Tags {
		if t := strings.TrimSpace(tag); t != "" {
			tags = append(tags, t)
		}
	}
	r.Tags = tags
	return nil
}

// clampUnitScore forces a score into 0..1, rescaling 0-100 answers.
func clampUnitScore(v float64) float64 {
	if v > 1 {
		v = v / 100
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
