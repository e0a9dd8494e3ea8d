package inference

import (
	"fmt"
	"strings"
)

// SystemPrompt is the provider-independent instruction for listing analysis.
const SystemPrompt = "You are an expert resale listing assistant. Respond with JSON only. No markdown. Never omit keys. Output must match the schema exactly."

const promptSchema = `{
  "productName": "string, the exact product if identifiable",
  "brand": "string, empty if unknown",
  "category": "string",
  "estimatedValue": {"low": "number, USD", "median": "number, USD", "high": "number, USD"},
  "marketplaceRecommendations": [
    {
      "platform": "one of: ebay, facebook_marketplace, mercari, poshmark, amazon, depop, vinted",
      "suitability": "number between 0 and 1",
      "reasoning": "string, one sentence",
      "estimatedProfit": "number, USD, may be omitted",
      "fees": "number, USD, may be omitted"
    }
  ],
  "confidenceScore": "number between 0 and 1",
  "generatedTitle": "string, max 80 characters, search-optimized",
  "description": "string, 2-4 sentences, honest and detailed",
  "tags": ["5-10 search keywords"]
}`

// BuildUserPrompt creates the analysis instruction for one item photo.
func BuildUserPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Analyze the product photo and produce a resale listing as a single JSON object with this schema:\n")
	b.WriteString(promptSchema)
	b.WriteString("\n\nRecommend 2-4 platforms best suited to the item and explain each briefly.")

	var hints []string
	if c := strings.TrimSpace(req.Condition); c != "" {
		hints = append(hints, fmt.Sprintf("Seller-stated condition: %s", c))
	}
	if req.EstimatedCost > 0 {
		hints = append(hints, fmt.Sprintf("Seller's estimated original cost: $%.2f", req.EstimatedCost))
	}
	if n := strings.TrimSpace(req.Notes); n != "" {
		hints = append(hints, fmt.Sprintf("Seller notes: %s", n))
	}
	if len(hints) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(hints, "\n"))
	}
	return b.String()
}

// StripFences removes a surrounding markdown code fence from model output.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
