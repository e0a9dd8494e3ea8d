package inference

import (
	"context"
	"encoding/json"
	"errors"
)

// Client abstracts vision-model providers for item listing analysis.
type Client interface {
	AnalyzeItem(ctx context.Context, req Request) (json.RawMessage, error)
}

// Request captures the inputs needed to analyze one item photo.
type Request struct {
	JobID         string
	ImageData     []byte
	MimeType      string
	Condition     string
	EstimatedCost float64
	Notes         string
}

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("inference provider not implemented")

// PlaceholderClient is a stub implementation for environments without a provider.
type PlaceholderClient struct{}

// AnalyzeItem returns ErrNotImplemented.
func (PlaceholderClient) AnalyzeItem(ctx context.Context, req Request) (json.RawMessage, error) {
	_ = ctx
	_ = req
	return nil, ErrNotImplemented
}
