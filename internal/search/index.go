// Package search is the client for the external semantic index.
package search

import (
	"context"
	"errors"
)

// ErrQueryFailed marks a technical failure of the index, as opposed to
// an empty result. Callers use it to decide whether a fallback query is
// worth trying.
var ErrQueryFailed = errors.New("retrieval_service_error")

// Candidate is one scored passage returned by the index.
type Candidate struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	Subject    string  `json:"subject"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Query describes one similarity lookup. DocumentIDs and Subject are
// provider-side hints only; callers must not rely on the provider
// honoring them.
type Query struct {
	Text        string
	TopK        int
	DocumentIDs []string
	Subject     string
}

type Index interface {
	Search(ctx context.Context, q Query) ([]Candidate, error)
}
