// Package domain defines the balanced-retrieval contract: one query
// spread fairly across a set of selected documents.
package domain

import (
	"context"
	"errors"
)

// QuotaConfig bounds how many chunks come back and how they spread
// across documents.
type QuotaConfig struct {
	TotalBudget         int  `json:"total_budget"`
	MinPerDoc           int  `json:"min_per_doc"`
	MaxPerDoc           int  `json:"max_per_doc"`
	EnforceDistribution bool `json:"enforce_distribution"`
}

// Chunk is one retrieved passage, read-only once produced.
type Chunk struct {
	Content    string  `json:"content"`
	DocumentID string  `json:"document_id"`
	Subject    string  `json:"subject"`
	Score      float64 `json:"score"`
}

// Request carries one retrieval. DocumentIDs order is preserved: it is
// the deterministic tie-break when two documents score identically.
type Request struct {
	Query       string      `json:"query"`
	DocumentIDs []string    `json:"document_ids"`
	Subject     string      `json:"subject"`
	Quota       QuotaConfig `json:"quota"`
}

// Result is the allocated chunk set plus the per-document counts. Every
// selected document appears in Distribution, zero-count ones included.
type Result struct {
	Chunks       []Chunk        `json:"chunks"`
	Distribution map[string]int `json:"distribution"`
}

type Service interface {
	Retrieve(ctx context.Context, req Request) (Result, error)
}

var (
	ErrInvalidQuota = errors.New("invalid_quota_config")
)
