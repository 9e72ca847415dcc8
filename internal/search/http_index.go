package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quadernolabs/quaderno/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// HTTPIndex talks to the vector-search service over REST.
type HTTPIndex struct {
	baseURL string
	apiKey  string
	index   string
	client  *http.Client
	log     *zap.Logger
}

func NewHTTPIndex(cfg config.Config, log *zap.Logger) *HTTPIndex {
	timeout := time.Duration(cfg.SearchTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPIndex{
		baseURL: cfg.SearchBaseURL,
		apiKey:  cfg.SearchAPIKey,
		index:   cfg.SearchIndex,
		client:  &http.Client{Timeout: timeout},
		log:     log.Named("search.index"),
	}
}

type queryRequest struct {
	Query  string         `json:"query"`
	TopK   int            `json:"top_k"`
	Filter map[string]any `json:"filter,omitempty"`
}

type queryResponse struct {
	Matches []struct {
		ID       string  `json:"id"`
		Score    float64 `json:"score"`
		Metadata struct {
			DocumentID string `json:"document_id"`
			Subject    string `json:"subject"`
			Content    string `json:"content"`
		} `json:"metadata"`
	} `json:"matches"`
}

// Search implements Index. Every transport or provider failure comes
// back wrapped in ErrQueryFailed.
func (x *HTTPIndex) Search(ctx context.Context, q Query) ([]Candidate, error) {
	body := queryRequest{
		Query: q.Text,
		TopK:  q.TopK,
	}
	if len(q.DocumentIDs) > 0 || q.Subject != "" {
		body.Filter = map[string]any{}
		if len(q.DocumentIDs) > 0 {
			body.Filter["document_id"] = map[string]any{"$in": q.DocumentIDs}
		}
		if q.Subject != "" {
			body.Filter["subject"] = map[string]any{"$eq": q.Subject}
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	url := fmt.Sprintf("%s/indexes/%s/query", x.baseURL, x.index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+x.apiKey)

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: index returned %d", ErrQueryFailed, resp.StatusCode)
	}

	var decoded queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	candidates := make([]Candidate, 0, len(decoded.Matches))
	for _, m := range decoded.Matches {
		candidates = append(candidates, Candidate{
			ID:         m.ID,
			DocumentID: m.Metadata.DocumentID,
			Subject:    m.Metadata.Subject,
			Content:    m.Metadata.Content,
			Score:      m.Score,
		})
	}
	return candidates, nil
}

var Module = fx.Module("search",
	fx.Provide(func(cfg config.Config, log *zap.Logger) Index {
		return NewHTTPIndex(cfg, log)
	}),
)
