package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/quadernolabs/quaderno/internal/config"
	"github.com/quadernolabs/quaderno/internal/observability/metrics"
	retrievaldomain "github.com/quadernolabs/quaderno/internal/retrieval/domain"
	"github.com/quadernolabs/quaderno/internal/search"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	log     *zap.Logger
	index   search.Index
	policy  *config.PolicyHolder
	metrics *metrics.Metrics
}

type ServiceParam struct {
	fx.In

	Log     *zap.Logger
	Index   search.Index
	Policy  *config.PolicyHolder
	Metrics *metrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) retrievaldomain.Service {
	return &Service{
		log:     p.Log.Named("retrieval.service"),
		index:   p.Index,
		policy:  p.Policy,
		metrics: p.Metrics,
	}
}

// Retrieve implements domain.Service.
func (s *Service) Retrieve(ctx context.Context, req retrievaldomain.Request) (retrievaldomain.Result, error) {
	result := retrievaldomain.Result{
		Chunks:       []retrievaldomain.Chunk{},
		Distribution: make(map[string]int, len(req.DocumentIDs)),
	}
	for _, id := range req.DocumentIDs {
		result.Distribution[id] = 0
	}
	if len(req.DocumentIDs) == 0 {
		return result, nil
	}

	policy := s.policy.Get()
	quota := req.Quota
	if quota == (retrievaldomain.QuotaConfig{}) {
		quota = retrievaldomain.QuotaConfig{
			TotalBudget:         policy.Retrieval.TotalBudget,
			MinPerDoc:           policy.Retrieval.MinPerDoc,
			MaxPerDoc:           policy.Retrieval.MaxPerDoc,
			EnforceDistribution: policy.Retrieval.EnforceDistribution,
		}
	}
	if quota.MinPerDoc < 0 || quota.MaxPerDoc < quota.MinPerDoc || quota.TotalBudget < 0 {
		return retrievaldomain.Result{}, fmt.Errorf("%w: min=%d max=%d budget=%d",
			retrievaldomain.ErrInvalidQuota, quota.MinPerDoc, quota.MaxPerDoc, quota.TotalBudget)
	}
	if quota.TotalBudget == 0 || quota.MaxPerDoc == 0 {
		return result, nil
	}

	s.metrics.IncRetrievalQuery(ctx)

	candidates, err := s.fetch(ctx, req, quota)
	if err != nil {
		// Unreachable index degrades to an empty context rather than
		// failing the whole request.
		s.log.Error("semantic index unreachable", zap.Error(err),
			zap.String("subject", req.Subject))
		return result, nil
	}

	survivors := filterCandidates(candidates, req.DocumentIDs, req.Subject)
	s.allocate(survivors, req.DocumentIDs, quota, &result)
	s.metrics.ObserveRetrievalChunks(ctx, len(result.Chunks))
	return result, nil
}

// fetch runs the overfetched source-filtered query, falling back once
// to an unfiltered query on technical failure. Filtering is reapplied
// in software either way.
func (s *Service) fetch(ctx context.Context, req retrievaldomain.Request, quota retrievaldomain.QuotaConfig) ([]search.Candidate, error) {
	topK := len(req.DocumentIDs) * quota.MaxPerDoc
	if floor := int(float64(quota.TotalBudget) * s.policy.Get().Retrieval.OverfetchFactor); topK < floor {
		topK = floor
	}

	candidates, err := s.index.Search(ctx, search.Query{
		Text:        req.Query,
		TopK:        topK,
		DocumentIDs: req.DocumentIDs,
		Subject:     req.Subject,
	})
	if err == nil {
		return candidates, nil
	}

	s.log.Warn("filtered search failed, retrying unfiltered", zap.Error(err))
	s.metrics.IncRetrievalFallback(ctx)

	return s.index.Search(ctx, search.Query{
		Text: req.Query,
		TopK: topK,
	})
}

// filterCandidates is the mandatory software-side filter: source
// membership first, subject equality last. The subject check is never
// relaxed regardless of how the candidates were fetched.
func filterCandidates(candidates []search.Candidate, documentIDs []string, subject string) []search.Candidate {
	selected := make(map[string]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		selected[id] = struct{}{}
	}

	survivors := make([]search.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := selected[c.DocumentID]; !ok {
			continue
		}
		if c.Subject != subject {
			continue
		}
		survivors = append(survivors, c)
	}
	return survivors
}

// allocate distributes the budget: guaranteed minimums in priority
// order, then global-rank fill capped per document.
func (s *Service) allocate(survivors []search.Candidate, documentIDs []string, quota retrievaldomain.QuotaConfig, result *retrievaldomain.Result) {
	byDoc := make(map[string][]search.Candidate)
	for _, c := range survivors {
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}
	for id := range byDoc {
		list := byDoc[id]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Score > list[j].Score })
	}

	// Priority: best top-1 score first; ties fall back to selection
	// order, which the slice iteration below already encodes.
	priority := make([]string, 0, len(byDoc))
	for _, id := range documentIDs {
		if len(byDoc[id]) > 0 {
			priority = append(priority, id)
		}
	}
	sort.SliceStable(priority, func(i, j int) bool {
		return byDoc[priority[i]][0].Score > byDoc[priority[j]][0].Score
	})

	taken := make(map[string]int, len(byDoc))
	budget := quota.TotalBudget

	if quota.EnforceDistribution {
		for _, id := range priority {
			if budget == 0 {
				break
			}
			want := quota.MinPerDoc
			if avail := len(byDoc[id]); want > avail {
				want = avail
			}
			if want > budget {
				want = budget
			}
			taken[id] = want
			budget -= want
		}
	}

	if budget > 0 {
		rest := make([]search.Candidate, 0, len(survivors))
		for _, id := range priority {
			rest = append(rest, byDoc[id][taken[id]:]...)
		}
		sort.SliceStable(rest, func(i, j int) bool { return rest[i].Score > rest[j].Score })

		for _, c := range rest {
			if budget == 0 {
				break
			}
			if taken[c.DocumentID] >= quota.MaxPerDoc {
				continue
			}
			taken[c.DocumentID]++
			budget--
		}
	}

	chunks := make([]retrievaldomain.Chunk, 0, quota.TotalBudget)
	for _, id := range priority {
		n := taken[id]
		result.Distribution[id] = n
		for _, c := range byDoc[id][:n] {
			chunks = append(chunks, retrievaldomain.Chunk{
				Content:    c.Content,
				DocumentID: c.DocumentID,
				Subject:    c.Subject,
				Score:      c.Score,
			})
		}
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
	result.Chunks = chunks
}
