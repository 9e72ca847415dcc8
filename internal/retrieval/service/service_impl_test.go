package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/quadernolabs/quaderno/internal/config"
	retrievaldomain "github.com/quadernolabs/quaderno/internal/retrieval/domain"
	"github.com/quadernolabs/quaderno/internal/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeIndex scripts the index responses: the first call may fail to
// exercise the unfiltered fallback.
type fakeIndex struct {
	calls      []search.Query
	failFirst  bool
	failAlways bool
	results    []search.Candidate
}

func (f *fakeIndex) Search(ctx context.Context, q search.Query) ([]search.Candidate, error) {
	f.calls = append(f.calls, q)
	if f.failAlways || (f.failFirst && len(f.calls) == 1) {
		return nil, fmt.Errorf("%w: boom", search.ErrQueryFailed)
	}
	return f.results, nil
}

func newAllocator(index search.Index) retrievaldomain.Service {
	holder := config.NewStaticPolicyHolder(config.DefaultGovernancePolicy())
	return NewService(ServiceParam{
		Log:    zap.NewNop(),
		Index:  index,
		Policy: holder,
	})
}

func candidatesFor(doc, subject string, scores ...float64) []search.Candidate {
	out := make([]search.Candidate, 0, len(scores))
	for i, score := range scores {
		out = append(out, search.Candidate{
			ID:         fmt.Sprintf("%s-%d", doc, i),
			DocumentID: doc,
			Subject:    subject,
			Content:    fmt.Sprintf("passage %s %d", doc, i),
			Score:      score,
		})
	}
	return out
}

func TestRetrieveEmptySelectionSkipsIndex(t *testing.T) {
	index := &fakeIndex{}
	svc := newAllocator(index)

	result, err := svc.Retrieve(context.Background(), retrievaldomain.Request{
		Query:   "photosynthesis",
		Subject: "biology",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
	assert.Empty(t, result.Distribution)
	assert.Empty(t, index.calls, "no outbound call for an empty selection")
}

func TestRetrieveBalancedDistribution(t *testing.T) {
	// Candidate counts [10, 1, 0] with min 2, max 4, budget 6: doc-c
	// gets nothing, doc-b its single chunk, doc-a the rest.
	var results []search.Candidate
	results = append(results, candidatesFor("doc-a", "biology", 0.99, 0.98, 0.97, 0.96, 0.95, 0.94, 0.93, 0.92, 0.91, 0.90)...)
	results = append(results, candidatesFor("doc-b", "biology", 0.50)...)
	index := &fakeIndex{results: results}
	svc := newAllocator(index)

	result, err := svc.Retrieve(context.Background(), retrievaldomain.Request{
		Query:       "photosynthesis",
		DocumentIDs: []string{"doc-a", "doc-b", "doc-c"},
		Subject:     "biology",
		Quota: retrievaldomain.QuotaConfig{
			TotalBudget:         6,
			MinPerDoc:           2,
			MaxPerDoc:           4,
			EnforceDistribution: true,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, result.Distribution["doc-a"])
	assert.Equal(t, 1, result.Distribution["doc-b"])
	assert.Equal(t, 0, result.Distribution["doc-c"])
	assert.Len(t, result.Chunks, 5)

	for i := 1; i < len(result.Chunks); i++ {
		assert.GreaterOrEqual(t, result.Chunks[i-1].Score, result.Chunks[i].Score,
			"chunks must come back in descending similarity")
	}
}

func TestRetrieveGracefulDegradationUnderTightBudget(t *testing.T) {
	var results []search.Candidate
	results = append(results, candidatesFor("doc-a", "math", 0.9, 0.8)...)
	results = append(results, candidatesFor("doc-b", "math", 0.7, 0.6)...)
	results = append(results, candidatesFor("doc-c", "math", 0.5, 0.4)...)
	index := &fakeIndex{results: results}
	svc := newAllocator(index)

	result, err := svc.Retrieve(context.Background(), retrievaldomain.Request{
		Query:       "derivatives",
		DocumentIDs: []string{"doc-a", "doc-b", "doc-c"},
		Subject:     "math",
		Quota: retrievaldomain.QuotaConfig{
			TotalBudget:         3,
			MinPerDoc:           2,
			MaxPerDoc:           2,
			EnforceDistribution: true,
		},
	})
	require.NoError(t, err)

	// Minimum demand is 6 against a budget of 3: best-scoring documents
	// win, the tail gets zero rather than the budget overrunning.
	assert.Equal(t, 2, result.Distribution["doc-a"])
	assert.Equal(t, 1, result.Distribution["doc-b"])
	assert.Equal(t, 0, result.Distribution["doc-c"])
	assert.Len(t, result.Chunks, 3)
}

func TestRetrievePriorityTieBreaksBySelectionOrder(t *testing.T) {
	var results []search.Candidate
	results = append(results, candidatesFor("doc-b", "math", 0.8)...)
	results = append(results, candidatesFor("doc-a", "math", 0.8)...)
	index := &fakeIndex{results: results}
	svc := newAllocator(index)

	result, err := svc.Retrieve(context.Background(), retrievaldomain.Request{
		Query:       "limits",
		DocumentIDs: []string{"doc-a", "doc-b"},
		Subject:     "math",
		Quota: retrievaldomain.QuotaConfig{
			TotalBudget:         1,
			MinPerDoc:           1,
			MaxPerDoc:           1,
			EnforceDistribution: true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Distribution["doc-a"], "equal scores defer to selection order")
	assert.Equal(t, 0, result.Distribution["doc-b"])
}

func TestRetrieveGlobalRankFillRespectsMaxPerDoc(t *testing.T) {
	var results []search.Candidate
	results = append(results, candidatesFor("doc-a", "math", 0.9, 0.89, 0.88, 0.87)...)
	results = append(results, candidatesFor("doc-b", "math", 0.5, 0.4)...)
	index := &fakeIndex{results: results}
	svc := newAllocator(index)

	result, err := svc.Retrieve(context.Background(), retrievaldomain.Request{
		Query:       "integrals",
		DocumentIDs: []string{"doc-a", "doc-b"},
		Subject:     "math",
		Quota: retrievaldomain.QuotaConfig{
			TotalBudget:         5,
			MinPerDoc:           1,
			MaxPerDoc:           3,
			EnforceDistribution: true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Distribution["doc-a"], "fill stops at maxPerDoc")
	assert.Equal(t, 2, result.Distribution["doc-b"])
}

func TestRetrieveSubjectIsolationSurvivesFallback(t *testing.T) {
	// The filtered call fails; the unfiltered retry leaks candidates
	// from other subjects and unselected documents. None may surface.
	var results []search.Candidate
	results = append(results, candidatesFor("doc-a", "biology", 0.9, 0.8)...)
	results = append(results, candidatesFor("doc-a", "chemistry", 0.99)...)
	results = append(results, candidatesFor("doc-x", "biology", 0.95)...)
	index := &fakeIndex{failFirst: true, results: results}
	svc := newAllocator(index)

	result, err := svc.Retrieve(context.Background(), retrievaldomain.Request{
		Query:       "cells",
		DocumentIDs: []string{"doc-a"},
		Subject:     "biology",
		Quota: retrievaldomain.QuotaConfig{
			TotalBudget: 6,
			MaxPerDoc:   4,
		},
	})
	require.NoError(t, err)

	require.Len(t, index.calls, 2)
	assert.NotEmpty(t, index.calls[0].DocumentIDs)
	assert.Empty(t, index.calls[1].DocumentIDs, "retry drops the provider-side filter")

	require.Len(t, result.Chunks, 2)
	for _, chunk := range result.Chunks {
		assert.Equal(t, "biology", chunk.Subject)
		assert.Equal(t, "doc-a", chunk.DocumentID)
	}
}

func TestRetrieveUnreachableIndexReturnsEmpty(t *testing.T) {
	index := &fakeIndex{failAlways: true}
	svc := newAllocator(index)

	result, err := svc.Retrieve(context.Background(), retrievaldomain.Request{
		Query:       "cells",
		DocumentIDs: []string{"doc-a"},
		Subject:     "biology",
		Quota:       retrievaldomain.QuotaConfig{TotalBudget: 6, MaxPerDoc: 3},
	})
	require.NoError(t, err, "an unreachable index degrades, it does not fail the request")
	assert.Empty(t, result.Chunks)
	assert.Equal(t, 0, result.Distribution["doc-a"])
	assert.Len(t, index.calls, 2, "one filtered attempt plus one fallback")
}

func TestRetrieveZeroBudgetAndZeroMax(t *testing.T) {
	index := &fakeIndex{results: candidatesFor("doc-a", "math", 0.9)}
	svc := newAllocator(index)

	result, err := svc.Retrieve(context.Background(), retrievaldomain.Request{
		Query:       "limits",
		DocumentIDs: []string{"doc-a"},
		Subject:     "math",
		Quota:       retrievaldomain.QuotaConfig{TotalBudget: 0, MaxPerDoc: 3},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
	assert.Equal(t, map[string]int{"doc-a": 0}, result.Distribution)

	result, err = svc.Retrieve(context.Background(), retrievaldomain.Request{
		Query:       "limits",
		DocumentIDs: []string{"doc-a"},
		Subject:     "math",
		Quota:       retrievaldomain.QuotaConfig{TotalBudget: 6, MaxPerDoc: 0},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
	assert.Empty(t, index.calls, "zero quotas never reach the index")
}

func TestRetrieveRejectsInconsistentQuota(t *testing.T) {
	svc := newAllocator(&fakeIndex{})

	_, err := svc.Retrieve(context.Background(), retrievaldomain.Request{
		Query:       "limits",
		DocumentIDs: []string{"doc-a"},
		Subject:     "math",
		Quota:       retrievaldomain.QuotaConfig{TotalBudget: 6, MinPerDoc: 4, MaxPerDoc: 2},
	})
	assert.ErrorIs(t, err, retrievaldomain.ErrInvalidQuota)
}

func TestRetrieveDefaultsQuotaFromPolicy(t *testing.T) {
	var results []search.Candidate
	for i := 0; i < 4; i++ {
		results = append(results, candidatesFor(fmt.Sprintf("doc-%d", i), "math", 0.9, 0.8)...)
	}
	index := &fakeIndex{results: results}
	svc := newAllocator(index)

	ids := []string{"doc-0", "doc-1", "doc-2", "doc-3"}
	result, err := svc.Retrieve(context.Background(), retrievaldomain.Request{
		Query:       "limits",
		DocumentIDs: ids,
		Subject:     "math",
	})
	require.NoError(t, err)
	assert.Len(t, result.Chunks, 6, "policy defaults cap at a budget of 6")

	total := 0
	for _, id := range ids {
		total += result.Distribution[id]
		assert.GreaterOrEqual(t, result.Distribution[id], 1, "minimum guarantee per document")
	}
	assert.Equal(t, 6, total)
}

func TestRetrieveOverfetchSizing(t *testing.T) {
	index := &fakeIndex{}
	svc := newAllocator(index)

	_, err := svc.Retrieve(context.Background(), retrievaldomain.Request{
		Query:       "limits",
		DocumentIDs: []string{"doc-a", "doc-b"},
		Subject:     "math",
		Quota:       retrievaldomain.QuotaConfig{TotalBudget: 6, MinPerDoc: 1, MaxPerDoc: 2, EnforceDistribution: true},
	})
	require.NoError(t, err)
	require.NotEmpty(t, index.calls)
	// 2 docs x 2 max = 4, but the overfetch floor is budget x factor.
	assert.Equal(t, 18, index.calls[0].TopK)
}

