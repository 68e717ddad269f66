// Package scorer fuses external classifier outputs and the engine's own
// findings into a single calibrated risk assessment.
package scorer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/magickw/linkdao-guard/abusemod/event"
	"github.com/magickw/linkdao-guard/abusemod/policy"
)

var defaultProviderTimeout = 2 * time.Second

// The fused output for one piece of content.
type RiskAssessment struct {
	// Weighted mean of category scores, clamped to [0,1].
	CompositeScore float64 `json:"composite_score"`
	// Step function of the count of independent contributing signal sources.
	Confidence     float64                     `json:"confidence"`
	CategoryScores map[policy.Category]float64 `json:"category_scores"`
	Findings       []event.Finding             `json:"findings,omitempty"`
	Recommendation policy.Recommendation       `json:"recommendation"`
}

type Scorer struct {
	Logger    *slog.Logger
	Policy    *policy.Policy
	Providers []Provider
	// Per-provider call budget; a slow provider is skipped, never awaited
	// past this.
	ProviderTimeout time.Duration
}

// Patterns whose findings carry content signal, and the category they fold
// into when scoring content.
var findingCategory = map[string]policy.Category{
	policy.PatternSpamPosting:            policy.CategorySpam,
	policy.PatternMassFollowing:          policy.CategorySpam,
	policy.PatternSuspiciousRegistration: policy.CategorySpam,
}

type providerResult struct {
	name   string
	scores map[policy.Category]float64
}

// Assess fans out to all configured providers concurrently, each under its
// own timeout, folds in any request findings as one additional signal
// source, and fuses everything into a RiskAssessment. Provider failures are
// skipped; partial results are always usable.
func (s *Scorer) Assess(ctx context.Context, content string, findings []event.Finding, priorViolations int) RiskAssessment {
	timeout := s.ProviderTimeout
	if timeout == 0 {
		timeout = defaultProviderTimeout
	}

	results := make(chan providerResult, len(s.Providers))
	var wg sync.WaitGroup
	for _, p := range s.Providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			start := time.Now()
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			scores, err := p.Classify(callCtx, content)
			providerDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
			if err != nil {
				providerErrorCount.WithLabelValues(p.Name()).Inc()
				s.Logger.Warn("classifier provider failed, skipping", "provider", p.Name(), "err", err)
				return
			}
			results <- providerResult{name: p.Name(), scores: scores}
		}(p)
	}
	wg.Wait()
	close(results)

	categoryScores := make(map[policy.Category]float64)
	sources := 0
	for res := range results {
		sources++
		for cat, score := range res.scores {
			if _, known := s.Policy.CategoryWeights[cat]; !known {
				s.Logger.Debug("ignoring unknown category from provider", "provider", res.name, "category", string(cat))
				continue
			}
			// multiple providers scoring the same category: keep the most
			// cautious signal
			if score > categoryScores[cat] {
				categoryScores[cat] = score
			}
		}
	}

	if contributed := foldFindings(categoryScores, findings); contributed {
		sources++
	}

	composite := s.composite(categoryScores)
	confidence := s.Policy.Confidence(sources)

	return RiskAssessment{
		CompositeScore: composite,
		Confidence:     confidence,
		CategoryScores: categoryScores,
		Findings:       findings,
		Recommendation: s.recommend(composite, confidence, sources, priorViolations),
	}
}

// foldFindings merges request findings into the category score map as one
// heuristic signal source. Returns whether anything contributed.
func foldFindings(categoryScores map[policy.Category]float64, findings []event.Finding) bool {
	contributed := false
	for _, f := range findings {
		cat, ok := findingCategory[f.Pattern]
		if !ok {
			continue
		}
		score := min(f.Score/100, 1.0)
		if score > categoryScores[cat] {
			categoryScores[cat] = score
		}
		contributed = true
	}
	return contributed
}

// composite computes the weighted mean over all policy categories: absent
// categories score zero but their weights stay in the denominator.
func (s *Scorer) composite(categoryScores map[policy.Category]float64) float64 {
	var weighted, totalWeight float64
	for cat, weight := range s.Policy.CategoryWeights {
		weighted += categoryScores[cat] * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0
	}
	return max(0, min(weighted/totalWeight, 1))
}

func (s *Scorer) recommend(composite, confidence float64, sources, priorViolations int) policy.Recommendation {
	b := s.Policy.Boundaries

	// no usable signal at all: uncertainty bias toward caution
	if sources == 0 {
		return policy.RecommendReview
	}

	reviewAbove := b.ReviewAbove
	if priorViolations > b.RepeatOffenderPriors {
		reviewAbove = b.RepeatOffenderReviewAbove
	}

	var rec policy.Recommendation
	switch {
	case composite > b.RejectAbove:
		rec = policy.RecommendReject
	case composite > reviewAbove:
		rec = policy.RecommendReview
	default:
		rec = policy.RecommendApprove
	}

	// low confidence plus non-trivial score: force a human look
	if confidence < b.UncertainBelow && composite > b.UncertainComposite {
		rec = policy.RecommendReview
	}
	return rec
}
