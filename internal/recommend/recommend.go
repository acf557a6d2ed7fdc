// Copyright 2025 Lumina Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package recommend implements the Recommendation Fetcher (§4.2, C2):
// a parallel, per-category-isolated fan-out over the vendor's purchase
// recommendation API. It follows the same "launch one goroutine per
// unit of work, collect errors without aborting the others" shape the
// reference reconciler uses for its own per-account fan-out.
package recommend

import (
	"context"
	"sync"

	"github.com/go-logr/logr"

	"github.com/nextdoor/sp-autopilot/pkg/aws"
	"github.com/nextdoor/sp-autopilot/pkg/domain"
	"github.com/nextdoor/sp-autopilot/pkg/splitter"
)

// Fetcher fetches per-category purchase recommendations from the
// cloud-provider adapter.
type Fetcher struct {
	client aws.Client
	log    logr.Logger
}

// New returns a Fetcher bound to client.
func New(client aws.Client, log logr.Logger) *Fetcher {
	return &Fetcher{client: client, log: log.WithValues("component", "recommend")}
}

// categoryTerm returns the (term, payment option) every recommendation
// request is made for, per category. database and sagemaker have
// exactly one allowed pair (§3.1) so their recommendation is requested
// at that pair directly; compute allows several, so the recommendation
// is requested at whichever pair carries the largest weight in that
// category's configured mix - the term/payment combination the
// eventual purchase will be split across the most.
func categoryTerm(category domain.Category, mix splitter.Mix) (domain.Term, domain.PaymentOption) {
	switch category {
	case domain.CategoryDatabase:
		return domain.Term1Year, domain.PaymentNoUpfront
	case domain.CategorySagemaker:
		return domain.Term1Year, domain.PaymentAllUpfront
	}

	var best domain.PlanKey
	bestWeight := -1.0
	for key, weight := range mix {
		if weight > bestWeight || (weight == bestWeight && key.Less(best)) {
			best = key
			bestWeight = weight
		}
	}
	if bestWeight < 0 {
		return domain.Term1Year, domain.PaymentNoUpfront
	}
	return best.Term, best.PaymentOption
}

// categoryRequest bundles one category's recommendation parameters.
type categoryRequest struct {
	category domain.Category
	mix      splitter.Mix
}

// FetchAll fetches a recommendation for every category in mixes
// concurrently. Each category has its own failure domain: an error
// fetching one category's recommendation is logged and yields a nil
// entry for that category rather than aborting the others (§4.2
// "Partial failure is allowed").
func (f *Fetcher) FetchAll(ctx context.Context, lookbackDays, minDataDays int, mixes map[domain.Category]splitter.Mix) map[domain.Category]*domain.Recommendation {
	results := make(map[domain.Category]*domain.Recommendation, len(mixes))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for category, mix := range mixes {
		wg.Add(1)
		go func(req categoryRequest) {
			defer wg.Done()
			rec := f.fetchOne(ctx, req, lookbackDays, minDataDays)
			mu.Lock()
			results[req.category] = rec
			mu.Unlock()
		}(categoryRequest{category: category, mix: mix})
	}

	wg.Wait()
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, req categoryRequest, lookbackDays, minDataDays int) *domain.Recommendation {
	log := f.log.WithValues("category", req.category)

	if lookbackDays < minDataDays {
		log.Info("lookback window shorter than minimum data requirement, skipping recommendation", "lookback_days", lookbackDays, "min_data_days", minDataDays)
		return nil
	}

	term, paymentOption := categoryTerm(req.category, req.mix)
	rec, err := f.client.GetSavingsPlansPurchaseRecommendation(ctx, req.category, lookbackDays, term, paymentOption)
	if err != nil {
		log.Error(err, "failed to fetch recommendation")
		return nil
	}
	return rec
}
