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

// Package splitter implements the Portfolio Splitter (C4): splitting a
// single hourly commitment into fragments across (term, payment-option)
// pairs, weighted by a configured portfolio mix.
package splitter

import (
	"fmt"
	"sort"

	"github.com/nextdoor/sp-autopilot/pkg/domain"
)

// Mix maps a (term, payment option) pair to its portfolio weight for a
// single category. Weights must sum to 1.0 within WeightTolerance.
type Mix map[domain.PlanKey]float64

// WeightTolerance is the floating-point tolerance used when checking
// that portfolio weights sum to 1.0, and that split fragments sum back
// to their input total.
const WeightTolerance = 1e-6

// MinFragmentHourly is the default minimum hourly commitment a fragment
// may carry on its own before it is coalesced into the largest
// remaining fragment, to prevent micro-purchases.
const MinFragmentHourly = 0.001

// Fragment is a PurchaseIntent in progress: it carries everything the
// splitter knows, but not yet an idempotency token or creation
// timestamp - those are stamped by the Scheduler Orchestrator (C6)
// once the fragment is finalized.
type Fragment struct {
	Category         domain.Category
	Term             domain.Term
	PaymentOption    domain.PaymentOption
	UpfrontFraction  float64
	HourlyCommitment float64
}

// ValidateMix checks that mix sums to 1.0 within tolerance and that
// every weighted pair is allowed for category. A disallowed pair is a
// configuration error - it must be rejected at load time, never
// silently dropped when splitting.
func ValidateMix(category domain.Category, mix Mix) error {
	allowed := domain.AllowedPlans(category)
	sum := 0.0
	for key, weight := range mix {
		if weight < 0 || weight > 1 {
			return fmt.Errorf("weight for (%s,%s) must be in [0,1], got %v", key.Term, key.PaymentOption, weight)
		}
		if weight > 0 && !allowed[key] {
			return fmt.Errorf("category %s does not allow (term=%s, payment=%s)", category, key.Term, key.PaymentOption)
		}
		sum += weight
	}
	if len(mix) == 0 {
		return fmt.Errorf("portfolio mix for category %s is empty", category)
	}
	if diff := sum - 1.0; diff > WeightTolerance || diff < -WeightTolerance {
		return fmt.Errorf("portfolio mix for category %s sums to %v, want 1.0 +/- %v", category, sum, WeightTolerance)
	}
	return nil
}

// upfrontFractionFor returns the upfront fraction to stamp on a
// fragment for the given payment option. partialUpfrontPercent is the
// category's configured partial-upfront percentage (0-100) and is only
// consulted for PaymentPartialUpfront.
func upfrontFractionFor(paymentOption domain.PaymentOption, partialUpfrontPercent float64) float64 {
	switch paymentOption {
	case domain.PaymentAllUpfront:
		return 1
	case domain.PaymentNoUpfront:
		return 0
	case domain.PaymentPartialUpfront:
		return partialUpfrontPercent / 100
	default:
		return 0
	}
}

// Split divides hourlyTotal across the (term, payment option) pairs in
// mix, weighted proportionally. Fragments whose hourly commitment falls
// below minFragmentHourly are coalesced into the largest surviving
// fragment; ties for "largest" are broken by PlanKey.Less (term then
// payment option, lexicographically), making the outcome deterministic
// regardless of map iteration order.
//
// mix is assumed already validated by ValidateMix; Split does not
// re-check weight sums or category constraints.
func Split(category domain.Category, hourlyTotal float64, mix Mix, partialUpfrontPercent float64, minFragmentHourly float64) []Fragment {
	if hourlyTotal <= 0 {
		return nil
	}
	if minFragmentHourly <= 0 {
		minFragmentHourly = MinFragmentHourly
	}

	keys := make([]domain.PlanKey, 0, len(mix))
	for key, weight := range mix {
		if weight > 0 {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	fragments := make([]Fragment, 0, len(keys))
	for _, key := range keys {
		fragments = append(fragments, Fragment{
			Category:         category,
			Term:             key.Term,
			PaymentOption:    key.PaymentOption,
			UpfrontFraction:  upfrontFractionFor(key.PaymentOption, partialUpfrontPercent),
			HourlyCommitment: hourlyTotal * mix[key],
		})
	}

	return coalesceSmallFragments(fragments, minFragmentHourly)
}

// coalesceSmallFragments merges every fragment below the threshold into
// the largest fragment (by hourly commitment), breaking ties by
// (term, payment option) lexicographic order per §4.4's resolved open
// question. If every fragment is below threshold, they all coalesce
// into whichever one indexOfLargest selects: the largest by value, or,
// among exact ties, the lexicographically smallest (term, payment
// option) pair.
func coalesceSmallFragments(fragments []Fragment, threshold float64) []Fragment {
	if len(fragments) <= 1 {
		return fragments
	}

	largestIdx := indexOfLargest(fragments)

	kept := make([]Fragment, 0, len(fragments))
	absorbed := 0.0
	for i, f := range fragments {
		if i == largestIdx {
			continue
		}
		if f.HourlyCommitment < threshold {
			absorbed += f.HourlyCommitment
			continue
		}
		kept = append(kept, f)
	}

	fragments[largestIdx].HourlyCommitment += absorbed
	// Re-insert the (possibly enlarged) largest fragment at its original
	// relative position among the kept fragments to preserve PlanKey
	// ordering in the result.
	result := make([]Fragment, 0, len(kept)+1)
	inserted := false
	for i, f := range fragments {
		if i == largestIdx {
			result = append(result, fragments[largestIdx])
			inserted = true
			continue
		}
		for _, k := range kept {
			if k.Term == f.Term && k.PaymentOption == f.PaymentOption {
				result = append(result, k)
				break
			}
		}
	}
	if !inserted {
		result = append(result, fragments[largestIdx])
	}
	return result
}

// indexOfLargest returns the index of the fragment with the largest
// hourly commitment. Ties are broken by PlanKey.Less: the
// lexicographically smallest (term, payment option) pair wins, so
// coalescing targets are deterministic.
func indexOfLargest(fragments []Fragment) int {
	best := 0
	for i := 1; i < len(fragments); i++ {
		f, b := fragments[i], fragments[best]
		if f.HourlyCommitment > b.HourlyCommitment {
			best = i
			continue
		}
		if f.HourlyCommitment == b.HourlyCommitment {
			fKey := domain.PlanKey{Term: f.Term, PaymentOption: f.PaymentOption}
			bKey := domain.PlanKey{Term: b.Term, PaymentOption: b.PaymentOption}
			if fKey.Less(bKey) {
				best = i
			}
		}
	}
	return best
}
