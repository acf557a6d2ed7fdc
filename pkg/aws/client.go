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

// Package aws binds the cloud-provider adapter (§6.1) to the AWS SDK v2:
// Cost Explorer for coverage and recommendations, Savings Plans for
// describing existing plans and executing purchases, and STS for the
// optional cross-account AssumeRole hop. Everything the core pipeline
// depends on is expressed as the Client interface below; realClient is
// the only production implementation.
package aws

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/nextdoor/sp-autopilot/pkg/domain"
)

// ExistingPlan is a currently-known Savings Plan, as returned by
// DescribeSavingsPlans.
type ExistingPlan struct {
	Category         domain.Category
	EndDate          time.Time
	HourlyCommitment float64
}

// Offering identifies the product a purchase targets: a category plus
// the (term, payment option) pair being bought.
type Offering struct {
	Category      domain.Category
	Term          domain.Term
	PaymentOption domain.PaymentOption
}

// PurchaseResult is what the vendor returns from a successful purchase.
type PurchaseResult struct {
	PlanID string
}

// Client is the cloud-provider adapter the core pipeline depends on.
// Any concrete implementation is non-core; realClient is the only one
// used outside of tests.
type Client interface {
	// GetSavingsPlansCoverage returns, for each requested category, the
	// coverage percentage and the on-demand-equivalent dollar amount
	// observed over the window ending at snapshotTime.
	GetSavingsPlansCoverage(ctx context.Context, snapshotTime time.Time, windowDays int, categories []domain.Category) (domain.CoverageSnapshot, map[domain.Category]float64, error)

	// GetSavingsPlansPurchaseRecommendation returns the vendor's
	// recommended hourly commitment for category, or nil if the vendor
	// has no recommendation (e.g. insufficient usage history).
	GetSavingsPlansPurchaseRecommendation(ctx context.Context, category domain.Category, lookbackDays int, term domain.Term, paymentOption domain.PaymentOption) (*domain.Recommendation, error)

	// DescribeSavingsPlans lists existing plans. When filterActive is
	// true, only plans in the vendor's "active" state are returned.
	DescribeSavingsPlans(ctx context.Context, filterActive bool) ([]ExistingPlan, error)

	// CreateSavingsPlan executes a purchase. idempotencyToken is passed
	// through to the vendor call so a replayed request is recognized
	// and does not charge twice.
	CreateSavingsPlan(ctx context.Context, offering Offering, hourlyCommitment float64, upfrontFraction float64, idempotencyToken string, tags map[string]string) (PurchaseResult, error)
}

// Config configures client creation.
type Config struct {
	// DefaultRegion is the region used for regional clients. Cost
	// Explorer and Savings Plans calls always target us-east-1
	// regardless of this setting, per the vendor's API requirements.
	DefaultRegion string

	// AssumeRoleARN, if set, is assumed from the ambient identity
	// before any coverage, recommendation, or purchase call.
	AssumeRoleARN string

	// CallTimeout bounds each individual outbound API call.
	// Default: 30 seconds.
	CallTimeout time.Duration

	// Log receives retry and diagnostic messages from the coverage and
	// recommendation calls. Defaults to a discarding logger.
	Log logr.Logger
}

// NewClient creates a production Client bound to real AWS APIs. The
// returned client is acquired once at process start and passed down the
// call graph; it is never held as a package global.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	return newRealClient(ctx, cfg)
}
