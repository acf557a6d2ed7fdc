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

// Package coverage implements the Coverage Calculator (§4.1, C1): the
// "effective coverage" figure both the Scheduler and the Purchaser
// build their decisions on.
package coverage

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/nextdoor/sp-autopilot/pkg/aws"
	"github.com/nextdoor/sp-autopilot/pkg/domain"
	"github.com/nextdoor/sp-autopilot/pkg/metrics"
)

// Calculator computes effective, renewal-adjusted coverage from the
// cloud-provider adapter's raw coverage and existing-plan data.
type Calculator struct {
	client aws.Client
	log    logr.Logger

	// Metrics is optional; when nil, observations are simply not
	// recorded. Callers that want denominator-missing counts set it
	// directly after construction.
	Metrics *metrics.Metrics
}

// New returns a Calculator bound to client.
func New(client aws.Client, log logr.Logger) *Calculator {
	return &Calculator{client: client, log: log.WithValues("component", "coverage")}
}

// Current computes effective coverage for each of categories as of
// snapshotTime: raw coverage minus the contribution of every active
// plan expiring within windowDays, floored at 0 (§4.1).
func (c *Calculator) Current(ctx context.Context, snapshotTime time.Time, windowDays int, categories []domain.Category) (domain.CoverageSnapshot, error) {
	rawCoverage, onDemandEquivalent, err := c.client.GetSavingsPlansCoverage(ctx, snapshotTime, windowDays, categories)
	if err != nil {
		return nil, err
	}

	plans, err := c.client.DescribeSavingsPlans(ctx, true)
	if err != nil {
		return nil, err
	}

	expiringHourlyByCategory := make(map[domain.Category]float64, len(categories))
	for _, plan := range plans {
		if plan.EndDate.Sub(snapshotTime) > time.Duration(windowDays)*24*time.Hour {
			continue
		}
		if plan.EndDate.Before(snapshotTime) {
			continue
		}
		expiringHourlyByCategory[plan.Category] += plan.HourlyCommitment
	}

	result := make(domain.CoverageSnapshot, len(categories))
	for _, category := range categories {
		raw := rawCoverage[category]
		denominator := onDemandEquivalent[category]

		if denominator <= 0 {
			// §4.1 policy: no/zero denominator means "no data", not an
			// error. Coverage defaults to 0 for this category and a
			// diagnostic is logged so a silent zero is still visible.
			c.log.Info("coverage denominator missing or zero, defaulting to 0", "category", category)
			if c.Metrics != nil {
				c.Metrics.RecordDenominatorMissing(string(category))
			}
			result[category] = 0
			continue
		}

		// Convert the expiring plans' hourly commitment into the spend
		// they would represent over the same window the coverage
		// percentage was computed from, so both sides of the
		// subtraction are in the same units.
		windowHours := float64(windowDays) * 24
		expiringSpend := expiringHourlyByCategory[category] * windowHours
		expiringPct := domain.Clip(expiringSpend / denominator * 100)
		effective := raw - expiringPct
		if effective < 0 {
			effective = 0
		}
		result[category] = domain.Clip(effective)
	}

	return result, nil
}

// Denominators returns the on-demand-equivalent denominator Current
// uses internally to convert an expiring plan's hourly commitment into
// a percentage-point contribution. The Purchaser needs the same
// conversion for a single incoming intent, so it calls this directly
// rather than duplicating the formula against a figure it has no other
// way to obtain.
func (c *Calculator) Denominators(ctx context.Context, snapshotTime time.Time, windowDays int, categories []domain.Category) (map[domain.Category]float64, error) {
	_, onDemandEquivalent, err := c.client.GetSavingsPlansCoverage(ctx, snapshotTime, windowDays, categories)
	if err != nil {
		return nil, err
	}
	return onDemandEquivalent, nil
}
