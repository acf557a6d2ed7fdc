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

package coverage

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextdoor/sp-autopilot/pkg/aws"
	"github.com/nextdoor/sp-autopilot/pkg/domain"
)

func TestCurrent_NoExpiringPlansReturnsRawCoverage(t *testing.T) {
	client := aws.NewMockClient()
	client.Coverage = domain.CoverageSnapshot{domain.CategoryCompute: 60}
	client.OnDemandEquivalent = map[domain.Category]float64{domain.CategoryCompute: 1000}

	calc := New(client, logr.Discard())
	snapshot, err := calc.Current(context.Background(), time.Now(), 14, []domain.Category{domain.CategoryCompute})
	require.NoError(t, err)
	assert.Equal(t, 60.0, snapshot[domain.CategoryCompute])
}

func TestCurrent_SubtractsExpiringPlanContribution(t *testing.T) {
	now := time.Now()
	client := aws.NewMockClient()
	client.Coverage = domain.CoverageSnapshot{domain.CategoryCompute: 60}
	client.OnDemandEquivalent = map[domain.Category]float64{domain.CategoryCompute: 336} // 14 days * 24h * $1/hr
	client.ExistingPlans = []aws.ExistingPlan{
		{Category: domain.CategoryCompute, EndDate: now.Add(5 * 24 * time.Hour), HourlyCommitment: 1},
	}

	calc := New(client, logr.Discard())
	snapshot, err := calc.Current(context.Background(), now, 14, []domain.Category{domain.CategoryCompute})
	require.NoError(t, err)
	// expiring spend = 1 * 336 = 336, / 336 * 100 = 100pp subtracted, floored at 0.
	assert.Equal(t, 0.0, snapshot[domain.CategoryCompute])
}

func TestCurrent_IgnoresPlansOutsideRenewalWindow(t *testing.T) {
	now := time.Now()
	client := aws.NewMockClient()
	client.Coverage = domain.CoverageSnapshot{domain.CategoryCompute: 60}
	client.OnDemandEquivalent = map[domain.Category]float64{domain.CategoryCompute: 1000}
	client.ExistingPlans = []aws.ExistingPlan{
		{Category: domain.CategoryCompute, EndDate: now.Add(90 * 24 * time.Hour), HourlyCommitment: 5},
	}

	calc := New(client, logr.Discard())
	snapshot, err := calc.Current(context.Background(), now, 14, []domain.Category{domain.CategoryCompute})
	require.NoError(t, err)
	assert.Equal(t, 60.0, snapshot[domain.CategoryCompute])
}

func TestCurrent_MissingDenominatorDefaultsToZero(t *testing.T) {
	client := aws.NewMockClient()
	client.Coverage = domain.CoverageSnapshot{domain.CategoryCompute: 60}
	client.OnDemandEquivalent = map[domain.Category]float64{}

	calc := New(client, logr.Discard())
	snapshot, err := calc.Current(context.Background(), time.Now(), 14, []domain.Category{domain.CategoryCompute})
	require.NoError(t, err)
	assert.Equal(t, 0.0, snapshot[domain.CategoryCompute])
}

func TestDenominators_ReturnsOnDemandEquivalentPerCategory(t *testing.T) {
	client := aws.NewMockClient()
	client.OnDemandEquivalent = map[domain.Category]float64{domain.CategoryCompute: 500}

	calc := New(client, logr.Discard())
	denominators, err := calc.Denominators(context.Background(), time.Now(), 14, []domain.Category{domain.CategoryCompute})
	require.NoError(t, err)
	assert.Equal(t, 500.0, denominators[domain.CategoryCompute])
}

func TestCurrent_PropagatesCoverageFetchError(t *testing.T) {
	client := aws.NewMockClient()
	client.CoverageErr = assert.AnError

	calc := New(client, logr.Discard())
	_, err := calc.Current(context.Background(), time.Now(), 14, []domain.Category{domain.CategoryCompute})
	require.Error(t, err)
}
