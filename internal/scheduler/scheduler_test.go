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

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextdoor/sp-autopilot/pkg/aws"
	"github.com/nextdoor/sp-autopilot/pkg/config"
	"github.com/nextdoor/sp-autopilot/pkg/domain"
	"github.com/nextdoor/sp-autopilot/pkg/notify"
	"github.com/nextdoor/sp-autopilot/pkg/queue"
	"github.com/nextdoor/sp-autopilot/pkg/strategy"
)

func baseConfig() *config.Config {
	return &config.Config{
		AccountID:             "123456789012",
		CoverageTargetPercent: 80,
		MaxCoverageCap:        90,
		LookbackDays:          30,
		MinDataDays:           14,
		RenewalWindowDays:     7,
		QueueMode:             config.QueueModeReplace,
		Strategy: strategy.Config{
			Variant:            strategy.VariantFixed,
			MaxPurchasePercent: 100,
		},
		Categories: map[string]config.CategoryConfig{
			"compute": {
				Enabled: true,
				Mix:     map[string]float64{"1-year/no-upfront": 1},
			},
		},
	}
}

func newScheduler(t *testing.T, cfg *config.Config, client aws.Client, q queue.Queue, notifier notify.Notifier) *Scheduler {
	t.Helper()
	return New(cfg, client, q, notifier, logr.Discard())
}

func TestRunAt_EnqueuesIntentWhenBelowTarget(t *testing.T) {
	cfg := baseConfig()
	client := aws.NewMockClient()
	client.Coverage = domain.CoverageSnapshot{domain.CategoryCompute: 50}
	client.OnDemandEquivalent = map[domain.Category]float64{domain.CategoryCompute: 1000}
	client.Recommendations[domain.CategoryCompute] = &domain.Recommendation{
		Category: domain.CategoryCompute, HourlyCommitment: 10, RecommendationID: "rec-1",
	}

	q := queue.NewMockQueue()
	notifier := notify.NewMockNotifier()
	s := newScheduler(t, cfg, client, q, notifier)

	summary, err := s.RunAt(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, summary.Intents, 1)
	assert.Equal(t, domain.CategoryCompute, summary.Intents[0].Category)
	assert.Equal(t, 10.0, summary.Intents[0].HourlyCommitment)
	assert.Equal(t, 60.0, summary.Intents[0].ProjectedCoverageAfter)
	assert.Equal(t, 1, q.Len())
	require.Len(t, notifier.Published, 1)
}

func TestRunAt_ClampsToMaxCoverageCap(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxCoverageCap = 55
	client := aws.NewMockClient()
	client.Coverage = domain.CoverageSnapshot{domain.CategoryCompute: 50}
	client.OnDemandEquivalent = map[domain.Category]float64{domain.CategoryCompute: 1000}
	client.Recommendations[domain.CategoryCompute] = &domain.Recommendation{
		Category: domain.CategoryCompute, HourlyCommitment: 10, RecommendationID: "rec-1",
	}

	q := queue.NewMockQueue()
	notifier := notify.NewMockNotifier()
	s := newScheduler(t, cfg, client, q, notifier)

	summary, err := s.RunAt(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, summary.Intents, 1)
	assert.Equal(t, 5.0, summary.Intents[0].HourlyCommitment)
	assert.Equal(t, 55.0, summary.Intents[0].ProjectedCoverageAfter)
}

func TestRunAt_DropsIntentWhenAlreadyAtCap(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxCoverageCap = 50
	cfg.CoverageTargetPercent = 40
	client := aws.NewMockClient()
	client.Coverage = domain.CoverageSnapshot{domain.CategoryCompute: 50}
	client.OnDemandEquivalent = map[domain.Category]float64{domain.CategoryCompute: 1000}
	client.Recommendations[domain.CategoryCompute] = &domain.Recommendation{
		Category: domain.CategoryCompute, HourlyCommitment: 10, RecommendationID: "rec-1",
	}

	q := queue.NewMockQueue()
	notifier := notify.NewMockNotifier()
	s := newScheduler(t, cfg, client, q, notifier)

	summary, err := s.RunAt(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, summary.Intents)
	assert.Equal(t, 0, q.Len())
}

func TestRunAt_DryRunDoesNotEnqueue(t *testing.T) {
	cfg := baseConfig()
	cfg.DryRun = true
	client := aws.NewMockClient()
	client.Coverage = domain.CoverageSnapshot{domain.CategoryCompute: 50}
	client.OnDemandEquivalent = map[domain.Category]float64{domain.CategoryCompute: 1000}
	client.Recommendations[domain.CategoryCompute] = &domain.Recommendation{
		Category: domain.CategoryCompute, HourlyCommitment: 10, RecommendationID: "rec-1",
	}

	q := queue.NewMockQueue()
	notifier := notify.NewMockNotifier()
	s := newScheduler(t, cfg, client, q, notifier)

	summary, err := s.RunAt(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, summary.Intents, 1)
	assert.Equal(t, 0, q.Len())
	require.Len(t, notifier.Published, 1)
	assert.Contains(t, notifier.Published[0].Subject, "dry run")
}

func TestRunAt_NoRecommendationSkipsCategoryWithoutNotification(t *testing.T) {
	cfg := baseConfig()
	client := aws.NewMockClient()
	client.Coverage = domain.CoverageSnapshot{domain.CategoryCompute: 50}
	client.OnDemandEquivalent = map[domain.Category]float64{domain.CategoryCompute: 1000}
	// No recommendation seeded for compute.

	q := queue.NewMockQueue()
	notifier := notify.NewMockNotifier()
	s := newScheduler(t, cfg, client, q, notifier)

	summary, err := s.RunAt(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, summary.Intents)
	assert.Equal(t, []domain.Category{domain.CategoryCompute}, summary.NoRecommend)
	assert.Empty(t, notifier.Published)
}

func TestRunAt_SendNoActionNotifiesEvenWhenEmpty(t *testing.T) {
	cfg := baseConfig()
	cfg.SendNoAction = true
	client := aws.NewMockClient()
	client.Coverage = domain.CoverageSnapshot{domain.CategoryCompute: 50}
	client.OnDemandEquivalent = map[domain.Category]float64{domain.CategoryCompute: 1000}

	q := queue.NewMockQueue()
	notifier := notify.NewMockNotifier()
	s := newScheduler(t, cfg, client, q, notifier)

	_, err := s.RunAt(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, notifier.Published, 1)
}

func TestRunAt_ReplaceModePurgesWhenNothingToEnqueue(t *testing.T) {
	cfg := baseConfig()
	client := aws.NewMockClient()
	client.Coverage = domain.CoverageSnapshot{domain.CategoryCompute: 50}
	client.OnDemandEquivalent = map[domain.Category]float64{domain.CategoryCompute: 1000}

	q := queue.NewMockQueue()
	require.NoError(t, q.EnqueueAll(context.Background(), []domain.PurchaseIntent{
		{Category: domain.CategoryCompute, HourlyCommitment: 1, Term: domain.Term1Year, PaymentOption: domain.PaymentNoUpfront, IdempotencyToken: "stale"},
	}, queue.ModeReplace))
	require.Equal(t, 1, q.Len())

	notifier := notify.NewMockNotifier()
	s := newScheduler(t, cfg, client, q, notifier)

	_, err := s.RunAt(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 1, q.PurgeCalls)
}

func TestRunAt_PropagatesCoverageFetchError(t *testing.T) {
	cfg := baseConfig()
	client := aws.NewMockClient()
	client.CoverageErr = assert.AnError

	q := queue.NewMockQueue()
	notifier := notify.NewMockNotifier()
	s := newScheduler(t, cfg, client, q, notifier)

	_, err := s.RunAt(context.Background(), time.Now())
	require.Error(t, err)
}
