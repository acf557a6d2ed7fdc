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

// Package scheduler implements the Scheduler Orchestrator (§4.6, C6):
// the run that decides what to buy and queues it for the Purchaser to
// execute.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/nextdoor/sp-autopilot/pkg/aws"
	"github.com/nextdoor/sp-autopilot/pkg/config"
	"github.com/nextdoor/sp-autopilot/pkg/domain"
	"github.com/nextdoor/sp-autopilot/pkg/metrics"
	"github.com/nextdoor/sp-autopilot/pkg/notify"
	"github.com/nextdoor/sp-autopilot/pkg/queue"
	"github.com/nextdoor/sp-autopilot/pkg/splitter"
	"github.com/nextdoor/sp-autopilot/pkg/strategy"

	"github.com/nextdoor/sp-autopilot/internal/coverage"
	"github.com/nextdoor/sp-autopilot/internal/recommend"
)

// Scheduler runs one Scheduler Orchestrator cycle.
type Scheduler struct {
	Config    *config.Config
	Client    aws.Client
	Queue     queue.Queue
	Notifier  notify.Notifier
	Coverage  *coverage.Calculator
	Recommend *recommend.Fetcher
	Log       logr.Logger

	// Metrics is optional; when nil, run observations are simply not
	// recorded. cmd/main.go sets it once at startup.
	Metrics *metrics.Metrics
}

// New wires a Scheduler from its already-constructed dependencies.
func New(cfg *config.Config, client aws.Client, q queue.Queue, notifier notify.Notifier, log logr.Logger) *Scheduler {
	return &Scheduler{
		Config:    cfg,
		Client:    client,
		Queue:     q,
		Notifier:  notifier,
		Coverage:  coverage.New(client, log),
		Recommend: recommend.New(client, log),
		Log:       log.WithValues("component", "scheduler"),
	}
}

// SetMetrics wires m into the Scheduler and its Coverage Calculator so
// every Record call has somewhere to go. Called once at startup;
// tests that don't care about metrics can leave this unset.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.Metrics = m
	s.Coverage.Metrics = m
}

// Summary describes one Scheduler run for the outbound notification
// and for tests.
type Summary struct {
	DryRun       bool
	QueuedCount  int
	Intents      []domain.PurchaseIntent
	SkippedZero  []domain.Category // categories with a recommendation that produced no purchase
	NoRecommend  []domain.Category // categories with no recommendation at all
}

// Run executes one Scheduler cycle as of time.Now().
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	return s.RunAt(ctx, time.Now())
}

// RunAt executes one Scheduler cycle as of the given snapshot time.
// Exposed separately from Run so tests can drive the orchestrator with
// a fixed clock.
func (s *Scheduler) RunAt(ctx context.Context, snapshotTime time.Time) (Summary, error) {
	start := time.Now()
	defer func() {
		if s.Metrics != nil {
			s.Metrics.ObserveRunDuration(metrics.RunTypeScheduler, time.Since(start))
		}
	}()

	categories := s.Config.EnabledCategories()
	if len(categories) == 0 {
		return Summary{}, fmt.Errorf("no enabled categories configured")
	}

	currentCoverage, recommendations, err := s.gatherInputs(ctx, snapshotTime, categories)
	if err != nil {
		return Summary{}, err
	}

	if s.Metrics != nil {
		for category, pct := range currentCoverage {
			s.Metrics.RecordCoverage(string(category), pct)
		}
	}

	summary := Summary{}
	runEpochMonth := domain.RunEpochMonth(snapshotTime)

	for _, category := range categories {
		rec := recommendations[category]
		if rec == nil {
			summary.NoRecommend = append(summary.NoRecommend, category)
			continue
		}

		intents, err := s.decideForCategory(category, currentCoverage[category], rec, runEpochMonth, snapshotTime)
		if err != nil {
			return Summary{}, fmt.Errorf("category %s: %w", category, err)
		}
		if len(intents) == 0 {
			summary.SkippedZero = append(summary.SkippedZero, category)
			continue
		}
		summary.Intents = append(summary.Intents, intents...)
	}

	summary.DryRun = s.Config.DryRun
	if s.Config.DryRun {
		return s.finishDryRun(ctx, summary)
	}
	return s.finishLive(ctx, summary)
}

// gatherInputs launches the Coverage Calculator and Recommendation
// Fetcher concurrently and awaits both (§4.6 step 3).
func (s *Scheduler) gatherInputs(ctx context.Context, snapshotTime time.Time, categories []domain.Category) (domain.CoverageSnapshot, map[domain.Category]*domain.Recommendation, error) {
	type coverageResult struct {
		snapshot domain.CoverageSnapshot
		err      error
	}

	coverageCh := make(chan coverageResult, 1)
	go func() {
		snapshot, err := s.Coverage.Current(ctx, snapshotTime, s.Config.RenewalWindowDays, categories)
		coverageCh <- coverageResult{snapshot: snapshot, err: err}
	}()

	mixes := make(map[domain.Category]splitter.Mix, len(categories))
	for _, category := range categories {
		mix, err := s.Config.CategoryMix(category)
		if err != nil {
			return nil, nil, fmt.Errorf("category %s: %w", category, err)
		}
		mixes[category] = mix
	}
	recommendations := s.Recommend.FetchAll(ctx, s.Config.LookbackDays, s.Config.MinDataDays, mixes)

	result := <-coverageCh
	if result.err != nil {
		return nil, nil, result.err
	}

	return result.snapshot, recommendations, nil
}

// decideForCategory applies the Purchase Strategy, the cap-check
// clamp, and the Portfolio Splitter for one category (§4.6 step 4).
func (s *Scheduler) decideForCategory(category domain.Category, currentPct float64, rec *domain.Recommendation, runEpochMonth string, createdAt time.Time) ([]domain.PurchaseIntent, error) {
	hourlyToPurchase := strategy.Decide(s.Config.Strategy, currentPct, s.Config.CoverageTargetPercent, s.Config.MaxCoverageCap, rec.HourlyCommitment)
	if hourlyToPurchase <= 0 {
		return nil, nil
	}

	// Cap-check projection: the hourly commitment is treated as
	// directly comparable to a percentage-point delta, the same
	// simplification the Purchase Strategy itself uses internally.
	projected := currentPct + hourlyToPurchase
	if projected > s.Config.MaxCoverageCap {
		headroom := s.Config.MaxCoverageCap - currentPct
		if headroom <= 0 {
			return nil, nil
		}
		hourlyToPurchase = headroom
		projected = s.Config.MaxCoverageCap
	}
	if hourlyToPurchase <= 0 {
		return nil, nil
	}

	mix, err := s.Config.CategoryMix(category)
	if err != nil {
		return nil, err
	}

	catCfg := s.Config.Categories[string(category)]
	fragments := splitter.Split(category, hourlyToPurchase, mix, catCfg.PartialUpfrontPercent, splitter.MinFragmentHourly)

	intents := make([]domain.PurchaseIntent, 0, len(fragments))
	for _, fragment := range fragments {
		token := domain.IdempotencyToken(category, fragment.Term, fragment.PaymentOption, fragment.HourlyCommitment, rec.RecommendationID, runEpochMonth)
		intents = append(intents, domain.PurchaseIntent{
			Category:               category,
			HourlyCommitment:       fragment.HourlyCommitment,
			Term:                   fragment.Term,
			PaymentOption:          fragment.PaymentOption,
			UpfrontFraction:        fragment.UpfrontFraction,
			ProjectedCoverageAfter: projected,
			IdempotencyToken:       token,
			CreatedAt:              createdAt,
			SourceRecommendationID: rec.RecommendationID,
		})
	}

	return intents, nil
}

func (s *Scheduler) finishDryRun(ctx context.Context, summary Summary) (Summary, error) {
	s.Log.Info("dry run: intents computed but not enqueued", "intent_count", len(summary.Intents))
	if err := s.notify(ctx, summary); err != nil {
		s.Log.Error(err, "failed to send dry-run notification")
	}
	return summary, nil
}

func (s *Scheduler) finishLive(ctx context.Context, summary Summary) (Summary, error) {
	mode := queue.Mode(s.Config.QueueMode)

	if len(summary.Intents) > 0 {
		if err := s.Queue.EnqueueAll(ctx, summary.Intents, mode); err != nil {
			return summary, fmt.Errorf("enqueue intents: %w", err)
		}
		summary.QueuedCount = len(summary.Intents)
	} else if mode == queue.ModeReplace {
		// A replace-mode run that decided to buy nothing still must
		// supersede whatever the previous run left queued.
		if err := s.Queue.Purge(ctx); err != nil {
			return summary, fmt.Errorf("purge queue: %w", err)
		}
	}

	if summary.QueuedCount == 0 && !s.Config.SendNoAction {
		return summary, nil
	}

	if err := s.notify(ctx, summary); err != nil {
		s.Log.Error(err, "failed to send run summary notification")
	}
	return summary, nil
}

func (s *Scheduler) notify(ctx context.Context, summary Summary) error {
	subject := "sp-autopilot scheduler run"
	if summary.DryRun {
		subject = "sp-autopilot scheduler run (dry run)"
	}
	body := summaryText(summary)
	return s.Notifier.Publish(ctx, notify.TruncateSubject(subject), body)
}

func summaryText(summary Summary) string {
	if len(summary.Intents) == 0 {
		return "no purchase intents were generated this run"
	}
	text := fmt.Sprintf("%d purchase intent(s) generated", len(summary.Intents))
	if summary.DryRun {
		text += " (dry run: not enqueued)"
	}
	for _, intent := range summary.Intents {
		text += fmt.Sprintf("\n- %s %s/%s: %.4f/hr (projected coverage %.2f%%)",
			intent.Category, intent.Term, intent.PaymentOption, intent.HourlyCommitment, intent.ProjectedCoverageAfter)
	}
	return text
}
