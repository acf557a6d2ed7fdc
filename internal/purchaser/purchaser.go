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

// Package purchaser implements the Purchaser Orchestrator (§4.7, C7):
// the run that dequeues PurchaseIntents and executes them against the
// vendor, one at a time, re-validating the coverage cap before every
// individual purchase.
package purchaser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/nextdoor/sp-autopilot/pkg/aws"
	"github.com/nextdoor/sp-autopilot/pkg/config"
	"github.com/nextdoor/sp-autopilot/pkg/domain"
	"github.com/nextdoor/sp-autopilot/pkg/metrics"
	"github.com/nextdoor/sp-autopilot/pkg/notify"
	"github.com/nextdoor/sp-autopilot/pkg/queue"

	"github.com/nextdoor/sp-autopilot/internal/coverage"
)

// defaultVisibilityTimeout is how long a received message is hidden
// from further ReceiveBatch calls before it is eligible for redelivery.
// A failed purchase deliberately leaves its message undeleted so the
// queue's own visibility timeout drives the next attempt (§4.7 step
// 4e); this pipeline has no separate in-process retry for purchases.
const defaultVisibilityTimeout = 5 * time.Minute

// Purchaser runs one Purchaser Orchestrator cycle.
type Purchaser struct {
	Config   *config.Config
	Client   aws.Client
	Queue    queue.Queue
	Notifier notify.Notifier
	Coverage *coverage.Calculator
	Log      logr.Logger

	// Metrics is optional; when nil, run observations are simply not
	// recorded. cmd/main.go sets it once at startup.
	Metrics *metrics.Metrics
}

// New wires a Purchaser from its already-constructed dependencies.
func New(cfg *config.Config, client aws.Client, q queue.Queue, notifier notify.Notifier, log logr.Logger) *Purchaser {
	return &Purchaser{
		Config:   cfg,
		Client:   client,
		Queue:    q,
		Notifier: notifier,
		Coverage: coverage.New(client, log),
		Log:      log.WithValues("component", "purchaser"),
	}
}

// SetMetrics wires m into the Purchaser and its Coverage Calculator so
// every Record call has somewhere to go. Called once at startup;
// tests that don't care about metrics can leave this unset.
func (p *Purchaser) SetMetrics(m *metrics.Metrics) {
	p.Metrics = m
	p.Coverage.Metrics = m
}

// Summary describes one Purchaser run for the outbound notification
// and for tests.
type Summary struct {
	Outcomes        []domain.PurchaseOutcome
	PostRunCoverage domain.CoverageSnapshot
}

// Run executes one Purchaser cycle as of time.Now().
func (p *Purchaser) Run(ctx context.Context) (Summary, error) {
	return p.RunAt(ctx, time.Now())
}

// RunAt executes one Purchaser cycle as of the given snapshot time. Any
// error is, per §4.7 step 6, also surfaced as a notification (when
// configured) before being returned so the caller can still mark the
// invocation failed.
func (p *Purchaser) RunAt(ctx context.Context, now time.Time) (summary Summary, err error) {
	start := time.Now()
	defer func() {
		if p.Metrics != nil {
			p.Metrics.ObserveRunDuration(metrics.RunTypePurchaser, time.Since(start))
		}
	}()
	defer func() {
		if err != nil && p.Config.NotifyOnError {
			if notifyErr := p.Notifier.Publish(ctx, notify.TruncateSubject("sp-autopilot purchaser run failed"), err.Error()); notifyErr != nil {
				p.Log.Error(notifyErr, "failed to send error notification")
			}
		}
	}()

	messages, err := p.Queue.ReceiveBatch(ctx, int32(p.Config.PurchaseBatchSize), defaultVisibilityTimeout)
	if err != nil {
		return Summary{}, fmt.Errorf("receive batch: %w", err)
	}
	if len(messages) == 0 {
		p.Log.Info("no messages to process")
		return Summary{}, nil
	}

	categories := p.Config.EnabledCategories()
	liveCurrent, err := p.Coverage.Current(ctx, now, p.Config.RenewalWindowDays, categories)
	if err != nil {
		return Summary{}, fmt.Errorf("compute live coverage: %w", err)
	}
	denominators, err := p.Coverage.Denominators(ctx, now, p.Config.RenewalWindowDays, categories)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch coverage denominators: %w", err)
	}

	for _, msg := range messages {
		outcome := p.processOne(ctx, msg, liveCurrent, denominators)
		summary.Outcomes = append(summary.Outcomes, outcome)
	}
	summary.PostRunCoverage = liveCurrent
	if p.Metrics != nil {
		for category, pct := range liveCurrent {
			p.Metrics.RecordCoverage(string(category), pct)
		}
	}

	if notifyErr := p.notifySummary(ctx, summary); notifyErr != nil {
		p.Log.Error(notifyErr, "failed to send run summary notification")
	}

	return summary, nil
}

// processOne handles a single dequeued message per §4.7 step 4.
// liveCurrent is mutated in place on success so the next message in the
// batch sees the updated baseline, preventing the batch from
// collectively overshooting the cap.
func (p *Purchaser) processOne(ctx context.Context, msg queue.Message, liveCurrent domain.CoverageSnapshot, denominators map[domain.Category]float64) domain.PurchaseOutcome {
	intent := msg.Intent
	log := p.Log.WithValues("category", intent.Category)

	if err := intent.Validate(); err != nil {
		log.Info("discarding invalid purchase intent", "reason", err.Error())
		p.deleteMessage(ctx, msg.Receipt)
		p.recordSkip(intent.Category, domain.SkipInvalid)
		return domain.PurchaseOutcome{Intent: intent, Kind: domain.OutcomeSkipped, SkipReason: domain.SkipInvalid}
	}

	denominator := denominators[intent.Category]
	if denominator <= 0 && p.Metrics != nil {
		p.Metrics.RecordDenominatorMissing(string(intent.Category))
	}
	contribution := contributionOf(intent.HourlyCommitment, p.Config.RenewalWindowDays, denominator)
	projected := liveCurrent[intent.Category] + contribution
	if projected > p.Config.MaxCoverageCap {
		log.Info("skipping purchase, projected coverage exceeds cap", "projected", projected, "cap", p.Config.MaxCoverageCap)
		p.deleteMessage(ctx, msg.Receipt)
		p.recordSkip(intent.Category, domain.SkipCapExceeded)
		return domain.PurchaseOutcome{Intent: intent, Kind: domain.OutcomeSkipped, SkipReason: domain.SkipCapExceeded}
	}

	offering := aws.Offering{Category: intent.Category, Term: intent.Term, PaymentOption: intent.PaymentOption}
	tags := map[string]string{"source_recommendation_id": intent.SourceRecommendationID}
	result, err := p.Client.CreateSavingsPlan(ctx, offering, intent.HourlyCommitment, intent.UpfrontFraction, intent.IdempotencyToken, tags)
	if err != nil {
		log.Error(err, "vendor purchase failed, leaving message queued for retry")
		code := purchaseErrorCode(err)
		if p.Metrics != nil {
			p.Metrics.RecordFailure(string(intent.Category), code)
		}
		return domain.PurchaseOutcome{Intent: intent, Kind: domain.OutcomeFailed, Error: code}
	}

	p.deleteMessage(ctx, msg.Receipt)
	liveCurrent[intent.Category] = projected
	if p.Metrics != nil {
		p.Metrics.RecordPurchase(metrics.RunTypePurchaser, string(intent.Category), string(intent.Term), string(intent.PaymentOption))
	}
	return domain.PurchaseOutcome{Intent: intent, Kind: domain.OutcomeSuccess, PlanID: result.PlanID}
}

func (p *Purchaser) recordSkip(category domain.Category, reason domain.SkipReason) {
	if p.Metrics != nil {
		p.Metrics.RecordSkip(string(category), string(reason))
	}
}

func (p *Purchaser) deleteMessage(ctx context.Context, receipt string) {
	if err := p.Queue.Delete(ctx, receipt); err != nil {
		p.Log.Error(err, "failed to delete processed message, it will be redelivered", "receipt", receipt)
	}
}

// contributionOf converts an hourly commitment into the percentage
// points it would contribute to coverage over windowDays, using the
// same on-demand-equivalent denominator and window-hours conversion the
// Coverage Calculator uses for expiring plans.
func contributionOf(hourlyCommitment float64, windowDays int, denominator float64) float64 {
	if denominator <= 0 {
		return 0
	}
	windowHours := float64(windowDays) * 24
	return domain.Clip(hourlyCommitment * windowHours / denominator * 100)
}

// purchaseErrorCode extracts the short classification code from a
// vendor purchase failure, redacting the underlying vendor message from
// the recorded outcome per §4.7 step 5.
func purchaseErrorCode(err error) string {
	var purchaseErr *domain.PurchaseError
	if errors.As(err, &purchaseErr) {
		return purchaseErr.Code
	}
	return "unknown"
}

func (p *Purchaser) notifySummary(ctx context.Context, summary Summary) error {
	return p.Notifier.Publish(ctx, notify.TruncateSubject("sp-autopilot purchaser run"), summaryText(summary))
}

func summaryText(summary Summary) string {
	var succeeded, skipped, failed int
	text := ""
	for _, o := range summary.Outcomes {
		switch o.Kind {
		case domain.OutcomeSuccess:
			succeeded++
			text += fmt.Sprintf("\n- %s %s/%s: purchased (plan %s)", o.Intent.Category, o.Intent.Term, o.Intent.PaymentOption, o.PlanID)
		case domain.OutcomeSkipped:
			skipped++
			text += fmt.Sprintf("\n- %s %s/%s: skipped (%s)", o.Intent.Category, o.Intent.Term, o.Intent.PaymentOption, o.SkipReason)
		case domain.OutcomeFailed:
			failed++
			text += fmt.Sprintf("\n- %s %s/%s: failed (%s)", o.Intent.Category, o.Intent.Term, o.Intent.PaymentOption, o.Error)
		}
	}

	header := fmt.Sprintf("%d succeeded, %d skipped, %d failed", succeeded, skipped, failed)
	for category, pct := range summary.PostRunCoverage {
		header += fmt.Sprintf("\npost-run coverage %s: %.2f%%", category, pct)
	}
	return header + text
}
