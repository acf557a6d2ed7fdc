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

package pipeline_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"

	"github.com/nextdoor/sp-autopilot/pkg/aws"
	"github.com/nextdoor/sp-autopilot/pkg/config"
	"github.com/nextdoor/sp-autopilot/pkg/domain"
	"github.com/nextdoor/sp-autopilot/pkg/notify"
	"github.com/nextdoor/sp-autopilot/pkg/queue"
	"github.com/nextdoor/sp-autopilot/pkg/strategy"

	"github.com/nextdoor/sp-autopilot/internal/purchaser"
	"github.com/nextdoor/sp-autopilot/internal/scheduler"
)

func baseConfig() *config.Config {
	return &config.Config{
		AccountID:             "123456789012",
		CoverageTargetPercent: 80,
		MaxCoverageCap:        90,
		LookbackDays:          30,
		MinDataDays:           14,
		RenewalWindowDays:     7,
		PurchaseBatchSize:     10,
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

var _ = Describe("Scheduler and Purchaser handoff", func() {
	var (
		cfg      *config.Config
		client   *aws.MockClient
		q        *queue.MockQueue
		notifier *notify.MockNotifier
	)

	BeforeEach(func() {
		cfg = baseConfig()
		client = aws.NewMockClient()
		q = queue.NewMockQueue()
		notifier = notify.NewMockNotifier()
	})

	When("the Scheduler enqueues an intent below the coverage target", func() {
		BeforeEach(func() {
			client.Coverage = domain.CoverageSnapshot{domain.CategoryCompute: 50}
			client.OnDemandEquivalent = map[domain.Category]float64{domain.CategoryCompute: 16800} // 10*168/16800*100 = 10pp
			client.Recommendations[domain.CategoryCompute] = &domain.Recommendation{
				Category: domain.CategoryCompute, HourlyCommitment: 10, RecommendationID: "rec-1",
			}
		})

		It("produces a message the Purchaser can dequeue and execute against the same client", func() {
			s := scheduler.New(cfg, client, q, notifier, logr.Discard())
			schedSummary, err := s.RunAt(context.Background(), time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(schedSummary.Intents).To(HaveLen(1))
			Expect(q.Len()).To(Equal(1))

			p := purchaser.New(cfg, client, q, notifier, logr.Discard())
			purchSummary, err := p.RunAt(context.Background(), time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(purchSummary.Outcomes).To(HaveLen(1))
			Expect(purchSummary.Outcomes[0].Kind).To(Equal(domain.OutcomeSuccess))
			Expect(client.CreateSavingsPlanCalls).To(HaveLen(1))
			Expect(client.CreateSavingsPlanCalls[0].Offering.Category).To(Equal(domain.CategoryCompute))
			Expect(q.Len()).To(Equal(0), "a successful purchase deletes its message")
		})
	})

	When("the Purchaser re-validates the cap against live coverage the Scheduler didn't see", func() {
		BeforeEach(func() {
			client.Coverage = domain.CoverageSnapshot{domain.CategoryCompute: 50}
			client.OnDemandEquivalent = map[domain.Category]float64{domain.CategoryCompute: 16800} // 10*168/16800*100 = 10pp
			client.Recommendations[domain.CategoryCompute] = &domain.Recommendation{
				Category: domain.CategoryCompute, HourlyCommitment: 10, RecommendationID: "rec-1",
			}
		})

		It("skips the dequeued intent once live coverage has since crossed the cap", func() {
			s := scheduler.New(cfg, client, q, notifier, logr.Discard())
			_, err := s.RunAt(context.Background(), time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(q.Len()).To(Equal(1))

			// Coverage moved past the cap between the Scheduler run and the
			// Purchaser run - e.g. another account process bought in between.
			client.Coverage = domain.CoverageSnapshot{domain.CategoryCompute: 95}

			p := purchaser.New(cfg, client, q, notifier, logr.Discard())
			summary, err := p.RunAt(context.Background(), time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Outcomes).To(HaveLen(1))
			Expect(summary.Outcomes[0].Kind).To(Equal(domain.OutcomeSkipped))
			Expect(summary.Outcomes[0].SkipReason).To(Equal(domain.SkipCapExceeded))
			Expect(client.CreateSavingsPlanCalls).To(BeEmpty())
		})
	})

	When("the vendor purchase call fails", func() {
		BeforeEach(func() {
			client.Coverage = domain.CoverageSnapshot{domain.CategoryCompute: 50}
			client.OnDemandEquivalent = map[domain.Category]float64{domain.CategoryCompute: 16800} // 10*168/16800*100 = 10pp
			client.Recommendations[domain.CategoryCompute] = &domain.Recommendation{
				Category: domain.CategoryCompute, HourlyCommitment: 10, RecommendationID: "rec-1",
			}
			client.CreateSavingsPlanFn = func(aws.Offering, float64, float64, string, map[string]string) (aws.PurchaseResult, error) {
				return aws.PurchaseResult{}, domain.NewPurchaseError("limit_exceeded", errors.New("vendor rejected the purchase"))
			}
		})

		It("leaves the message queued for redelivery instead of deleting it", func() {
			s := scheduler.New(cfg, client, q, notifier, logr.Discard())
			_, err := s.RunAt(context.Background(), time.Now())
			Expect(err).NotTo(HaveOccurred())

			p := purchaser.New(cfg, client, q, notifier, logr.Discard())
			summary, err := p.RunAt(context.Background(), time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Outcomes[0].Kind).To(Equal(domain.OutcomeFailed))
			Expect(summary.Outcomes[0].Error).To(Equal("limit_exceeded"))
			Expect(q.InFlightLen()).To(Equal(1), "failed purchases stay undeleted for the next attempt")
		})
	})
})
