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

package aws

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/go-logr/logr"

	"github.com/nextdoor/sp-autopilot/pkg/domain"

	"github.com/nextdoor/sp-autopilot/internal/retry"
)

// coverageClient wraps Cost Explorer for the coverage and recommendation
// halves of the cloud-provider adapter (§6.1). Cost Explorer is a global
// service reachable only from us-east-1, so the underlying client is
// always pinned there regardless of the caller's configured region.
type coverageClient struct {
	client *costexplorer.Client
	log    logr.Logger
}

func newCoverageClient(cfg aws.Config, log logr.Logger) *coverageClient {
	ceCfg := cfg.Copy()
	ceCfg.Region = "us-east-1"
	return &coverageClient{client: costexplorer.NewFromConfig(ceCfg), log: log}
}

// savingsPlansTypeFor maps a pipeline category to the Cost Explorer
// SavingsPlansType enum. Database rides on EC2 Instance Savings Plans
// since AWS has no distinct "database" Savings Plan family; the
// category is a portfolio-allocation concept internal to this pipeline,
// not a vendor concept.
func savingsPlansTypeFor(category domain.Category) cetypes.SupportedSavingsPlansType {
	switch category {
	case domain.CategoryCompute:
		return cetypes.SupportedSavingsPlansTypeComputeSp
	case domain.CategoryDatabase:
		return cetypes.SupportedSavingsPlansTypeEc2InstanceSp
	case domain.CategorySagemaker:
		return cetypes.SupportedSavingsPlansTypeSagemakerSp
	default:
		return ""
	}
}

func ceTermFor(term domain.Term) cetypes.SavingsPlansTermInYears {
	if term == domain.Term3Year {
		return cetypes.SavingsPlansTermInYearsThreeYears
	}
	return cetypes.SavingsPlansTermInYearsOneYear
}

func cePaymentOptionFor(paymentOption domain.PaymentOption) cetypes.PaymentOption {
	switch paymentOption {
	case domain.PaymentAllUpfront:
		return cetypes.PaymentOptionAllUpfront
	case domain.PaymentPartialUpfront:
		return cetypes.PaymentOptionPartialUpfront
	default:
		return cetypes.PaymentOptionNoUpfront
	}
}

// getCoverage fetches per-category coverage percentage and on-demand
// equivalent spend for the window ending at snapshotTime, one Cost
// Explorer call per category since GetSavingsPlansCoverage's GroupBy
// does not expose the internal category split directly.
func (c *coverageClient) getCoverage(ctx context.Context, snapshotTime time.Time, windowDays int, categories []domain.Category) (domain.CoverageSnapshot, map[domain.Category]float64, error) {
	start := snapshotTime.AddDate(0, 0, -windowDays).Format("2006-01-02")
	end := snapshotTime.Format("2006-01-02")

	snapshot := make(domain.CoverageSnapshot, len(categories))
	onDemandEquivalent := make(map[domain.Category]float64, len(categories))

	for _, category := range categories {
		input := &costexplorer.GetSavingsPlansCoverageInput{
			TimePeriod: &cetypes.DateInterval{Start: aws.String(start), End: aws.String(end)},
			Filter: &cetypes.Expression{
				Dimensions: &cetypes.DimensionValues{
					Key:    cetypes.DimensionSavingsPlansType,
					Values: []string{string(savingsPlansTypeFor(category))},
				},
			},
			Granularity: cetypes.GranularityMonthly,
		}

		var output *costexplorer.GetSavingsPlansCoverageOutput
		err := retry.WithBackoff(ctx, retry.DefaultConfig(), c.log, "get_savings_plans_coverage", func() error {
			var callErr error
			output, callErr = c.client.GetSavingsPlansCoverage(ctx, input)
			return callErr
		})
		if err != nil {
			return nil, nil, domain.NewFetchError(category, err)
		}

		percent, onDemand := parseCoverage(output)
		snapshot[category] = domain.Clip(percent)
		onDemandEquivalent[category] = onDemand
	}

	return snapshot, onDemandEquivalent, nil
}

// parseCoverage aggregates the coverage percentage across every
// returned time-series entry. With Granularity=Monthly and a window of
// a few weeks, Cost Explorer typically returns a single entry; summing
// handles the rare case of a window spanning a month boundary.
func parseCoverage(output *costexplorer.GetSavingsPlansCoverageOutput) (percent float64, onDemandEquivalent float64) {
	var totalOnDemand, totalCovered float64
	for _, row := range output.SavingsPlansCoverages {
		if row.Coverage == nil {
			continue
		}
		onDemand := parseFloatOrZero(row.Coverage.OnDemandCost)
		spend := parseFloatOrZero(row.Coverage.SpendCoveredBySavingsPlans)
		totalOnDemand += onDemand
		totalCovered += spend
	}
	if totalOnDemand+totalCovered == 0 {
		return 0, 0
	}
	return totalCovered / (totalOnDemand + totalCovered) * 100, totalOnDemand
}

func parseFloatOrZero(s *string) float64 {
	if s == nil {
		return 0
	}
	v, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return 0
	}
	return v
}

// getRecommendation fetches the vendor's recommended hourly commitment
// for category at the given term and payment option, returning nil when
// the vendor has no recommendation (e.g. insufficient usage history).
func (c *coverageClient) getRecommendation(ctx context.Context, category domain.Category, lookbackDays int, term domain.Term, paymentOption domain.PaymentOption) (*domain.Recommendation, error) {
	input := &costexplorer.GetSavingsPlansPurchaseRecommendationInput{
		SavingsPlansType:     savingsPlansTypeFor(category),
		TermInYears:          ceTermFor(term),
		PaymentOption:        cePaymentOptionFor(paymentOption),
		LookbackPeriodInDays: lookbackPeriodFor(lookbackDays),
		AccountScope:         cetypes.AccountScopeLinked,
	}

	var output *costexplorer.GetSavingsPlansPurchaseRecommendationOutput
	err := retry.WithBackoff(ctx, retry.DefaultConfig(), c.log, "get_savings_plans_purchase_recommendation", func() error {
		var callErr error
		output, callErr = c.client.GetSavingsPlansPurchaseRecommendation(ctx, input)
		return callErr
	})
	if err != nil {
		return nil, domain.NewFetchError(category, err)
	}
	if output.SavingsPlansPurchaseRecommendation == nil {
		return nil, nil
	}
	details := output.SavingsPlansPurchaseRecommendation.SavingsPlansPurchaseRecommendationDetails
	if len(details) == 0 {
		return nil, nil
	}

	hourly := parseFloatOrZero(details[0].HourlyCommitmentToPurchase)
	if hourly <= 0 {
		return nil, nil
	}

	recommendationID := ""
	if output.SavingsPlansPurchaseRecommendation.Metadata != nil {
		recommendationID = aws.ToString(output.SavingsPlansPurchaseRecommendation.Metadata.RecommendationId)
	}

	return &domain.Recommendation{
		Category:         category,
		HourlyCommitment: hourly,
		RecommendationID: recommendationID,
	}, nil
}

func lookbackPeriodFor(days int) cetypes.LookbackPeriodInDays {
	switch {
	case days <= 7:
		return cetypes.LookbackPeriodInDaysSevenDays
	case days <= 30:
		return cetypes.LookbackPeriodInDaysThirtyDays
	default:
		return cetypes.LookbackPeriodInDaysSixtyDays
	}
}
