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
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/savingsplans"
	sptypes "github.com/aws/aws-sdk-go-v2/service/savingsplans/types"

	"github.com/nextdoor/sp-autopilot/pkg/domain"
)

// purchaseClient wraps the Savings Plans service for the "describe
// existing plans" and "execute a purchase" halves of the cloud-provider
// adapter (§6.1). It is region-agnostic - Savings Plans is a global
// resource - so it is constructed once from the caller's resolved
// credentials.
type purchaseClient struct {
	client *savingsplans.Client
}

func newPurchaseClient(cfg aws.Config) *purchaseClient {
	return &purchaseClient{client: savingsplans.NewFromConfig(cfg)}
}

// savingsPlanTypeFor maps a pipeline category to the Savings Plans
// SavingsPlanType enum used by DescribeSavingsPlans/offerings. See
// savingsPlansTypeFor in coverage.go for the same mapping against the
// Cost Explorer enum (the two services use distinct but equivalent
// type sets).
func savingsPlanTypeFor(category domain.Category) sptypes.SavingsPlanType {
	switch category {
	case domain.CategoryCompute:
		return sptypes.SavingsPlanTypeCompute
	case domain.CategoryDatabase:
		return sptypes.SavingsPlanTypeEc2Instance
	case domain.CategorySagemaker:
		return sptypes.SavingsPlanTypeSagemaker
	default:
		return ""
	}
}

func categoryForSavingsPlanType(t sptypes.SavingsPlanType) (domain.Category, bool) {
	switch t {
	case sptypes.SavingsPlanTypeCompute:
		return domain.CategoryCompute, true
	case sptypes.SavingsPlanTypeEc2Instance:
		return domain.CategoryDatabase, true
	case sptypes.SavingsPlanTypeSagemaker:
		return domain.CategorySagemaker, true
	default:
		return "", false
	}
}

func spPlanPaymentOptionFor(paymentOption domain.PaymentOption) sptypes.SavingsPlanPaymentOption {
	switch paymentOption {
	case domain.PaymentAllUpfront:
		return sptypes.SavingsPlanPaymentOptionAllUpfront
	case domain.PaymentPartialUpfront:
		return sptypes.SavingsPlanPaymentOptionPartialUpfront
	default:
		return sptypes.SavingsPlanPaymentOptionNoUpfront
	}
}

func spDurationSeconds(term domain.Term) int64 {
	const secondsPerYear = 365 * 24 * 60 * 60
	if term == domain.Term3Year {
		return 3 * secondsPerYear
	}
	return secondsPerYear
}

// describeSavingsPlans lists existing plans, converting the vendor's
// SavingsPlanType into a pipeline Category. A plan whose type does not
// map to a recognized category is skipped rather than erroring the
// whole call - an unrecognized vendor type should not block coverage
// accounting for the categories this pipeline does understand.
func (c *purchaseClient) describeSavingsPlans(ctx context.Context, filterActive bool) ([]ExistingPlan, error) {
	var states []sptypes.SavingsPlanState
	if filterActive {
		states = []sptypes.SavingsPlanState{sptypes.SavingsPlanStateActive}
	}

	input := &savingsplans.DescribeSavingsPlansInput{States: states}
	var plans []ExistingPlan

	for {
		output, err := c.client.DescribeSavingsPlans(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("describe savings plans: %w", err)
		}
		for _, sp := range output.SavingsPlans {
			category, ok := categoryForSavingsPlanType(sp.SavingsPlanType)
			if !ok {
				continue
			}
			end, err := time.Parse(time.RFC3339, aws.ToString(sp.End))
			if err != nil {
				continue
			}
			commitment, err := parseCommitment(sp.Commitment)
			if err != nil {
				continue
			}
			plans = append(plans, ExistingPlan{
				Category:         category,
				EndDate:          end,
				HourlyCommitment: commitment,
			})
		}
		if output.NextToken == nil {
			break
		}
		input.NextToken = output.NextToken
	}

	return plans, nil
}

func parseCommitment(s *string) (float64, error) {
	if s == nil {
		return 0, fmt.Errorf("nil commitment")
	}
	var v float64
	_, err := fmt.Sscanf(*s, "%f", &v)
	return v, err
}

// createSavingsPlan finds a matching offering for the requested
// category/term/payment-option and purchases hourlyCommitment against
// it, passing idempotencyToken through as the vendor client token so a
// replayed request is recognized rather than double-charged.
func (c *purchaseClient) createSavingsPlan(ctx context.Context, offering Offering, hourlyCommitment float64, upfrontFraction float64, idempotencyToken string, tags map[string]string) (PurchaseResult, error) {
	offeringID, err := c.findOfferingID(ctx, offering)
	if err != nil {
		return PurchaseResult{}, domain.NewPurchaseError("offering_lookup_failed", err)
	}

	input := &savingsplans.CreateSavingsPlanInput{
		SavingsPlanOfferingId: aws.String(offeringID),
		Commitment:            aws.String(fmt.Sprintf("%.4f", hourlyCommitment)),
		ClientToken:           aws.String(idempotencyToken),
		Tags:                  tags,
	}
	if upfrontFraction > 0 {
		upfrontAmount := hourlyCommitment * float64(spDurationSeconds(offering.Term)) / 3600 * upfrontFraction
		input.UpfrontPaymentAmount = aws.String(fmt.Sprintf("%.2f", upfrontAmount))
	}

	output, err := c.client.CreateSavingsPlan(ctx, input)
	if err != nil {
		return PurchaseResult{}, domain.NewPurchaseError("create_savings_plan_failed", err)
	}

	return PurchaseResult{PlanID: aws.ToString(output.SavingsPlanId)}, nil
}

// findOfferingID resolves the single vendor offering matching the
// requested category, term and payment option. Savings Plans offerings
// are keyed by product properties rather than an idempotent name, so a
// purchase must look one up immediately before buying.
func (c *purchaseClient) findOfferingID(ctx context.Context, offering Offering) (string, error) {
	input := &savingsplans.DescribeSavingsPlansOfferingsInput{
		PlanTypes:      []sptypes.SavingsPlanType{savingsPlanTypeFor(offering.Category)},
		Durations:      []int64{spDurationSeconds(offering.Term)},
		PaymentOptions: []sptypes.SavingsPlanPaymentOption{spPlanPaymentOptionFor(offering.PaymentOption)},
	}

	output, err := c.client.DescribeSavingsPlansOfferings(ctx, input)
	if err != nil {
		return "", fmt.Errorf("describe savings plans offerings: %w", err)
	}
	if len(output.SearchResults) == 0 {
		return "", fmt.Errorf("no offering found for category=%s term=%s payment=%s", offering.Category, offering.Term, offering.PaymentOption)
	}

	return aws.ToString(output.SearchResults[0].OfferingId), nil
}
