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
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-logr/logr"

	"github.com/nextdoor/sp-autopilot/pkg/domain"
)

const defaultCallTimeout = 30 * time.Second

// realClient is the production implementation of Client. It binds a
// single set of credentials - either the ambient identity or, when
// AssumeRoleARN is configured, a cross-account role assumed once at
// construction time - to the Cost Explorer and Savings Plans clients.
//
// Unlike a multi-account controller, this pipeline manages exactly one
// account per run, so there is no per-account client cache: the
// coverage, recommendation, and purchase clients are each built once
// and reused for the lifetime of the run.
type realClient struct {
	callTimeout time.Duration
	coverage    *coverageClient
	purchase    *purchaseClient
}

// newRealClient resolves credentials (assuming AssumeRoleARN if set)
// and constructs the Cost Explorer and Savings Plans clients bound to
// them.
func newRealClient(ctx context.Context, cfg Config) (*realClient, error) {
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	region := cfg.DefaultRegion
	if region == "" {
		region = "us-east-1"
	}

	ambientCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil { // coverage:ignore - AWS SDK config loading errors are difficult to trigger in unit tests
		return nil, domain.NewConfigError("failed to load AWS SDK config: %v", err)
	}

	creds := ambientCfg.Credentials
	if cfg.AssumeRoleARN != "" {
		creds = assumeRoleCredentials(ambientCfg, cfg.AssumeRoleARN)
		if _, err := creds.Retrieve(ctx); err != nil {
			return nil, domain.NewAssumeRoleError(cfg.AssumeRoleARN, err)
		}
	}

	boundCfg := ambientCfg.Copy()
	boundCfg.Credentials = creds

	log := cfg.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	coverage := newCoverageClient(boundCfg, log)
	purchase := newPurchaseClient(boundCfg)

	return &realClient{
		callTimeout: callTimeout,
		coverage:    coverage,
		purchase:    purchase,
	}, nil
}

// assumeRoleCredentials returns a credentials provider that assumes
// roleARN from the ambient identity in ambientCfg, wrapped in a
// CredentialsCache so it transparently refreshes before expiration
// instead of failing mid-run with "Request has expired".
func assumeRoleCredentials(ambientCfg aws.Config, roleARN string) aws.CredentialsProvider {
	stsClient := sts.NewFromConfig(ambientCfg)
	provider := stscreds.NewAssumeRoleProvider(stsClient, roleARN,
		func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "sp-autopilot"
		})
	return aws.NewCredentialsCache(provider)
}

func (c *realClient) GetSavingsPlansCoverage(ctx context.Context, snapshotTime time.Time, windowDays int, categories []domain.Category) (domain.CoverageSnapshot, map[domain.Category]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.coverage.getCoverage(ctx, snapshotTime, windowDays, categories)
}

func (c *realClient) GetSavingsPlansPurchaseRecommendation(ctx context.Context, category domain.Category, lookbackDays int, term domain.Term, paymentOption domain.PaymentOption) (*domain.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.coverage.getRecommendation(ctx, category, lookbackDays, term, paymentOption)
}

func (c *realClient) DescribeSavingsPlans(ctx context.Context, filterActive bool) ([]ExistingPlan, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.purchase.describeSavingsPlans(ctx, filterActive)
}

func (c *realClient) CreateSavingsPlan(ctx context.Context, offering Offering, hourlyCommitment float64, upfrontFraction float64, idempotencyToken string, tags map[string]string) (PurchaseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.purchase.createSavingsPlan(ctx, offering, hourlyCommitment, upfrontFraction, idempotencyToken, tags)
}
