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
	"sync"
	"time"

	"github.com/nextdoor/sp-autopilot/pkg/domain"
)

// MockClient is a test double for Client. Every return value is
// pre-seeded by the test; call counts are tracked per operation so
// tests can assert on fan-out behavior (e.g. one recommendation call
// per category) without a real AWS endpoint.
type MockClient struct {
	mu sync.Mutex

	Coverage            domain.CoverageSnapshot
	OnDemandEquivalent  map[domain.Category]float64
	CoverageErr         error
	Recommendations     map[domain.Category]*domain.Recommendation
	RecommendationErrs  map[domain.Category]error
	ExistingPlans       []ExistingPlan
	DescribeErr         error
	CreateSavingsPlanFn func(offering Offering, hourlyCommitment, upfrontFraction float64, idempotencyToken string, tags map[string]string) (PurchaseResult, error)

	CoverageCalls          int
	RecommendationCalls    map[domain.Category]int
	DescribeCalls          int
	CreateSavingsPlanCalls []CreateSavingsPlanCall
}

// CreateSavingsPlanCall records one invocation of CreateSavingsPlan for
// assertions in tests.
type CreateSavingsPlanCall struct {
	Offering         Offering
	HourlyCommitment float64
	UpfrontFraction  float64
	IdempotencyToken string
	Tags             map[string]string
}

// NewMockClient returns a MockClient with empty seed data; tests set the
// fields they need before exercising the code under test.
func NewMockClient() *MockClient {
	return &MockClient{
		Coverage:            domain.CoverageSnapshot{},
		OnDemandEquivalent:  map[domain.Category]float64{},
		Recommendations:     map[domain.Category]*domain.Recommendation{},
		RecommendationErrs:  map[domain.Category]error{},
		RecommendationCalls: map[domain.Category]int{},
	}
}

func (m *MockClient) GetSavingsPlansCoverage(_ context.Context, _ time.Time, _ int, categories []domain.Category) (domain.CoverageSnapshot, map[domain.Category]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CoverageCalls++
	if m.CoverageErr != nil {
		return nil, nil, m.CoverageErr
	}
	snapshot := make(domain.CoverageSnapshot, len(categories))
	onDemand := make(map[domain.Category]float64, len(categories))
	for _, category := range categories {
		snapshot[category] = m.Coverage[category]
		onDemand[category] = m.OnDemandEquivalent[category]
	}
	return snapshot, onDemand, nil
}

func (m *MockClient) GetSavingsPlansPurchaseRecommendation(_ context.Context, category domain.Category, _ int, _ domain.Term, _ domain.PaymentOption) (*domain.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecommendationCalls[category]++
	if err, ok := m.RecommendationErrs[category]; ok && err != nil {
		return nil, err
	}
	return m.Recommendations[category], nil
}

func (m *MockClient) DescribeSavingsPlans(_ context.Context, filterActive bool) ([]ExistingPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DescribeCalls++
	if m.DescribeErr != nil {
		return nil, m.DescribeErr
	}
	if !filterActive {
		return m.ExistingPlans, nil
	}
	var active []ExistingPlan
	now := time.Now()
	for _, p := range m.ExistingPlans {
		if p.EndDate.After(now) {
			active = append(active, p)
		}
	}
	return active, nil
}

func (m *MockClient) CreateSavingsPlan(_ context.Context, offering Offering, hourlyCommitment, upfrontFraction float64, idempotencyToken string, tags map[string]string) (PurchaseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateSavingsPlanCalls = append(m.CreateSavingsPlanCalls, CreateSavingsPlanCall{
		Offering:         offering,
		HourlyCommitment: hourlyCommitment,
		UpfrontFraction:  upfrontFraction,
		IdempotencyToken: idempotencyToken,
		Tags:             tags,
	})
	if m.CreateSavingsPlanFn != nil {
		return m.CreateSavingsPlanFn(offering, hourlyCommitment, upfrontFraction, idempotencyToken, tags)
	}
	return PurchaseResult{PlanID: "sp-mock-" + idempotencyToken[:8]}, nil
}

var _ Client = (*MockClient)(nil)
