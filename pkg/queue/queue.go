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

// Package queue binds the Queue Protocol (§4.5, §6.2) - the durable
// handoff between the Scheduler and the Purchaser - to Amazon SQS.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nextdoor/sp-autopilot/pkg/domain"
)

// Mode selects how EnqueueAll treats intents already sitting in the
// queue from a prior Scheduler run.
type Mode string

const (
	// ModeReplace purges the queue before enqueueing, so this run's
	// intents fully supersede whatever the previous run left behind.
	ModeReplace Mode = "replace"
	// ModeAppend enqueues without purging, for when prior intents are
	// still under review and should not be discarded.
	ModeAppend Mode = "append"
)

// Message is one dequeued intent, carrying the vendor receipt handle
// needed to delete it once processed.
type Message struct {
	Receipt string
	Intent  domain.PurchaseIntent
}

// Queue is the Queue Protocol interface the core pipeline depends on.
// Any concrete implementation is non-core; SQSQueue is the only
// production implementation.
type Queue interface {
	// EnqueueAll sends every intent as a separate message, purging first
	// when mode is ModeReplace. Each message's deduplication id is the
	// intent's idempotency token, so a Scheduler re-run that recomputes
	// an identical intent does not create a duplicate durable entry.
	EnqueueAll(ctx context.Context, intents []domain.PurchaseIntent, mode Mode) error

	// ReceiveBatch returns up to max pending messages, each invisible to
	// further ReceiveBatch calls for visibilityTimeout unless deleted
	// first.
	ReceiveBatch(ctx context.Context, max int32, visibilityTimeout time.Duration) ([]Message, error)

	// Delete removes a message the caller has finished processing.
	Delete(ctx context.Context, receipt string) error

	// Purge discards every message currently in the queue.
	Purge(ctx context.Context) error
}

// messageBody is the wire shape of one queued intent, mirroring §3.4.
// Field names are explicit JSON tags rather than relying on Go's
// default casing, since this body is a durable cross-run contract.
type messageBody struct {
	Category               string    `json:"category"`
	HourlyCommitment       float64   `json:"hourly_commitment"`
	Term                   string    `json:"term"`
	PaymentOption          string    `json:"payment_option"`
	UpfrontFraction        float64   `json:"upfront_fraction"`
	ProjectedCoverageAfter float64   `json:"projected_coverage_after"`
	IdempotencyToken       string    `json:"idempotency_token"`
	CreatedAt              time.Time `json:"created_at"`
	SourceRecommendationID string    `json:"source_recommendation_id"`
}

func encodeIntent(intent domain.PurchaseIntent) ([]byte, error) {
	return json.Marshal(messageBody{
		Category:               string(intent.Category),
		HourlyCommitment:       intent.HourlyCommitment,
		Term:                   string(intent.Term),
		PaymentOption:          string(intent.PaymentOption),
		UpfrontFraction:        intent.UpfrontFraction,
		ProjectedCoverageAfter: intent.ProjectedCoverageAfter,
		IdempotencyToken:       intent.IdempotencyToken,
		CreatedAt:              intent.CreatedAt,
		SourceRecommendationID: intent.SourceRecommendationID,
	})
}

// decodeIntent parses a raw message body into a PurchaseIntent. The
// caller is still responsible for Validate()-ing the result: a body
// that is not valid JSON is rejected here with a ValidationError, while
// a well-formed but stale or out-of-range message decodes successfully
// here and fails validation, per §4.7 step 4a.
func decodeIntent(body []byte) (domain.PurchaseIntent, error) {
	var wire messageBody
	if err := json.Unmarshal(body, &wire); err != nil {
		return domain.PurchaseIntent{}, domain.NewValidationError(err)
	}
	return domain.PurchaseIntent{
		Category:               domain.Category(wire.Category),
		HourlyCommitment:       wire.HourlyCommitment,
		Term:                   domain.Term(wire.Term),
		PaymentOption:          domain.PaymentOption(wire.PaymentOption),
		UpfrontFraction:        wire.UpfrontFraction,
		ProjectedCoverageAfter: wire.ProjectedCoverageAfter,
		IdempotencyToken:       wire.IdempotencyToken,
		CreatedAt:              wire.CreatedAt,
		SourceRecommendationID: wire.SourceRecommendationID,
	}, nil
}
