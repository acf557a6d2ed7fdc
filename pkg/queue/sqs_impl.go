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

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/nextdoor/sp-autopilot/pkg/domain"
)

// SQSQueue is the production Queue implementation, backed by a FIFO SQS
// queue plus a vendor-configured dead-letter queue for messages that
// repeatedly fail to process. FIFO dedup is used so that a re-run
// which recomputes an identical intent (same idempotency token) within
// the vendor's five-minute dedup window is coalesced at the queue
// itself rather than only at the purchase API.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSQueue returns a Queue bound to the given SQS queue URL.
func NewSQSQueue(client *sqs.Client, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL}
}

// EnqueueAll sends every intent as its own SendMessage call. SQS has no
// batch API call that returns per-message dedup semantics cleanly
// alongside partial failure, and a Scheduler run typically enqueues a
// handful of fragments (one per enabled category's portfolio split), so
// the simplicity of one call per message outweighs the batching
// opportunity.
func (q *SQSQueue) EnqueueAll(ctx context.Context, intents []domain.PurchaseIntent, mode Mode) error {
	if mode == ModeReplace {
		if err := q.Purge(ctx); err != nil {
			return fmt.Errorf("purge before replace: %w", err)
		}
	}

	// All fragments from a single run share one message group: ordering
	// is not required (§4.5), but a stable group id keeps each run's
	// messages visible to FIFO consumers as a single logical batch
	// rather than scattered across unrelated groups.
	runGroupID := uuid.NewString()

	for _, intent := range intents {
		body, err := encodeIntent(intent)
		if err != nil {
			return fmt.Errorf("encode intent for category %s: %w", intent.Category, err)
		}

		input := &sqs.SendMessageInput{
			QueueUrl:               aws.String(q.queueURL),
			MessageBody:            aws.String(string(body)),
			MessageDeduplicationId: aws.String(intent.IdempotencyToken),
			MessageGroupId:         aws.String(runGroupID),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"idempotency_token": {
					DataType:    aws.String("String"),
					StringValue: aws.String(intent.IdempotencyToken),
				},
			},
		}
		if _, err := q.client.SendMessage(ctx, input); err != nil {
			return fmt.Errorf("send message for category %s: %w", intent.Category, err)
		}
	}

	return nil
}

// ReceiveBatch long-polls for up to max messages. A zero-length result
// with a nil error is a valid, common outcome: the Purchaser treats an
// empty queue as "nothing to do" rather than an error (§4.7 step 2).
func (q *SQSQueue) ReceiveBatch(ctx context.Context, max int32, visibilityTimeout time.Duration) ([]Message, error) {
	output, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: max,
		VisibilityTimeout:   int32(visibilityTimeout.Seconds()),
		WaitTimeSeconds:     10,
	})
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	messages := make([]Message, 0, len(output.Messages))
	for _, raw := range output.Messages {
		intent, err := decodeIntent([]byte(aws.ToString(raw.Body)))
		if err != nil {
			// A message that cannot even be decoded still surfaces so
			// the Purchaser can delete it and record skipped(invalid)
			// rather than have it block the queue forever.
			intent = domain.PurchaseIntent{}
		}
		messages = append(messages, Message{
			Receipt: aws.ToString(raw.ReceiptHandle),
			Intent:  intent,
		})
	}

	return messages, nil
}

// Delete removes a message the Purchaser has finished processing
// (successfully purchased or rejected as invalid/over-cap).
func (q *SQSQueue) Delete(ctx context.Context, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Purge discards every message currently in the queue. SQS enforces a
// 60-second cooldown between purges; a purge attempted during the
// cooldown surfaces as an error rather than being silently retried,
// since a replace-mode Scheduler run should fail loudly rather than
// leave stale intents alongside new ones.
func (q *SQSQueue) Purge(ctx context.Context) error {
	_, err := q.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{
		QueueUrl: aws.String(q.queueURL),
	})
	if err != nil {
		return fmt.Errorf("purge queue: %w", err)
	}
	return nil
}

var _ Queue = (*SQSQueue)(nil)
