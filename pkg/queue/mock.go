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
	"sync"
	"time"

	"github.com/nextdoor/sp-autopilot/pkg/domain"
)

// MockQueue is an in-memory Queue test double. Messages are stored in
// arrival order; ReceiveBatch hands out the front of the list and
// marks handed-out messages as in-flight until Delete is called, so
// tests can exercise visibility-timeout-style redelivery by simply not
// calling Delete.
type MockQueue struct {
	mu       sync.Mutex
	seq      int
	pending  []mockMessage
	inFlight map[string]mockMessage

	EnqueueErr error
	ReceiveErr error
	DeleteErr  error
	PurgeErr   error

	PurgeCalls int
}

type mockMessage struct {
	receipt string
	intent  domain.PurchaseIntent
}

// NewMockQueue returns an empty MockQueue.
func NewMockQueue() *MockQueue {
	return &MockQueue{inFlight: map[string]mockMessage{}}
}

func (q *MockQueue) EnqueueAll(_ context.Context, intents []domain.PurchaseIntent, mode Mode) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.EnqueueErr != nil {
		return q.EnqueueErr
	}
	if mode == ModeReplace {
		q.pending = nil
	}
	for _, intent := range intents {
		q.seq++
		q.pending = append(q.pending, mockMessage{
			receipt: fmt.Sprintf("receipt-%d", q.seq),
			intent:  intent,
		})
	}
	return nil
}

func (q *MockQueue) ReceiveBatch(_ context.Context, max int32, _ time.Duration) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ReceiveErr != nil {
		return nil, q.ReceiveErr
	}

	n := int(max)
	if n > len(q.pending) {
		n = len(q.pending)
	}

	batch := q.pending[:n]
	q.pending = q.pending[n:]

	messages := make([]Message, 0, n)
	for _, m := range batch {
		q.inFlight[m.receipt] = m
		messages = append(messages, Message{Receipt: m.receipt, Intent: m.intent})
	}
	return messages, nil
}

func (q *MockQueue) Delete(_ context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.DeleteErr != nil {
		return q.DeleteErr
	}
	delete(q.inFlight, receipt)
	return nil
}

func (q *MockQueue) Purge(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.PurgeCalls++
	if q.PurgeErr != nil {
		return q.PurgeErr
	}
	q.pending = nil
	q.inFlight = map[string]mockMessage{}
	return nil
}

// Len reports the number of messages still pending (not yet received).
func (q *MockQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InFlightLen reports the number of received messages that have not been
// deleted.
func (q *MockQueue) InFlightLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

var _ Queue = (*MockQueue)(nil)
