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

package notify

import (
	"context"
	"sync"
)

// Published records one MockNotifier.Publish call.
type Published struct {
	Subject  string
	BodyText string
}

// MockNotifier is an in-memory Notifier test double.
type MockNotifier struct {
	mu sync.Mutex

	Err       error
	Published []Published
}

// NewMockNotifier returns an empty MockNotifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (n *MockNotifier) Publish(_ context.Context, subject, bodyText string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Published = append(n.Published, Published{Subject: subject, BodyText: bodyText})
	return nil
}

var _ Notifier = (*MockNotifier)(nil)
