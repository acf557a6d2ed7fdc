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

// Package notify binds the Notification adapter (§6.3) - the
// Scheduler's and Purchaser's outbound summary channel - to Amazon
// SNS. Templating and transport beyond "publish this subject and body"
// are external to the core pipeline.
package notify

import "context"

// Notifier is the Notification adapter interface the core pipeline
// depends on.
type Notifier interface {
	// Publish sends subject/bodyText as a single notification. A
	// publish failure is always logged by the caller and never masks
	// the original condition (run summary, error) that triggered it.
	Publish(ctx context.Context, subject, bodyText string) error
}
