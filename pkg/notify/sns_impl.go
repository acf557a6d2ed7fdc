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
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/nextdoor/sp-autopilot/pkg/domain"
)

// SNSNotifier is the production Notifier implementation, publishing to
// a single configured topic ARN.
type SNSNotifier struct {
	client   *sns.Client
	topicARN string
}

// NewSNSNotifier returns a Notifier bound to the given SNS topic ARN.
func NewSNSNotifier(client *sns.Client, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

func (n *SNSNotifier) Publish(ctx context.Context, subject, bodyText string) error {
	_, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(bodyText),
	})
	if err != nil {
		return domain.NewNotificationError(err)
	}
	return nil
}

var _ Notifier = (*SNSNotifier)(nil)

// subjectMaxLen is SNS's hard limit on the Subject field; longer
// summaries are truncated rather than rejected outright, since a
// notification delivered with a truncated subject is strictly better
// than a run that fails at the final reporting step.
const subjectMaxLen = 100

// TruncateSubject clips s to SNS's subject length limit.
func TruncateSubject(s string) string {
	if len(s) <= subjectMaxLen {
		return s
	}
	return fmt.Sprintf("%s...", s[:subjectMaxLen-3])
}
