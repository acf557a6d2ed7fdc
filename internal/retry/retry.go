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

// Package retry provides exponential backoff for the Coverage
// Calculator's and Recommendation Fetcher's outbound API calls. It is
// deliberately not used by the Purchaser's vendor purchase call: a
// failed purchase attempt must surface immediately as failed(error) so
// the queue's visibility timeout - not an in-process loop - governs
// the next attempt (§4.7 step 4e).
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
)

// Config configures backoff behavior for a single retried operation.
type Config struct {
	// MaxAttempts is the maximum number of attempts (default: 3).
	MaxAttempts int

	// InitialDelay is the delay before the first retry (default: 1s).
	InitialDelay time.Duration

	// MaxDelay caps the delay even with exponential backoff
	// (default: 10s).
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (default: 2.0).
	Multiplier float64
}

// DefaultConfig returns sensible defaults for a coverage or
// recommendation API call: a handful of quick retries rather than the
// long, patient backoff appropriate for a background reconciler, since
// a Scheduler run has its own wall-clock deadline (§4.8) to respect.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// WithBackoff executes operation, retrying on error up to
// config.MaxAttempts times with exponential backoff.
func WithBackoff(
	ctx context.Context,
	config Config,
	log logr.Logger,
	operationName string,
	operation func() error,
) error {
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 1 {
				log.Info("operation succeeded after retries", "operation", operationName, "attempts", attempt)
			}
			return nil
		}

		if attempt == config.MaxAttempts {
			return fmt.Errorf("%s failed after %d attempts: %w", operationName, config.MaxAttempts, err)
		}

		log.Error(err, "operation failed, retrying", "operation", operationName, "attempt", attempt, "next_retry_delay", delay)

		select {
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * config.Multiplier)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s failed after %d attempts", operationName, config.MaxAttempts)
}
