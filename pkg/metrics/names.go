/*
Copyright 2025 Lumina Contributors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

// This file exports metric name constants for use by external consumers
// (dashboards, alerting rules) that need to reference sp-autopilot
// metrics programmatically.

const (
	// MetricPurchasesTotal counts executed (successful) purchases by run
	// type, category, term and payment option. Skips and failures are
	// counted by MetricSkippedTotal and MetricFailedTotal.
	// Type: Counter
	// Labels: run_type, category, term, payment_option
	MetricPurchasesTotal = "spautopilot_purchases_total"

	// MetricSkippedTotal counts skipped purchase intents by reason.
	// Type: Counter
	// Labels: category, skip_reason
	MetricSkippedTotal = "spautopilot_purchases_skipped_total"

	// MetricFailedTotal counts failed purchase attempts by vendor error
	// code.
	// Type: Counter
	// Labels: category, error_code
	MetricFailedTotal = "spautopilot_purchases_failed_total"

	// MetricCoveragePercent is the most recently observed coverage
	// percentage per category.
	// Type: Gauge
	// Labels: category
	MetricCoveragePercent = "spautopilot_coverage_percent"

	// MetricCoverageDenominatorMissingTotal counts coverage calculations
	// that fell back to 0 because the vendor returned a missing or zero
	// on-demand-equivalent denominator.
	// Type: Counter
	// Labels: category
	MetricCoverageDenominatorMissingTotal = "spautopilot_coverage_denominator_missing_total"

	// MetricRunDurationSeconds measures end-to-end wall-clock duration
	// of a single Scheduler or Purchaser run.
	// Type: Histogram
	// Labels: run_type
	MetricRunDurationSeconds = "spautopilot_run_duration_seconds"
)
