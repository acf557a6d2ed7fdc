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

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewMetrics verifies that NewMetrics creates all expected metrics
// and registers them with the provided registry.
func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	assert.NotNil(t, m.PurchasesTotal)
	assert.NotNil(t, m.SkippedTotal)
	assert.NotNil(t, m.FailedTotal)
	assert.NotNil(t, m.CoveragePercent)
	assert.NotNil(t, m.CoverageDenominatorMissingTotal)
	assert.NotNil(t, m.RunDurationSeconds)

	// Vec metrics don't appear in Gather() until a label combination
	// has been set.
	m.RecordPurchase(RunTypePurchaser, "compute", "1yr", "no_upfront")
	m.RecordSkip("compute", "cap_exceeded")
	m.RecordFailure("compute", "throttled")
	m.RecordCoverage("compute", 42.5)
	m.RecordDenominatorMissing("compute")
	m.ObserveRunDuration(RunTypeScheduler, 1500*time.Millisecond)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, metricFamilies, 6)

	metricNames := make(map[string]bool)
	for _, mf := range metricFamilies {
		metricNames[mf.GetName()] = true
	}

	expectedMetrics := []string{
		MetricPurchasesTotal,
		MetricSkippedTotal,
		MetricFailedTotal,
		MetricCoveragePercent,
		MetricCoverageDenominatorMissingTotal,
		MetricRunDurationSeconds,
	}
	for _, name := range expectedMetrics {
		assert.True(t, metricNames[name], "metric %s should be registered", name)
	}
}

// TestNewMetrics_DoubleRegistration verifies that attempting to
// register metrics twice with the same registry panics (expected
// Prometheus behavior).
func TestNewMetrics_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewMetrics(reg)

	assert.Panics(t, func() {
		_ = NewMetrics(reg)
	}, "double registration should panic")
}

func TestRecordPurchase(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordPurchase(RunTypePurchaser, "compute", "1yr", "no_upfront")
	m.RecordPurchase(RunTypePurchaser, "compute", "1yr", "no_upfront")

	value := testutil.ToFloat64(m.PurchasesTotal.With(prometheus.Labels{
		LabelRunType:       RunTypePurchaser,
		LabelCategory:      "compute",
		LabelTerm:          "1yr",
		LabelPaymentOption: "no_upfront",
	}))
	assert.Equal(t, 2.0, value)
}

func TestRecordSkip(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordSkip("compute", "cap_exceeded")

	value := testutil.ToFloat64(m.SkippedTotal.With(prometheus.Labels{
		LabelCategory:   "compute",
		LabelSkipReason: "cap_exceeded",
	}))
	assert.Equal(t, 1.0, value)
}

func TestRecordFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordFailure("compute", "throttled")

	value := testutil.ToFloat64(m.FailedTotal.With(prometheus.Labels{
		LabelCategory:  "compute",
		LabelErrorCode: "throttled",
	}))
	assert.Equal(t, 1.0, value)
}

func TestRecordCoverage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordCoverage("compute", 37.5)

	value := testutil.ToFloat64(m.CoveragePercent.With(prometheus.Labels{LabelCategory: "compute"}))
	assert.Equal(t, 37.5, value)

	// A later observation replaces the gauge rather than accumulating.
	m.RecordCoverage("compute", 40)
	value = testutil.ToFloat64(m.CoveragePercent.With(prometheus.Labels{LabelCategory: "compute"}))
	assert.Equal(t, 40.0, value)
}

func TestRecordDenominatorMissing(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordDenominatorMissing("compute")
	m.RecordDenominatorMissing("compute")
	m.RecordDenominatorMissing("database")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CoverageDenominatorMissingTotal.With(prometheus.Labels{LabelCategory: "compute"})))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CoverageDenominatorMissingTotal.With(prometheus.Labels{LabelCategory: "database"})))
}

func TestObserveRunDuration_Buckets(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRunDuration(RunTypeScheduler, 400*time.Millisecond)
	m.ObserveRunDuration(RunTypeScheduler, 2*time.Second)
	m.ObserveRunDuration(RunTypeScheduler, 45*time.Second)

	expected := `
		# HELP spautopilot_run_duration_seconds Wall-clock duration of a single Scheduler or Purchaser run, in seconds.
		# TYPE spautopilot_run_duration_seconds histogram
		spautopilot_run_duration_seconds_bucket{run_type="scheduler",le="0.5"} 1
		spautopilot_run_duration_seconds_bucket{run_type="scheduler",le="1"} 1
		spautopilot_run_duration_seconds_bucket{run_type="scheduler",le="2.5"} 2
		spautopilot_run_duration_seconds_bucket{run_type="scheduler",le="5"} 2
		spautopilot_run_duration_seconds_bucket{run_type="scheduler",le="10"} 2
		spautopilot_run_duration_seconds_bucket{run_type="scheduler",le="30"} 2
		spautopilot_run_duration_seconds_bucket{run_type="scheduler",le="60"} 3
		spautopilot_run_duration_seconds_bucket{run_type="scheduler",le="120"} 3
		spautopilot_run_duration_seconds_bucket{run_type="scheduler",le="300"} 3
		spautopilot_run_duration_seconds_bucket{run_type="scheduler",le="+Inf"} 3
		spautopilot_run_duration_seconds_sum{run_type="scheduler"} 47.4
		spautopilot_run_duration_seconds_count{run_type="scheduler"} 3
	`
	err := testutil.CollectAndCompare(m.RunDurationSeconds, strings.NewReader(expected))
	assert.NoError(t, err)
}

// TestMetricNaming verifies all metrics follow Prometheus naming
// conventions and carry the sp-autopilot prefix.
func TestMetricNaming(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordPurchase(RunTypePurchaser, "compute", "1yr", "no_upfront")
	m.RecordSkip("compute", "cap_exceeded")
	m.RecordFailure("compute", "throttled")
	m.RecordCoverage("compute", 1)
	m.RecordDenominatorMissing("compute")
	m.ObserveRunDuration(RunTypeScheduler, time.Second)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range metricFamilies {
		name := mf.GetName()
		assert.True(t, strings.HasPrefix(name, "spautopilot_"), "metric %s should have spautopilot_ prefix", name)
		assert.Equal(t, strings.ToLower(name), name, "metric %s should be lowercase", name)
		assert.NotContains(t, name, "-", "metric %s should not contain hyphens", name)
		assert.NotEmpty(t, mf.GetHelp(), "metric %s should have help text", name)
	}
}
