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

// Package metrics provides the Prometheus instrumentation for a
// Scheduler or Purchaser run: purchases executed, skipped, and failed,
// the coverage observed per category, and run duration. It carries no
// state beyond the registered collectors themselves.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RunType distinguishes which orchestrator produced an observation.
const (
	RunTypeScheduler = "scheduler"
	RunTypePurchaser = "purchaser"
)

// Metrics holds every collector sp-autopilot registers.
type Metrics struct {
	PurchasesTotal                  *prometheus.CounterVec
	SkippedTotal                    *prometheus.CounterVec
	FailedTotal                     *prometheus.CounterVec
	CoveragePercent                 *prometheus.GaugeVec
	CoverageDenominatorMissingTotal *prometheus.CounterVec
	RunDurationSeconds              *prometheus.HistogramVec
}

// NewMetrics builds and registers every collector against reg. Like
// any prometheus.Registerer, it panics if reg already has a collector
// registered under one of these names.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PurchasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPurchasesTotal,
			Help: "Total number of Savings Plan purchases executed.",
		}, []string{LabelRunType, LabelCategory, LabelTerm, LabelPaymentOption}),

		SkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSkippedTotal,
			Help: "Total number of purchase intents skipped without being sent to the vendor.",
		}, []string{LabelCategory, LabelSkipReason}),

		FailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricFailedTotal,
			Help: "Total number of purchase attempts that failed at the vendor.",
		}, []string{LabelCategory, LabelErrorCode}),

		CoveragePercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricCoveragePercent,
			Help: "Most recently observed Savings Plan coverage percentage, per category.",
		}, []string{LabelCategory}),

		CoverageDenominatorMissingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCoverageDenominatorMissingTotal,
			Help: "Total number of coverage calculations that fell back to zero for want of an on-demand-equivalent denominator.",
		}, []string{LabelCategory}),

		RunDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricRunDurationSeconds,
			Help:    "Wall-clock duration of a single Scheduler or Purchaser run, in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{LabelRunType}),
	}

	reg.MustRegister(
		m.PurchasesTotal,
		m.SkippedTotal,
		m.FailedTotal,
		m.CoveragePercent,
		m.CoverageDenominatorMissingTotal,
		m.RunDurationSeconds,
	)

	return m
}

// RecordPurchase increments the purchases counter for one successful
// outcome.
func (m *Metrics) RecordPurchase(runType string, category, term, paymentOption string) {
	m.PurchasesTotal.With(prometheus.Labels{
		LabelRunType:       runType,
		LabelCategory:      category,
		LabelTerm:          term,
		LabelPaymentOption: paymentOption,
	}).Inc()
}

// RecordSkip increments the skipped counter for one category/reason
// pair.
func (m *Metrics) RecordSkip(category, reason string) {
	m.SkippedTotal.With(prometheus.Labels{
		LabelCategory:   category,
		LabelSkipReason: reason,
	}).Inc()
}

// RecordFailure increments the failed counter for one category/error
// code pair.
func (m *Metrics) RecordFailure(category, errorCode string) {
	m.FailedTotal.With(prometheus.Labels{
		LabelCategory:  category,
		LabelErrorCode: errorCode,
	}).Inc()
}

// RecordCoverage sets the current coverage gauge for a category.
func (m *Metrics) RecordCoverage(category string, percent float64) {
	m.CoveragePercent.With(prometheus.Labels{LabelCategory: category}).Set(percent)
}

// RecordDenominatorMissing increments the denominator-missing counter
// for a category.
func (m *Metrics) RecordDenominatorMissing(category string) {
	m.CoverageDenominatorMissingTotal.With(prometheus.Labels{LabelCategory: category}).Inc()
}

// ObserveRunDuration records how long a Scheduler or Purchaser run
// took.
func (m *Metrics) ObserveRunDuration(runType string, d time.Duration) {
	m.RunDurationSeconds.With(prometheus.Labels{LabelRunType: runType}).Observe(d.Seconds())
}
