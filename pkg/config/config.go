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

// Package config provides configuration management for the Savings Plans
// purchasing pipeline.
//
// Configuration covers:
//   - The purchase strategy variant and its parameters
//   - Coverage targets and the hard purchasing cap
//   - Per-category enablement and portfolio mix
//   - Operational switches: dry run, queueing mode, cross-account role
//
// Configuration is loaded from a YAML file, with environment variable overrides.
// Uses Viper for robust configuration management with automatic env binding.
package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/nextdoor/sp-autopilot/pkg/domain"
	"github.com/nextdoor/sp-autopilot/pkg/splitter"
	"github.com/nextdoor/sp-autopilot/pkg/strategy"
)

// CategoryConfig holds the per-category enablement and portfolio settings
// enumerated in §4.8.
type CategoryConfig struct {
	Enabled               bool               `yaml:"enabled"`
	Mix                   map[string]float64 `yaml:"mix"`
	PartialUpfrontPercent float64            `yaml:"partialUpfrontPercent,omitempty"`
}

// QueueMode is the closed set of queueing modes for the Scheduler →
// Purchaser handoff.
type QueueMode string

const (
	// QueueModeReplace purges any prior messages before enqueueing this
	// run's intents, so a fresh run always supersedes a stale one.
	QueueModeReplace QueueMode = "replace"
	// QueueModeAppend adds this run's intents alongside whatever is
	// already queued.
	QueueModeAppend QueueMode = "append"
)

// Config is the complete, validated configuration for a single run of
// either the Scheduler or the Purchaser. It is read once at process
// start and passed down the call graph by value or pointer; it is never
// held as a package global.
type Config struct {
	// AccountID is the 12-digit AWS account ID the pipeline manages
	// coverage and purchases for.
	AccountID string `yaml:"accountId"`

	// AssumeRoleARN, when set, is the IAM role assumed (from the
	// ambient identity) to bind the coverage, recommendation and
	// purchase clients. Notification and queue clients always use the
	// ambient identity - they live in the local account.
	AssumeRoleARN string `yaml:"assumeRoleArn,omitempty"`

	// DefaultRegion is the AWS region used for regional clients (SQS,
	// SNS). Cost Explorer and Savings Plans calls are always routed to
	// us-east-1 regardless of this setting, per the vendor's API
	// requirements.
	DefaultRegion string `yaml:"defaultRegion,omitempty"`

	// LogLevel controls log verbosity: debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty"`

	// MetricsBindAddress is the address the /metrics endpoint binds to.
	MetricsBindAddress string `yaml:"metricsBindAddress,omitempty"`

	// Strategy selects the purchase strategy variant and its parameters.
	Strategy strategy.Config `yaml:"strategy"`

	// CoverageTargetPercent is the coverage level the pipeline steers
	// toward, per category.
	CoverageTargetPercent float64 `yaml:"coverageTargetPercent"`

	// MaxCoverageCap is the hard ceiling no purchase may push projected
	// coverage past. Must be >= CoverageTargetPercent.
	MaxCoverageCap float64 `yaml:"maxCoverageCap"`

	// LookbackDays is the historical window the vendor recommendation
	// API is asked to consider.
	LookbackDays int `yaml:"lookbackDays"`

	// MinDataDays is the minimum number of days of usage history
	// required before a recommendation is trusted.
	MinDataDays int `yaml:"minDataDays"`

	// RenewalWindowDays is how far ahead of a Savings Plan's expiration
	// the Coverage Calculator starts discounting it from current
	// coverage, so a renewal purchase can be decided before the old
	// plan actually lapses.
	RenewalWindowDays int `yaml:"renewalWindowDays"`

	// Categories maps each recognized category to its settings. Keys
	// must be one of "compute", "database", "sagemaker".
	Categories map[string]CategoryConfig `yaml:"spPlans"`

	// DryRun, when true, computes intents but never enqueues them; an
	// informational notification is sent describing what would have
	// been purchased.
	DryRun bool `yaml:"dryRun"`

	// SendNoAction, when true, sends a notification even when a
	// Scheduler run produces zero intents.
	SendNoAction bool `yaml:"sendNoAction"`

	// NotifyOnError, when true, publishes a notification on any fatal
	// run error in addition to logging it.
	NotifyOnError bool `yaml:"notifyOnError"`

	// QueueMode selects how this run's intents interact with whatever
	// is already queued: replace or append.
	QueueMode QueueMode `yaml:"queueMode"`

	// PurchaseBatchSize bounds how many queue messages a single
	// Purchaser run dequeues and processes.
	PurchaseBatchSize int `yaml:"purchaseBatchSize"`

	// WallClockDeadlineSeconds bounds the total wall-clock duration of
	// a single run (Scheduler or Purchaser). A run that fails after it
	// has elapsed is reported as domain.DeadlineExceededError.
	WallClockDeadlineSeconds int `yaml:"wallClockDeadlineSeconds"`

	// QueueURL is the SQS queue URL carrying PurchaseIntent messages
	// between the Scheduler and the Purchaser.
	QueueURL string `yaml:"queueUrl"`

	// NotificationTopicARN is the SNS topic intent and outcome
	// summaries are published to.
	NotificationTopicARN string `yaml:"notificationTopicArn"`
}

// Load loads configuration from a YAML file and validates it.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SPAUTOPILOT_* prefix)
//  2. Configuration file values
//  3. Default values
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("defaultRegion", "us-east-1")
	v.SetDefault("logLevel", "info")
	v.SetDefault("metricsBindAddress", ":8080")
	v.SetDefault("lookbackDays", 30)
	v.SetDefault("minDataDays", 14)
	v.SetDefault("renewalWindowDays", 7)
	v.SetDefault("queueMode", string(QueueModeReplace))
	v.SetDefault("purchaseBatchSize", 10)
	v.SetDefault("wallClockDeadlineSeconds", 600)

	v.SetEnvPrefix("SPAUTOPILOT")
	_ = v.BindEnv("accountId", "SPAUTOPILOT_ACCOUNT_ID")
	_ = v.BindEnv("assumeRoleArn", "SPAUTOPILOT_ASSUME_ROLE_ARN")
	_ = v.BindEnv("defaultRegion", "SPAUTOPILOT_DEFAULT_REGION")
	_ = v.BindEnv("logLevel", "SPAUTOPILOT_LOG_LEVEL")
	_ = v.BindEnv("metricsBindAddress", "SPAUTOPILOT_METRICS_BIND_ADDRESS")
	_ = v.BindEnv("dryRun", "SPAUTOPILOT_DRY_RUN")
	_ = v.BindEnv("queueUrl", "SPAUTOPILOT_QUEUE_URL")
	_ = v.BindEnv("notificationTopicArn", "SPAUTOPILOT_NOTIFICATION_TOPIC_ARN")

	if err := v.ReadInConfig(); err != nil {
		return nil, domain.NewConfigError("failed to read config file %s: %v", path, err)
	}

	var cfg Config
	// coverage:ignore - Viper unmarshal errors are extremely rare and difficult to trigger
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, domain.NewConfigError("failed to parse config file %s: %v", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, domain.NewConfigError("invalid configuration: %v", err)
	}

	return &cfg, nil
}

// Validate checks every rejection rule enumerated in §4.8: account and
// role identifiers, strategy parameter ranges, coverage target/cap
// ordering, and per-category portfolio mixes.
func (c *Config) Validate() error {
	if !isValidAccountID(c.AccountID) {
		return fmt.Errorf("invalid account ID %q: must be 12 digits", c.AccountID)
	}
	if c.AssumeRoleARN != "" {
		if !isValidIAMRoleARN(c.AssumeRoleARN) {
			return fmt.Errorf("invalid assume role ARN %q", c.AssumeRoleARN)
		}
		if arnAccountID := extractAccountIDFromARN(c.AssumeRoleARN); arnAccountID != c.AccountID {
			return fmt.Errorf("assume role ARN account ID %q does not match configured account ID %q", arnAccountID, c.AccountID)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.LogLevel)
	}

	if c.CoverageTargetPercent < 0 || c.CoverageTargetPercent > 100 {
		return fmt.Errorf("coverageTargetPercent must be in [0,100], got %v", c.CoverageTargetPercent)
	}
	if c.MaxCoverageCap < c.CoverageTargetPercent || c.MaxCoverageCap > 100 {
		return fmt.Errorf("maxCoverageCap must be in [coverageTargetPercent,100], got %v (target %v)", c.MaxCoverageCap, c.CoverageTargetPercent)
	}
	if c.LookbackDays <= 0 {
		return fmt.Errorf("lookbackDays must be positive, got %d", c.LookbackDays)
	}
	if c.MinDataDays <= 0 {
		return fmt.Errorf("minDataDays must be positive, got %d", c.MinDataDays)
	}
	if c.RenewalWindowDays < 0 {
		return fmt.Errorf("renewalWindowDays must be non-negative, got %d", c.RenewalWindowDays)
	}
	if c.PurchaseBatchSize <= 0 {
		return fmt.Errorf("purchaseBatchSize must be positive, got %d", c.PurchaseBatchSize)
	}
	if c.WallClockDeadlineSeconds <= 0 {
		return fmt.Errorf("wallClockDeadlineSeconds must be positive, got %d", c.WallClockDeadlineSeconds)
	}

	switch c.QueueMode {
	case QueueModeReplace, QueueModeAppend:
	default:
		return fmt.Errorf("invalid queueMode %q, must be %q or %q", c.QueueMode, QueueModeReplace, QueueModeAppend)
	}

	if err := c.Strategy.Validate(); err != nil {
		return fmt.Errorf("invalid strategy config: %w", err)
	}

	if len(c.Categories) == 0 {
		return fmt.Errorf("at least one category must be configured under spPlans")
	}
	for name, catCfg := range c.Categories {
		category := domain.Category(name)
		if !category.Valid() {
			return fmt.Errorf("unrecognized category %q in spPlans", name)
		}
		if !catCfg.Enabled {
			continue
		}
		mix, err := toSplitterMix(catCfg.Mix)
		if err != nil {
			return fmt.Errorf("category %s: %w", name, err)
		}
		if err := splitter.ValidateMix(category, mix); err != nil {
			return fmt.Errorf("category %s: %w", name, err)
		}
		if catCfg.PartialUpfrontPercent < 0 || catCfg.PartialUpfrontPercent > 100 {
			return fmt.Errorf("category %s: partialUpfrontPercent must be in [0,100], got %v", name, catCfg.PartialUpfrontPercent)
		}
	}

	return nil
}

// toSplitterMix parses the "term/payment-option" string keys used in
// YAML (e.g. "1-year/no-upfront") into splitter.Mix keys.
func toSplitterMix(raw map[string]float64) (splitter.Mix, error) {
	mix := make(splitter.Mix, len(raw))
	for k, weight := range raw {
		parts := strings.SplitN(k, "/", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("mix key %q must be of the form \"term/payment-option\"", k)
		}
		mix[domain.PlanKey{Term: domain.Term(parts[0]), PaymentOption: domain.PaymentOption(parts[1])}] = weight
	}
	return mix, nil
}

// CategoryMix returns the parsed portfolio mix for category, or an
// error if the category is not configured. Call sites should treat an
// error here as unreachable once Validate has already succeeded.
func (c *Config) CategoryMix(category domain.Category) (splitter.Mix, error) {
	catCfg, ok := c.Categories[string(category)]
	if !ok {
		return nil, fmt.Errorf("category %s is not configured", category)
	}
	return toSplitterMix(catCfg.Mix)
}

// EnabledCategories returns every category with Enabled = true, in
// domain.Categories order so iteration is deterministic.
func (c *Config) EnabledCategories() []domain.Category {
	var out []domain.Category
	for _, category := range domain.Categories {
		if catCfg, ok := c.Categories[string(category)]; ok && catCfg.Enabled {
			out = append(out, category)
		}
	}
	return out
}

func isValidAccountID(accountID string) bool {
	matched, _ := regexp.MatchString(`^\d{12}$`, accountID)
	return matched
}

func isValidIAMRoleARN(arn string) bool {
	matched, _ := regexp.MatchString(`^arn:(aws|aws-us-gov|aws-cn):iam::\d{12}:role/[a-zA-Z0-9+=,.@\-_/]+$`, arn)
	return matched
}

func extractAccountIDFromARN(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) >= 5 {
		return parts[4]
	}
	return ""
}
