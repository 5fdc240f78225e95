// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package config

import "time"

// Provider is a per-key configuration targeting one vendor: identity,
// vendor reference, credential, routing weights, breaker tuning, timeouts,
// retry budget, and body-rewrite preferences.
type Provider struct {
	ID           string `yaml:"id" json:"id"`
	VendorID     string `yaml:"vendor_id" json:"vendor_id"`
	ProviderType string `yaml:"provider_type" json:"provider_type"` // anthropic | gemini | openai_compat | codex
	Credential   string `yaml:"credential" json:"credential"`
	OverrideURL  string `yaml:"override_url,omitempty" json:"override_url,omitempty"`

	// Routing weights.
	Priority       int     `yaml:"priority" json:"priority"`
	Weight         int     `yaml:"weight" json:"weight"`
	CostMultiplier float64 `yaml:"cost_multiplier" json:"cost_multiplier"`
	GroupTag       string  `yaml:"group_tag,omitempty" json:"group_tag,omitempty"`

	// Breaker tuning.
	FailureThreshold     int           `yaml:"failure_threshold" json:"failure_threshold"`
	OpenDuration         time.Duration `yaml:"open_duration" json:"open_duration"`
	HalfOpenSuccessQuota int           `yaml:"half_open_success_quota" json:"half_open_success_quota"`

	// Timeouts.
	FirstByteStreamingMs  int `yaml:"first_byte_streaming_ms" json:"first_byte_streaming_ms"`
	StreamingIdleMs       int `yaml:"streaming_idle_ms" json:"streaming_idle_ms"`
	TotalNonStreamingMs   int `yaml:"total_non_streaming_ms" json:"total_non_streaming_ms"`

	MaxRetryAttempts int `yaml:"max_retry_attempts" json:"max_retry_attempts"`

	// Body-rewrite preferences.
	CacheTTLPreference     string            `yaml:"cache_ttl_preference,omitempty" json:"cache_ttl_preference,omitempty"` // "", "5m", "1h"
	Context1MPreference    string            `yaml:"context_1m_preference,omitempty" json:"context_1m_preference,omitempty"` // inherit | force_enable | disabled
	ReasoningEffort        string            `yaml:"reasoning_effort,omitempty" json:"reasoning_effort,omitempty"`
	ReasoningSummary       string            `yaml:"reasoning_summary,omitempty" json:"reasoning_summary,omitempty"`
	TextVerbosity          string            `yaml:"text_verbosity,omitempty" json:"text_verbosity,omitempty"`
	ThinkingBudgetTokens   int               `yaml:"thinking_budget_tokens,omitempty" json:"thinking_budget_tokens,omitempty"`
	MaxTokensOverride      int               `yaml:"max_tokens_override,omitempty" json:"max_tokens_override,omitempty"`
	ParallelToolCalls      *bool             `yaml:"parallel_tool_calls,omitempty" json:"parallel_tool_calls,omitempty"`
	GoogleSearchEnabled    *bool             `yaml:"google_search_enabled,omitempty" json:"google_search_enabled,omitempty"`
	ModelRedirects         map[string]string `yaml:"model_redirects,omitempty" json:"model_redirects,omitempty"`
	AllowedModels          []string          `yaml:"allowed_models,omitempty" json:"allowed_models,omitempty"`
	AllowedClientAgents    []string          `yaml:"allowed_client_agents,omitempty" json:"allowed_client_agents,omitempty"`
	BlockedClientAgents    []string          `yaml:"blocked_client_agents,omitempty" json:"blocked_client_agents,omitempty"`
	StrictEndpointsOnly    bool              `yaml:"strict_endpoints_only" json:"strict_endpoints_only"`

	ProxyURL     string `yaml:"proxy_url,omitempty" json:"proxy_url,omitempty"`
	HTTP2Enabled bool   `yaml:"http2_enabled" json:"http2_enabled"`
}

// ProbeResult is an endpoint's last health probe outcome.
type ProbeResult struct {
	OK        bool      `json:"ok"`
	LatencyMs int       `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Endpoint is a distinct URL belonging to one vendor for one provider-type.
type Endpoint struct {
	ID           string      `yaml:"id" json:"id"`
	VendorID     string      `yaml:"vendor_id" json:"vendor_id"`
	ProviderType string      `yaml:"provider_type" json:"provider_type"`
	URL          string      `yaml:"url" json:"url"`
	Label        string      `yaml:"label,omitempty" json:"label,omitempty"`
	SortHint     int         `yaml:"sort_hint" json:"sort_hint"`
	Enabled      bool        `yaml:"enabled" json:"enabled"`
	LastProbe    ProbeResult `yaml:"-" json:"last_probe,omitempty"`
}

// USDLimits is the set of rolling/fixed spend ceilings shared by Key and
// User: a 5-hour rolling window, daily, weekly, monthly, and a hard
// never-reset total.
type USDLimits struct {
	Total          float64 `yaml:"total" json:"total"`
	FiveHourUSD    float64 `yaml:"five_hour_usd" json:"five_hour_usd"`
	DailyUSD       float64 `yaml:"daily_usd" json:"daily_usd"`
	WeeklyUSD      float64 `yaml:"weekly_usd" json:"weekly_usd"`
	MonthlyUSD     float64 `yaml:"monthly_usd" json:"monthly_usd"`
}

// DailyResetMode controls whether the daily window resets at a fixed
// time-of-day or rolls 24 hours from first spend.
type DailyResetMode string

const (
	DailyResetFixed   DailyResetMode = "fixed"
	DailyResetRolling DailyResetMode = "rolling"
)

// ConcurrencyLimits bounds in-flight work for a Key or User.
type ConcurrencyLimits struct {
	Sessions     int `yaml:"sessions" json:"sessions"`
	ClientAgents int `yaml:"client_agents" json:"client_agents"`
}

// Key is a tenant credential: the unit the client authenticates with.
type Key struct {
	ID                  string            `yaml:"id" json:"id"`
	UserID              string            `yaml:"user_id" json:"user_id"`
	Limits              USDLimits         `yaml:"limits" json:"limits"`
	DailyResetMode      DailyResetMode    `yaml:"daily_reset_mode" json:"daily_reset_mode"`
	DailyResetTimeOfDay  string           `yaml:"daily_reset_time_of_day,omitempty" json:"daily_reset_time_of_day,omitempty"` // "HH:MM"
	Concurrency         ConcurrencyLimits `yaml:"concurrency" json:"concurrency"`
	RPM                 int               `yaml:"rpm" json:"rpm"`
	AllowedClientAgents []string          `yaml:"allowed_client_agents,omitempty" json:"allowed_client_agents,omitempty"`
	BlockedClientAgents []string          `yaml:"blocked_client_agents,omitempty" json:"blocked_client_agents,omitempty"`
	CacheTTLPreference  string            `yaml:"cache_ttl_preference,omitempty" json:"cache_ttl_preference,omitempty"`
}

// User is a tenant account. It mirrors Key's budget/concurrency dimensions
// one level up; the union of Key and User limits forms the rate-limit
// guard's input.
type User struct {
	ID          string            `yaml:"id" json:"id"`
	Limits      USDLimits         `yaml:"limits" json:"limits"`
	Concurrency ConcurrencyLimits `yaml:"concurrency" json:"concurrency"`
	RPM         int               `yaml:"rpm" json:"rpm"`
}

// EffectiveConcurrency returns key's concurrency limits, with zero/unset
// fields inheriting the user's limit — avoiding a "key unlimited, user 1"
// paradox per the rate-limit guard's spec.
func EffectiveConcurrency(key Key, user User) ConcurrencyLimits {
	eff := key.Concurrency
	if eff.Sessions <= 0 {
		eff.Sessions = user.Concurrency.Sessions
	}
	if eff.ClientAgents <= 0 {
		eff.ClientAgents = user.Concurrency.ClientAgents
	}
	return eff
}
