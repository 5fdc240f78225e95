package ratelimit

import (
	"fmt"
	"time"
)

// LimitType identifies which of the ordered checks rejected a request.
type LimitType string

const (
	LimitKeyTotalUSD               LimitType = "key_total_usd"
	LimitUserTotalUSD              LimitType = "user_total_usd"
	LimitKeyClientAgentConcurrency LimitType = "key_client_agent_concurrency"
	LimitUserClientAgentConcurrency LimitType = "user_client_agent_concurrency"
	LimitKeySessionConcurrency     LimitType = "key_session_concurrency"
	LimitUserSessionConcurrency    LimitType = "user_session_concurrency"
	LimitUserRPM                   LimitType = "user_rpm"
	LimitKeyFiveHourUSD            LimitType = "key_five_hour_usd"
	LimitUserFiveHourUSD           LimitType = "user_five_hour_usd"
	LimitKeyDailyUSD               LimitType = "key_daily_usd"
	LimitUserDailyUSD              LimitType = "user_daily_usd"
	LimitKeyWeeklyUSD              LimitType = "key_weekly_usd"
	LimitUserWeeklyUSD             LimitType = "user_weekly_usd"
	LimitKeyMonthlyUSD             LimitType = "key_monthly_usd"
	LimitUserMonthlyUSD            LimitType = "user_monthly_usd"
)

// Exceeded reports that a request was rejected by the guard, carrying
// everything the response builder needs to render a rate-limit error.
type Exceeded struct {
	Type       LimitType
	ResourceID string // the key or user ID the limit applies to
	Current    float64
	Limit      float64
	ResetAt    time.Time
}

func (e *Exceeded) Error() string {
	return fmt.Sprintf("ratelimit: %s exceeded for %s: %.4f/%.4f (resets %s)",
		e.Type, e.ResourceID, e.Current, e.Limit, e.ResetAt.Format(time.RFC3339))
}
