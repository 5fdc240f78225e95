package ratelimit

import (
	"fmt"
	"time"
)

const keyPrefix = "llmgate:ratelimit:"

func keyTotal(scope, id string) string {
	return fmt.Sprintf("%skey:%s:%s:total", keyPrefix, scope, id)
}

func keyFiveHour(scope, id string, now time.Time) string {
	bucket := now.Truncate(5 * time.Hour).Unix()
	return fmt.Sprintf("%skey:%s:%s:5h:%d", keyPrefix, scope, id, bucket)
}

func keyWeekly(scope, id string, now time.Time) string {
	year, week := now.ISOWeek()
	return fmt.Sprintf("%skey:%s:%s:weekly:%d-%d", keyPrefix, scope, id, year, week)
}

func keyMonthly(scope, id string, now time.Time) string {
	return fmt.Sprintf("%skey:%s:%s:monthly:%s", keyPrefix, scope, id, now.Format("2006-01"))
}

// keyDailyFixed buckets by calendar date shifted so the window rolls over
// at resetTimeOfDay ("HH:MM") rather than at UTC midnight.
func keyDailyFixed(scope, id string, now time.Time, resetTimeOfDay string) string {
	shifted := now
	if resetTimeOfDay != "" {
		var h, m int
		if _, err := fmt.Sscanf(resetTimeOfDay, "%d:%d", &h, &m); err == nil {
			offset := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
			shifted = now.Add(-offset)
		}
	}
	return fmt.Sprintf("%skey:%s:%s:daily:%s", keyPrefix, scope, id, shifted.Format("2006-01-02"))
}

// keyDailyRolling uses a single key whose 24h TTL is set on first spend,
// so the window rolls 24h from whenever spend first occurred rather than
// at a fixed wall-clock boundary.
func keyDailyRolling(scope, id string) string {
	return fmt.Sprintf("%skey:%s:%s:daily_rolling", keyPrefix, scope, id)
}

func keyRPM(scope, id string, now time.Time) string {
	return fmt.Sprintf("%skey:%s:%s:rpm:%d", keyPrefix, scope, id, now.Unix()/60)
}

func keyConcurrencySession(scope, id string) string {
	return fmt.Sprintf("%skey:%s:%s:concurrency:sessions", keyPrefix, scope, id)
}
