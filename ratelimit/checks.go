package ratelimit

import (
	"context"
	"time"

	"github.com/agentflow/llmgate/config"
)

// Request is the admission-check input: the tenant pair plus the
// dimensions that need a concurrency reservation for this one request.
type Request struct {
	Key         config.Key
	User        config.User
	ClientAgent string
	Now         time.Time
}

// Reservation tracks concurrency slots this request acquired, so the
// caller can release them once the request finishes (success or not).
// USD-window checks never reserve — they're read-and-compare at
// admission and only incremented afterward via RecordUsage.
type Reservation struct {
	store             Store
	clientAgentKeyKey string
	clientAgentUserKey string
	sessionKeyKey     string
	sessionUserKey    string
	clientAgent       string
}

// Release gives back every concurrency slot this reservation holds. Safe
// to call once; a nil Reservation is a no-op.
func (r *Reservation) Release(ctx context.Context) {
	if r == nil {
		return
	}
	if r.clientAgentKeyKey != "" {
		_ = r.store.ReleaseSetMember(ctx, r.clientAgentKeyKey, r.clientAgent)
	}
	if r.clientAgentUserKey != "" {
		_ = r.store.ReleaseSetMember(ctx, r.clientAgentUserKey, r.clientAgent)
	}
	if r.sessionKeyKey != "" {
		_ = r.store.Release(ctx, r.sessionKeyKey)
	}
	if r.sessionUserKey != "" {
		_ = r.store.Release(ctx, r.sessionUserKey)
	}
}

// Guard runs the ordered battery of spend and concurrency checks a
// request must pass before being forwarded.
type Guard struct {
	store Store
}

// NewGuard builds a Guard over the given shared store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Admit runs all thirteen checks in the spec's fixed order, stopping at
// the first breach. On success it returns a Reservation the caller must
// Release when the request completes.
func (g *Guard) Admit(ctx context.Context, req Request) (*Reservation, *Exceeded, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	key, user := req.Key, req.User

	// 1. Key total USD hard cap.
	if exceeded, err := g.checkUSDCeiling(ctx, LimitKeyTotalUSD, "key", key.ID, keyTotal("key", key.ID), key.Limits.Total, 0); exceeded != nil || err != nil {
		return nil, exceeded, err
	}
	// 2. User total USD.
	if exceeded, err := g.checkUSDCeiling(ctx, LimitUserTotalUSD, "user", user.ID, keyTotal("user", user.ID), user.Limits.Total, 0); exceeded != nil || err != nil {
		return nil, exceeded, err
	}

	eff := config.EffectiveConcurrency(key, user)
	res := &Reservation{store: g.store, clientAgent: req.ClientAgent}

	// 3. Distinct-client-agent concurrency, key then user.
	if eff.ClientAgents > 0 && req.ClientAgent != "" {
		kKey := keyConcurrencyClientAgentSet("key", key.ID)
		ok, current, err := g.store.ReserveSetMember(ctx, kKey, req.ClientAgent, int64(eff.ClientAgents), 24*time.Hour)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, &Exceeded{Type: LimitKeyClientAgentConcurrency, ResourceID: key.ID, Current: float64(current), Limit: float64(eff.ClientAgents), ResetAt: now.Add(time.Minute)}, nil
		}
		res.clientAgentKeyKey = kKey
	}
	if user.Concurrency.ClientAgents > 0 && req.ClientAgent != "" {
		uKey := keyConcurrencyClientAgentSet("user", user.ID)
		ok, current, err := g.store.ReserveSetMember(ctx, uKey, req.ClientAgent, int64(user.Concurrency.ClientAgents), 24*time.Hour)
		if err != nil {
			res.Release(ctx)
			return nil, nil, err
		}
		if !ok {
			res.Release(ctx)
			return nil, &Exceeded{Type: LimitUserClientAgentConcurrency, ResourceID: user.ID, Current: float64(current), Limit: float64(user.Concurrency.ClientAgents), ResetAt: now.Add(time.Minute)}, nil
		}
		res.clientAgentUserKey = uKey
	}

	// 4. Concurrent-session count, key then user.
	if eff.Sessions > 0 {
		kKey := keyConcurrencySession("key", key.ID)
		ok, current, err := g.store.TryReserve(ctx, kKey, int64(eff.Sessions), time.Hour)
		if err != nil {
			res.Release(ctx)
			return nil, nil, err
		}
		if !ok {
			res.Release(ctx)
			return nil, &Exceeded{Type: LimitKeySessionConcurrency, ResourceID: key.ID, Current: float64(current), Limit: float64(eff.Sessions), ResetAt: now.Add(time.Hour)}, nil
		}
		res.sessionKeyKey = kKey
	}
	if user.Concurrency.Sessions > 0 {
		uKey := keyConcurrencySession("user", user.ID)
		ok, current, err := g.store.TryReserve(ctx, uKey, int64(user.Concurrency.Sessions), time.Hour)
		if err != nil {
			res.Release(ctx)
			return nil, nil, err
		}
		if !ok {
			res.Release(ctx)
			return nil, &Exceeded{Type: LimitUserSessionConcurrency, ResourceID: user.ID, Current: float64(current), Limit: float64(user.Concurrency.Sessions), ResetAt: now.Add(time.Hour)}, nil
		}
		res.sessionUserKey = uKey
	}

	// 5. User RPM.
	if user.RPM > 0 {
		rpmKey := keyRPM("user", user.ID, now)
		ok, current, err := g.store.TryReserve(ctx, rpmKey, int64(user.RPM), time.Minute)
		if err != nil {
			res.Release(ctx)
			return nil, nil, err
		}
		if !ok {
			res.Release(ctx)
			return nil, &Exceeded{Type: LimitUserRPM, ResourceID: user.ID, Current: float64(current), Limit: float64(user.RPM), ResetAt: now.Truncate(time.Minute).Add(time.Minute)}, nil
		}
	}

	// 6-7. 5h rolling USD, key then user.
	if exceeded, err := g.checkUSDCeiling(ctx, LimitKeyFiveHourUSD, "key", key.ID, keyFiveHour("key", key.ID, now), key.Limits.FiveHourUSD, 5*time.Hour); exceeded != nil || err != nil {
		res.Release(ctx)
		return nil, exceeded, err
	}
	if exceeded, err := g.checkUSDCeiling(ctx, LimitUserFiveHourUSD, "user", user.ID, keyFiveHour("user", user.ID, now), user.Limits.FiveHourUSD, 5*time.Hour); exceeded != nil || err != nil {
		res.Release(ctx)
		return nil, exceeded, err
	}

	// 8-9. Daily USD, key then user.
	keyDailyKey := dailyKey("key", key.ID, now, key.DailyResetMode, key.DailyResetTimeOfDay)
	if exceeded, err := g.checkUSDCeiling(ctx, LimitKeyDailyUSD, "key", key.ID, keyDailyKey, key.Limits.DailyUSD, 24*time.Hour); exceeded != nil || err != nil {
		res.Release(ctx)
		return nil, exceeded, err
	}
	userDailyKey := dailyKey("user", user.ID, now, config.DailyResetFixed, "")
	if exceeded, err := g.checkUSDCeiling(ctx, LimitUserDailyUSD, "user", user.ID, userDailyKey, user.Limits.DailyUSD, 24*time.Hour); exceeded != nil || err != nil {
		res.Release(ctx)
		return nil, exceeded, err
	}

	// 10-11. Weekly USD, key then user.
	if exceeded, err := g.checkUSDCeiling(ctx, LimitKeyWeeklyUSD, "key", key.ID, keyWeekly("key", key.ID, now), key.Limits.WeeklyUSD, 8*24*time.Hour); exceeded != nil || err != nil {
		res.Release(ctx)
		return nil, exceeded, err
	}
	if exceeded, err := g.checkUSDCeiling(ctx, LimitUserWeeklyUSD, "user", user.ID, keyWeekly("user", user.ID, now), user.Limits.WeeklyUSD, 8*24*time.Hour); exceeded != nil || err != nil {
		res.Release(ctx)
		return nil, exceeded, err
	}

	// 12-13. Monthly USD, key then user.
	if exceeded, err := g.checkUSDCeiling(ctx, LimitKeyMonthlyUSD, "key", key.ID, keyMonthly("key", key.ID, now), key.Limits.MonthlyUSD, 32*24*time.Hour); exceeded != nil || err != nil {
		res.Release(ctx)
		return nil, exceeded, err
	}
	if exceeded, err := g.checkUSDCeiling(ctx, LimitUserMonthlyUSD, "user", user.ID, keyMonthly("user", user.ID, now), user.Limits.MonthlyUSD, 32*24*time.Hour); exceeded != nil || err != nil {
		res.Release(ctx)
		return nil, exceeded, err
	}

	return res, nil, nil
}

// checkUSDCeiling is a read-only comparison: it never writes, since actual
// spend is only known once the upstream response completes and is then
// applied via RecordUsage. A zero limit means "no cap configured".
func (g *Guard) checkUSDCeiling(ctx context.Context, t LimitType, scope, id, key string, limit float64, window time.Duration) (*Exceeded, error) {
	if limit <= 0 {
		return nil, nil
	}
	current, err := g.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if current >= limit {
		resetAt := time.Now().Add(window)
		if window == 0 {
			resetAt = time.Time{} // total ceiling never resets
		}
		return &Exceeded{Type: t, ResourceID: id, Current: current, Limit: limit, ResetAt: resetAt}, nil
	}
	return nil, nil
}

func keyConcurrencyClientAgentSet(scope, id string) string {
	return keyPrefix + "key:" + scope + ":" + id + ":concurrency:agents"
}

func dailyKey(scope, id string, now time.Time, mode config.DailyResetMode, resetTimeOfDay string) string {
	if mode == config.DailyResetRolling {
		return keyDailyRolling(scope, id)
	}
	return keyDailyFixed(scope, id, now, resetTimeOfDay)
}

// RecordUsage applies an upstream request's actual USD cost to every
// window a Key/User pair participates in, once the response is known.
// Unlike Admit, this never fails the request — usage is recorded
// best-effort after the fact.
func (g *Guard) RecordUsage(ctx context.Context, req Request, costUSD float64) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	key, user := req.Key, req.User

	_, _ = g.store.IncrBy(ctx, keyTotal("key", key.ID), costUSD, 0)
	_, _ = g.store.IncrBy(ctx, keyTotal("user", user.ID), costUSD, 0)
	_, _ = g.store.IncrBy(ctx, keyFiveHour("key", key.ID, now), costUSD, 5*time.Hour)
	_, _ = g.store.IncrBy(ctx, keyFiveHour("user", user.ID, now), costUSD, 5*time.Hour)
	_, _ = g.store.IncrBy(ctx, dailyKey("key", key.ID, now, key.DailyResetMode, key.DailyResetTimeOfDay), costUSD, 24*time.Hour)
	_, _ = g.store.IncrBy(ctx, dailyKey("user", user.ID, now, config.DailyResetFixed, ""), costUSD, 24*time.Hour)
	_, _ = g.store.IncrBy(ctx, keyWeekly("key", key.ID, now), costUSD, 8*24*time.Hour)
	_, _ = g.store.IncrBy(ctx, keyWeekly("user", user.ID, now), costUSD, 8*24*time.Hour)
	_, _ = g.store.IncrBy(ctx, keyMonthly("key", key.ID, now), costUSD, 32*24*time.Hour)
	_, _ = g.store.IncrBy(ctx, keyMonthly("user", user.ID, now), costUSD, 32*24*time.Hour)
}
