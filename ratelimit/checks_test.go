package ratelimit

import (
	"context"
	"testing"

	"github.com/agentflow/llmgate/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestGuard(t *testing.T) (*miniredis.Miniredis, *Guard) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client)
	return mr, NewGuard(store)
}

func TestGuard_Admit_NoLimitsConfigured(t *testing.T) {
	mr, g := setupTestGuard(t)
	defer mr.Close()

	res, exceeded, err := g.Admit(context.Background(), Request{
		Key: config.Key{ID: "key1"}, User: config.User{ID: "user1"}, ClientAgent: "cli",
	})
	require.NoError(t, err)
	assert.Nil(t, exceeded)
	require.NotNil(t, res)
	res.Release(context.Background())
}

func TestGuard_Admit_KeyTotalUSDCeiling(t *testing.T) {
	mr, g := setupTestGuard(t)
	defer mr.Close()

	key := config.Key{ID: "key1", Limits: config.USDLimits{Total: 1.0}}
	user := config.User{ID: "user1"}

	g.RecordUsage(context.Background(), Request{Key: key, User: user}, 1.5)

	_, exceeded, err := g.Admit(context.Background(), Request{Key: key, User: user})
	require.NoError(t, err)
	require.NotNil(t, exceeded)
	assert.Equal(t, LimitKeyTotalUSD, exceeded.Type)
}

func TestGuard_Admit_RPMBlocksThirdRequest(t *testing.T) {
	mr, g := setupTestGuard(t)
	defer mr.Close()

	key := config.Key{ID: "key1"}
	user := config.User{ID: "user1", RPM: 2}

	for i := 0; i < 2; i++ {
		res, exceeded, err := g.Admit(context.Background(), Request{Key: key, User: user})
		require.NoError(t, err)
		require.Nil(t, exceeded)
		res.Release(context.Background())
	}

	_, exceeded, err := g.Admit(context.Background(), Request{Key: key, User: user})
	require.NoError(t, err)
	require.NotNil(t, exceeded)
	assert.Equal(t, LimitUserRPM, exceeded.Type)
}

func TestGuard_Admit_DistinctClientAgentConcurrency(t *testing.T) {
	mr, g := setupTestGuard(t)
	defer mr.Close()

	key := config.Key{ID: "key1", Concurrency: config.ConcurrencyLimits{ClientAgents: 1}}
	user := config.User{ID: "user1"}

	res1, exceeded, err := g.Admit(context.Background(), Request{Key: key, User: user, ClientAgent: "claude-code"})
	require.NoError(t, err)
	require.Nil(t, exceeded)

	_, exceeded, err = g.Admit(context.Background(), Request{Key: key, User: user, ClientAgent: "other-agent"})
	require.NoError(t, err)
	require.NotNil(t, exceeded)
	assert.Equal(t, LimitKeyClientAgentConcurrency, exceeded.Type)

	res1.Release(context.Background())

	res2, exceeded, err := g.Admit(context.Background(), Request{Key: key, User: user, ClientAgent: "other-agent"})
	require.NoError(t, err)
	require.Nil(t, exceeded)
	res2.Release(context.Background())
}

func TestGuard_Admit_SessionConcurrencyInheritsFromUser(t *testing.T) {
	mr, g := setupTestGuard(t)
	defer mr.Close()

	key := config.Key{ID: "key1"} // no session limit of its own
	user := config.User{ID: "user1", Concurrency: config.ConcurrencyLimits{Sessions: 1}}

	res1, exceeded, err := g.Admit(context.Background(), Request{Key: key, User: user})
	require.NoError(t, err)
	require.Nil(t, exceeded)

	_, exceeded, err = g.Admit(context.Background(), Request{Key: key, User: user})
	require.NoError(t, err)
	require.NotNil(t, exceeded)
	assert.Equal(t, LimitKeySessionConcurrency, exceeded.Type)

	res1.Release(context.Background())
}
