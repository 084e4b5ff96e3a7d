/*
 * @module service/rate_limiter/redis_rate_limiter_test
 * @description Redis限流器集成测试，需要真实Redis，连接不上时自动跳过
 * @architecture 测试层 - 集成测试
 */

package rate_limiter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupLimiter 连接测试用Redis，连接失败则跳过测试
func setupLimiter(t *testing.T) *RedisRateLimiter {
	limiter, err := NewRedisRateLimiter()
	if err != nil {
		t.Skipf("跳过限流测试，Redis未就绪: %v", err)
	}
	t.Cleanup(func() { limiter.Close() })
	return limiter
}

// uniqueClientID 生成互不干扰的客户端标识
func uniqueClientID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

// TestClientLimitExceeded 单客户端超限后请求被拒绝，附带剩余额度信息
func TestClientLimitExceeded(t *testing.T) {
	limiter := setupLimiter(t)
	ctx := context.Background()

	clientID := uniqueClientID("client_limit")
	rule := RateLimitRule{Type: RuleTypeClient, TargetID: clientID, TimeWindow: 60, MaxRequests: 3}
	defer limiter.ResetRateLimit(ctx, rule)

	for i := 0; i < 3; i++ {
		result, err := limiter.CheckRateLimit(ctx, []RateLimitRule{rule})
		require.NoError(t, err)
		assert.True(t, result.Allowed, "第%d次请求应放行", i+1)
		assert.Equal(t, 3-i-1, result.Remaining)
	}

	result, err := limiter.CheckRateLimit(ctx, []RateLimitRule{rule})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, RuleTypeClient, result.RateLimitType)
	assert.Zero(t, result.Remaining)
	assert.Greater(t, result.ResetAt, time.Now().Unix())
}

// TestClientLimitChecksBeforeGlobal 客户端超限先于全局超限返回
func TestClientLimitChecksBeforeGlobal(t *testing.T) {
	limiter := setupLimiter(t)
	ctx := context.Background()

	clientRule := RateLimitRule{
		Type: RuleTypeClient, TargetID: uniqueClientID("priority"),
		TimeWindow: 60, MaxRequests: 1,
	}
	globalRule := RateLimitRule{Type: RuleTypeGlobal, TimeWindow: 60, MaxRequests: 1000}
	defer limiter.ResetRateLimit(ctx, clientRule)
	defer limiter.ResetRateLimit(ctx, globalRule)

	rules := []RateLimitRule{clientRule, globalRule}
	result, err := limiter.CheckRateLimit(ctx, rules)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = limiter.CheckRateLimit(ctx, rules)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, RuleTypeClient, result.RateLimitType)
}

// TestResetRateLimit 重置后计数清零
func TestResetRateLimit(t *testing.T) {
	limiter := setupLimiter(t)
	ctx := context.Background()

	rule := RateLimitRule{
		Type: RuleTypeClient, TargetID: uniqueClientID("reset"),
		TimeWindow: 60, MaxRequests: 1,
	}

	result, err := limiter.CheckRateLimit(ctx, []RateLimitRule{rule})
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = limiter.CheckRateLimit(ctx, []RateLimitRule{rule})
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	require.NoError(t, limiter.ResetRateLimit(ctx, rule))

	result, err = limiter.CheckRateLimit(ctx, []RateLimitRule{rule})
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

// TestNoRules 没有限流规则时放行
func TestNoRules(t *testing.T) {
	limiter := setupLimiter(t)

	result, err := limiter.CheckRateLimit(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, "none", result.RateLimitType)
}
