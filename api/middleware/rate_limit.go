/*
 * @module api/middleware/rate_limit
 * @description SQL执行接口的限流中间件，按客户端IP和全局两层限流
 * @architecture 中间件层
 * @rules 限流器未初始化时直接放行；Redis故障时放行并记录日志，不阻断业务
 * @dependencies bireport-service/service/rate_limiter, github.com/go-chi/render
 * @refs api/routes.go
 */

package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	"bireport-service/service/rate_limiter"
)

// SQLExecutionLimit 限制触发动态SQL执行的接口（校验、供给模型、刷新）
func SQLExecutionLimit(limiter *rate_limiter.RedisRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.CheckSQLExecution(r.Context(), clientIP(r))
			if err != nil {
				slog.Warn("限流检查失败，请求放行", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

			if !result.Allowed {
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, map[string]interface{}{
					"status": http.StatusTooManyRequests,
					"msg":    result.Message,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP 提取客户端IP，优先使用代理转发头
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
