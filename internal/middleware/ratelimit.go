package middleware

import (
	"fmt"
	"net/http"
	"time"

	"flea_market/pkg/logging"
	rediskey "flea_market/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

// luaRateLimit：Redis 滑动窗口限流 Lua 脚本（原子操作）
// KEYS[1]=限流key，ARGV[1]=当前时间戳(ms)，ARGV[2]=窗口开始时间戳(ms)，ARGV[3]=窗口秒数
// ARGV[4]=本次请求 member，ARGV[5]=上限
// 返回：当前窗口内的请求数（超限返回 -1）
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

-- 删除窗口外的旧记录
redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)

if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
else
  return -1
end
`

// RedisRateLimit Redis 分布式限流，已登录按用户，未登录按 IP。
// 放在 Auth 之后才能按用户计数。
func RedisRateLimit(rdb rd.Cmdable, limit int, window time.Duration) gin.HandlerFunc {
	windowSec := int64(window.Seconds())
	if windowSec < 1 {
		windowSec = 1
	}
	return func(c *gin.Context) {
		subject := "ip:" + c.ClientIP()
		if uid := UserID(c); uid > 0 {
			subject = fmt.Sprintf("user:%d", uid)
		}
		key := rediskey.RateLimitKey(subject)

		now := time.Now()
		nowMS := now.UnixMilli()
		member := fmt.Sprintf("%d-%d", nowMS, now.UnixNano())

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			nowMS, nowMS-windowSec*1000, windowSec, member, limit).Int()
		if err != nil {
			// Redis 出错时放行（降级策略）
			logging.Log(logging.Fields{Service: "ratelimit", Step: key, Status: "degraded", Message: err.Error()})
			c.Next()
			return
		}
		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "请求过于频繁，请稍后再试",
			})
			return
		}
		c.Next()
	}
}
