package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseIfMatch 仅当锁值匹配 token 时才删除，避免误删别人的锁。
const luaReleaseIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// AcquireProductLock SET NX PX 抢占商品锁，acquired=false 表示已有其他结算在进行。
func AcquireProductLock(ctx context.Context, rdb rd.Cmdable, productID uint, token string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, ProductLockKey(productID), token, ttl).Result()
}

// ReleaseProductLock 安全释放商品锁。
func ReleaseProductLock(ctx context.Context, rdb rd.Cmdable, productID uint, token string) error {
	_, err := rdb.Eval(ctx, luaReleaseIfMatch, []string{ProductLockKey(productID)}, token).Int()
	return err
}
