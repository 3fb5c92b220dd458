package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const refundMarkTTL = 30 * 24 * time.Hour

// RefundDone 查询某笔 charge 是否已完成退款。
func RefundDone(ctx context.Context, rdb rd.Cmdable, chargeID string) (bool, error) {
	n, err := rdb.Exists(ctx, RefundDoneKey(chargeID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RefundOnce 幂等退款：
// - 已退过直接返回 false，不会调用 refund
// - refund 成功后写入标记，返回 true
// - refund 失败不写标记，允许下次重试
func RefundOnce(ctx context.Context, rdb rd.Cmdable, chargeID string, refund func(context.Context) error) (bool, error) {
	done, err := RefundDone(ctx, rdb, chargeID)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}
	if err := refund(ctx); err != nil {
		return false, err
	}
	if err := rdb.Set(ctx, RefundDoneKey(chargeID), "1", refundMarkTTL).Err(); err != nil {
		return true, err
	}
	return true, nil
}
