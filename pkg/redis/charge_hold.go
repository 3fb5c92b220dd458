package redis

import (
	"context"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// ChargeHold 对应 Redis 内的对账标记结构。
type ChargeHold struct {
	UserID    uint
	ProductID uint
	Amount    int64
	EventID   string
	Reason    string
	CreatedAt time.Time
}

// GetChargeHold 查询用户是否有待对账的支付。found=false 表示 key 不存在。
func GetChargeHold(ctx context.Context, rdb rd.Cmdable, userID uint) (ChargeHold, bool, error) {
	m, err := rdb.HGetAll(ctx, ChargeHoldKey(userID)).Result()
	if err != nil {
		return ChargeHold{}, false, err
	}
	if len(m) == 0 {
		return ChargeHold{}, false, nil
	}

	out := ChargeHold{
		UserID:  userID,
		EventID: m["event_id"],
		Reason:  m["reason"],
	}
	if v, err := strconv.ParseUint(m["product_id"], 10, 64); err == nil {
		out.ProductID = uint(v)
	}
	if v, err := strconv.ParseInt(m["amount"], 10, 64); err == nil {
		out.Amount = v
	}
	if v, err := strconv.ParseInt(m["created_at"], 10, 64); err == nil {
		out.CreatedAt = time.Unix(v, 0).UTC()
	}
	return out, true, nil
}

// PutChargeHold 写入对账标记，不设过期：只能人工解除。
func PutChargeHold(ctx context.Context, rdb rd.Cmdable, h ChargeHold) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	return rdb.HSet(ctx, ChargeHoldKey(h.UserID),
		"user_id", h.UserID,
		"product_id", h.ProductID,
		"amount", h.Amount,
		"event_id", h.EventID,
		"reason", h.Reason,
		"created_at", h.CreatedAt.Unix(),
	).Err()
}

// ClearChargeHold 人工对账完成后解除。removed=false 表示本来就没有。
func ClearChargeHold(ctx context.Context, rdb rd.Cmdable, userID uint) (bool, error) {
	n, err := rdb.Del(ctx, ChargeHoldKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
