package redis

import (
	"context"
	"sort"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// PendingRefund 钱已收、订单没落、退款还没成功的记录。
type PendingRefund struct {
	ChargeID  string    `json:"charge_id"`
	UserID    uint      `json:"user_id"`
	ProductID uint      `json:"product_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// PutPendingRefund 写入待退款记录，不设过期：只有退款成功才删除。
func PutPendingRefund(ctx context.Context, rdb rd.Cmdable, p PendingRefund) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, PendingRefundKey(p.ChargeID),
		"charge_id", p.ChargeID,
		"user_id", p.UserID,
		"product_id", p.ProductID,
		"amount", p.Amount,
		"reason", p.Reason,
		"created_at", p.CreatedAt.Unix(),
	)
	pipe.SAdd(ctx, PendingRefundIndexKey(), p.ChargeID)
	_, err := pipe.Exec(ctx)
	return err
}

// GetPendingRefund found=false 表示没有欠款记录。
func GetPendingRefund(ctx context.Context, rdb rd.Cmdable, chargeID string) (PendingRefund, bool, error) {
	m, err := rdb.HGetAll(ctx, PendingRefundKey(chargeID)).Result()
	if err != nil {
		return PendingRefund{}, false, err
	}
	if len(m) == 0 {
		return PendingRefund{}, false, nil
	}

	out := PendingRefund{ChargeID: chargeID, Reason: m["reason"]}
	if v, err := strconv.ParseUint(m["user_id"], 10, 64); err == nil {
		out.UserID = uint(v)
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

// ListPendingRefunds 按 charge id 排序返回全部待退款记录。
func ListPendingRefunds(ctx context.Context, rdb rd.Cmdable) ([]PendingRefund, error) {
	ids, err := rdb.SMembers(ctx, PendingRefundIndexKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	out := make([]PendingRefund, 0, len(ids))
	for _, id := range ids {
		p, found, err := GetPendingRefund(ctx, rdb, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, p)
		}
	}
	return out, nil
}

// ClearPendingRefund 退款成功后删除。removed=false 表示本来就没有。
func ClearPendingRefund(ctx context.Context, rdb rd.Cmdable, chargeID string) (bool, error) {
	pipe := rdb.TxPipeline()
	del := pipe.Del(ctx, PendingRefundKey(chargeID))
	pipe.SRem(ctx, PendingRefundIndexKey(), chargeID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return del.Val() > 0, nil
}
