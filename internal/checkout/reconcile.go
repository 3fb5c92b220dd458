package checkout

import (
	"context"

	"flea_market/internal/payment"
	"flea_market/internal/queue"
	"flea_market/pkg/logging"
	rediskey "flea_market/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// Reconciler 处理“钱已收、订单没落”的补偿，同步路径和 Kafka 消费者共用。
type Reconciler struct {
	rdb     rd.Cmdable
	gateway payment.Gateway
}

func NewReconciler(rdb rd.Cmdable, gateway payment.Gateway) *Reconciler {
	return &Reconciler{rdb: rdb, gateway: gateway}
}

// Refund 幂等退款；nil 表示已退（本次或之前），此时同时删除待退款记录。
func (r *Reconciler) Refund(ctx context.Context, chargeID string) error {
	did, err := rediskey.RefundOnce(ctx, r.rdb, chargeID, func(ctx context.Context) error {
		return r.gateway.Refund(ctx, chargeID)
	})
	if did && err != nil {
		// 退款已成功，只是标记没写上
		logging.Log(logging.Fields{Service: "reconciler", ChargeID: chargeID, Step: "refund_mark", Status: "error", Message: err.Error()})
	}
	if !did && err != nil {
		return err
	}
	if _, cerr := rediskey.ClearPendingRefund(ctx, r.rdb, chargeID); cerr != nil {
		logging.Log(logging.Fields{Service: "reconciler", ChargeID: chargeID, Step: "pending_refund_clear", Status: "error", Message: cerr.Error()})
	}
	return nil
}

// Handle 实现 queue.Handler。
func (r *Reconciler) Handle(ctx context.Context, ev queue.Event) error {
	switch ev.Type {
	case queue.EventChargeUnrecorded:
		if err := r.Refund(ctx, ev.ChargeID); err != nil {
			return err
		}
		logging.Log(logging.Fields{
			Service: "reconciler", UserID: ev.UserID, ChargeID: ev.ChargeID, EventID: ev.EventID,
			Step: "refund", Status: "refunded",
		})
	case queue.EventChargeUnknown:
		// 无法自动判断是否扣款，保留对账标记等人工处理
		logging.Log(logging.Fields{
			Service: "reconciler", UserID: ev.UserID, ProductID: ev.ProductID, EventID: ev.EventID,
			Step: "charge_unknown", Status: "manual_review", Message: ev.Reason,
		})
	default:
		logging.Log(logging.Fields{
			Service: "reconciler", UserID: ev.UserID, OrderID: ev.OrderID, EventID: ev.EventID,
			Step: ev.Type, Status: "delivered",
		})
	}
	return nil
}
