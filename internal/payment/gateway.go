// Package payment 对接外部支付网关，只暴露扣款与退款。
package payment

import (
	"context"
	"errors"
)

var (
	// ErrDeclined 卡被拒，确定未扣款。
	ErrDeclined = errors.New("payment: card declined")
	// ErrRejected 网关拒绝处理请求（参数、鉴权、限流），确定未扣款。
	ErrRejected = errors.New("payment: request rejected")
	// ErrTransient 超时、网络或网关 5xx，扣款结果未知。
	ErrTransient = errors.New("payment: transient failure, outcome unknown")
)

// ChargeRequest 金额以币种最小单位传递（日元即元）。
type ChargeRequest struct {
	Amount         int64
	Currency       string
	Source         string // 前端拿到的 card token
	Description    string
	IdempotencyKey string
}

// Gateway 外部支付网关。
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (chargeID string, err error)
	Refund(ctx context.Context, chargeID string) error
}
