package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// 本地开发与压测用的 token 约定。
const (
	StubTokenDeclined = "tok_chargeDeclined"
	StubTokenTimeout  = "tok_timeout"
)

// Stub 不连外网的网关：按 token 模拟拒付/超时，其余一律成功。
type Stub struct{}

func (Stub) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	switch req.Source {
	case StubTokenDeclined:
		return "", fmt.Errorf("%w: your card was declined", ErrDeclined)
	case StubTokenTimeout:
		return "", fmt.Errorf("%w: simulated timeout", ErrTransient)
	}
	return "ch_stub_" + uuid.NewString(), nil
}

func (Stub) Refund(ctx context.Context, chargeID string) error {
	return ctx.Err()
}
