package checkout

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound        = errors.New("checkout: item not found")
	ErrItemUnavailable = errors.New("checkout: item is not on display")
	ErrOwnItem         = errors.New("checkout: exhibitor cannot purchase own item")
	// ErrConflict 同一商品正在被其他人结算，未扣款。
	ErrConflict = errors.New("checkout: item is being purchased by another user")
	// ErrTokenMissing 请求里没有卡 token，停留在支付页重试。
	ErrTokenMissing    = errors.New("checkout: card token missing")
	ErrPaymentDeclined = errors.New("checkout: payment declined")
	// ErrChargeUnknown 网关超时等，扣款结果未知，已挂起等待对账。
	ErrChargeUnknown = errors.New("checkout: charge outcome unknown")
	// ErrReconciliationRequired 有未对账的支付，禁止再次扣款。
	ErrReconciliationRequired = errors.New("checkout: pending charge must be reconciled first")

	errAlreadySold       = errors.New("product already sold")
	errInsufficientPoint = errors.New("buyer point balance insufficient")
)

// RedirectError 前置步骤缺失，回退到 To。属于正常导航，不是故障。
type RedirectError struct {
	To     Step
	Reason string
}

func (e *RedirectError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("checkout: redirect to %s step: %s", e.To, e.Reason)
	}
	return fmt.Sprintf("checkout: redirect to %s step", e.To)
}

// ValidationError 表单字段错误，key 为 json 字段名。
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "checkout: invalid input: " + strings.Join(parts, "; ")
}

// SettlementError 扣款成功但落库失败：钱已收，订单没有。
// Refunded=true 表示已经退款；否则已投递对账事件等待重试。
type SettlementError struct {
	ChargeID string
	Refunded bool
	Err      error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("checkout: settlement failed after charge %s (refunded=%t): %v", e.ChargeID, e.Refunded, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }
