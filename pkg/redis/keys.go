package redis

import "fmt"

// CheckoutSessionKey 结算会话，按登录会话隔离。
func CheckoutSessionKey(sessionID string) string {
	return fmt.Sprintf("flea_market:checkout:%s", sessionID)
}

// ProductLockKey 结算期间对商品的独占锁。
func ProductLockKey(productID uint) string {
	return fmt.Sprintf("flea_market:product:lock:%d", productID)
}

// RefundDoneKey 标记某笔 charge 是否已退款。
func RefundDoneKey(chargeID string) string {
	return fmt.Sprintf("flea_market:refund:done:%s", chargeID)
}

// ChargeHoldKey 支付结果未知时挂在用户上的对账标记。
func ChargeHoldKey(userID uint) string {
	return fmt.Sprintf("flea_market:charge:hold:%d", userID)
}

// RateLimitKey 结算接口限流，subject 为 user:<id> 或 ip:<addr>。
func RateLimitKey(subject string) string {
	return fmt.Sprintf("rate_limit:flea_market:%s", subject)
}

// PendingRefundKey 结算失败且同步退款失败、仍欠买家的一笔退款。
func PendingRefundKey(chargeID string) string {
	return fmt.Sprintf("flea_market:refund:pending:%s", chargeID)
}

// PendingRefundIndexKey 所有待退款 charge id 的集合。
func PendingRefundIndexKey() string {
	return "flea_market:refund:pending"
}
