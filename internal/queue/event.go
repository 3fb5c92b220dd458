package queue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	// EventNotificationCreated 已写入一条站内通知。
	EventNotificationCreated = "notification.created"
	// EventOrderSettled 结算事务已提交。
	EventOrderSettled = "order.settled"
	// EventChargeUnrecorded 扣款成功但落库失败，需要退款。
	EventChargeUnrecorded = "charge.unrecorded"
	// EventChargeUnknown 网关超时等，扣款结果未知，需要人工对账。
	EventChargeUnknown = "charge.unknown"
)

// Event 写入 Redis Stream 并由 Relay 转发到 Kafka 的领域事件。
type Event struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	UserID    uint   `json:"user_id"`
	ProductID uint   `json:"product_id,omitempty"`
	OrderID   uint   `json:"order_id,omitempty"`
	ChargeID  string `json:"charge_id,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
	IsAction  bool   `json:"is_action,omitempty"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// NewEvent 生成带 event_id 与时间戳的事件。
func NewEvent(eventType string, userID uint) Event {
	return Event{
		EventID:   uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		CreatedAt: time.Now().Unix(),
	}
}

// Key Kafka 分区键：同一笔 charge / 订单落到同一分区。
func (e Event) Key() string {
	switch {
	case e.ChargeID != "":
		return e.ChargeID
	case e.OrderID != 0:
		return "order-" + strconv.FormatUint(uint64(e.OrderID), 10)
	}
	return e.EventID
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (e Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.UserID == 0 {
		return fmt.Errorf("user_id is required")
	}
	switch e.Type {
	case EventNotificationCreated, EventOrderSettled:
		if e.OrderID == 0 {
			return fmt.Errorf("order_id is required for %s", e.Type)
		}
	case EventChargeUnrecorded:
		if e.ChargeID == "" {
			return fmt.Errorf("charge_id is required for %s", e.Type)
		}
	case EventChargeUnknown:
		if e.ProductID == 0 {
			return fmt.Errorf("product_id is required for %s", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// streamValues 转成 XADD 的字段。
func (e Event) streamValues() map[string]any {
	return map[string]any{
		"event_id":   e.EventID,
		"type":       e.Type,
		"user_id":    strconv.FormatUint(uint64(e.UserID), 10),
		"product_id": strconv.FormatUint(uint64(e.ProductID), 10),
		"order_id":   strconv.FormatUint(uint64(e.OrderID), 10),
		"charge_id":  e.ChargeID,
		"amount":     strconv.FormatInt(e.Amount, 10),
		"is_action":  strconv.FormatBool(e.IsAction),
		"reason":     e.Reason,
		"created_at": strconv.FormatInt(e.CreatedAt, 10),
	}
}
