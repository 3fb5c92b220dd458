// Package notify 写入站内通知，并在事务提交后投递事件。
package notify

import (
	"context"
	"fmt"

	"flea_market/internal/model"
	"flea_market/internal/queue"
	"flea_market/pkg/logging"

	"gorm.io/gorm"
)

// EventSink 事件出口，生产环境是 Redis Stream outbox。
type EventSink interface {
	Append(ctx context.Context, ev queue.Event) (string, error)
}

type Emitter struct {
	sink EventSink
}

// NewEmitter sink 可为 nil，此时只落库不投递。
func NewEmitter(sink EventSink) *Emitter {
	return &Emitter{sink: sink}
}

// Emit 在调用方事务 tx 内创建通知，与订单变更同生共死。
func (e *Emitter) Emit(tx *gorm.DB, userID, orderID uint, isAction bool) (*model.Notification, error) {
	n := &model.Notification{UserID: userID, OrderID: orderID, IsAction: isAction}
	if err := tx.Create(n).Error; err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

// Publish 事务提交后调用；投递失败只记日志，通知本身已持久化。
func (e *Emitter) Publish(ctx context.Context, n *model.Notification) {
	if e.sink == nil || n == nil {
		return
	}
	ev := queue.NewEvent(queue.EventNotificationCreated, n.UserID)
	ev.OrderID = n.OrderID
	ev.IsAction = n.IsAction
	if _, err := e.sink.Append(ctx, ev); err != nil {
		logging.Log(logging.Fields{
			Service: "notify", UserID: n.UserID, OrderID: n.OrderID, EventID: ev.EventID,
			Step: "publish", Status: "error", Message: err.Error(),
		})
	}
}

// List 按 isAction 过滤，最新的在前。
func List(ctx context.Context, db *gorm.DB, userID uint, isAction bool) ([]model.Notification, error) {
	var out []model.Notification
	err := db.WithContext(ctx).
		Where("user_id = ? AND is_action = ?", userID, isAction).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}
