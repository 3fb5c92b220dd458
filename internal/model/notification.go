package model

import "time"

// Notification 只追加不修改。
// IsAction=true 表示需要对方处理（卖家收到下单），false 为告知（买家收到发货）。
type Notification struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	UserID   uint `gorm:"not null;index" json:"user_id"`
	OrderID  uint `gorm:"not null;index" json:"order_id"`
	IsAction bool `gorm:"not null;index" json:"is_action"`
}

func (Notification) TableName() string { return "notifications" }

// All 用于 AutoMigrate。
func All() []any {
	return []any{&User{}, &Product{}, &Address{}, &Payment{}, &Order{}, &Notification{}}
}
