package model

import "time"

// Order 购买记录，创建后只有 DeliveryStatus 可变。
type Order struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProductID      uint           `gorm:"not null;uniqueIndex" json:"product_id"`
	PurchaserID    uint           `gorm:"not null;index" json:"purchaser_id"`
	AddressID      uint           `gorm:"not null" json:"address_id"`
	PaymentID      uint           `gorm:"not null;uniqueIndex" json:"payment_id"`
	Price          int64          `gorm:"not null" json:"price"` // 实际支付金额
	DeliveryStatus DeliveryStatus `gorm:"size:16;not null;default:before_shipping;index" json:"delivery_status"`
}

func (Order) TableName() string { return "orders" }

// Address 下单时的收货信息快照，不是地址簿。
type Address struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	FirstName     string `gorm:"size:32;not null" json:"first_name"`
	LastName      string `gorm:"size:32;not null" json:"last_name"`
	FirstNameKana string `gorm:"size:32;not null" json:"first_name_kana"`
	LastNameKana  string `gorm:"size:32;not null" json:"last_name_kana"`
	PostalCode    string `gorm:"size:8;not null" json:"postal_code"`
	Prefecture    string `gorm:"size:16;not null" json:"prefecture"`
	Address       string `gorm:"size:255;not null" json:"address"`
	Tel           string `gorm:"size:16;not null" json:"tel"`
}

func (Address) TableName() string { return "addresses" }

// Payment 记录网关返回的 charge id，与 Order 一一对应。
type Payment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	UserID   uint   `gorm:"not null;index" json:"user_id"`
	ChargeID string `gorm:"size:64;uniqueIndex;not null" json:"charge_id"`
}

func (Payment) TableName() string { return "payments" }
