package model

import (
	"time"

	"gorm.io/gorm"
)

// Product 出品商品：出品者、标价、在售状态
type Product struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ExhibitorID uint        `gorm:"not null;index" json:"exhibitor_id"`
	Name        string      `gorm:"size:128;not null" json:"name"`
	Description string      `gorm:"size:1000" json:"description"`
	Value       int64       `gorm:"not null" json:"value"` // 单位：日元
	SalesStatus SalesStatus `gorm:"size:16;not null;default:on_display;index" json:"sales_status"`
}

func (Product) TableName() string { return "products" }
