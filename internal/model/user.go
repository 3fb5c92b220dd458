package model

import "time"

// User 只保留结算相关字段：积分余额。
type User struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name  string `gorm:"size:64;not null" json:"name"`
	Point int64  `gorm:"not null;default:0" json:"point"`
}

func (User) TableName() string { return "users" }
