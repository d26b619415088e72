package payout

import (
	"time"

	"gorm.io/gorm"
)

// PayoutAccount 提现账户，按 OwnerID 归属当前用户，走通用 CRUD 挂载
type PayoutAccount struct {
	ID        string `gorm:"primaryKey;type:varchar(32)" json:"id"`
	OwnerID   string `gorm:"index;size:36" json:"ownerId"`
	Bank      string `gorm:"size:64;not null" json:"bank" binding:"required,max=64"`
	AccountNo string `gorm:"size:64;not null" json:"accountNo" binding:"required,max=64"`
	Holder    string `gorm:"size:64;not null" json:"holder" binding:"required,max=64"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (PayoutAccount) TableName() string { return "payout_accounts" }
