package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 代表市集中的使用者
// 買家和賣家共用同一張表，商業買家會額外帶有公司名稱
type User struct {
	gorm.Model

	ID           uuid.UUID `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	Username     string    `gorm:"type:varchar(255);not null;<-:create"`
	FullName     string    `gorm:"type:varchar(255);not null"`
	IsBusiness   bool      `gorm:"type:boolean;not null;default:false"`
	BusinessName string    `gorm:"type:varchar(255)"`
	IsPartner    bool      `gorm:"type:boolean;not null;default:false"`
}
