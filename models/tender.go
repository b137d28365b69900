package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TenderStatus 代表出價的狀態
// accepted與其他終止狀態都是最終狀態，不允許再轉移
type TenderStatus string

const (
	TenderStatusSubmitted TenderStatus = "submitted"
	TenderStatusActive    TenderStatus = "active"
	TenderStatusAccepted  TenderStatus = "accepted"
	TenderStatusRejected  TenderStatus = "rejected"
	TenderStatusCancelled TenderStatus = "cancelled"
	TenderStatusExpired   TenderStatus = "expired"
)

// Tender 代表買家對刊登商品的出價紀錄
// 記錄出價金額、出價者和目標刊登
type Tender struct {
	gorm.Model

	ID        uuid.UUID       `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	ListingID uuid.UUID       `gorm:"type:uuid;not null;<-:create"`
	BuyerID   uuid.UUID       `gorm:"type:uuid;not null;<-:create"`
	Amount    decimal.Decimal `gorm:"type:numeric(12,2);not null;<-:create"`
	Status    TenderStatus    `gorm:"type:varchar(16);not null;default:'active'"`

	// 外鍵關聯
	Buyer   User
	Listing Listing
}
