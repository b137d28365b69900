package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PriceSetting 代表單一貴金屬的回收定價設定
// 回收率(renumeration)在成交時會被複製到購買紀錄上，
// 之後調整定價不會影響既有的成交
type PriceSetting struct {
	gorm.Model

	ID               uuid.UUID       `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	Metal            string          `gorm:"type:varchar(8);not null;unique"`
	RenumerationRate decimal.Decimal `gorm:"type:numeric(5,4);not null"`
	PricePerGram     decimal.Decimal `gorm:"type:numeric(12,4);not null"`
	Currency         string          `gorm:"type:varchar(8);not null;default:'EUR'"`
}
