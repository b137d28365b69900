package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NotificationType 代表通知的業務類型
type NotificationType string

const (
	NotificationTypeBuyAccepted  NotificationType = "buy_accepted"
	NotificationTypeBuyRejected  NotificationType = "buy_rejected"
	NotificationTypeBuyCancelled NotificationType = "buy_cancelled"
	NotificationTypeOutbid       NotificationType = "outbid"
	NotificationTypeNewTender    NotificationType = "new_tender"
	NotificationTypeSystem       NotificationType = "system"
)

// Notification 代表系統對使用者發出的通知
// 由訂單與出價的狀態轉移產生，Data欄位攜帶關聯實體的識別資訊
type Notification struct {
	gorm.Model

	ID      uuid.UUID        `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	UserID  uuid.UUID        `gorm:"type:uuid;not null;index;<-:create"`
	Type    NotificationType `gorm:"type:varchar(32);not null;<-:create"`
	Title   string           `gorm:"type:varchar(255);not null;<-:create"`
	Message string           `gorm:"type:text;<-:create"`
	Data    datatypes.JSON   `gorm:"type:jsonb"`
	IsRead  bool             `gorm:"type:boolean;not null;default:false"`
	ReadAt  *time.Time       `gorm:"type:timestamp with time zone"`

	User *User `gorm:"foreignKey:UserID"`
}
