package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ListingStatus 代表刊登的狀態
type ListingStatus string

const (
	ListingStatusActive  ListingStatus = "active"
	ListingStatusSold    ListingStatus = "sold"
	ListingStatusExpired ListingStatus = "expired"
)

// Listing 代表市集中的刊登商品
// 包含商品資訊、起標價、目前最高出價、刊登時間與合作夥伴可見性設定，
// 觸媒商品會另外帶有檢測資料(CatalystAssay)
type Listing struct {
	gorm.Model

	ID              uuid.UUID       `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	SellerID        uuid.UUID       `gorm:"type:uuid;not null;<-:create"`
	Title           string          `gorm:"type:varchar(255);not null"`
	Description     string          `gorm:"type:text;not null"`
	Category        string          `gorm:"type:varchar(64);not null"`
	Condition       string          `gorm:"type:varchar(64)"`
	StartingPrice   decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Status          ListingStatus   `gorm:"type:varchar(16);not null;default:'active'"`
	CurrentTenderID *uuid.UUID      `gorm:"type:uuid"`
	StartTime       time.Time       `gorm:"type:timestamp with time zone;not null"`
	EndTime         *time.Time      `gorm:"type:timestamp with time zone"`
	Carousels       []string        `gorm:"type:text[];default:'{}'"`

	// 合作夥伴優先曝光設定
	IsPartnersOnly    bool       `gorm:"type:boolean;not null;default:false"`
	PublicAt          *time.Time `gorm:"type:timestamp with time zone"`
	ShowPartnersFirst bool       `gorm:"type:boolean;not null;default:false"`

	CatalystAssay `gorm:"embedded"`

	// 外鍵關聯
	Seller        User
	CurrentTender *Tender  `gorm:"foreignKey:CurrentTenderID"`
	Tenders       []Tender `gorm:"foreignKey:ListingID"`
}

// Closed 判斷刊登是否已經無法再接受出價
// 過期時間的判斷是惰性的，以呼叫當下的時間為準
func (l Listing) Closed(now time.Time) bool {
	if l.Status != ListingStatusActive {
		return true
	}
	return l.EndTime != nil && now.After(*l.EndTime)
}

// VisibleTo 判斷刊登對指定使用者是否可見
// 僅限合作夥伴的刊登在公開時間之前只有合作夥伴看得到
func (l Listing) VisibleTo(viewer *User, now time.Time) bool {
	if !l.IsPartnersOnly {
		return true
	}
	if l.PublicAt != nil && now.After(*l.PublicAt) {
		return true
	}
	return viewer != nil && (viewer.IsPartner || viewer.ID == l.SellerID)
}
