package models

import (
	"github.com/shopspring/decimal"
)

// CatalystAssay 代表觸媒轉化器的檢測資料
// 包含陶瓷芯重量與各貴金屬的ppm濃度、回收率
// 所有欄位皆為指標：NULL代表「未知」，和明確的0是兩回事，
// 複製到購買紀錄或購物籃時必須原封不動地帶過去
type CatalystAssay struct {
	WeightGrams    *decimal.Decimal `gorm:"type:numeric(12,4)" json:"weight,omitempty"`
	PtPpm          *int64           `gorm:"type:bigint" json:"pt_ppm,omitempty"`
	PdPpm          *int64           `gorm:"type:bigint" json:"pd_ppm,omitempty"`
	RhPpm          *int64           `gorm:"type:bigint" json:"rh_ppm,omitempty"`
	RenumerationPt *decimal.Decimal `gorm:"type:numeric(5,4)" json:"renumeration_pt,omitempty"`
	RenumerationPd *decimal.Decimal `gorm:"type:numeric(5,4)" json:"renumeration_pd,omitempty"`
	RenumerationRh *decimal.Decimal `gorm:"type:numeric(5,4)" json:"renumeration_rh,omitempty"`
}

// HasAssay 判斷是否帶有任何檢測資料
func (a CatalystAssay) HasAssay() bool {
	return a.WeightGrams != nil || a.PtPpm != nil || a.PdPpm != nil || a.RhPpm != nil
}
