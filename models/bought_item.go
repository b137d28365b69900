package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrDataIntegrity 代表反正規化複製過程中遺失了來源資料
// 例如刊登上的ppm有值，複製到購買紀錄後卻變成NULL或0
var ErrDataIntegrity = errors.New("catalyst data lost during copy")

// BoughtItem 代表成交後產生的購買紀錄
// 是刊登商品觸媒欄位的反正規化副本，外加成交當下的回收率設定，
// 成立之後就跟原刊登脫鉤，賣家修改刊登不會影響既有成交
type BoughtItem struct {
	gorm.Model

	ID           uuid.UUID       `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	ListingID    uuid.UUID       `gorm:"type:uuid;not null;<-:create"`
	BuyerID      uuid.UUID       `gorm:"type:uuid;not null;<-:create"`
	TenderID     *uuid.UUID      `gorm:"type:uuid;<-:create"`
	Title        string          `gorm:"type:varchar(255);not null;<-:create"`
	SettledPrice decimal.Decimal `gorm:"type:numeric(12,2);not null;<-:create"`

	CatalystAssay `gorm:"embedded"`

	Listing *Listing `gorm:"foreignKey:ListingID"`
	Buyer   *User    `gorm:"foreignKey:BuyerID"`
}

// BasketItem 代表購物籃中等待估價處理的項目
// 又是一次觸媒欄位的複製，同樣必須保證資料不會在這一跳遺失
type BasketItem struct {
	gorm.Model

	ID           uuid.UUID `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	BoughtItemID uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	Title        string    `gorm:"type:varchar(255);not null;<-:create"`

	CatalystAssay `gorm:"embedded"`

	BoughtItem *BoughtItem `gorm:"foreignKey:BoughtItemID"`
}

// VerifyAssayCopy 檢查反正規化複製是否保留了所有來源欄位
// 來源為NULL的欄位複製後必須仍是NULL，有值的欄位必須逐位相等，
// 任何一跳把非NULL的ppm弄丟(或默默變成0)都會在這裡被攔下來
func VerifyAssayCopy(src, dst CatalystAssay) error {
	checks := []struct {
		name     string
		src, dst *int64
	}{
		{"pt_ppm", src.PtPpm, dst.PtPpm},
		{"pd_ppm", src.PdPpm, dst.PdPpm},
		{"rh_ppm", src.RhPpm, dst.RhPpm},
	}
	for _, c := range checks {
		if c.src == nil {
			if c.dst != nil {
				return fmt.Errorf("%w: %s was unknown but copied as %d", ErrDataIntegrity, c.name, *c.dst)
			}
			continue
		}
		if c.dst == nil || *c.dst != *c.src {
			return fmt.Errorf("%w: %s", ErrDataIntegrity, c.name)
		}
	}

	decimals := []struct {
		name     string
		src, dst *decimal.Decimal
	}{
		{"weight", src.WeightGrams, dst.WeightGrams},
		{"renumeration_pt", src.RenumerationPt, dst.RenumerationPt},
		{"renumeration_pd", src.RenumerationPd, dst.RenumerationPd},
		{"renumeration_rh", src.RenumerationRh, dst.RenumerationRh},
	}
	for _, c := range decimals {
		if c.src == nil {
			if c.dst != nil {
				return fmt.Errorf("%w: %s was unknown but copied as %s", ErrDataIntegrity, c.name, c.dst)
			}
			continue
		}
		if c.dst == nil || !c.dst.Equal(*c.src) {
			return fmt.Errorf("%w: %s", ErrDataIntegrity, c.name)
		}
	}
	return nil
}
