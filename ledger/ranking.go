// Package ledger 維護每個刊登的出價排名
// 回答「目前最高出價者是誰」並執行「最高出價者不能重複出價」的規則
//
// 排名規則: 金額高者在前；金額相同時，先出價者在前
// 平手時用送出時間決勝是刻意明確化的：單純取max在相同金額下
// 會隨讀取順序漂移，最高出價者可能在兩次讀取之間無故易主
package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RankedTender 是排名用的出價視圖
type RankedTender struct {
	TenderID  uuid.UUID
	BuyerID   uuid.UUID
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// Rank 將出價依照金額由高到低排序，金額相同時先出價者優先
// 輸入不會被修改，回傳新的slice
func Rank(tenders []RankedTender) []RankedTender {
	ranked := make([]RankedTender, len(tenders))
	copy(ranked, tenders)
	sort.SliceStable(ranked, func(i, j int) bool {
		if !ranked[i].Amount.Equal(ranked[j].Amount) {
			return ranked[i].Amount.GreaterThan(ranked[j].Amount)
		}
		return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
	})
	return ranked
}

// Highest 回傳目前排名最高的出價，沒有出價時回傳nil
func Highest(tenders []RankedTender) *RankedTender {
	if len(tenders) == 0 {
		return nil
	}
	ranked := Rank(tenders)
	top := ranked[0]
	return &top
}

// IsHighestBidder 判斷指定買家是否持有目前最高的出價
func IsHighestBidder(tenders []RankedTender, buyerID uuid.UUID) bool {
	top := Highest(tenders)
	return top != nil && top.BuyerID == buyerID
}
