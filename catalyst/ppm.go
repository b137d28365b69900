package catalyst

import (
	"github.com/shopspring/decimal"
)

// PartsPerMillion 代表一種貴金屬的濃度讀值
// 這是一個三值欄位：未知(unknown)、明確為零、正值
// 未知和零必須嚴格區分，估價時遇到未知要明確報錯，
// 絕對不能默默當成0來計算
type PartsPerMillion struct {
	known bool
	value decimal.Decimal
}

// UnknownPpm 建立一個未知的濃度讀值
func UnknownPpm() PartsPerMillion {
	return PartsPerMillion{}
}

// KnownPpm 建立一個明確的濃度讀值(包含明確為零)
func KnownPpm(v int64) PartsPerMillion {
	return PartsPerMillion{known: true, value: decimal.NewFromInt(v)}
}

// PpmFromPtr 從資料庫欄位(NULL代表未知)轉換成濃度讀值
func PpmFromPtr(p *int64) PartsPerMillion {
	if p == nil {
		return UnknownPpm()
	}
	return KnownPpm(*p)
}

// Known 回報讀值是否為已知
func (p PartsPerMillion) Known() bool {
	return p.known
}

// Value 回傳讀值，未知時second return為false
func (p PartsPerMillion) Value() (decimal.Decimal, bool) {
	return p.value, p.known
}
