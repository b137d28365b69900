// Package catalyst 實作觸媒轉化器的貴金屬估價
// 從陶瓷芯重量、各金屬的ppm濃度和回收率計算可回收克數，
// 以及(可選的)以每克金屬價格換算的貨幣價值
//
// 純函數、無副作用；所有金額與克數運算都使用decimal避免
// 浮點誤差，結果固定捨入到小數點後4位
package catalyst

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Metal 代表估價支援的貴金屬
type Metal string

const (
	Platinum  Metal = "pt"
	Palladium Metal = "pd"
	Rhodium   Metal = "rh"
)

// Metals 依固定順序列出所有支援的金屬
var Metals = []Metal{Platinum, Palladium, Rhodium}

var (
	// ErrInvalidInput 代表數值輸入不合法(負的重量或ppm、回收率不在[0,1])
	ErrInvalidInput = errors.New("invalid valuation input")
	// ErrAssayIncomplete 代表檢測資料不足以估價
	// 未知的ppm必須回報這個錯誤，而不是被當成0納入計算
	ErrAssayIncomplete = errors.New("assay data incomplete")
)

// GramsPrecision 是克數結果的小數位數
const GramsPrecision = 4

var thousand = decimal.NewFromInt(1000)

// RecoveredGrams 計算單一金屬的可回收克數
// 公式: weight * ppm / 1000 * recoveryRate，捨入到4位小數
func RecoveredGrams(weightGrams decimal.Decimal, ppm PartsPerMillion, recoveryRate decimal.Decimal) (decimal.Decimal, error) {
	if weightGrams.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: weight %s is negative", ErrInvalidInput, weightGrams)
	}
	if recoveryRate.IsNegative() || recoveryRate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%w: recovery rate %s outside [0,1]", ErrInvalidInput, recoveryRate)
	}
	value, known := ppm.Value()
	if !known {
		return decimal.Zero, fmt.Errorf("%w: ppm unknown", ErrAssayIncomplete)
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: ppm %s is negative", ErrInvalidInput, value)
	}
	grams := weightGrams.Mul(value).Div(thousand).Mul(recoveryRate)
	return grams.Round(GramsPrecision), nil
}

// Assay 代表一份完整的檢測資料輸入
// Recovery缺少某個金屬的回收率時，該金屬視為資料不足
type Assay struct {
	WeightGrams decimal.Decimal
	Ppm         map[Metal]PartsPerMillion
	Recovery    map[Metal]decimal.Decimal
}

// Valuation 是估價結果
type Valuation struct {
	Grams map[Metal]decimal.Decimal
	// Value 只有在帶入金屬價格表時才會被計算
	Value    decimal.Decimal
	Currency string
}

// Valuate 計算檢測資料中每種金屬的可回收克數
// 只要有任何一種金屬的ppm或回收率未知就整份報錯，
// 讓呼叫端明確知道是「無法估價」而不是「估出0克」
func (a Assay) Valuate() (Valuation, error) {
	grams := make(map[Metal]decimal.Decimal, len(Metals))
	for _, metal := range Metals {
		ppm, ok := a.Ppm[metal]
		if !ok {
			return Valuation{}, fmt.Errorf("%w: no %s reading", ErrAssayIncomplete, metal)
		}
		recovery, ok := a.Recovery[metal]
		if !ok {
			return Valuation{}, fmt.Errorf("%w: no %s recovery rate", ErrAssayIncomplete, metal)
		}
		g, err := RecoveredGrams(a.WeightGrams, ppm, recovery)
		if err != nil {
			return Valuation{}, err
		}
		grams[metal] = g
	}
	return Valuation{Grams: grams}, nil
}

// ValuateWithPrices 在克數之外額外計算貨幣價值
// prices是每克金屬的單價，缺少任何一種金屬的單價視為輸入不合法
func (a Assay) ValuateWithPrices(prices map[Metal]decimal.Decimal, currency string) (Valuation, error) {
	valuation, err := a.Valuate()
	if err != nil {
		return Valuation{}, err
	}
	total := decimal.Zero
	for _, metal := range Metals {
		price, ok := prices[metal]
		if !ok {
			return Valuation{}, fmt.Errorf("%w: no %s price", ErrInvalidInput, metal)
		}
		if price.IsNegative() {
			return Valuation{}, fmt.Errorf("%w: %s price %s is negative", ErrInvalidInput, metal, price)
		}
		total = total.Add(valuation.Grams[metal].Mul(price))
	}
	valuation.Value = total.Round(GramsPrecision)
	valuation.Currency = currency
	return valuation, nil
}
