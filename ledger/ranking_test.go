package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func tender(buyer uuid.UUID, amount string, offset time.Duration) RankedTender {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return RankedTender{
		TenderID:  uuid.New(),
		BuyerID:   buyer,
		Amount:    decimal.RequireFromString(amount),
		CreatedAt: base.Add(offset),
	}
}

func TestRank(t *testing.T) {
	buyerA := uuid.New()
	buyerB := uuid.New()
	buyerC := uuid.New()

	t.Run("金額由高到低排序", func(t *testing.T) {
		ranked := Rank([]RankedTender{
			tender(buyerA, "600", 0),
			tender(buyerB, "650", time.Minute),
			tender(buyerC, "620", 2*time.Minute),
		})
		assert.Equal(t, buyerB, ranked[0].BuyerID)
		assert.Equal(t, buyerC, ranked[1].BuyerID)
		assert.Equal(t, buyerA, ranked[2].BuyerID)
	})

	t.Run("金額相同時先出價者在前", func(t *testing.T) {
		first := tender(buyerA, "600", 0)
		second := tender(buyerB, "600", time.Minute)
		ranked := Rank([]RankedTender{second, first})
		assert.Equal(t, buyerA, ranked[0].BuyerID)
		assert.Equal(t, buyerB, ranked[1].BuyerID)
	})

	t.Run("輸入不會被修改", func(t *testing.T) {
		input := []RankedTender{
			tender(buyerA, "100", 0),
			tender(buyerB, "200", time.Minute),
		}
		_ = Rank(input)
		assert.Equal(t, buyerA, input[0].BuyerID)
	})
}

func TestHighest(t *testing.T) {
	buyerA := uuid.New()
	buyerB := uuid.New()

	t.Run("沒有出價時回傳nil", func(t *testing.T) {
		assert.Nil(t, Highest(nil))
		assert.Nil(t, Highest([]RankedTender{}))
	})

	t.Run("Mitsubishi情境: 600對650", func(t *testing.T) {
		// 起標600的刊登，A出600、B出650，最高出價者是B
		top := Highest([]RankedTender{
			tender(buyerA, "600", 0),
			tender(buyerB, "650", time.Minute),
		})
		assert.NotNil(t, top)
		assert.Equal(t, buyerB, top.BuyerID)
		assert.True(t, decimal.RequireFromString("650").Equal(top.Amount))
	})

	t.Run("平手時最早送出的出價勝出", func(t *testing.T) {
		first := tender(buyerA, "650", 0)
		second := tender(buyerB, "650", time.Second)
		top := Highest([]RankedTender{second, first})
		assert.Equal(t, buyerA, top.BuyerID)
	})
}

func TestIsHighestBidder(t *testing.T) {
	buyerA := uuid.New()
	buyerB := uuid.New()
	tenders := []RankedTender{
		tender(buyerA, "600", 0),
		tender(buyerB, "650", time.Minute),
	}

	assert.True(t, IsHighestBidder(tenders, buyerB))
	assert.False(t, IsHighestBidder(tenders, buyerA))
	assert.False(t, IsHighestBidder(nil, buyerA))
}
