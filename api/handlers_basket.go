package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"catmarket/catalyst"
	"catmarket/models"
)

type addBasketItemRequest struct {
	BoughtItemID uuid.UUID `json:"bought_item_id" binding:"required"`
}

// AddBasketItem 將購買紀錄放進購物籃等待估價
// 觸媒欄位會再複製一次，複製完成後立即驗證沒有欄位遺失
// (POST /basket/items)
func (impl *ServerImpl) AddBasketItem(c *gin.Context) {
	const op = "AddBasketItem"
	userID, ok := callerID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	var req addBasketItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}
	bought := models.BoughtItem{ID: req.BoughtItemID}
	if result := impl.db.WithContext(c.Request.Context()).First(&bought); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "bought item not found"})
			return
		}
		slog.Error("Fail to find bought item", slog.String("op", op), slog.Any("error", result.Error))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if bought.BuyerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"message": "bought item does not belong to caller"})
		return
	}
	item := models.BasketItem{
		UserID:        userID,
		BoughtItemID:  bought.ID,
		Title:         bought.Title,
		CatalystAssay: bought.CatalystAssay,
	}
	if err := models.VerifyAssayCopy(bought.CatalystAssay, item.CatalystAssay); err != nil {
		slog.Error("Catalyst data lost while copying to basket", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if result := impl.db.WithContext(c.Request.Context()).Create(&item); result.Error != nil {
		slog.Error("Fail to create basket item", slog.String("op", op), slog.Any("error", result.Error))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// ListBasketItems 列出呼叫者購物籃中的項目
// (GET /basket/items)
func (impl *ServerImpl) ListBasketItems(c *gin.Context) {
	const op = "ListBasketItems"
	userID, ok := callerID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	var items []models.BasketItem
	if result := impl.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&items); result.Error != nil {
		slog.Error("Fail to list basket items", slog.String("op", op), slog.Any("error", result.Error))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "items": items})
}

// ValuateBasketItem 估算購物籃項目的可回收貴金屬
// 克數從項目自帶的檢測資料與成交時鎖定的回收率計算，
// 貨幣價值則使用目前的每克金屬定價
// (GET /basket/items/:itemID/valuation)
func (impl *ServerImpl) ValuateBasketItem(c *gin.Context) {
	const op = "ValuateBasketItem"
	userID, ok := callerID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	itemID, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid basket item id"})
		return
	}
	item := models.BasketItem{ID: itemID}
	if result := impl.db.WithContext(c.Request.Context()).First(&item); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "basket item not found"})
			return
		}
		slog.Error("Fail to find basket item", slog.String("op", op), slog.Any("error", result.Error))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if item.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"message": "basket item not found"})
		return
	}
	if item.WeightGrams == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "item carries no catalyst weight"})
		return
	}

	assay := catalyst.Assay{
		WeightGrams: *item.WeightGrams,
		Ppm: map[catalyst.Metal]catalyst.PartsPerMillion{
			catalyst.Platinum:  catalyst.PpmFromPtr(item.PtPpm),
			catalyst.Palladium: catalyst.PpmFromPtr(item.PdPpm),
			catalyst.Rhodium:   catalyst.PpmFromPtr(item.RhPpm),
		},
		Recovery: map[catalyst.Metal]decimal.Decimal{},
	}
	rates := map[catalyst.Metal]*decimal.Decimal{
		catalyst.Platinum:  item.RenumerationPt,
		catalyst.Palladium: item.RenumerationPd,
		catalyst.Rhodium:   item.RenumerationRh,
	}
	for metal, rate := range rates {
		if rate != nil {
			assay.Recovery[metal] = *rate
		}
	}

	// 每克金屬的單價從目前的定價設定取得
	var settings []models.PriceSetting
	if result := impl.db.WithContext(c.Request.Context()).Find(&settings); result.Error != nil {
		slog.Error("Fail to load price settings", slog.String("op", op), slog.Any("error", result.Error))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	prices := make(map[catalyst.Metal]decimal.Decimal, len(settings))
	currency := "EUR"
	for _, setting := range settings {
		prices[catalyst.Metal(setting.Metal)] = setting.PricePerGram
		currency = setting.Currency
	}

	valuation, err := assay.ValuateWithPrices(prices, currency)
	switch {
	case errors.Is(err, catalyst.ErrAssayIncomplete):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "assay data is incomplete, item cannot be valuated"})
		return
	case errors.Is(err, catalyst.ErrInvalidInput):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "assay data or pricing is invalid"})
		return
	case err != nil:
		slog.Error("Fail to valuate basket item", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"item_id":  item.ID,
		"grams":    valuation.Grams,
		"value":    valuation.Value,
		"currency": valuation.Currency,
		"weight":   item.WeightGrams,
	})
}
