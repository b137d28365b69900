package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"catmarket/ledger"
	"catmarket/models"
)

type submitTenderRequest struct {
	ListingID uuid.UUID       `json:"listing_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
}

type tenderBuyerView struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	IsBusiness   bool      `json:"is_business"`
	BusinessName string    `json:"business_name,omitempty"`
}

type tenderView struct {
	ID        uuid.UUID           `json:"id"`
	Amount    decimal.Decimal     `json:"amount"`
	Status    models.TenderStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	Buyer     tenderBuyerView     `json:"buyer"`
}

// SubmitTender 對刊登送出一筆出價
// (POST /tenders/submit)
func (impl *ServerImpl) SubmitTender(c *gin.Context) {
	const op = "SubmitTender"
	buyerID, ok := callerID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	var req submitTenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}
	if !req.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"message": "amount must be positive"})
		return
	}

	tenderID, err := impl.bidLedger.SubmitTender(c.Request.Context(), req.ListingID, buyerID, req.Amount)
	switch {
	case errors.Is(err, ledger.ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "listing not found"})
		return
	case errors.Is(err, ledger.ErrListingClosed):
		c.JSON(http.StatusGone, gin.H{"message": "listing is not accepting tenders"})
		return
	case errors.Is(err, ledger.ErrAlreadyHighestBidder):
		c.JSON(http.StatusConflict, gin.H{"message": "you already hold the highest tender"})
		return
	case err != nil:
		slog.Error("Fail to submit tender", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tender_id": tenderID})
}

// ListListingTenders 列出刊登的所有出價，金額由高到低
// (GET /tenders/listing/:listingID)
func (impl *ServerImpl) ListListingTenders(c *gin.Context) {
	const op = "ListListingTenders"
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid listing id"})
		return
	}

	listing := models.Listing{ID: listingID}
	if result := impl.db.WithContext(c.Request.Context()).First(&listing); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "listing not found"})
			return
		}
		slog.Error("Fail to find listing", slog.String("op", op), slog.Any("error", result.Error))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	tenders, err := impl.bidLedger.ListTenders(c.Request.Context(), listingID)
	if err != nil {
		slog.Error("Fail to list tenders", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	views := make([]tenderView, len(tenders))
	for i, tender := range tenders {
		views[i] = tenderView{
			ID:        tender.ID,
			Amount:    tender.Amount,
			Status:    tender.Status,
			CreatedAt: tender.CreatedAt,
			Buyer: tenderBuyerView{
				ID:           tender.Buyer.ID,
				Username:     tender.Buyer.Username,
				FullName:     tender.Buyer.FullName,
				IsBusiness:   tender.Buyer.IsBusiness,
				BusinessName: tender.Buyer.BusinessName,
			},
		}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(views), "tenders": views})
}

// GetSellerOverview 彙總呼叫者所有刊登的出價狀態
// (GET /tenders/seller/overview)
func (impl *ServerImpl) GetSellerOverview(c *gin.Context) {
	const op = "GetSellerOverview"
	sellerID, ok := callerID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	overviews, err := impl.bidLedger.SellerOverview(c.Request.Context(), sellerID)
	if err != nil {
		slog.Error("Fail to build seller overview", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(overviews), "listings": overviews})
}

// ListingEvents 以SSE推送刊登的出價事件
// (GET /tenders/listing/:listingID/events)
func (impl *ServerImpl) ListingEvents(c *gin.Context) {
	const op = "ListingEvents"
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid listing id"})
		return
	}
	listing := models.Listing{ID: listingID}
	if result := impl.db.WithContext(c.Request.Context()).First(&listing); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		slog.Error("Fail to find listing", slog.String("op", op), slog.Any("error", result.Error))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	now := time.Now()
	// 出價開始前5分鐘開放連線
	if now.Before(listing.StartTime.Add(-5 * time.Minute)) {
		c.JSON(http.StatusForbidden, gin.H{"message": "tendering has not started"})
		return
	}
	if listing.Closed(now) {
		c.JSON(http.StatusGone, gin.H{"message": "tendering has ended"})
		return
	}

	// SSE請求合法，開始初始化串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Transfer-Encoding", "chunked")
	ch, err := impl.sseManager.Subscribe(listingID.String())
	if err != nil {
		slog.Error("Fail to subscribe to listing events", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	defer impl.sseManager.Unsubscribe(listingID.String(), ch)
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("tender", event)
			w.Flush()
		// 30秒沒有事件就發送一個空行，確保瀏覽器和Proxy不會斷開連線
		case <-time.After(30 * time.Second):
			fmt.Fprint(w, "\n\n")
			w.Flush()
		}
	}
}
