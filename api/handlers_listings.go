package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"catmarket/models"
	"catmarket/workflow"
)

type createListingRequest struct {
	Title         string          `json:"title" binding:"required"`
	Description   string          `json:"description" binding:"required"`
	Category      string          `json:"category" binding:"required"`
	Condition     string          `json:"condition"`
	StartingPrice decimal.Decimal `json:"starting_price" binding:"required"`
	StartTime     *time.Time      `json:"start_time"`
	EndTime       *time.Time      `json:"end_time"`
	Carousels     []string        `json:"carousels"`

	IsPartnersOnly    bool       `json:"is_partners_only"`
	PublicAt          *time.Time `json:"public_at"`
	ShowPartnersFirst bool       `json:"show_partners_first"`

	Assay models.CatalystAssay `json:"assay"`
}

// CreateListing 建立新的刊登
// (POST /listings)
func (impl *ServerImpl) CreateListing(c *gin.Context) {
	const op = "CreateListing"
	sellerID, ok := callerID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}
	if !req.StartingPrice.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"message": "starting price must be positive"})
		return
	}
	now := time.Now()
	startTime := lo.FromPtrOr(req.StartTime, now)
	if req.EndTime != nil && !req.EndTime.After(startTime) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "end time must be after start time"})
		return
	}
	if req.IsPartnersOnly && req.PublicAt != nil && req.PublicAt.Before(startTime) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "public time must not be before start time"})
		return
	}

	listing := models.Listing{
		SellerID:      sellerID,
		Title:         req.Title,
		Description:   impl.htmlChecker.Sanitize(req.Description),
		Category:      req.Category,
		Condition:     req.Condition,
		StartingPrice: req.StartingPrice,
		Status:        models.ListingStatusActive,
		StartTime:     startTime,
		EndTime:       req.EndTime,
		Carousels:     req.Carousels,

		IsPartnersOnly:    req.IsPartnersOnly,
		PublicAt:          req.PublicAt,
		ShowPartnersFirst: req.ShowPartnersFirst,

		CatalystAssay: req.Assay,
	}
	if result := impl.db.WithContext(c.Request.Context()).Create(&listing); result.Error != nil {
		slog.Error("Fail to create listing", slog.String("op", op), slog.Any("error", result.Error))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Header("Location", fmt.Sprintf("/listings/%s", listing.ID))
	c.JSON(http.StatusCreated, listing)
}

// GetListing 讀取單一刊登，附帶出價摘要
// 此端點不強制登入，但合作夥伴限定的刊登對未登入者不可見
// (GET /listings/:listingID)
func (impl *ServerImpl) GetListing(c *gin.Context) {
	const op = "GetListing"
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid listing id"})
		return
	}
	listing := models.Listing{ID: listingID}
	if result := impl.db.WithContext(c.Request.Context()).Preload("Seller").First(&listing); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "listing not found"})
			return
		}
		slog.Error("Fail to find listing", slog.String("op", op), slog.Any("error", result.Error))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	// 可見性用存在的憑證判斷，沒有憑證就當成匿名訪客
	viewer := impl.optionalCaller(c)
	if !listing.VisibleTo(viewer, time.Now()) {
		// 不可見的刊登一律回404，避免洩漏其存在
		c.JSON(http.StatusNotFound, gin.H{"message": "listing not found"})
		return
	}
	bidInfo, err := impl.bidLedger.BidInfo(c.Request.Context(), listingID)
	if err != nil {
		slog.Error("Fail to load bid info", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listing":  listing,
		"bid_info": bidInfo,
	})
}

// optionalCaller 嘗試取得目前請求的使用者，沒有合法憑證時回傳nil
func (impl *ServerImpl) optionalCaller(c *gin.Context) *models.User {
	tokenString := extractToken(c)
	if tokenString == "" {
		return nil
	}
	claims, err := ParseAndValidateJWT(tokenString, impl.config.Auth.PublicKey)
	if err != nil {
		return nil
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil
	}
	viewer := models.User{ID: id}
	if result := impl.db.WithContext(c.Request.Context()).First(&viewer); result.Error != nil {
		return nil
	}
	return &viewer
}

// BuyListing 以起標價直接購買刊登
// (POST /listings/:listingID/buy)
func (impl *ServerImpl) BuyListing(c *gin.Context) {
	const op = "BuyListing"
	buyerID, ok := callerID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	listingID, err := uuid.Parse(c.Param("listingID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid listing id"})
		return
	}
	item, err := impl.engine.Buy(c.Request.Context(), listingID, buyerID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "listing not found"})
		return
	case errors.Is(err, workflow.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"message": "seller cannot buy own listing"})
		return
	case errors.Is(err, workflow.ErrListingClosed), errors.Is(err, workflow.ErrInvalidStateTransition):
		c.JSON(http.StatusGone, gin.H{"message": "listing is no longer for sale"})
		return
	case err != nil:
		slog.Error("Fail to buy listing", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	impl.announceListingClosed(item)
	c.JSON(http.StatusCreated, item)
}
