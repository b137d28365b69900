package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"catmarket/models"
)

// Engine 負責執行出價與刊登的狀態轉移
// 每個轉移都在單一交易內完成：更新狀態、產生通知、
// 接受時建立購買紀錄(含觸媒欄位的完整性檢查)
type Engine struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

type EngineOption func(*Engine)

// WithEngineLogger 設置日誌記錄器
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEngineClock 注入時鐘(主要用於測試)
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(db *gorm.DB, opts ...EngineOption) *Engine {
	engine := &Engine{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(engine)
	}
	engine.logger = engine.logger.With(slog.String("caller", "WorkflowEngine"))
	return engine
}

// Accept 由賣家接受指定的出價
// 接受即結束刊登：刊登轉為sold，同刊登的其他active出價全部轉為rejected，
// 並建立購買紀錄，把刊登上的觸媒欄位與當下的回收率設定複製過去
func (e *Engine) Accept(ctx context.Context, tenderID, callerID uuid.UUID) (*models.BoughtItem, error) {
	const op = "Accept"
	var bought *models.BoughtItem
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tender, listing, err := e.loadForTransition(tx, tenderID)
		if err != nil {
			return err
		}
		if listing.SellerID != callerID {
			return fmt.Errorf("[%s] %w: only the seller can accept", op, ErrPermissionDenied)
		}
		if listing.Status != models.ListingStatusActive {
			return fmt.Errorf("[%s] %w: listing is %s", op, ErrListingClosed, listing.Status)
		}
		if err := TransitionTender(tender, models.TenderStatusAccepted); err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
		if err := TransitionListing(listing, models.ListingStatusSold); err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
		listing.CurrentTenderID = &tender.ID
		if result := tx.Save(tender); result.Error != nil {
			return fmt.Errorf("[%s] Fail to save tender, err=%w", op, result.Error)
		}
		if result := tx.Save(listing); result.Error != nil {
			return fmt.Errorf("[%s] Fail to save listing, err=%w", op, result.Error)
		}

		// 同刊登的其他active出價全部轉為rejected並通知買家
		var others []models.Tender
		if result := tx.Where("listing_id = ? AND status = ? AND id <> ?",
			listing.ID, models.TenderStatusActive, tender.ID).Find(&others); result.Error != nil {
			return fmt.Errorf("[%s] Fail to list competing tenders, err=%w", op, result.Error)
		}
		for i := range others {
			if err := TransitionTender(&others[i], models.TenderStatusRejected); err != nil {
				return fmt.Errorf("[%s] %w", op, err)
			}
			if result := tx.Save(&others[i]); result.Error != nil {
				return fmt.Errorf("[%s] Fail to reject competing tender, err=%w", op, result.Error)
			}
			if err := e.notify(tx, others[i].BuyerID, models.NotificationTypeBuyRejected,
				"出價未被接受", fmt.Sprintf("您對「%s」的出價未被接受", listing.Title), tenderRef(&others[i])); err != nil {
				return fmt.Errorf("[%s] %w", op, err)
			}
		}

		// 建立購買紀錄，觸媒欄位從刊登複製，回收率缺值時補上當下的定價設定
		item, err := e.buildBoughtItem(tx, listing, tender.BuyerID, &tender.ID, tender.Amount)
		if err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
		if result := tx.Create(item); result.Error != nil {
			return fmt.Errorf("[%s] Fail to create bought item, err=%w", op, result.Error)
		}
		bought = item

		if err := e.notify(tx, tender.BuyerID, models.NotificationTypeBuyAccepted,
			"出價已被接受", fmt.Sprintf("您對「%s」的出價已被接受", listing.Title), tenderRef(tender)); err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Tender accepted", slog.String("tenderID", tenderID.String()))
	return bought, nil
}

// Reject 由賣家拒絕指定的出價
func (e *Engine) Reject(ctx context.Context, tenderID, callerID uuid.UUID) error {
	const op = "Reject"
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tender, listing, err := e.loadForTransition(tx, tenderID)
		if err != nil {
			return err
		}
		if listing.SellerID != callerID {
			return fmt.Errorf("[%s] %w: only the seller can reject", op, ErrPermissionDenied)
		}
		if err := TransitionTender(tender, models.TenderStatusRejected); err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
		if result := tx.Save(tender); result.Error != nil {
			return fmt.Errorf("[%s] Fail to save tender, err=%w", op, result.Error)
		}
		// 被拒絕的出價如果正好是目前最高，清掉刊登上的參照
		if listing.CurrentTenderID != nil && *listing.CurrentTenderID == tender.ID {
			listing.CurrentTenderID = nil
			if result := tx.Save(listing); result.Error != nil {
				return fmt.Errorf("[%s] Fail to clear current tender, err=%w", op, result.Error)
			}
		}
		return e.notify(tx, tender.BuyerID, models.NotificationTypeBuyRejected,
			"出價已被拒絕", fmt.Sprintf("您對「%s」的出價已被拒絕", listing.Title), tenderRef(tender))
	})
	if err != nil {
		return err
	}
	e.logger.Info("Tender rejected", slog.String("tenderID", tenderID.String()))
	return nil
}

// Cancel 由買家撤回自己的出價
// 只有在刊登仍然active時才允許
func (e *Engine) Cancel(ctx context.Context, tenderID, callerID uuid.UUID) error {
	const op = "Cancel"
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tender, listing, err := e.loadForTransition(tx, tenderID)
		if err != nil {
			return err
		}
		if tender.BuyerID != callerID {
			return fmt.Errorf("[%s] %w: only the original buyer can cancel", op, ErrPermissionDenied)
		}
		if listing.Closed(e.now()) {
			return fmt.Errorf("[%s] %w", op, ErrListingClosed)
		}
		if err := TransitionTender(tender, models.TenderStatusCancelled); err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
		if result := tx.Save(tender); result.Error != nil {
			return fmt.Errorf("[%s] Fail to save tender, err=%w", op, result.Error)
		}
		if listing.CurrentTenderID != nil && *listing.CurrentTenderID == tender.ID {
			listing.CurrentTenderID = nil
			if result := tx.Save(listing); result.Error != nil {
				return fmt.Errorf("[%s] Fail to clear current tender, err=%w", op, result.Error)
			}
		}
		return e.notify(tx, listing.SellerID, models.NotificationTypeBuyCancelled,
			"出價已被撤回", fmt.Sprintf("「%s」的一筆出價已被買家撤回", listing.Title), tenderRef(tender))
	})
	if err != nil {
		return err
	}
	e.logger.Info("Tender cancelled", slog.String("tenderID", tenderID.String()))
	return nil
}

// Buy 以起標價直接購買刊登
// 成立後刊登轉為sold，既有的active出價全部轉為rejected並通知買家
func (e *Engine) Buy(ctx context.Context, listingID, buyerID uuid.UUID) (*models.BoughtItem, error) {
	const op = "Buy"
	var bought *models.BoughtItem
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		listing := models.Listing{ID: listingID}
		if result := tx.First(&listing); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("[%s] %w: listing not found", op, gorm.ErrRecordNotFound)
			}
			return fmt.Errorf("[%s] Fail to find listing, err=%w", op, result.Error)
		}
		if listing.SellerID == buyerID {
			return fmt.Errorf("[%s] %w: seller cannot buy own listing", op, ErrPermissionDenied)
		}
		if err := e.expireLazily(tx, &listing, nil); err != nil {
			return err
		}
		if listing.Closed(e.now()) {
			return fmt.Errorf("[%s] %w", op, ErrListingClosed)
		}
		if err := TransitionListing(&listing, models.ListingStatusSold); err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
		if result := tx.Save(&listing); result.Error != nil {
			return fmt.Errorf("[%s] Fail to save listing, err=%w", op, result.Error)
		}

		var tenders []models.Tender
		if result := tx.Where("listing_id = ? AND status = ?",
			listing.ID, models.TenderStatusActive).Find(&tenders); result.Error != nil {
			return fmt.Errorf("[%s] Fail to list active tenders, err=%w", op, result.Error)
		}
		for i := range tenders {
			if err := TransitionTender(&tenders[i], models.TenderStatusRejected); err != nil {
				return fmt.Errorf("[%s] %w", op, err)
			}
			if result := tx.Save(&tenders[i]); result.Error != nil {
				return fmt.Errorf("[%s] Fail to reject tender, err=%w", op, result.Error)
			}
			if err := e.notify(tx, tenders[i].BuyerID, models.NotificationTypeBuyRejected,
				"出價未被接受", fmt.Sprintf("「%s」已由其他買家直接購買", listing.Title), tenderRef(&tenders[i])); err != nil {
				return fmt.Errorf("[%s] %w", op, err)
			}
		}

		item, err := e.buildBoughtItem(tx, &listing, buyerID, nil, listing.StartingPrice)
		if err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
		if result := tx.Create(item); result.Error != nil {
			return fmt.Errorf("[%s] Fail to create bought item, err=%w", op, result.Error)
		}
		bought = item

		return e.notify(tx, listing.SellerID, models.NotificationTypeSystem,
			"商品已售出", fmt.Sprintf("「%s」已以定價售出", listing.Title),
			map[string]string{"listing_id": listing.ID.String(), "buyer_id": buyerID.String()})
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Listing bought at asking price", slog.String("listingID", listingID.String()))
	return bought, nil
}

// loadForTransition 載入出價與對應刊登，並惰性處理過期
func (e *Engine) loadForTransition(tx *gorm.DB, tenderID uuid.UUID) (*models.Tender, *models.Listing, error) {
	const op = "loadForTransition"
	tender := models.Tender{ID: tenderID}
	if result := tx.First(&tender); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("[%s] %w: tender not found", op, gorm.ErrRecordNotFound)
		}
		return nil, nil, fmt.Errorf("[%s] Fail to find tender, err=%w", op, result.Error)
	}
	listing := models.Listing{ID: tender.ListingID}
	if result := tx.First(&listing); result.Error != nil {
		return nil, nil, fmt.Errorf("[%s] Fail to find listing, err=%w", op, result.Error)
	}
	if err := e.expireLazily(tx, &listing, &tender); err != nil {
		return nil, nil, err
	}
	return &tender, &listing, nil
}

// expireLazily 依呼叫當下的時間判斷刊登是否已過期
// 過期不是由計時器主動推進的，而是在下一次讀寫時才落盤
func (e *Engine) expireLazily(tx *gorm.DB, listing *models.Listing, tender *models.Tender) error {
	const op = "expireLazily"
	now := e.now()
	if listing.Status != models.ListingStatusActive || listing.EndTime == nil || now.Before(*listing.EndTime) {
		return nil
	}
	if err := TransitionListing(listing, models.ListingStatusExpired); err != nil {
		return fmt.Errorf("[%s] %w", op, err)
	}
	if result := tx.Save(listing); result.Error != nil {
		return fmt.Errorf("[%s] Fail to expire listing, err=%w", op, result.Error)
	}
	if result := tx.Model(&models.Tender{}).
		Where("listing_id = ? AND status = ?", listing.ID, models.TenderStatusActive).
		Update("status", models.TenderStatusExpired); result.Error != nil {
		return fmt.Errorf("[%s] Fail to expire tenders, err=%w", op, result.Error)
	}
	if tender != nil && tender.Status == models.TenderStatusActive {
		tender.Status = models.TenderStatusExpired
	}
	return nil
}

// buildBoughtItem 從刊登建立反正規化的購買紀錄
// 刊登上缺少回收率時，從PriceSetting補上成交當下的設定，
// 完成後用VerifyAssayCopy攔截任何資料遺失
func (e *Engine) buildBoughtItem(tx *gorm.DB, listing *models.Listing, buyerID uuid.UUID, tenderID *uuid.UUID, price decimal.Decimal) (*models.BoughtItem, error) {
	const op = "buildBoughtItem"
	assay := listing.CatalystAssay
	if assay.HasAssay() {
		if err := fillRenumeration(tx, &assay); err != nil {
			return nil, fmt.Errorf("[%s] %w", op, err)
		}
	}
	item := models.BoughtItem{
		ListingID:     listing.ID,
		BuyerID:       buyerID,
		TenderID:      tenderID,
		Title:         listing.Title,
		SettledPrice:  price,
		CatalystAssay: assay,
	}
	// ppm與重量必須和刊登逐位一致(回收率可能剛被補值，不在比對範圍)
	check := item.CatalystAssay
	check.RenumerationPt = listing.RenumerationPt
	check.RenumerationPd = listing.RenumerationPd
	check.RenumerationRh = listing.RenumerationRh
	if err := models.VerifyAssayCopy(listing.CatalystAssay, check); err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	return &item, nil
}

// fillRenumeration 補上刊登未指定的回收率
func fillRenumeration(tx *gorm.DB, assay *models.CatalystAssay) error {
	const op = "fillRenumeration"
	targets := map[string]**decimal.Decimal{
		"pt": &assay.RenumerationPt,
		"pd": &assay.RenumerationPd,
		"rh": &assay.RenumerationRh,
	}
	for metal, target := range targets {
		if *target != nil {
			continue
		}
		var setting models.PriceSetting
		if result := tx.Where("metal = ?", metal).First(&setting); result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				continue
			}
			return fmt.Errorf("[%s] Fail to load price setting for %s, err=%w", op, metal, result.Error)
		}
		rate := setting.RenumerationRate
		*target = &rate
	}
	return nil
}

// notify 在交易內建立通知
func (e *Engine) notify(tx *gorm.DB, userID uuid.UUID, kind models.NotificationType, title, message string, ref map[string]string) error {
	const op = "notify"
	payload, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("[%s] Fail to marshal notification payload, err=%w", op, err)
	}
	notification := models.Notification{
		UserID:  userID,
		Type:    kind,
		Title:   title,
		Message: message,
		Data:    datatypes.JSON(payload),
	}
	if result := tx.Create(&notification); result.Error != nil {
		return fmt.Errorf("[%s] Fail to create notification, err=%w", op, result.Error)
	}
	return nil
}

func tenderRef(tender *models.Tender) map[string]string {
	return map[string]string{
		"tender_id":  tender.ID.String(),
		"listing_id": tender.ListingID.String(),
	}
}
