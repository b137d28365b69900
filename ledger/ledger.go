package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
	"gorm.io/gorm"

	redisAdapter "catmarket/adapters/redis"
	"catmarket/models"
)

var (
	// ErrAlreadyHighestBidder 代表呼叫者已持有最高出價且新金額未超過目前最高價
	ErrAlreadyHighestBidder = errors.New("caller already holds the highest tender")
	// ErrListingClosed 代表刊登已售出、過期或不在出價時間內
	ErrListingClosed = errors.New("listing is not accepting tenders")
	// ErrListingNotFound 代表刊登不存在
	ErrListingNotFound = errors.New("listing not found")
)

// TenderEvent 是寫入Redis stream的出價事件
// 由SSE訂閱者廣播給前端，也驅動同步worker更新刊登的最高出價參照
type TenderEvent struct {
	Type      string    `json:"type"`
	ListingID uuid.UUID `json:"listing_id"`
	BuyerID   uuid.UUID `json:"buyer_id"`
	BuyerName string    `json:"buyer_name"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	// EventSubmitted 代表一筆新的出價進入帳本
	EventSubmitted = "submitted"
	// EventListingClosed 代表刊登已經結束(被接受或直接購買)
	EventListingClosed = "listing_closed"
)

// BidInfo 是刊登讀取時附帶的出價摘要
type BidInfo struct {
	HasBids         bool             `json:"has_bids"`
	TotalBids       int64            `json:"total_bids"`
	HighestBid      *decimal.Decimal `json:"highest_bid,omitempty"`
	HighestBidderID *uuid.UUID       `json:"highest_bidder_id,omitempty"`
}

// BidLedger 維護每個刊登的持久化出價排名
//
// 出價寫入路徑沿用兩段式設計: 先在per-listing的分散式鎖保護下，
// 透過Lua script對Redis上的最高出價做compare-and-set(同時把事件
// 寫入stream)，成功後才將出價落盤。同一個刊登的出價因此完全序列化，
// 不同刊登之間互不阻塞
type BidLedger struct {
	db          *gorm.DB
	redisClient *redis.Client
	logger      *slog.Logger
	now         func() time.Time
	newMutex    func(key string) redisAdapter.IAutoRenewMutex

	keyPrefix  string
	streamKey  string
	expireTime time.Duration
}

type BidLedgerOption func(*BidLedger)

// WithLedgerLogger 設置日誌記錄器
func WithLedgerLogger(logger *slog.Logger) BidLedgerOption {
	return func(l *BidLedger) {
		l.logger = logger
	}
}

// WithLedgerKeyPrefix 設置Redis鍵的前綴
func WithLedgerKeyPrefix(prefix string) BidLedgerOption {
	return func(l *BidLedger) {
		l.keyPrefix = prefix
	}
}

// WithLedgerExpireTime 設置最高出價快取的過期時間
func WithLedgerExpireTime(d time.Duration) BidLedgerOption {
	return func(l *BidLedger) {
		l.expireTime = d
	}
}

// WithLedgerClock 注入時鐘(主要用於測試)
func WithLedgerClock(now func() time.Time) BidLedgerOption {
	return func(l *BidLedger) {
		l.now = now
	}
}

// WithLedgerMutexFactory 注入鎖的工廠(主要用於測試)
func WithLedgerMutexFactory(fn func(key string) redisAdapter.IAutoRenewMutex) BidLedgerOption {
	return func(l *BidLedger) {
		l.newMutex = fn
	}
}

func NewBidLedger(db *gorm.DB, redisClient *redis.Client, streamKey string, opts ...BidLedgerOption) (*BidLedger, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if redisClient == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if streamKey == "" {
		return nil, errors.New("stream key cannot be empty")
	}
	ledger := &BidLedger{
		db:          db,
		redisClient: redisClient,
		logger:      slog.Default(),
		now:         time.Now,
		streamKey:   streamKey,
		expireTime:  time.Hour,
	}
	for _, opt := range opts {
		opt(ledger)
	}
	if ledger.newMutex == nil {
		ledger.newMutex = func(key string) redisAdapter.IAutoRenewMutex {
			return redisAdapter.NewAutoRenewMutex(redisClient, key)
		}
	}
	ledger.logger = ledger.logger.With(slog.String("caller", "BidLedger"))
	return ledger, nil
}

// SubmitTender 對指定刊登送出一筆出價
// 規則:
//   - 刊登必須存在且在出價時間內(售出/過期的刊登返回ErrListingClosed)
//   - 已持有最高出價的買家，金額必須嚴格高於目前最高價，否則返回
//     ErrAlreadyHighestBidder(相同金額也算被阻擋)
//   - 其他買家的出價無論金額高低都會進入排名
func (l *BidLedger) SubmitTender(ctx context.Context, listingID, buyerID uuid.UUID, amount decimal.Decimal) (uuid.UUID, error) {
	const op = "SubmitTender"
	now := l.now()

	// 檢查刊登是否存在、是否還在收出價
	listing := models.Listing{ID: listingID}
	if result := l.db.WithContext(ctx).First(&listing); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return uuid.Nil, fmt.Errorf("[%s] %w", op, ErrListingNotFound)
		}
		return uuid.Nil, fmt.Errorf("[%s] Fail to find listing, err=%w", op, result.Error)
	}
	if now.Before(listing.StartTime) || listing.Closed(now) {
		return uuid.Nil, fmt.Errorf("[%s] %w", op, ErrListingClosed)
	}

	buyer := models.User{ID: buyerID}
	if result := l.db.WithContext(ctx).First(&buyer); result.Error != nil {
		return uuid.Nil, fmt.Errorf("[%s] Fail to find buyer, err=%w", op, result.Error)
	}

	// 取得刊登的出價鎖，同一刊登的排名變動必須序列化
	lockKey := fmt.Sprintf("%slisting:%s:lock", l.keyPrefix, listingID)
	dMutex := l.newMutex(lockKey)
	lockCtx, err := dMutex.Lock(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("[%s] Fail to acquire tender lock, err=%w", op, err)
	}
	defer func() {
		if _, err := dMutex.Unlock(); err != nil {
			l.logger.Warn("Fail to release tender lock", slog.String("op", op), slog.Any("error", err))
		}
	}()

	// 準備事件並執行快速路徑
	event := TenderEvent{
		Type:      EventSubmitted,
		ListingID: listingID,
		BuyerID:   buyerID,
		BuyerName: buyer.Username,
		Amount:    amount.String(),
		CreatedAt: now,
	}
	eventBytes, err := msgpack.Marshal(event)
	if err != nil {
		return uuid.Nil, fmt.Errorf("[%s] Fail to marshal tender event, err=%w", op, err)
	}
	eventBase64 := base64.StdEncoding.EncodeToString(eventBytes)
	highestKey := fmt.Sprintf("%slisting:%s:highest", l.keyPrefix, listingID)

	status, err := l.runTenderScript(lockCtx, highestKey, amount, buyerID, eventBase64)
	if err != nil {
		return uuid.Nil, fmt.Errorf("[%s] %w", op, err)
	}
	if status == -1 {
		// Redis上沒有這個刊登的最高出價，從資料庫回填後重試一次
		// 由於每次出價都會更新Redis，出價鎖又還握在手上，回填後的
		// 重試不可能再遇到-1
		if err := l.seedHighest(lockCtx, highestKey, listingID, listing.StartingPrice); err != nil {
			return uuid.Nil, fmt.Errorf("[%s] %w", op, err)
		}
		status, err = l.runTenderScript(lockCtx, highestKey, amount, buyerID, eventBase64)
		if err != nil {
			return uuid.Nil, fmt.Errorf("[%s] %w", op, err)
		}
		if status == -1 {
			return uuid.Nil, fmt.Errorf("[%s] Impossible case: highest key missing after seeding", op)
		}
	}
	if status == 0 {
		// 快取記載的最高出價者可能已經不是active(出價被拒絕、撤回
		// 或隨刊登過期)，以資料庫的現況回填後重試一次，
		// 重試仍然是0才是真的被業務規則阻擋
		if err := l.seedHighest(lockCtx, highestKey, listingID, listing.StartingPrice); err != nil {
			return uuid.Nil, fmt.Errorf("[%s] %w", op, err)
		}
		status, err = l.runTenderScript(lockCtx, highestKey, amount, buyerID, eventBase64)
		if err != nil {
			return uuid.Nil, fmt.Errorf("[%s] %w", op, err)
		}
		if status == 0 {
			return uuid.Nil, fmt.Errorf("[%s] %w", op, ErrAlreadyHighestBidder)
		}
	}

	// 快速路徑通過，將出價落盤
	tender := models.Tender{
		ListingID: listingID,
		BuyerID:   buyerID,
		Amount:    amount,
		Status:    models.TenderStatusActive,
	}
	if result := l.db.WithContext(ctx).Create(&tender); result.Error != nil {
		// 快取已經記下這筆沒有落盤的出價，清掉讓下一次出價從資料庫回填
		if err := l.InvalidateHighest(lockCtx, listingID); err != nil {
			l.logger.Warn("Fail to invalidate highest tender cache", slog.String("op", op), slog.Any("error", err))
		}
		return uuid.Nil, fmt.Errorf("[%s] Fail to create tender, err=%w", op, result.Error)
	}
	if status == 1 {
		l.logger.Info("New highest tender",
			slog.String("listingID", listingID.String()),
			slog.String("buyerID", buyerID.String()),
			slog.String("amount", amount.String()))
	}
	return tender.ID, nil
}

func (l *BidLedger) runTenderScript(ctx context.Context, highestKey string, amount decimal.Decimal, buyerID uuid.UUID, eventBase64 string) (int, error) {
	status, err := TenderScript.Run(ctx, l.redisClient,
		[]string{highestKey, l.streamKey},
		amount.String(), buyerID.String(), eventBase64, int(l.expireTime.Seconds()),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("fail to run tender script, err=%w", err)
	}
	if status < -1 || status > 2 {
		return 0, fmt.Errorf("invalid script return value: %d", status)
	}
	return status, nil
}

// seedHighest 將資料庫中的最高出價寫回Redis
// 沒有任何active出價時以起標價為基準，bidder留空
func (l *BidLedger) seedHighest(ctx context.Context, highestKey string, listingID uuid.UUID, startingPrice decimal.Decimal) error {
	const op = "seedHighest"
	top, err := l.Highest(ctx, listingID)
	if err != nil {
		return fmt.Errorf("[%s] %w", op, err)
	}
	amount, bidder := startingPrice.String(), ""
	if top != nil {
		amount, bidder = top.Amount.String(), top.BuyerID.String()
	}
	if err := l.redisClient.HSet(ctx, highestKey, "amount", amount, "bidder", bidder).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to seed highest tender, err=%w", op, err)
	}
	if err := l.redisClient.Expire(ctx, highestKey, l.expireTime).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to set expire on highest tender, err=%w", op, err)
	}
	return nil
}

// InvalidateHighest 移除刊登的最高出價快取
// 出價狀態在Redis之外被改變時呼叫，下一次出價會從資料庫回填
func (l *BidLedger) InvalidateHighest(ctx context.Context, listingID uuid.UUID) error {
	const op = "InvalidateHighest"
	highestKey := fmt.Sprintf("%slisting:%s:highest", l.keyPrefix, listingID)
	if err := l.redisClient.Del(ctx, highestKey).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to delete highest tender cache, err=%w", op, err)
	}
	return nil
}

// Highest 回傳刊登目前最高的active出價，沒有出價時回傳nil
// 金額相同時最早送出的出價勝出
func (l *BidLedger) Highest(ctx context.Context, listingID uuid.UUID) (*RankedTender, error) {
	const op = "Highest"
	tenders, err := l.activeTenders(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	return Highest(tenders), nil
}

// ListTenders 回傳刊登的所有出價，金額由高到低、時間由早到晚
func (l *BidLedger) ListTenders(ctx context.Context, listingID uuid.UUID) ([]models.Tender, error) {
	const op = "ListTenders"
	var tenders []models.Tender
	if result := l.db.WithContext(ctx).
		Preload("Buyer").
		Where("listing_id = ?", listingID).
		Order("amount DESC, created_at ASC").
		Find(&tenders); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list tenders, err=%w", op, result.Error)
	}
	return tenders, nil
}

// BidInfo 回傳刊登讀取時附帶的出價摘要
// 必須和帳本狀態一致：highest_bid/highest_bidder_id直接從排名計算
func (l *BidLedger) BidInfo(ctx context.Context, listingID uuid.UUID) (BidInfo, error) {
	const op = "BidInfo"
	tenders, err := l.activeTenders(ctx, listingID)
	if err != nil {
		return BidInfo{}, fmt.Errorf("[%s] %w", op, err)
	}
	info := BidInfo{
		HasBids:   len(tenders) > 0,
		TotalBids: int64(len(tenders)),
	}
	if top := Highest(tenders); top != nil {
		info.HighestBid = &top.Amount
		info.HighestBidderID = &top.BuyerID
	}
	return info, nil
}

// ListingOverview 是賣家總覽中單一刊登的彙總
type ListingOverview struct {
	Listing      models.Listing   `json:"listing"`
	TenderCount  int              `json:"tender_count"`
	HighestOffer *decimal.Decimal `json:"highest_offer,omitempty"`
	Tenders      []models.Tender  `json:"tenders"`
}

// SellerOverview 彙總賣家所有刊登的出價狀態
func (l *BidLedger) SellerOverview(ctx context.Context, sellerID uuid.UUID) ([]ListingOverview, error) {
	const op = "SellerOverview"
	var listings []models.Listing
	if result := l.db.WithContext(ctx).
		Preload("Seller").
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").
		Find(&listings); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list seller listings, err=%w", op, result.Error)
	}
	overviews := make([]ListingOverview, 0, len(listings))
	for _, listing := range listings {
		tenders, err := l.ListTenders(ctx, listing.ID)
		if err != nil {
			return nil, fmt.Errorf("[%s] %w", op, err)
		}
		overview := ListingOverview{
			Listing:     listing,
			TenderCount: len(tenders),
			Tenders:     tenders,
		}
		if top := Highest(toRanked(tenders)); top != nil {
			overview.HighestOffer = &top.Amount
		}
		overviews = append(overviews, overview)
	}
	return overviews, nil
}

// SyncCurrentTender 重新計算刊登的最高出價參照
// 由stream的同步worker呼叫；回傳更新前的最高出價者(用於outbid通知)
func (l *BidLedger) SyncCurrentTender(ctx context.Context, listingID uuid.UUID) (previous, current *RankedTender, err error) {
	const op = "SyncCurrentTender"
	listing := models.Listing{ID: listingID}
	if result := l.db.WithContext(ctx).Preload("CurrentTender").First(&listing); result.Error != nil {
		return nil, nil, fmt.Errorf("[%s] Fail to find listing, err=%w", op, result.Error)
	}
	if listing.CurrentTender != nil {
		previous = &RankedTender{
			TenderID:  listing.CurrentTender.ID,
			BuyerID:   listing.CurrentTender.BuyerID,
			Amount:    listing.CurrentTender.Amount,
			CreatedAt: listing.CurrentTender.CreatedAt,
		}
	}
	current, err = l.Highest(ctx, listingID)
	if err != nil {
		return nil, nil, fmt.Errorf("[%s] %w", op, err)
	}
	if current == nil {
		if listing.CurrentTenderID != nil {
			if result := l.db.WithContext(ctx).Model(&listing).Update("current_tender_id", nil); result.Error != nil {
				return nil, nil, fmt.Errorf("[%s] Fail to clear current tender, err=%w", op, result.Error)
			}
		}
		return previous, nil, nil
	}
	if listing.CurrentTenderID == nil || *listing.CurrentTenderID != current.TenderID {
		if result := l.db.WithContext(ctx).Model(&listing).Update("current_tender_id", current.TenderID); result.Error != nil {
			return nil, nil, fmt.Errorf("[%s] Fail to update current tender, err=%w", op, result.Error)
		}
	}
	return previous, current, nil
}

func (l *BidLedger) activeTenders(ctx context.Context, listingID uuid.UUID) ([]RankedTender, error) {
	var tenders []models.Tender
	if result := l.db.WithContext(ctx).
		Where("listing_id = ? AND status = ?", listingID, models.TenderStatusActive).
		Find(&tenders); result.Error != nil {
		return nil, fmt.Errorf("fail to load active tenders, err=%w", result.Error)
	}
	return toRanked(tenders), nil
}

func toRanked(tenders []models.Tender) []RankedTender {
	ranked := make([]RankedTender, 0, len(tenders))
	for _, t := range tenders {
		if t.Status != models.TenderStatusActive {
			continue
		}
		ranked = append(ranked, RankedTender{
			TenderID:  t.ID,
			BuyerID:   t.BuyerID,
			Amount:    t.Amount,
			CreatedAt: t.CreatedAt,
		})
	}
	return ranked
}
