// Package api 是市集服務的HTTP介面
// 將出價帳本、訂單流程和通知包裝成gin handlers，
// 並帶著一個把stream上的出價事件同步回資料庫的worker
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	redisAdapter "catmarket/adapters/redis"
	internalS3 "catmarket/adapters/s3"
	"catmarket/adapters/sse"
	"catmarket/ledger"
	"catmarket/models"
	"catmarket/workflow"
)

type ServerImpl struct {
	sseManager    sse.IConnectionManager[ledger.TenderEvent]
	imageStore    *internalS3.ImageStore
	htmlChecker   *bluemonday.Policy
	redisClient   *redis.Client
	groupConsumer redisAdapter.IGroupConsumer[ledger.TenderEvent]
	bidLedger     *ledger.BidLedger
	engine        *workflow.Engine
	wg            sync.WaitGroup
	cancelFunc    context.CancelFunc
	db            *gorm.DB

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	// 初始化S3客戶端
	s3Cfg, err := awsCfg.LoadDefaultConfig(
		context.Background(),
		awsCfg.WithBaseEndpoint(config.S3.Endpoint),
		awsCfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(config.S3.AccessKeyID, config.S3.SecretAccessKey, "")),
		awsCfg.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load AWS config, err=%w", op, err)
	}
	imageStore, err := internalS3.NewImageStore(s3.NewFromConfig(s3Cfg), config.S3.Bucket, config.S3.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create image store, err=%w", op, err)
	}

	// 初始化資料庫連線
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: config.DB.Schema + ".",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	// 初始化出價帳本
	bidLedger, err := ledger.NewBidLedger(
		db,
		redisClient,
		config.Redis.StreamKeys.Tender,
		ledger.WithLedgerKeyPrefix(config.Redis.KeyPrefix),
		ledger.WithLedgerExpireTime(config.Redis.ExpireTime),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create bid ledger, err=%w", op, err)
	}

	// 初始化SSE管理器
	// 事件的來源是出價路徑上的Lua script寫入的stream，consumer
	// 讀回事件後依刊登ID分頻道廣播給該刊登頁面的訂閱者
	producer, err := redisAdapter.NewProducer(
		redisClient,
		config.Redis.StreamKeys.Tender,
		redisAdapter.WithProducerEncodeFunc(func(req sse.PublishRequest[ledger.TenderEvent]) (map[string]any, error) {
			return redisAdapter.EncodeMessage(req.Message)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create producer, err=%w", op, err)
	}
	consumer, err := redisAdapter.NewConsumer(
		redisClient,
		config.Redis.StreamKeys.Tender,
		redisAdapter.WithConsumerDecodeFunc(func(m map[string]any) (sse.PublishRequest[ledger.TenderEvent], error) {
			event, err := redisAdapter.DecodeMessage[ledger.TenderEvent](m)
			if err != nil {
				return sse.PublishRequest[ledger.TenderEvent]{}, fmt.Errorf("fail to decode tender event, err=%w", err)
			}
			return sse.PublishRequest[ledger.TenderEvent]{
				Channel: event.ListingID.String(),
				Message: event,
			}, nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create consumer, err=%w", op, err)
	}
	sseManager := sse.NewConnectionManager[ledger.TenderEvent](producer, consumer, slog.Default())

	// 初始化group consumer
	groupConsumer, err := redisAdapter.NewGroupConsumer[ledger.TenderEvent](
		redisClient,
		config.Redis.StreamKeys.Tender,
		config.Redis.ConsumerGroup,
		config.ID,
		redisAdapter.WithGroupConsumerLogger[ledger.TenderEvent](slog.Default()),
		redisAdapter.WithGroupConsumerStrictOrdering[ledger.TenderEvent](true),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create group consumer, err=%w", op, err)
	}

	return &ServerImpl{
		sseManager:    sseManager,
		imageStore:    imageStore,
		htmlChecker:   bluemonday.UGCPolicy(),
		redisClient:   redisClient,
		groupConsumer: groupConsumer,
		bidLedger:     bidLedger,
		engine:        workflow.NewEngine(db),
		db:            db,
		config:        config,
	}, nil
}

func (impl *ServerImpl) Start() {
	// 啟動sse connection manager(內含producer/consumer)
	impl.sseManager.Start()
	// 啟動group consumer
	if err := impl.groupConsumer.Start(); err != nil {
		slog.Error("Fail to start group consumer", slog.Any("error", err))
	}
	// 啟動一個worker用於將stream上的出價事件同步回資料庫
	ctx, cancel := context.WithCancel(context.Background())
	impl.cancelFunc = cancel
	slog.Info("Start tender synchronization worker")
	impl.wg.Add(1)
	go func() {
		logger := slog.Default().With(slog.String("caller", "TenderSynchronize"))
		defer impl.wg.Done()
		defer slog.Info("Tender synchronization worker stopped")
		defer impl.groupConsumer.Close()
		ch := impl.groupConsumer.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				logger.Debug("Receive tender event")
				handleErr := impl.syncTenderEvent(ctx, msg.Data)
				if handleErr != nil {
					logger.Error("Fail to synchronize tender", slog.Any("error", handleErr))
					if err := msg.Fail(ctx, handleErr); err != nil {
						logger.Error("Fail to fail message", slog.Any("error", err))
					}
					continue
				}
				if err := msg.Done(ctx); err != nil {
					logger.Error("Sync success but fail to done message", slog.Any("error", err))
					if err := msg.Fail(ctx, err); err != nil {
						logger.Error("Sync success but fail to fail message", slog.Any("error", err))
					}
					continue
				}
				logger.Debug("Synchronize success")
			}
		}
	}()
}

// syncTenderEvent 處理一筆出價事件:
// 重新計算刊登的最高出價參照，通知被超越的前最高出價者，
// 並通知賣家有新的出價進來
func (impl *ServerImpl) syncTenderEvent(ctx context.Context, event ledger.TenderEvent) error {
	// 只有新的出價需要同步回資料庫，刊登結束等事件只用於SSE廣播
	if event.Type != ledger.EventSubmitted {
		return nil
	}

	previous, current, err := impl.bidLedger.SyncCurrentTender(ctx, event.ListingID)
	if err != nil {
		return fmt.Errorf("fail to sync current tender, err=%w", err)
	}

	listing := models.Listing{ID: event.ListingID}
	if result := impl.db.WithContext(ctx).First(&listing); result.Error != nil {
		return fmt.Errorf("fail to find listing, err=%w", result.Error)
	}

	// 前最高出價者被超越時發出outbid通知
	if previous != nil && current != nil &&
		previous.TenderID != current.TenderID && previous.BuyerID != current.BuyerID {
		if err := impl.createNotification(ctx, previous.BuyerID, models.NotificationTypeOutbid,
			"您的出價已被超越",
			fmt.Sprintf("商品「%s」出現了更高的出價", listing.Title),
			map[string]string{"listing_id": listing.ID.String()},
		); err != nil {
			return err
		}
	}

	// 通知賣家有新的出價
	return impl.createNotification(ctx, listing.SellerID, models.NotificationTypeNewTender,
		"收到新的出價",
		fmt.Sprintf("商品「%s」收到一筆 %s 的出價", listing.Title, event.Amount),
		map[string]string{"listing_id": listing.ID.String(), "buyer_id": event.BuyerID.String()},
	)
}

// announceListingClosed 將刊登結束的事件廣播給SSE訂閱者
// 讓正在觀看刊登頁面的買家即時得知商品已經售出
func (impl *ServerImpl) announceListingClosed(item *models.BoughtItem) {
	event := ledger.TenderEvent{
		Type:      ledger.EventListingClosed,
		ListingID: item.ListingID,
		BuyerID:   item.BuyerID,
		Amount:    item.SettledPrice.String(),
		CreatedAt: time.Now(),
	}
	if err := impl.sseManager.Publish(item.ListingID.String(), event); err != nil {
		slog.Warn("Fail to announce listing closed", slog.String("listingID", item.ListingID.String()), slog.Any("error", err))
	}
}

func (impl *ServerImpl) createNotification(ctx context.Context, userID uuid.UUID, kind models.NotificationType, title, message string, ref map[string]string) error {
	payload, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("fail to marshal notification data, err=%w", err)
	}
	notification := models.Notification{
		UserID:  userID,
		Type:    kind,
		Title:   title,
		Message: message,
		Data:    datatypes.JSON(payload),
	}
	if result := impl.db.WithContext(ctx).Create(&notification); result.Error != nil {
		return fmt.Errorf("fail to create notification, err=%w", result.Error)
	}
	return nil
}

func (impl *ServerImpl) Close() {
	// 關閉group consumer
	impl.groupConsumer.Close()
	// 關閉worker
	if impl.cancelFunc != nil {
		impl.cancelFunc()
	}
	impl.wg.Wait()
	// 關閉sse connection manager
	impl.sseManager.Done()
}

// RegisterRoutes 註冊所有HTTP路由
func (impl *ServerImpl) RegisterRoutes(router *gin.Engine) {
	authed := router.Group("", impl.AuthMiddleware())

	tenders := authed.Group("/tenders")
	tenders.POST("/submit", impl.SubmitTender)
	tenders.GET("/listing/:listingID", impl.ListListingTenders)
	tenders.GET("/seller/overview", impl.GetSellerOverview)
	// SSE事件流不強制登入，未登入者看得到公開刊登的出價更新
	router.GET("/tenders/listing/:listingID/events", impl.ListingEvents)

	orders := authed.Group("/orders")
	orders.PUT("/:orderID/approve", impl.ApproveOrder)
	orders.PUT("/:orderID/reject", impl.RejectOrder)
	orders.PUT("/:orderID/cancel", impl.CancelOrder)

	authed.POST("/listings", impl.CreateListing)
	router.GET("/listings/:listingID", impl.GetListing)
	authed.POST("/listings/:listingID/buy", impl.BuyListing)
	basket := authed.Group("/basket")
	basket.POST("/items", impl.AddBasketItem)
	basket.GET("/items", impl.ListBasketItems)
	basket.GET("/items/:itemID/valuation", impl.ValuateBasketItem)

	notifications := authed.Group("/notifications")
	notifications.GET("", impl.ListNotifications)
	notifications.PUT("/:notificationID/read", impl.ReadNotification)
	notifications.DELETE("/:notificationID", impl.DeleteNotification)

	authed.POST("/images", impl.UploadImage)
}
