package sse

import (
	"context"
	"log/slog"
	"sync"

	redisAdapter "catmarket/adapters/redis"
)

// connectionManager 管理多個 SSE 頻道的訂閱與發布。
// 發布的訊息先寫進Redis stream，再由每個節點的消費者讀回來廣播，
// 因此不論訂閱者連在哪個服務實例上都收得到。
type connectionManager[T any] struct {
	logger *slog.Logger

	mu     sync.RWMutex
	wg     sync.WaitGroup
	active bool

	producer redisAdapter.IProducer[PublishRequest[T]]
	consumer redisAdapter.IConsumer[PublishRequest[T]]
	channels map[string]IChannel[T]
}

// NewConnectionManager 建立一個新的連線管理器。
// producer與consumer應指向同一個Redis stream。
func NewConnectionManager[T any](
	producer redisAdapter.IProducer[PublishRequest[T]],
	consumer redisAdapter.IConsumer[PublishRequest[T]],
	logger *slog.Logger,
) IConnectionManager[T] {
	if logger == nil {
		logger = slog.Default()
	}

	return &connectionManager[T]{
		logger:   logger.With(slog.String("caller", "ConnectionManager")),
		channels: make(map[string]IChannel[T]),
		producer: producer,
		consumer: consumer,
	}
}

// Start 啟動連線管理器，開始處理訊息的接收與廣播。
// 應在呼叫其他方法前先呼叫此方法。
func (cm *connectionManager[T]) Start() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.active {
		return
	}
	cm.active = true

	cm.producer.Start()
	cm.consumer.Start()

	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		for msg := range cm.consumer.Subscribe() {
			cm.mu.RLock()
			if channel, ok := cm.channels[msg.Channel]; ok {
				channel.Broadcast(msg.Message)
			}
			cm.mu.RUnlock()
		}
	}()
}

// Done 停止連線管理器的運作。
func (cm *connectionManager[T]) Done() {
	cm.mu.Lock()
	if !cm.active {
		cm.mu.Unlock()
		return
	}
	cm.active = false
	cm.mu.Unlock()

	// 先關掉consumer讓廣播goroutine結束，再收尾訂閱清單
	cm.producer.Close()
	cm.consumer.Close()
	cm.wg.Wait()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, channel := range cm.channels {
		channel.UnsubscribeAll()
	}
	clear(cm.channels)
}

// Subscribe 訂閱指定的頻道，返回用於接收訊息的唯讀通道。
func (cm *connectionManager[T]) Subscribe(channelName string) (<-chan T, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.active {
		return nil, context.Canceled
	}

	c, ok := cm.channels[channelName]
	if !ok {
		c = NewChannel[T]()
		cm.channels[channelName] = c
	}
	return c.Subscribe(), nil
}

// Publish 發布訊息到指定的頻道。
func (cm *connectionManager[T]) Publish(channelName string, data T) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.active {
		return context.Canceled
	}

	return cm.producer.Publish(PublishRequest[T]{
		Channel: channelName,
		Message: data,
	})
}

// Unsubscribe 取消訂閱指定的頻道。
func (cm *connectionManager[T]) Unsubscribe(channelName string, ch <-chan T) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.channels[channelName]
	if !ok {
		return
	}

	c.Unsubscribe(ch)
	if c.IsIdle() {
		delete(cm.channels, channelName)
	}
}
