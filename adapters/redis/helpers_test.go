package redis

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

func setupTest(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	db, mock := redismock.NewClientMock()
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

type TestEvent struct {
	ID   string `msgpack:"id"`
	Data string `msgpack:"data"`
}

// fakeMutex 測試用的IAutoRenewMutex替身
type fakeMutex struct {
	mu       sync.Mutex
	lockErr  error
	cancel   context.CancelFunc
	lockHits int
}

func (f *fakeMutex) Lock(ctx context.Context) (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockHits++
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	lockCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	return lockCtx, nil
}

func (f *fakeMutex) Unlock() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	return true, nil
}

func (f *fakeMutex) Valid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel != nil
}
