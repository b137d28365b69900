package sse_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"catmarket/adapters/sse"
)

// loopback 模擬Redis stream：Publish的訊息直接回到Subscribe通道
type loopback[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

func newLoopback[T any]() *loopback[T] {
	return &loopback[T]{ch: make(chan T, 100)}
}

func (l *loopback[T]) Start() {}

func (l *loopback[T]) Publish(data T) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.ch <- data
	return nil
}

func (l *loopback[T]) Subscribe() <-chan T {
	return l.ch
}

func (l *loopback[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.ch)
}

func TestConnectionManager_PublishSubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	pipe := newLoopback[sse.PublishRequest[string]]()
	manager := sse.NewConnectionManager[string](pipe, pipe, nil)
	manager.Start()

	sub, err := manager.Subscribe("listing:42")
	require.NoError(t, err)

	err = manager.Publish("listing:42", "出價更新")
	require.NoError(t, err)

	select {
	case msg := <-sub:
		assert.Equal(t, "出價更新", msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}

	manager.Done()
}

func TestConnectionManager_ChannelIsolation(t *testing.T) {
	defer goleak.VerifyNone(t)

	pipe := newLoopback[sse.PublishRequest[string]]()
	manager := sse.NewConnectionManager[string](pipe, pipe, nil)
	manager.Start()

	subA, err := manager.Subscribe("listing:1")
	require.NoError(t, err)
	subB, err := manager.Subscribe("listing:2")
	require.NoError(t, err)

	require.NoError(t, manager.Publish("listing:1", "only for A"))

	select {
	case msg := <-subA:
		assert.Equal(t, "only for A", msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}

	// 別的頻道不應收到訊息
	select {
	case msg := <-subB:
		t.Fatalf("unexpected message on other channel: %v", msg)
	case <-time.After(100 * time.Millisecond):
	}

	manager.Done()
}

func TestConnectionManager_Done(t *testing.T) {
	defer goleak.VerifyNone(t)

	pipe := newLoopback[sse.PublishRequest[string]]()
	manager := sse.NewConnectionManager[string](pipe, pipe, nil)
	manager.Start()

	sub, err := manager.Subscribe("listing:1")
	require.NoError(t, err)

	manager.Done()

	// 停止後訂閱通道應該已關閉
	_, ok := <-sub
	assert.False(t, ok)

	// 停止後的操作應該失敗
	_, err = manager.Subscribe("listing:1")
	assert.Error(t, err)
	err = manager.Publish("listing:1", "late")
	assert.Error(t, err)

	// 重複Done應為no-op
	manager.Done()
}

func TestConnectionManager_Unsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	pipe := newLoopback[sse.PublishRequest[string]]()
	manager := sse.NewConnectionManager[string](pipe, pipe, nil)
	manager.Start()

	sub, err := manager.Subscribe("listing:1")
	require.NoError(t, err)

	manager.Unsubscribe("listing:1", sub)
	_, ok := <-sub
	assert.False(t, ok)

	manager.Done()
}
