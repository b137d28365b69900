package api

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catmarket/ledger"
	"catmarket/models"
)

// captureManager 記錄Publish呼叫，其餘操作為no-op
type captureManager struct {
	channels []string
	events   []ledger.TenderEvent
	err      error
}

func (m *captureManager) Start() {}
func (m *captureManager) Done()  {}
func (m *captureManager) Subscribe(string) (<-chan ledger.TenderEvent, error) {
	return nil, errors.New("not implemented")
}
func (m *captureManager) Unsubscribe(string, <-chan ledger.TenderEvent) {}
func (m *captureManager) Publish(channelName string, data ledger.TenderEvent) error {
	m.channels = append(m.channels, channelName)
	m.events = append(m.events, data)
	return m.err
}

func TestAnnounceListingClosed(t *testing.T) {
	manager := &captureManager{}
	impl := &ServerImpl{sseManager: manager}

	item := &models.BoughtItem{
		ListingID:    uuid.New(),
		BuyerID:      uuid.New(),
		SettledPrice: decimal.RequireFromString("650"),
	}
	impl.announceListingClosed(item)

	require.Len(t, manager.events, 1)
	assert.Equal(t, item.ListingID.String(), manager.channels[0])
	assert.Equal(t, ledger.EventListingClosed, manager.events[0].Type)
	assert.Equal(t, item.ListingID, manager.events[0].ListingID)
	assert.Equal(t, item.BuyerID, manager.events[0].BuyerID)
	assert.Equal(t, "650", manager.events[0].Amount)
}

func TestAnnounceListingClosed_PublishFailureIsNotFatal(t *testing.T) {
	manager := &captureManager{err: errors.New("stream unavailable")}
	impl := &ServerImpl{sseManager: manager}

	// 廣播失敗只記錄日誌，不影響已完成的交易
	impl.announceListingClosed(&models.BoughtItem{ListingID: uuid.New()})
	assert.Len(t, manager.events, 1)
}

func TestSyncTenderEvent_IgnoresBroadcastOnlyEvents(t *testing.T) {
	// 非出價事件在碰到資料庫之前就應該被略過
	impl := &ServerImpl{}
	err := impl.syncTenderEvent(context.Background(), ledger.TenderEvent{
		Type:      ledger.EventListingClosed,
		ListingID: uuid.New(),
	})
	assert.NoError(t, err)
}
