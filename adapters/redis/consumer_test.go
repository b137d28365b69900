package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNewConsumer(t *testing.T) {
	tests := []struct {
		name    string
		client  *redis.Client
		stream  string
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid configuration",
			client:  redis.NewClient(&redis.Options{}),
			stream:  "tender-events",
			wantErr: false,
		},
		{
			name:    "nil client",
			client:  nil,
			stream:  "tender-events",
			wantErr: true,
			errMsg:  "redis client cannot be nil",
		},
		{
			name:    "empty stream",
			client:  redis.NewClient(&redis.Options{}),
			stream:  "",
			wantErr: true,
			errMsg:  "stream cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			consumer, err := NewConsumer[TestEvent](tt.client, tt.stream)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, consumer)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, consumer)
			}

			if tt.client != nil {
				tt.client.Close()
			}
		})
	}
}

func TestConsumer_StartStop(t *testing.T) {
	t.Run("normal start and stop", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, _, cleanup := setupTest(t)
		defer cleanup()

		consumer, err := NewConsumer[TestEvent](client, "tender-events")
		require.NoError(t, err)

		consumer.Start()
		time.Sleep(100 * time.Millisecond)
		consumer.Close()
	})

	t.Run("multiple start and close calls", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, _, cleanup := setupTest(t)
		defer cleanup()

		consumer, err := NewConsumer[TestEvent](client, "tender-events")
		require.NoError(t, err)

		consumer.Start()
		consumer.Start() // 應為no-op
		time.Sleep(100 * time.Millisecond)
		consumer.Close()
		consumer.Close() // 應為no-op
	})
}

func TestConsumer_MessageFlow(t *testing.T) {
	t.Run("receive message from stream", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		testMsg := TestEvent{ID: "1", Data: "outbid"}
		msgValues, err := EncodeMessage(testMsg)
		require.NoError(t, err)

		mock.ExpectXRead(&redis.XReadArgs{
			Streams: []string{"tender-events", "$"},
			Count:   1,
			Block:   time.Second,
		}).SetVal([]redis.XStream{
			{
				Stream: "tender-events",
				Messages: []redis.XMessage{
					{
						ID:     "1234-0",
						Values: msgValues,
					},
				},
			},
		})

		consumer, err := NewConsumer[TestEvent](client, "tender-events")
		require.NoError(t, err)

		consumer.Start()

		select {
		case msg := <-consumer.Subscribe():
			assert.Equal(t, testMsg, msg)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}

		consumer.Close()
	})

	t.Run("decode error is skipped", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		// 第一條訊息解不開，第二條正常
		goodMsg := TestEvent{ID: "2", Data: "ok"}
		goodValues, err := EncodeMessage(goodMsg)
		require.NoError(t, err)

		mock.ExpectXRead(&redis.XReadArgs{
			Streams: []string{"tender-events", "$"},
			Count:   1,
			Block:   time.Second,
		}).SetVal([]redis.XStream{
			{
				Stream: "tender-events",
				Messages: []redis.XMessage{
					{
						ID:     "1234-0",
						Values: map[string]any{"data": "invalid"},
					},
				},
			},
		})

		mock.ExpectXRead(&redis.XReadArgs{
			Streams: []string{"tender-events", "1234-0"},
			Count:   1,
			Block:   time.Second,
		}).SetVal([]redis.XStream{
			{
				Stream: "tender-events",
				Messages: []redis.XMessage{
					{
						ID:     "1234-1",
						Values: goodValues,
					},
				},
			},
		})

		consumer, err := NewConsumer[TestEvent](client, "tender-events")
		require.NoError(t, err)

		consumer.Start()

		select {
		case msg := <-consumer.Subscribe():
			assert.Equal(t, goodMsg, msg)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}

		consumer.Close()
	})
}
