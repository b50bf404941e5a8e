package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client
}

func TestNotificationMessage_JSON(t *testing.T) {
	msg := &NotificationMessage{
		Type:              TypeAnalysisNotification,
		UserID:            1,
		NotificationID:    2,
		PendingAnalysisID: 3,
		ChapterNumber:     4,
		NotificationType:  "completed",
		Title:             "第 4 章增强分析已完成",
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Contains(t, raw, "user_id")
	assert.Contains(t, raw, "pending_analysis_id")
	assert.Contains(t, raw, "notification_type")
	_, hasMessage := raw["message"]
	_, hasData := raw["data"]
	assert.False(t, hasMessage, "empty message should be omitted")
	assert.False(t, hasData, "empty data should be omitted")
}

func TestPublisher_NilClient(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.PublishNotification(context.Background(), &NotificationMessage{UserID: 1}))
	assert.NoError(t, NewPublisher(nil).PublishJobEvent(context.Background(), &JobEventMessage{UserID: 1}))
}

// publishUntil 订阅建立是异步的，重复发布直到订阅端收到
func publishUntil(t *testing.T, ctx context.Context, publish func() error, received <-chan *Envelope) *Envelope {
	t.Helper()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		require.NoError(t, publish())
		select {
		case env := <-received:
			return env
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("Timeout waiting for message")
			return nil
		}
	}
}

func TestPublisherSubscriber(t *testing.T) {
	client := setupTestRedis(t)

	publisher := NewPublisher(client)
	subscriber := NewSubscriber(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *Envelope, 16)
	go func() {
		_ = subscriber.Subscribe(ctx, func(env *Envelope) {
			received <- env
		})
	}()

	t.Run("notification", func(t *testing.T) {
		env := publishUntil(t, ctx, func() error {
			return publisher.PublishNotification(ctx, &NotificationMessage{
				UserID:            123,
				PendingAnalysisID: 456,
				NotificationType:  "completed",
				Title:             "done",
			})
		}, received)

		assert.Equal(t, ChannelAnalysisNotifications, env.Channel)
		assert.Equal(t, TypeAnalysisNotification, env.Type)
		assert.Equal(t, int64(123), env.UserID)

		var decoded NotificationMessage
		require.NoError(t, json.Unmarshal(env.Payload, &decoded))
		assert.Equal(t, int64(456), decoded.PendingAnalysisID)
	})

	// 排空上一个子测试重复发布的消息
	for len(received) > 0 {
		<-received
	}

	t.Run("job event", func(t *testing.T) {
		var env *Envelope
		for env == nil || env.Type != TypeJobEvent {
			env = publishUntil(t, ctx, func() error {
				return publisher.PublishJobEvent(ctx, &JobEventMessage{
					UserID:    9,
					JobID:     1,
					ProjectID: "p",
					Status:    "running",
				})
			}, received)
		}

		assert.Equal(t, ChannelGeneratorEvents, env.Channel)
		assert.Equal(t, int64(9), env.UserID)
	})
}

func TestSubscriber_StopsOnCancel(t *testing.T) {
	client := setupTestRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewSubscriber(client).Subscribe(ctx, func(*Envelope) {})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}
