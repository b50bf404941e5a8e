package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/qs3c/novel_go_server/internal/pkg/pubsub"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// startServer 每个连接注册为同一个用户，直到客户端断开
func startServer(t *testing.T, hub *Hub, userID int64) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := &Client{UserID: userID, Conn: conn}
		hub.Register(client)
		defer hub.Unregister(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)

	assert.NotNil(t, hub)
	assert.Zero(t, hub.ConnectionCount())
	assert.False(t, hub.IsOnline(123))
}

func TestHub_SendToUser_UserNotOnline(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))

	err := hub.SendToUser(123, &Message{Type: "test", Data: map[string]string{"key": "value"}})
	assert.NoError(t, err)
}

func TestHub_MultipleConnectionsPerUser(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	url := startServer(t, hub, 300)

	conn1 := dial(t, url)
	conn2 := dial(t, url)

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)
	assert.True(t, hub.IsOnline(300))

	require.NoError(t, hub.SendToUser(300, &Message{Type: "notification", Data: map[string]string{"content": "Hello"}}))
	for _, c := range []*websocket.Conn{conn1, conn2} {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
		_, received, err := c.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"notification","data":{"content":"Hello"}}`, string(received))
	}

	conn1.Close()
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, hub.IsOnline(300))

	conn2.Close()
	require.Eventually(t, func() bool { return !hub.IsOnline(300) }, time.Second, 10*time.Millisecond)
}

func TestHub_MultipleUsers(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	for id := int64(1); id <= 3; id++ {
		dial(t, startServer(t, hub, id))
	}

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 3 }, time.Second, 10*time.Millisecond)
	assert.True(t, hub.IsOnline(1))
	assert.True(t, hub.IsOnline(2))
	assert.True(t, hub.IsOnline(3))
	assert.False(t, hub.IsOnline(4))
}

func TestHub_Forward(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	hub := NewHub(zaptest.NewLogger(t))
	conn := dial(t, startServer(t, hub, 42))
	require.Eventually(t, func() bool { return hub.IsOnline(42) }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Forward(ctx, pubsub.NewSubscriber(rdb))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	pub := pubsub.NewPublisher(rdb)
	// 订阅建立前发布的消息会丢失，重复发布直到收到
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	received := make(chan []byte, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- data
		}
	}()

	deadline := time.After(3 * time.Second)
	for {
		// 其他用户的消息不会投递
		_ = pub.PublishJobEvent(context.Background(), &pubsub.JobEventMessage{UserID: 7, JobID: 1, Status: "running"})
		_ = pub.PublishJobEvent(context.Background(), &pubsub.JobEventMessage{UserID: 42, JobID: 9, Status: "paused"})

		select {
		case data := <-received:
			assert.Contains(t, string(data), `"job_id":9`)
			assert.Contains(t, string(data), `"type":"job_event"`)
			return
		case <-deadline:
			t.Fatal("forwarded message not received")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
