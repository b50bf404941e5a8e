package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/qs3c/novel_go_server/internal/pkg/jwt"
	"github.com/qs3c/novel_go_server/internal/pkg/response"
	"github.com/qs3c/novel_go_server/internal/pkg/ws"
)

const wsSecret = "ws-test-secret"

func newWSServer(t *testing.T, allowedOrigins []string) (*ws.Hub, *httptest.Server) {
	t.Helper()
	hub := ws.NewHub(zaptest.NewLogger(t))
	h := NewWebSocketHandler(hub, wsSecret, allowedOrigins, zaptest.NewLogger(t))

	engine := gin.New()
	engine.GET("/ws", h.Handle)
	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)
	return hub, server
}

func TestWebSocketHandler_RejectsBadToken(t *testing.T) {
	_, server := newWSServer(t, nil)

	for _, query := range []string{"", "?token=garbage"} {
		resp, err := http.Get(server.URL + "/ws" + query)
		require.NoError(t, err)
		var body response.Response
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()
		assert.Equal(t, response.CodeAuthFailed, body.Code)
	}
}

func TestWebSocketHandler_RegistersAndDelivers(t *testing.T) {
	hub, server := newWSServer(t, nil)
	token, err := jwt.GenerateToken(77, wsSecret, 1)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.IsOnline(77) }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.SendToUser(77, &ws.Message{Type: "job_event", Data: map[string]interface{}{"job_id": 5}}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"job_event","data":{"job_id":5}}`, string(data))

	conn.Close()
	require.Eventually(t, func() bool { return !hub.IsOnline(77) }, time.Second, 10*time.Millisecond)
}

func TestWebSocketHandler_CheckOrigin(t *testing.T) {
	_, server := newWSServer(t, []string{"http://localhost:5173"})
	token, err := jwt.GenerateToken(1, wsSecret, 1)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"http://localhost:5173"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}
