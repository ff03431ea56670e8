package observer

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"netqos/internal/core/domain"
	"netqos/internal/core/services"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	return conn
}

func TestHub_StreamsTicksAndPushes(t *testing.T) {
	h := NewHub(time.Second, time.Second, zap.NewNop().Sugar())
	conn := dialHub(t, h)

	h.OnTick(services.TickUpdate{TickID: "t-1", Event: domain.EventActivated})
	h.OnPush(domain.PolicyDecision{ID: "d-1"}, domain.PushResult{DecisionID: "d-1", Status: domain.PushSuccess})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var tick struct {
		Type string              `json:"type"`
		Data services.TickUpdate `json:"data"`
	}
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &tick))
	assert.Equal(t, "tick", tick.Type)
	assert.Equal(t, "t-1", tick.Data.TickID)
	assert.Equal(t, domain.EventActivated, tick.Data.Event)

	var push struct {
		Type string    `json:"type"`
		Data pushFrame `json:"data"`
	}
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &push))
	assert.Equal(t, "push", push.Type)
	assert.Equal(t, domain.PushSuccess, push.Data.Result.Status)
}

func TestHub_ClientRemovedOnClose(t *testing.T) {
	h := NewHub(time.Second, time.Second, zap.NewNop().Sugar())
	conn := dialHub(t, h)

	conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Broadcasting with no clients is a no-op.
	h.OnTick(services.TickUpdate{TickID: "t-2"})
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	h := NewHub(time.Second, time.Second, zap.NewNop().Sugar())
	dialHub(t, h)

	done := make(chan struct{})
	go func() {
		for i := 0; i < clientBuffer*4; i++ {
			h.OnTick(services.TickUpdate{TickID: "t"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}
