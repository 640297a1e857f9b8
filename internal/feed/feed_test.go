package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"snipebot/internal/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRunDeliversCreatesAndReconnects(t *testing.T) {
	var conns atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		var sub subscribeMessage
		if !assert.NoError(t, conn.ReadJSON(&sub)) {
			return
		}
		assert.Equal(t, "subscribeNewToken", sub.Method)

		n := conns.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"Successfully subscribed to token creation events."}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"txType":"buy","mint":"ignored"}`))
		if n == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"txType":"create","mint":"MintA","name":"Alpha","symbol":"AAA","vSolInBondingCurve":30,"pool":"pump"}`))
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"txType":"create","mint":"MintB","name":"Beta","symbol":"BBB"}`))
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	c := New(Config{URL: wsURL(srv), ReconnectMin: 10 * time.Millisecond, ReconnectMax: 20 * time.Millisecond}, logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	first := <-c.Candidates()
	assert.Equal(t, "MintA", first.Mint)
	assert.Equal(t, "AAA", first.Symbol)
	assert.Equal(t, 30.0, first.InitialLiquidity)
	assert.Equal(t, "pumpportal:pump", first.Source)
	assert.False(t, first.CreatedAt.IsZero())

	second := <-c.Candidates()
	assert.Equal(t, "MintB", second.Mint)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))

	cancel()
	require.NoError(t, <-done)
	_, open := <-c.Candidates()
	assert.False(t, open, "channel closes after Run returns")
}

func TestRunStopsWhileDialFails(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1", ReconnectMin: 5 * time.Millisecond, ReconnectMax: 10 * time.Millisecond}, logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, c.Run(ctx))
}

func TestNextBackoffCaps(t *testing.T) {
	c := New(Config{ReconnectMin: time.Second, ReconnectMax: 3 * time.Second}, logger.Discard())
	assert.Equal(t, 2*time.Second, c.nextBackoff(time.Second))
	assert.Equal(t, 3*time.Second, c.nextBackoff(2*time.Second))
}
