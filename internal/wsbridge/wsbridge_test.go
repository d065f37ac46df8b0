package wsbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer upgrades and echoes every frame back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}))
}

// bridgeServer upgrades inbound connections and bridges them to backendURL.
func bridgeServer(t *testing.T, backendURL string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		backend, _, err := websocket.DefaultDialer.Dial(backendURL, nil)
		if err != nil {
			client.Close()
			return
		}
		_ = Run(r.Context(), client, backend)
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestBridgeForwardsBothFrameTypes(t *testing.T) {
	echo := echoServer(t)
	defer echo.Close()
	bridge := bridgeServer(t, wsURL(echo.URL))
	defer bridge.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(bridge.URL), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02, 0x03}))
	msgType, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, data)
}

func TestBridgePreservesOrderWithinDirection(t *testing.T) {
	echo := echoServer(t)
	defer echo.Close()
	bridge := bridgeServer(t, wsURL(echo.URL))
	defer bridge.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(bridge.URL), nil)
	require.NoError(t, err)
	defer conn.Close()

	msgs := []string{"one", "two", "three", "four"}
	for _, m := range msgs {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(m)))
	}
	for _, want := range msgs {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestBridgeStopsWhenOneSideCloses(t *testing.T) {
	echo := echoServer(t)
	defer echo.Close()

	done := make(chan error, 1)
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		backend, _, err := websocket.DefaultDialer.Dial(wsURL(echo.URL), nil)
		if err != nil {
			client.Close()
			return
		}
		done <- Run(context.Background(), client, backend)
	}))
	defer bridge.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(bridge.URL), nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not terminate after close")
	}
}
