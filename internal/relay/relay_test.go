package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(secret string) (*State, *gin.Engine) {
	s := NewState(Config{Secret: secret, BoreHost: "127.0.0.1", Port: 3000}, nil)
	return s, s.BuildRouter()
}

func doRegister(router *gin.Engine, req registerRequest, remoteAddr string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest(http.MethodPost, "/_api/register", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func registeredSubdomain(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	var resp registerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Subdomain
}

func TestRegisterRejectsPrivilegedPorts(t *testing.T) {
	_, router := newTestState("")

	w := doRegister(router, registerRequest{Port: 1023}, "1.2.3.4:555")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRegister(router, registerRequest{Port: 1024}, "1.2.3.4:555")
	sub := registeredSubdomain(t, w)
	assert.Len(t, sub, 6)
	for _, c := range sub {
		assert.True(t, c >= 'a' && c <= 'z' || c >= '0' && c <= '9', "char %q", c)
	}
}

func TestRegisterSecret(t *testing.T) {
	_, router := newTestState("relay-secret")

	w := doRegister(router, registerRequest{Port: 4000, Secret: "wrong"}, "1.2.3.4:555")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRegister(router, registerRequest{Port: 4000, Secret: "relay-secret"}, "1.2.3.4:555")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterSubdomainValidation(t *testing.T) {
	cases := []struct {
		subdomain string
		status    int
	}{
		{"ab", http.StatusBadRequest},
		{"abc", http.StatusOK},
		{strings.Repeat("a", 33), http.StatusBadRequest},
		{strings.Repeat("a", 32), http.StatusOK},
		{"-abc", http.StatusBadRequest},
		{"abc-", http.StatusBadRequest},
		{"Abc-123", http.StatusBadRequest},
		{"abc-123", http.StatusOK},
		{"my_app", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.subdomain, func(t *testing.T) {
			_, router := newTestState("")
			w := doRegister(router, registerRequest{Port: 5000, Subdomain: tc.subdomain}, "1.2.3.4:555")
			assert.Equal(t, tc.status, w.Code, "subdomain %q body %s", tc.subdomain, w.Body.String())
		})
	}
}

func TestRegisterSubdomainOwnership(t *testing.T) {
	s, router := newTestState("")

	w := doRegister(router, registerRequest{Port: 4000, Subdomain: "myapp"}, "1.2.3.4:555")
	require.Equal(t, http.StatusOK, w.Code)

	// Another IP cannot take the name.
	w = doRegister(router, registerRequest{Port: 4001, Subdomain: "myapp"}, "5.6.7.8:555")
	assert.Equal(t, http.StatusConflict, w.Code)

	// The owner can re-register to move the port.
	w = doRegister(router, registerRequest{Port: 4002, Subdomain: "myapp"}, "1.2.3.4:555")
	require.Equal(t, http.StatusOK, w.Code)
	port, ok := s.lookup("myapp")
	require.True(t, ok)
	assert.Equal(t, uint16(4002), port)
}

func TestRegisterForwardedForWins(t *testing.T) {
	s, router := newTestState("")

	body, _ := json.Marshal(registerRequest{Port: 4000, Subdomain: "fwdapp"})
	req := httptest.NewRequest(http.MethodPost, "/_api/register", bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.1:333"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	owner, ok := s.owner("fwdapp")
	require.True(t, ok)
	assert.Equal(t, "203.0.113.9", owner)
}

func TestRegisterActiveTunnelCap(t *testing.T) {
	_, router := newTestState("")

	for i := 0; i < MaxTunnelsPerIP; i++ {
		w := doRegister(router, registerRequest{Port: uint16(4000 + i)}, "1.2.3.4:555")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doRegister(router, registerRequest{Port: 4100}, "1.2.3.4:555")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// A different IP is unaffected.
	w = doRegister(router, registerRequest{Port: 4100}, "5.6.7.8:555")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterRateLimitCountsAttempts(t *testing.T) {
	_, router := newTestState("")

	// Invalid subdomains are rejected after the rate-limit record, so
	// they burn the hourly budget without creating tunnels.
	for i := 0; i < MaxRegistrationsPerHour; i++ {
		w := doRegister(router, registerRequest{Port: 4000, Subdomain: "x"}, "1.2.3.4:555")
		require.Equal(t, http.StatusBadRequest, w.Code)
	}

	w := doRegister(router, registerRequest{Port: 4000}, "1.2.3.4:555")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRegisterRateLimitWindowSlides(t *testing.T) {
	s, router := newTestState("")

	now := time.Now()
	s.now = func() time.Time { return now }
	for i := 0; i < MaxRegistrationsPerHour; i++ {
		doRegister(router, registerRequest{Port: 4000, Subdomain: "x"}, "1.2.3.4:555")
	}

	w := doRegister(router, registerRequest{Port: 4000}, "1.2.3.4:555")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	s.now = func() time.Time { return now.Add(61 * time.Minute) }
	w = doRegister(router, registerRequest{Port: 4000}, "1.2.3.4:555")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckEndpoint(t *testing.T) {
	s, router := newTestState("")
	s.insert("known", 4000, "1.2.3.4")

	req := httptest.NewRequest(http.MethodGet, "/_api/check?domain=known.tunnel.example.dev", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/_api/check?domain=nope.tunnel.example.dev", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	_, router := newTestState("")
	req := httptest.NewRequest(http.MethodGet, "/_api/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestProxyUnknownSubdomain(t *testing.T) {
	_, router := newTestState("")
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Host = "ghost.tunnel.example.dev"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func backendPort(t *testing.T, srv *httptest.Server) uint16 {
	t.Helper()
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return uint16(port)
}

func TestProxyForwardsToTunnelPort(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/data", r.URL.Path)
		assert.Equal(t, "q=1", r.URL.RawQuery)
		assert.Empty(t, r.Header.Get("Transfer-Encoding"))
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, "hello from backend")
	}))
	defer backend.Close()

	s, router := newTestState("")
	s.insert("myapp", backendPort(t, backend), "1.2.3.4")

	req := httptest.NewRequest(http.MethodGet, "/api/data?q=1", nil)
	req.Host = "myapp.tunnel.example.dev"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "hello from backend", w.Body.String())
	assert.Equal(t, "yes", w.Header().Get("X-Backend"))
}

func TestProxyTouchesLastUsed(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	s, router := newTestState("")
	s.insert("myapp", backendPort(t, backend), "1.2.3.4")
	s.tunnels["myapp"].lastUsed = time.Now().Add(-23 * time.Hour)
	before := s.tunnels["myapp"].lastUsed

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "myapp.tunnel.example.dev"
	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, s.tunnels["myapp"].lastUsed.After(before))
}

func TestProxyBridgesWebSockets(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"tty"}}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(mt, data)
		}
	}))
	defer backend.Close()

	s, _ := newTestState("")
	s.insert("wsapp", backendPort(t, backend), "1.2.3.4")
	edge := httptest.NewServer(s.BuildRouter())
	defer edge.Close()

	wsURL := "ws" + strings.TrimPrefix(edge.URL, "http")
	dialer := websocket.Dialer{Subprotocols: []string{"tty"}}
	conn, resp, err := dialer.Dial(wsURL+"/ws", http.Header{"Host": {"wsapp.tunnel.example.dev"}})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "tty", resp.Header.Get("Sec-Websocket-Protocol"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(data))
}

func TestCleanupEvictsIdleTunnels(t *testing.T) {
	s, _ := newTestState("")
	s.insert("fresh", 4000, "1.2.3.4")
	s.insert("stale", 4001, "1.2.3.4")
	s.tunnels["stale"].lastUsed = time.Now().Add(-25 * time.Hour)
	s.rateLimits["1.2.3.4"] = []time.Time{
		time.Now().Add(-2 * time.Hour),
		time.Now(),
	}
	s.rateLimits["9.9.9.9"] = []time.Time{time.Now().Add(-2 * time.Hour)}

	s.Cleanup()

	assert.True(t, s.exists("fresh"))
	assert.False(t, s.exists("stale"))
	assert.Len(t, s.rateLimits["1.2.3.4"], 1)
	_, hasEmpty := s.rateLimits["9.9.9.9"]
	assert.False(t, hasEmpty, "empty rate-limit entries should be dropped")
}
