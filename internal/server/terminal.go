package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nomadflow/nomadflow/internal/ttyd"
	"github.com/nomadflow/nomadflow/internal/wsbridge"
)

var terminalUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    []string{"tty"},
	// The mobile client connects cross-origin through the tunnel.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleTerminalHTML proxies GET /terminal to the ttyd root page.
func (s *AppState) handleTerminalHTML(c *gin.Context) {
	s.proxyTtyd(c, "/")
}

// handleTerminalDispatch routes /terminal/ws to the WebSocket proxy and
// everything else under /terminal/ to the asset proxy.
func (s *AppState) handleTerminalDispatch(c *gin.Context) {
	path := c.Param("path")
	if path == "/ws" {
		s.handleTerminalWS(c)
		return
	}
	if !httpAuthorized(c, s.Settings.Auth.Secret) {
		rejectUnauthorized(c)
		return
	}
	s.proxyTtyd(c, path)
}

func (s *AppState) proxyTtyd(c *gin.Context, path string) {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", s.Settings.Ttyd.Port, path)

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, url, nil)
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResponse{Detail: "failed to build ttyd request"})
		return
	}
	if s.Settings.Auth.Secret != "" {
		req.SetBasicAuth(ttyd.BasicAuthUser, s.Settings.Auth.Secret)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		s.Log.Error("failed to proxy to ttyd", zap.Error(err))
		c.Status(http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(resp.StatusCode, resp.ContentLength, contentType, resp.Body, nil)
}

// handleTerminalWS authenticates via the token query parameter, upgrades
// the client connection, dials ttyd's /ws endpoint with the tty
// subprotocol and Basic credentials, and bridges the two. WKWebView does
// not send Basic Auth on WebSocket upgrades, hence the proxy.
func (s *AppState) handleTerminalWS(c *gin.Context) {
	if !wsAuthorized(c, s.Settings.Auth.Secret) {
		s.Log.Warn("websocket auth failed: invalid token")
		c.String(http.StatusForbidden, "Authentication required")
		return
	}

	clientConn, err := terminalUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	header := http.Header{}
	if s.Settings.Auth.Secret != "" {
		basicReq, _ := http.NewRequest(http.MethodGet, "/", nil)
		basicReq.SetBasicAuth(ttyd.BasicAuthUser, s.Settings.Auth.Secret)
		header.Set("Authorization", basicReq.Header.Get("Authorization"))
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{"tty"},
		HandshakeTimeout: 10 * time.Second,
	}
	ttydURL := fmt.Sprintf("ws://127.0.0.1:%d/ws", s.Settings.Ttyd.Port)
	ttydConn, resp, err := dialer.Dial(ttydURL, header)
	if err != nil {
		s.Log.Error("failed to connect to ttyd", zap.Error(err))
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		clientConn.Close()
		return
	}

	if err := wsbridge.Run(c.Request.Context(), clientConn, ttydConn); err != nil {
		s.Log.Debug("terminal bridge closed", zap.Error(err))
	}
}
