package relay

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nomadflow/nomadflow/internal/wsbridge"
)

// wsDialTimeout bounds the upstream WebSocket handshake.
const wsDialTimeout = 5 * time.Second

// hopByHop headers are never forwarded to the tunnel backend.
var hopByHop = map[string]bool{
	"Host":                true,
	"Connection":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Keep-Alive":          true,
}

// proxyClient forwards requests verbatim, without chasing redirects on
// the backend's behalf.
var proxyClient = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// handleProxy is the catch-all: the Host header's first label selects the
// tunnel, and the request is relayed to its bore port.
func (s *State) handleProxy(c *gin.Context) {
	host := c.Request.Host
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	label, _, _ := strings.Cut(host, ".")

	port, ok := s.lookup(label)
	if !ok {
		c.String(http.StatusNotFound, "Unknown subdomain")
		return
	}

	if isWebSocketUpgrade(c.Request) {
		s.proxyWebSocket(c, port)
		return
	}
	s.proxyHTTP(c, port)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// proxyHTTP relays a plain HTTP request to the tunnel's bore port and
// streams the response back unchanged.
func (s *State) proxyHTTP(c *gin.Context, port uint16) {
	target := fmt.Sprintf("http://%s:%d%s", s.cfg.BoreHost, port, c.Request.URL.Path)
	if c.Request.URL.RawQuery != "" {
		target += "?" + c.Request.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target, c.Request.Body)
	if err != nil {
		c.String(http.StatusBadGateway, "Tunnel connection failed")
		return
	}
	for name, values := range c.Request.Header {
		if hopByHop[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := proxyClient.Do(req)
	if err != nil {
		s.log.Warn("tunnel request failed", zap.Uint16("borePort", port), zap.Error(err))
		c.String(http.StatusBadGateway, "Tunnel connection failed")
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Status(resp.StatusCode)
	io.Copy(c.Writer, resp.Body)
}

// proxyWebSocket upgrades the client connection, dials the same path on
// the bore port, and bridges frames both ways. Requested subprotocols are
// forwarded upstream and the negotiated one is echoed back to the client.
func (s *State) proxyWebSocket(c *gin.Context, port uint16) {
	var protocols []string
	for _, value := range c.Request.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				protocols = append(protocols, p)
			}
		}
	}

	target := fmt.Sprintf("ws://%s:%d%s", s.cfg.BoreHost, port, c.Request.URL.Path)
	if c.Request.URL.RawQuery != "" {
		target += "?" + c.Request.URL.RawQuery
	}

	dialer := websocket.Dialer{
		Subprotocols:     protocols,
		HandshakeTimeout: wsDialTimeout,
	}
	upstream, resp, err := dialer.Dial(target, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		s.log.Warn("tunnel websocket dial failed", zap.Uint16("borePort", port), zap.Error(err))
		c.String(http.StatusBadGateway, "Tunnel connection failed")
		return
	}
	defer upstream.Close()

	upgrader := websocket.Upgrader{
		Subprotocols: protocols,
		CheckOrigin:  func(*http.Request) bool { return true },
	}
	client, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer client.Close()

	if err := wsbridge.Run(c.Request.Context(), client, upstream); err != nil {
		s.log.Debug("tunnel websocket bridge ended", zap.Error(err))
	}
}
