package tunnel

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/nomadflow/nomadflow/internal/common/errors"
	"github.com/nomadflow/nomadflow/internal/common/logger"
)

// connectTimeout bounds the control-connection handshake.
const connectTimeout = 15 * time.Second

// Client forwards a remote port on the tunnel server to a local port.
type Client struct {
	localHost  string
	localPort  int
	remoteHost string
	remotePort int
	control    *stream
	auth       *authenticator
	assigned   uint16
	log        *logger.Logger
}

// Connect opens the control connection to host:port, authenticates when
// challenged, and requests a server-assigned remote port.
func Connect(ctx context.Context, localPort int, host string, port int, secret string, log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.Default()
	}
	c := &Client{
		localHost:  "localhost",
		localPort:  localPort,
		remoteHost: host,
		remotePort: port,
		log:        log.WithComponent("tunnel"),
	}
	if secret != "" {
		c.auth = newAuthenticator(secret)
	}

	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIO, err, "tunnel connection failed")
	}
	c.control = newStream(conn)

	deadline := time.Now().Add(connectTimeout)
	conn.SetDeadline(deadline)

	requested := uint16(0)
	if err := c.control.send(clientMessage{Hello: &requested}); err != nil {
		conn.Close()
		return nil, apperrors.Wrap(apperrors.KindIO, err, "tunnel hello failed")
	}

	for {
		msg, err := c.control.recv()
		if err != nil {
			conn.Close()
			return nil, apperrors.Wrap(apperrors.KindIO, err, "tunnel handshake failed")
		}
		switch {
		case msg.Challenge != nil:
			if c.auth == nil {
				conn.Close()
				return nil, &apperrors.Error{Kind: apperrors.KindConfig,
					Message: "tunnel server requires authentication, but no secret is configured"}
			}
			answer := c.auth.answer(*msg.Challenge)
			if err := c.control.send(clientMessage{Authenticate: &answer}); err != nil {
				conn.Close()
				return nil, apperrors.Wrap(apperrors.KindIO, err, "tunnel authentication failed")
			}
		case msg.Hello != nil:
			c.assigned = *msg.Hello
			conn.SetDeadline(time.Time{})
			c.log.Info("tunnel established", zap.Uint16("remotePort", c.assigned))
			return c, nil
		case msg.Error != nil:
			conn.Close()
			return nil, &apperrors.Error{Kind: apperrors.KindOther,
				Message: fmt.Sprintf("tunnel server error: %s", *msg.Error)}
		}
	}
}

// RemotePort returns the port the server assigned.
func (c *Client) RemotePort() uint16 {
	return c.assigned
}

// Listen processes control messages until ctx is cancelled or the control
// connection drops. Each Connection message spawns a data stream.
func (c *Client) Listen(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.control.Close()
	}()

	for {
		msg, err := c.control.recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperrors.Wrap(apperrors.KindIO, err, "tunnel control connection lost")
		}
		switch {
		case msg.Heartbeat:
			// keepalive only
		case msg.Connection != nil:
			id := *msg.Connection
			go func() {
				if err := c.handleConnection(ctx, id); err != nil {
					c.log.Warn("tunnel connection failed", zap.String("id", id.String()), zap.Error(err))
				}
			}()
		case msg.Error != nil:
			c.log.Error("tunnel server error", zap.String("error", *msg.Error))
		}
	}
}

// handleConnection opens a fresh data stream for an incoming connection,
// re-authenticates, claims the connection id, and proxies bytes to the
// local service.
func (c *Client) handleConnection(ctx context.Context, id uuid.UUID) error {
	dialer := net.Dialer{Timeout: connectTimeout}
	remote, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", c.remoteHost, c.remotePort))
	if err != nil {
		return err
	}
	data := newStream(remote)

	if c.auth != nil {
		msg, err := data.recv()
		if err != nil {
			data.Close()
			return err
		}
		if msg.Challenge == nil {
			data.Close()
			return fmt.Errorf("expected challenge on data stream")
		}
		answer := c.auth.answer(*msg.Challenge)
		if err := data.send(clientMessage{Authenticate: &answer}); err != nil {
			data.Close()
			return err
		}
	}

	if err := data.send(clientMessage{Accept: &id}); err != nil {
		data.Close()
		return err
	}

	local, err := net.Dial("tcp", fmt.Sprintf("%s:%d", c.localHost, c.localPort))
	if err != nil {
		data.Close()
		return err
	}

	data.proxyTo(local)
	return nil
}
