// Package tunnel maintains the reverse tunnel to the relay: a control
// connection on the relay's tunnel-server port plus one data connection per
// forwarded request, speaking the bore wire protocol (null-delimited JSON
// frames, externally tagged messages).
package tunnel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
)

// maxFrameLength bounds a single control frame.
const maxFrameLength = 256

// frameDelimiter separates JSON messages on the control stream.
const frameDelimiter = byte(0)

// clientMessage is a message sent to the tunnel server. Exactly one field
// is set.
type clientMessage struct {
	// Authenticate answers a challenge with a hex HMAC.
	Authenticate *string
	// Hello requests a remote port (0 means server-assigned).
	Hello *uint16
	// Accept claims an incoming connection on a fresh data stream.
	Accept *uuid.UUID
}

// serverMessage is a message received from the tunnel server. Exactly one
// field is set; Heartbeat has no payload.
type serverMessage struct {
	Challenge  *uuid.UUID
	Hello      *uint16
	Heartbeat  bool
	Connection *uuid.UUID
	Error      *string
}

func (m clientMessage) MarshalJSON() ([]byte, error) {
	switch {
	case m.Authenticate != nil:
		return json.Marshal(map[string]string{"Authenticate": *m.Authenticate})
	case m.Hello != nil:
		return json.Marshal(map[string]uint16{"Hello": *m.Hello})
	case m.Accept != nil:
		return json.Marshal(map[string]string{"Accept": m.Accept.String()})
	}
	return nil, fmt.Errorf("empty client message")
}

func (m *serverMessage) UnmarshalJSON(data []byte) error {
	// Unit variants arrive as a bare string.
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		if unit == "Heartbeat" {
			m.Heartbeat = true
			return nil
		}
		return fmt.Errorf("unknown server message %q", unit)
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	for tag, raw := range tagged {
		switch tag {
		case "Challenge", "Connection":
			var id uuid.UUID
			if err := json.Unmarshal(raw, &id); err != nil {
				return err
			}
			if tag == "Challenge" {
				m.Challenge = &id
			} else {
				m.Connection = &id
			}
		case "Hello":
			var port uint16
			if err := json.Unmarshal(raw, &port); err != nil {
				return err
			}
			m.Hello = &port
		case "Error":
			var msg string
			if err := json.Unmarshal(raw, &msg); err != nil {
				return err
			}
			m.Error = &msg
		default:
			return fmt.Errorf("unknown server message tag %q", tag)
		}
	}
	return nil
}

// stream frames messages over a TCP connection.
type stream struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newStream(conn net.Conn) *stream {
	return &stream{conn: conn, reader: bufio.NewReader(conn)}
}

func (s *stream) send(msg clientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(data) > maxFrameLength {
		return fmt.Errorf("frame too long: %d bytes", len(data))
	}
	data = append(data, frameDelimiter)
	_, err = s.conn.Write(data)
	return err
}

func (s *stream) recv() (*serverMessage, error) {
	data, err := s.reader.ReadBytes(frameDelimiter)
	if err != nil {
		return nil, err
	}
	data = data[:len(data)-1]
	if len(data) > maxFrameLength {
		return nil, fmt.Errorf("frame too long: %d bytes", len(data))
	}
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *stream) Close() error {
	return s.conn.Close()
}

// proxyTo splices the remaining bytes of the stream with other. Buffered
// bytes already read from the connection are flushed first.
func (s *stream) proxyTo(other net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(other, s.reader)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(s.conn, other)
		done <- struct{}{}
	}()
	<-done
	s.conn.Close()
	other.Close()
	<-done
}
