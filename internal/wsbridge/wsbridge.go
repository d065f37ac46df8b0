// Package wsbridge copies frames between two WebSocket connections until
// either side closes.
package wsbridge

import (
	"context"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Run pumps frames in both directions between a and b. Text and binary
// frames are copied as-is; ping/pong is handled by the transports. The
// first error or close frame on either side stops both pumps and closes
// both connections. The returned error is the first pump error, with
// normal closure reported as nil.
func Run(ctx context.Context, a, b *websocket.Conn) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return pump(ctx, a, b) })
	g.Go(func() error { return pump(ctx, b, a) })

	// Closing both connections unblocks whichever pump is still reading.
	<-ctx.Done()
	a.Close()
	b.Close()

	err := g.Wait()
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return nil
	}
	return err
}

func pump(ctx context.Context, src, dst *websocket.Conn) error {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
