package engine

import (
	"context"

	"github.com/coder/websocket"
)

// socketConn is the slice of *websocket.Conn the socket table needs. The
// dialer is a Host field so tests can exercise the table without a live
// endpoint.
type socketConn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

type socketDialer func(ctx context.Context, url string) (socketConn, error)

func dialWebSocket(ctx context.Context, url string) (socketConn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
