package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/websocket"

	"github.com/guildwire/guildwire/internal/constants"
)

// Conn is one gateway connection. ReadMessage returns whole frames.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a gateway connection.
type Dialer func(ctx context.Context, rawURL string) (Conn, error)

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	var data []byte
	if err := websocket.Message.Receive(c.ws, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(constants.GatewayWriteTimeout)); err != nil {
		return err
	}
	return websocket.Message.Send(c.ws, string(data))
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// WebsocketDialer dials gateway connections with golang.org/x/net/websocket.
func WebsocketDialer(userAgent string) Dialer {
	return func(ctx context.Context, rawURL string) (Conn, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid gateway URL: %w", err)
		}
		origin := "https://" + u.Host
		cfg, err := websocket.NewConfig(rawURL, origin)
		if err != nil {
			return nil, fmt.Errorf("failed to configure websocket: %w", err)
		}
		cfg.Header.Set("User-Agent", userAgent)

		ws, err := cfg.DialContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to dial gateway: %w", err)
		}
		return &wsConn{ws: ws}, nil
	}
}

// gatewayURL adds the protocol version and encoding query parameters.
func gatewayURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid gateway URL %q: %w", base, err)
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(constants.GatewayVersion))
	q.Set("encoding", constants.GatewayEncoding)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
