package signaling

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
)

// endpoint appends the session and participant query parameters the relay
// uses to place the connection in its room, e.g.:
//
//	wss://relay.example/ws?peer=alice&session=42
func endpoint(raw, sessionID, participant string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid signaling URL: %s", raw)
	}
	q := u.Query()
	q.Set("session", sessionID)
	q.Set("peer", participant)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dial connects to the relay WebSocket endpoint.
func dial(ctx context.Context, dialer *websocket.Dialer, url string) (*websocket.Conn, error) {
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling relay: %w", err)
	}
	return conn, nil
}
