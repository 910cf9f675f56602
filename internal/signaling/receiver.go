package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

// receiver reads relay frames and hands each decoded message to handle.
type receiver struct {
	conn   *websocket.Conn
	handle func(Message)
}

// watch blocks until the connection fails. Frames that are not valid
// messages are logged and skipped; they do not end the loop.
func (r *receiver) watch() error {
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read signaling frame: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warning("dropping malformed signaling frame: %v", err)
			continue
		}
		r.handle(msg)
	}
}
