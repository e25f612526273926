// realtime/client.go - One websocket connection
package realtime

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second // Time allowed to write a message
	pongWait   = 60 * time.Second // Time allowed to read the next pong
	pingPeriod = 15 * time.Second // Send pings at this interval

	// Send channel buffer size
	sendBufferSize = 256
)

// Client roles. Displays render state but never submit actions.
const (
	RoleHost    = "host"
	RolePlayer  = "player"
	RoleDisplay = "display"
)

// Client wraps one websocket connection with a buffered outbound
// channel so one slow consumer never stalls a broadcast.
type Client struct {
	PlayerID  string
	Username  string
	Role      string
	Code      string // room code of the subscribed session
	SessionID string // session UUID, set on join

	conn *websocket.Conn
	send chan Event

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(conn *websocket.Conn, playerID, username, role string) *Client {
	return &Client{
		PlayerID: playerID,
		Username: username,
		Role:     role,
		conn:     conn,
		send:     make(chan Event, sendBufferSize),
		done:     make(chan struct{}),
	}
}

// Send queues an event without blocking. A client whose buffer is full
// is dropped; it will resync from the session snapshot on reconnect.
func (c *Client) Send(event string, payload interface{}) {
	select {
	case c.send <- Event{Type: event, Payload: payload}:
	case <-c.done:
	default:
		log.Warn().
			Str("player_id", c.PlayerID).
			Str("event", event).
			Msg("send buffer full, closing client")
		c.Close()
	}
}

// Close signals both pumps to stop. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WritePump drains the send channel onto the wire and keeps the
// connection alive with pings. Runs in its own goroutine per client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				log.Debug().Err(err).Str("player_id", c.PlayerID).Msg("write failed")
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// ReadPump reads inbound events and hands them to handle. Blocks until
// the connection drops; the caller runs cleanup after it returns.
func (c *Client) ReadPump(handle func(*Client, Event)) {
	defer c.Close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var event Event
		if err := c.conn.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("player_id", c.PlayerID).Msg("websocket read error")
			}
			return
		}

		handle(c, event)
	}
}
