package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/polyglot-chat/polyglot/globals"
	"github.com/polyglot-chat/polyglot/types"
)

const (
	maxMessageSize  = 4096
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 256
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Id is the opaque connection id, assigned on connect.
	Id string

	// Buffered channel of outbound frames.
	Send chan []byte

	// Identity, bound at the first successful join. The preferred language
	// is updated on every join. All four fields below are guarded by the
	// registry lock.
	UserId   string
	Username string
	Language string
	rooms    map[string]struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		Id:    uuid.NewString(),
		Send:  make(chan []byte, sendChannelSize),
		rooms: make(map[string]struct{}),
	}
}

// ReadLoop pumps messages from the websocket connection to the hub.
//
// The application runs ReadLoop in a per-connection goroutine. The
// application ensures that there is at most one reader on a connection by
// executing all reads from this goroutine. Each event is handled to
// completion before the next read, which keeps a single sender's messages
// in order within a room.
func (c *Client) ReadLoop() {
	defer func() {
		c.conn.Close()
		c.hub.HandleDisconnect(c)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				globals.AppLogger.Info("ws closed unexpectedly", "connection", c.Id, "error", err)
			}
			return
		}

		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil {
			globals.AppLogger.Warn("could not unmarshal ws message", "connection", c.Id, "error", err)
			continue
		}
		c.dispatch(message)
	}
}

func (c *Client) dispatch(message types.WebsocketMessage) {
	dataMap := make(map[string]interface{})
	if len(message.Data) > 0 {
		if err := json.Unmarshal(message.Data, &dataMap); err != nil {
			globals.AppLogger.Warn("could not unmarshal event data", "event", message.Event, "error", err)
			return
		}
	}

	switch message.Event {
	case types.EventJoinRoom:
		payload := types.JoinRoomPayload{}
		if err := mapstructure.WeakDecode(dataMap, &payload); err != nil {
			globals.AppLogger.Warn("could not decode join payload", "error", err)
			return
		}
		c.hub.HandleJoin(c, payload)

	case types.EventLeaveRoom:
		payload := types.LeaveRoomPayload{}
		if err := mapstructure.WeakDecode(dataMap, &payload); err != nil {
			globals.AppLogger.Warn("could not decode leave payload", "error", err)
			return
		}
		c.hub.HandleLeave(c, payload)

	case types.EventSendMessage:
		payload := types.SendMessagePayload{}
		if err := mapstructure.WeakDecode(dataMap, &payload); err != nil {
			globals.AppLogger.Warn("could not decode message payload", "error", err)
			return
		}
		c.hub.HandleSendMessage(c, payload)

	case types.EventUserTyping:
		payload := types.UserTypingPayload{}
		if err := mapstructure.WeakDecode(dataMap, &payload); err != nil {
			globals.AppLogger.Warn("could not decode typing payload", "error", err)
			return
		}
		c.hub.HandleTyping(c, payload)

	default:
		globals.AppLogger.Debug("unknown event", "event", message.Event)
	}
}

// WriteLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
