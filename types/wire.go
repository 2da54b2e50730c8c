package types

import "encoding/json"

// Inbound event names.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventUserTyping  = "user_typing"
)

// Outbound event names.
const (
	EventConnected      = "connected"
	EventJoinedRoom     = "joined_room"
	EventUserJoined     = "user_joined"
	EventLeftRoom       = "left_room"
	EventUserLeft       = "user_left"
	EventReceiveMessage = "receive_message"
	EventError          = "error"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// The different payloads transferred from the client to here.

type JoinRoomPayload struct {
	UserId   string `json:"user_id" mapstructure:"user_id"`
	Username string `json:"username" mapstructure:"username"`
	RoomRef  string `json:"room_id" mapstructure:"room_id"` // room id or room name
	Language string `json:"preferred_language" mapstructure:"preferred_language"`
}

type LeaveRoomPayload struct {
	RoomId string `json:"room_id" mapstructure:"room_id"`
}

type SendMessagePayload struct {
	RoomId string `json:"room_id" mapstructure:"room_id"`
	Text   string `json:"text" mapstructure:"text"`
}

type UserTypingPayload struct {
	RoomId   string `json:"room_id" mapstructure:"room_id"`
	IsTyping bool   `json:"is_typing" mapstructure:"is_typing"`
}

// The different payloads transferred from here to the clients.

type ConnectedPayload struct {
	Status       string `json:"status"`
	ConnectionId string `json:"connection_id"`
}

type JoinedRoomPayload struct {
	RoomId   string `json:"room_id"`
	RoomName string `json:"room_name"`
	Username string `json:"username"`
}

type UserJoinedPayload struct {
	Username string `json:"username"`
	RoomId   string `json:"room_id"`
	RoomName string `json:"room_name"`
}

type LeftRoomPayload struct {
	RoomId string `json:"room_id"`
}

type UserLeftPayload struct {
	Username string `json:"username"`
	RoomId   string `json:"room_id"`
}

type UserTypingBroadcast struct {
	Username string `json:"username"`
	RoomId   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
