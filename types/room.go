package types

import "time"

// DefaultRoomName is the one well-known room that is created on demand
// whenever it is referenced but does not exist yet.
const DefaultRoomName = "general"

type Room struct {
	Id        string    `json:"room_id" gorm:"primaryKey"`
	Name      string    `json:"room_name"` // case-insensitively unique
	CreatedAt time.Time `json:"created_at"`
}
