package types

import "time"

type User struct {
	Id        string    `json:"user_id" gorm:"primaryKey"`
	Username  string    `json:"username" gorm:"uniqueIndex"`
	Language  string    `json:"preferred_language"` // alpha-2 iso
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}
