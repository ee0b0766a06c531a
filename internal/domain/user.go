package domain

import (
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	AvatarURL    *string   `json:"avatar_url,omitempty"`
	PushToken    string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Author returns the user as a message author.
func (u *User) Author() Author {
	a := Author{ID: u.ID, Name: u.Username}
	if u.AvatarURL != nil {
		a.Avatar = *u.AvatarURL
	}
	return a
}
