package model

import "time"

// GuestTokenResponse is returned when a guest identity is issued.
type GuestTokenResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}
