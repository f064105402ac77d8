package models

import (
	"time"
)

type User struct {
	ID             int64
	CreatedAt      time.Time
	Email          string
	HashedPassword string

	// Currently live refresh token; empty until the first login
	RefreshToken string
}
