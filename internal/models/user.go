// Package models contains the persisted and in-memory domain types of the chat core.
package models

import (
	"strings"
	"time"
)

// User is read by the core but owned by the account system.
type User struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Username    string    `gorm:"size:64;uniqueIndex;not null" json:"username"`
	DisplayName string    `gorm:"size:128" json:"display_name"`
	Avatar      string    `gorm:"size:512" json:"avatar"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LastName returns the last whitespace-separated token of the display name,
// falling back to the username.
func (u *User) LastName() string {
	fields := strings.Fields(u.DisplayName)
	if len(fields) == 0 {
		return u.Username
	}
	return fields[len(fields)-1]
}
