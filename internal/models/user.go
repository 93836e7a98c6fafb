package models

import "strings"

// User is the subset of the account record chat needs.
type User struct {
	ID        int    `db:"id" json:"id"`
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	AvatarURL string `db:"avatar_url" json:"avatar_url,omitempty"`
}

// DisplayName joins first and last name.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
