package models

import "time"

// User is an account as stored in the users table. Roles holds role codes
// in assignment order once loaded with users.Repository.Roles.
type User struct {
	ID           string
	UserName     string
	Email        string
	Cellular     string
	Attachment   string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
}

// Role is a row of list_roles.
type Role struct {
	ID   string
	Code string
	Name string
}
