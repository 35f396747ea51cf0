package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the persisted identity behind a login. Identifier is the
// configured username.
type User struct {
	ID         uint64    `gorm:"primaryKey" json:"id"`
	Identifier string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"identifier"`
	Role       string    `gorm:"type:varchar(32);not null;default:user" json:"role"`
	Provider   string    `gorm:"type:varchar(32);not null;default:credentials" json:"provider"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
