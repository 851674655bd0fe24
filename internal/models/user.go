package models

import "time"

// User is an API account.
type User struct {
	ID             int64      `json:"id" gorm:"primaryKey"`
	Username       string     `json:"username" gorm:"size:50;uniqueIndex;not null"`
	Email          *string    `json:"email" gorm:"size:100;uniqueIndex"`
	HashedPassword string     `json:"-" gorm:"size:255;not null"`
	IsActive       bool       `json:"is_active" gorm:"not null;default:true"`
	IsAdmin        bool       `json:"is_admin" gorm:"not null;default:false"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastLogin      *time.Time `json:"last_login"`
}

// UserFilter pages through accounts. Inactive accounts are skipped unless
// IncludeInactive is set.
type UserFilter struct {
	Offset          int
	Limit           int
	IncludeInactive bool
}

// UserChanges lists the fields to overwrite; nil fields are left alone. An
// empty Email clears it.
type UserChanges struct {
	Email    *string
	IsActive *bool
	IsAdmin  *bool
}
