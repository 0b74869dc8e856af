package domain

import (
	"time"
)

// User is read from the accounts table owned by the account service.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

func (u *User) IsOperator() bool {
	return u.Role == RoleAdmin
}

// Identity is who a connection or request belongs to, re-derived on every event.
type Identity struct {
	UserID     int64  `json:"userId"`
	Email      string `json:"email"`
	IsOperator bool   `json:"isOperator"`
}
