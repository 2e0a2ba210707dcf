package profile

import (
	"errors"
	"time"
)

// Profile is a principal's identity record. The role drives every
// authorization decision; it changes only through the admin update path.
type Profile struct {
	ID           string    `json:"id"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	Company      string    `json:"company,omitempty"`
	Department   string    `json:"department,omitempty"`
	Division     string    `json:"division,omitempty"`
	EmployeeID   string    `json:"employee_id,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	IsActive     bool      `json:"is_active"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Update carries optional field changes. Nil means "leave unchanged".
type Update struct {
	FullName   *string
	Company    *string
	Department *string
	Division   *string
	EmployeeID *string
	AvatarURL  *string
	Role       *string
	IsActive   *bool
	Password   *string
}

var (
	ErrNotFound      = errors.New("profile: not found")
	ErrAlreadyExists = errors.New("profile: already exists")
	ErrInvalidInput  = errors.New("profile: invalid input")
)
