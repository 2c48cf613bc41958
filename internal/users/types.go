package users

import (
	"errors"
	"strings"
	"time"
)

// User is a customer account stored in the users table.
type User struct {
	ID             string            `dynamodbav:"user_id" json:"_id"` // PK
	Name           string            `dynamodbav:"name" json:"name"`
	Email          string            `dynamodbav:"email" json:"email"`
	PasswordHash   string            `dynamodbav:"password_hash" json:"-"`
	Cart           map[string]int    `dynamodbav:"cart" json:"cartData"`
	Phone          string            `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	Address        map[string]string `dynamodbav:"address,omitempty" json:"address,omitempty"`
	Preferences    map[string]string `dynamodbav:"preferences,omitempty" json:"preferences,omitempty"`
	ProfilePicture string            `dynamodbav:"profile_picture,omitempty" json:"profilePicture,omitempty"`
	LastLoginAt    *time.Time        `dynamodbav:"last_login_at,omitempty" json:"lastLogin,omitempty"`
	CreatedAt      time.Time         `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt      time.Time         `dynamodbav:"updated_at" json:"updatedAt"`
}

// emailLock reserves an email address for one user. It lives in the users
// table under the key "email#<lowercased address>".
type emailLock struct {
	Key     string `dynamodbav:"user_id"`
	OwnerID string `dynamodbav:"owner_id"`
}

func emailLockKey(email string) string {
	return "email#" + NormalizeEmail(email)
}

// NormalizeEmail is the canonical form used for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ProfileUpdate carries the fields a user may change. Nil fields are left alone.
type ProfileUpdate struct {
	Name         *string
	Email        *string
	PasswordHash *string
	Phone        *string
	Address      map[string]string
	Preferences  map[string]string
}

// Stats summarises the user base for the admin dashboard.
type Stats struct {
	TotalUsers  int `json:"totalUsers"`
	RecentUsers int `json:"recentUsers"`
	ActiveUsers int `json:"activeUsers"`
}

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
)
