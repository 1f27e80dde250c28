package authkit

import (
	"context"
	"time"
)

// User is the local record of someone who signed in through the provider.
type User struct {
	OpenID          string    `json:"openId"`
	Name            string    `json:"name"`
	Username        string    `json:"username"`
	ProfileImageURL string    `json:"profileImage"`
	LastSignedInAt  time.Time `json:"lastSignedIn"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// UserStore persists and retrieves application users.
type UserStore interface {
	// FindByOpenID returns ErrUserNotFound when no user matches.
	FindByOpenID(ctx context.Context, openID string) (*User, error)
	// Upsert creates the user or refreshes its profile fields and LastSignedInAt.
	Upsert(ctx context.Context, user User) (*User, error)
	// TouchLastSignedIn records activity for openID.
	TouchLastSignedIn(ctx context.Context, openID string, signedInAt time.Time) error
}

// OpenIDForProviderUser namespaces a provider user id.
func OpenIDForProviderUser(providerUserID string) string {
	return "twitter:" + providerUserID
}
