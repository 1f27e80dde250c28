package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/xauth/internal/authkit"
	"go.uber.org/zap"
)

var errEmptyOpenID = errors.New("user_store.empty_open_id")

// InMemoryUsers is an authkit.UserStore for local runs without a database.
type InMemoryUsers struct {
	mutex sync.RWMutex
	users map[string]authkit.User
}

// NewInMemoryUsers constructs an empty store.
func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{users: make(map[string]authkit.User)}
}

// FindByOpenID returns a copy of the stored user.
func (store *InMemoryUsers) FindByOpenID(ctx context.Context, openID string) (*authkit.User, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	user, ok := store.users[openID]
	if !ok {
		return nil, authkit.ErrUserNotFound
	}
	return &user, nil
}

// Upsert inserts or replaces the user, keeping the original CreatedAt.
func (store *InMemoryUsers) Upsert(ctx context.Context, user authkit.User) (*authkit.User, error) {
	if strings.TrimSpace(user.OpenID) == "" {
		return nil, errEmptyOpenID
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	now := time.Now().UTC()
	if existing, ok := store.users[user.OpenID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	store.users[user.OpenID] = user
	stored := user
	return &stored, nil
}

// TouchLastSignedIn records activity for an existing user.
func (store *InMemoryUsers) TouchLastSignedIn(ctx context.Context, openID string, signedInAt time.Time) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user, ok := store.users[openID]
	if !ok {
		return authkit.ErrUserNotFound
	}
	user.LastSignedInAt = signedInAt
	user.UpdatedAt = time.Now().UTC()
	store.users[openID] = user
	return nil
}

// HandleWhoAmI returns the local profile of the principal injected by authkit.RequireSession.
func HandleWhoAmI(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		principal, ok := authkit.PrincipalFromContext(contextGin)
		if !ok || principal.User == nil {
			logger.Warn("missing principal on context",
				zap.String("code", "api.me.missing_principal"))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"openId":         principal.User.OpenID,
			"appId":          principal.Identity.AppID,
			"name":           principal.User.Name,
			"username":       principal.User.Username,
			"profileImage":   principal.User.ProfileImageURL,
			"lastSignedInAt": principal.User.LastSignedInAt,
			"expires":        principal.Identity.ExpiresAt,
		})
	}
}
