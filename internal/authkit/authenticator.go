package authkit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tyemirov/xauth/internal/ttlcache"
	"go.uber.org/zap"
)

// LastSignedInThrottle is the minimum gap between activity writes for one user.
const LastSignedInThrottle = 5 * time.Minute

// Principal is an authenticated request: the verified session and the local user behind it.
type Principal struct {
	Identity Identity
	User     *User
}

// Authenticator resolves requests to principals.
type Authenticator struct {
	sessions    *SessionManager
	users       UserStore
	cookieName  string
	idleTimeout time.Duration
	clock       ttlcache.Clock
	logger      *zap.Logger
}

// NewAuthenticator wires an Authenticator. Nil clock and logger select defaults.
func NewAuthenticator(configuration ServerConfig, sessions *SessionManager, users UserStore, clock ttlcache.Clock, logger *zap.Logger) *Authenticator {
	if clock == nil {
		clock = ttlcache.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cookieName := configuration.SessionCookieName
	if cookieName == "" {
		cookieName = DefaultSessionCookieName
	}
	return &Authenticator{
		sessions:    sessions,
		users:       users,
		cookieName:  cookieName,
		idleTimeout: configuration.IdleTimeout,
		clock:       clock,
		logger:      logger,
	}
}

// Authenticate reads the session from the Authorization bearer header or, failing that,
// the session cookie. Every failure is ErrAuthentication.
func (authenticator *Authenticator) Authenticate(request *http.Request) (*Principal, error) {
	token := bearerToken(request)
	if token == "" {
		if cookie, err := request.Cookie(authenticator.cookieName); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		return nil, fmt.Errorf("%w: missing session", ErrAuthentication)
	}
	identity := authenticator.sessions.Verify(token)
	if identity == nil {
		return nil, fmt.Errorf("%w: invalid session", ErrAuthentication)
	}

	ctx := request.Context()
	now := authenticator.clock.Now().UTC()
	user, err := authenticator.users.FindByOpenID(ctx, identity.OpenID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		user, err = authenticator.users.Upsert(ctx, User{OpenID: identity.OpenID, Name: identity.Name, LastSignedInAt: now})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	default:
		inactive := now.Sub(user.LastSignedInAt)
		if authenticator.idleTimeout > 0 && inactive > authenticator.idleTimeout {
			authenticator.logger.Info("session rejected after idle timeout",
				zap.String("code", "session.idle_timeout"),
				zap.String("open_id", identity.OpenID),
				zap.Duration("inactive", inactive),
			)
			return nil, fmt.Errorf("%w: idle timeout", ErrAuthentication)
		}
		if inactive >= LastSignedInThrottle {
			if touchErr := authenticator.users.TouchLastSignedIn(ctx, identity.OpenID, now); touchErr != nil {
				authenticator.logger.Warn("last signed in update failed",
					zap.String("code", "session.touch_failed"),
					zap.String("open_id", identity.OpenID),
					zap.Error(touchErr),
				)
			} else {
				user.LastSignedInAt = now
			}
		}
	}
	return &Principal{Identity: *identity, User: user}, nil
}

func bearerToken(request *http.Request) string {
	header := strings.TrimSpace(request.Header.Get("Authorization"))
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}
