package authkit

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/xauth/internal/ttlcache"
)

// SessionClaims are embedded in the session token.
type SessionClaims struct {
	OpenID string `json:"openId"`
	AppID  string `json:"appId"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// Identity is a verified session.
type Identity struct {
	OpenID    string
	AppID     string
	Name      string
	ExpiresAt time.Time
}

// IssueOptions customizes Issue. A zero TTL selects the manager default.
type IssueOptions struct {
	Name string
	TTL  time.Duration
}

// SessionManager mints and verifies HS256 session tokens.
type SessionManager struct {
	signingKey []byte
	issuer     string
	appID      string
	ttl        time.Duration
	clock      ttlcache.Clock
}

// NewSessionManager builds a manager from a validated ServerConfig.
func NewSessionManager(configuration ServerConfig, clock ttlcache.Clock) *SessionManager {
	if clock == nil {
		clock = ttlcache.SystemClock()
	}
	ttl := configuration.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		signingKey: configuration.SigningKey,
		issuer:     configuration.Issuer,
		appID:      configuration.AppID,
		ttl:        ttl,
		clock:      clock,
	}
}

// Issue creates a signed session token for openID.
func (manager *SessionManager) Issue(openID string, options IssueOptions) (string, time.Time, error) {
	if strings.TrimSpace(openID) == "" {
		return "", time.Time{}, errors.New("session.issue: empty open id")
	}
	ttl := options.TTL
	if ttl <= 0 {
		ttl = manager.ttl
	}
	issuedAt := manager.clock.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		OpenID: openID,
		AppID:  manager.appID,
		Name:   options.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    manager.issuer,
			Subject:   openID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(manager.signingKey)
	return signed, expiresAt, err
}

// Verify returns the identity carried by token, or nil when the token is unusable
// for any reason: bad signature, wrong algorithm, expiry, issuer mismatch, or a missing claim.
func (manager *SessionManager) Verify(token string) *Identity {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return manager.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(manager.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(manager.clock.Now),
	)
	if err != nil || parsed == nil || !parsed.Valid {
		return nil
	}
	if claims.OpenID == "" || claims.AppID == "" || claims.Name == "" {
		return nil
	}
	if claims.AppID != manager.appID {
		return nil
	}
	return &Identity{
		OpenID:    claims.OpenID,
		AppID:     claims.AppID,
		Name:      claims.Name,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}
}
