package authkit

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultSessionCookieName = "app_session_id"
	DefaultSessionTTL        = 72 * time.Hour
	DefaultIdleTimeout       = 4 * time.Hour
	DefaultCallbackPath      = "/auth/callback"
)

// ServerConfig configures sessions, cookies, and the login flow.
type ServerConfig struct {
	AppID             string
	SigningKey        []byte
	Issuer            string
	CookieDomain      string
	SessionCookieName string
	SessionTTL        time.Duration
	PKCETTL           time.Duration
	// IdleTimeout rejects sessions of users inactive for longer. Zero disables the check.
	IdleTimeout         time.Duration
	TrustForwardedProto bool
	// ClientRedirectURL receives ?data= or ?error= after the callback.
	ClientRedirectURL    string
	CallbackPath         string
	FollowTargetUsername string
	// FollowCheckTimeout bounds the follow check run during login. Zero means DefaultFollowCheckTimeout.
	FollowCheckTimeout time.Duration
}

// Validate fills defaults and rejects unusable settings.
func (configuration *ServerConfig) Validate() error {
	if strings.TrimSpace(configuration.AppID) == "" {
		return fmt.Errorf("%w: app id is required", ErrInvalidConfig)
	}
	if len(configuration.SigningKey) == 0 {
		return fmt.Errorf("%w: signing key is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return fmt.Errorf("%w: issuer is required", ErrInvalidConfig)
	}
	parsed, err := url.Parse(configuration.ClientRedirectURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: client redirect url must be absolute", ErrInvalidConfig)
	}
	if configuration.SessionCookieName == "" {
		configuration.SessionCookieName = DefaultSessionCookieName
	}
	if configuration.SessionTTL <= 0 {
		configuration.SessionTTL = DefaultSessionTTL
	}
	if configuration.PKCETTL <= 0 {
		configuration.PKCETTL = DefaultPKCETTL
	}
	if configuration.IdleTimeout < 0 {
		return fmt.Errorf("%w: idle timeout must not be negative", ErrInvalidConfig)
	}
	if configuration.CallbackPath == "" {
		configuration.CallbackPath = DefaultCallbackPath
	}
	if !strings.HasPrefix(configuration.CallbackPath, "/") {
		return fmt.Errorf("%w: callback path must start with /", ErrInvalidConfig)
	}
	return nil
}
