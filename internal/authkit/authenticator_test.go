package authkit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tyemirov/xauth/internal/ttlcache"
	"go.uber.org/zap/zaptest"
)

func newTestAuthenticator(t *testing.T, clock ttlcache.Clock, users UserStore) (*Authenticator, *SessionManager) {
	t.Helper()
	configuration := newTestServerConfig()
	sessions := NewSessionManager(configuration, clock)
	return NewAuthenticator(configuration, sessions, users, clock, zaptest.NewLogger(t)), sessions
}

func TestAuthenticatePrefersBearerOverCookie(t *testing.T) {
	t.Parallel()
	clock := ttlcache.NewFakeClock(time.Unix(1700000000, 0))
	users := newTestUserStore()
	authenticator, sessions := newTestAuthenticator(t, clock, users)

	bearer, _, _ := sessions.Issue("twitter:bearer", IssueOptions{Name: "Bearer User"})
	cookie, _, _ := sessions.Issue("twitter:cookie", IssueOptions{Name: "Cookie User"})
	request := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	request.Header.Set("Authorization", "Bearer "+bearer)
	request.AddCookie(&http.Cookie{Name: DefaultSessionCookieName, Value: cookie})

	principal, err := authenticator.Authenticate(request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if principal.Identity.OpenID != "twitter:bearer" {
		t.Fatalf("expected bearer identity, got %s", principal.Identity.OpenID)
	}
}

func TestAuthenticateCreatesMissingUserFromClaims(t *testing.T) {
	t.Parallel()
	clock := ttlcache.NewFakeClock(time.Unix(1700000000, 0))
	users := newTestUserStore()
	authenticator, sessions := newTestAuthenticator(t, clock, users)

	token, _, _ := sessions.Issue("twitter:42", IssueOptions{Name: "Alice"})
	request := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	request.AddCookie(&http.Cookie{Name: DefaultSessionCookieName, Value: token})

	principal, err := authenticator.Authenticate(request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if principal.User == nil || principal.User.Name != "Alice" {
		t.Fatalf("expected user created from claims, got %+v", principal.User)
	}
	if _, ok := users.get("twitter:42"); !ok {
		t.Fatalf("user was not persisted")
	}
}

func TestAuthenticateThrottlesLastSignedIn(t *testing.T) {
	t.Parallel()
	clock := ttlcache.NewFakeClock(time.Unix(1700000000, 0))
	users := newTestUserStore()
	_, _ = users.Upsert(context.Background(), User{OpenID: "twitter:7", Name: "Alice", LastSignedInAt: clock.Now()})
	authenticator, sessions := newTestAuthenticator(t, clock, users)
	token, _, _ := sessions.Issue("twitter:7", IssueOptions{Name: "Alice", TTL: 24 * time.Hour})

	authenticate := func() {
		request := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		request.Header.Set("Authorization", "Bearer "+token)
		if _, err := authenticator.Authenticate(request); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	clock.Advance(time.Minute)
	authenticate()
	if users.touches != 0 {
		t.Fatalf("expected no activity write inside the throttle window, got %d", users.touches)
	}
	clock.Advance(LastSignedInThrottle)
	authenticate()
	if users.touches != 1 {
		t.Fatalf("expected one activity write, got %d", users.touches)
	}
	user, _ := users.get("twitter:7")
	if !user.LastSignedInAt.Equal(clock.Now()) {
		t.Fatalf("expected last signed in %v, got %v", clock.Now(), user.LastSignedInAt)
	}
}

func TestAuthenticateEnforcesIdleTimeout(t *testing.T) {
	t.Parallel()
	clock := ttlcache.NewFakeClock(time.Unix(1700000000, 0))
	users := newTestUserStore()
	_, _ = users.Upsert(context.Background(), User{OpenID: "twitter:8", Name: "Alice", LastSignedInAt: clock.Now()})
	authenticator, sessions := newTestAuthenticator(t, clock, users)
	token, _, _ := sessions.Issue("twitter:8", IssueOptions{Name: "Alice", TTL: 24 * time.Hour})

	clock.Advance(DefaultIdleTimeout + time.Minute)
	request := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	if _, err := authenticator.Authenticate(request); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication after idle timeout, got %v", err)
	}
}

func TestAuthenticateIdleTimeoutDisabled(t *testing.T) {
	t.Parallel()
	clock := ttlcache.NewFakeClock(time.Unix(1700000000, 0))
	users := newTestUserStore()
	_, _ = users.Upsert(context.Background(), User{OpenID: "twitter:9", Name: "Alice", LastSignedInAt: clock.Now()})
	configuration := newTestServerConfig()
	configuration.IdleTimeout = 0
	sessions := NewSessionManager(configuration, clock)
	authenticator := NewAuthenticator(configuration, sessions, users, clock, nil)
	token, _, _ := sessions.Issue("twitter:9", IssueOptions{Name: "Alice", TTL: 48 * time.Hour})

	clock.Advance(24 * time.Hour)
	request := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	if _, err := authenticator.Authenticate(request); err != nil {
		t.Fatalf("idle timeout of zero must disable the check, got %v", err)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	t.Parallel()
	clock := ttlcache.NewFakeClock(time.Unix(1700000000, 0))
	users := newTestUserStore()
	authenticator, sessions := newTestAuthenticator(t, clock, users)

	missing := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if _, err := authenticator.Authenticate(missing); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication without credentials, got %v", err)
	}

	garbage := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	garbage.Header.Set("Authorization", "Bearer nope")
	if _, err := authenticator.Authenticate(garbage); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication for garbage token, got %v", err)
	}

	token, _, _ := sessions.Issue("twitter:10", IssueOptions{Name: "Alice"})
	users.findErr = errors.New("database down")
	broken := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	broken.Header.Set("Authorization", "Bearer "+token)
	if _, err := authenticator.Authenticate(broken); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication when the store fails, got %v", err)
	}
}
