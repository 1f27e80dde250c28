package sessionvalidator

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/xauth/internal/authkit"
)

type fixedClock struct {
	current time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.current
}

var (
	testSigningKey = []byte("secret-key-0123456789abcdef")
	testNow        = time.Unix(1700000000, 0).UTC()
)

// issueToken mints a token the same way the auth service does.
func issueToken(t *testing.T, issuer string, appID string, issuedAt time.Time, ttl time.Duration) string {
	t.Helper()
	configuration := authkit.ServerConfig{
		AppID:             appID,
		SigningKey:        testSigningKey,
		Issuer:            issuer,
		ClientRedirectURL: "https://app.example.com/callback",
	}
	if err := configuration.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	token, _, err := authkit.NewSessionManager(configuration, fixedClock{current: issuedAt}).
		Issue("twitter:123", authkit.IssueOptions{Name: "Demo User", TTL: ttl})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	validator, err := New(Config{
		SigningKey: testSigningKey,
		Issuer:     "xauth",
		AppID:      "app-1",
		Clock:      fixedClock{current: testNow},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return validator
}

func TestNewValidatorRequiresSigningKeyAndIssuer(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Issuer: "xauth"}); !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected missing signing key error, got %v", err)
	}
	if _, err := New(Config{SigningKey: testSigningKey}); !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("expected missing issuer error, got %v", err)
	}
}

func TestNewValidatorDefaults(t *testing.T) {
	t.Parallel()

	validator, err := New(Config{SigningKey: testSigningKey, Issuer: "xauth"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if validator.cookieName != DefaultCookieName {
		t.Fatalf("expected default cookie name, got %s", validator.cookieName)
	}
	if validator.clock == nil {
		t.Fatalf("expected default clock to be set")
	}
}

func TestValidateTokenAcceptsIssuedSession(t *testing.T) {
	t.Parallel()
	validator := newTestValidator(t)

	claims, err := validator.ValidateToken(issueToken(t, "xauth", "app-1", testNow, time.Minute))
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if claims.OpenID != "twitter:123" || claims.Name != "Demo User" || claims.AppID != "app-1" {
		t.Fatalf("unexpected claims: %#v", claims)
	}
	if !claims.GetExpiresAt().Equal(testNow.Add(time.Minute)) {
		t.Fatalf("unexpected expiry: %v", claims.GetExpiresAt())
	}
}

func TestValidateTokenRejectsInvalidCases(t *testing.T) {
	t.Parallel()
	validator := newTestValidator(t)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		OpenID: "twitter:123",
		AppID:  "app-1",
		Name:   "Demo User",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "xauth",
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}
	foreignKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		OpenID: "twitter:123",
		AppID:  "app-1",
		Name:   "Demo User",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "xauth",
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
	}).SignedString([]byte("other-key"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	testCases := []struct {
		name      string
		token     string
		expectErr error
	}{
		{name: "empty token", token: "", expectErr: ErrMissingToken},
		{name: "bad signature", token: foreignKey, expectErr: ErrInvalidToken},
		{name: "alg none", token: unsigned, expectErr: ErrInvalidToken},
		{name: "wrong issuer", token: issueToken(t, "other", "app-1", testNow, time.Minute), expectErr: ErrInvalidIssuer},
		{name: "wrong app", token: issueToken(t, "xauth", "app-2", testNow, time.Minute), expectErr: ErrInvalidAudience},
		{name: "expired", token: issueToken(t, "xauth", "app-1", testNow.Add(-2*time.Minute), time.Minute), expectErr: ErrTokenExpired},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if _, validateErr := validator.ValidateToken(testCase.token); !errors.Is(validateErr, testCase.expectErr) {
				t.Fatalf("expected %v, got %v", testCase.expectErr, validateErr)
			}
		})
	}
}

func TestValidateRequestPrefersBearer(t *testing.T) {
	t.Parallel()
	validator := newTestValidator(t)
	valid := issueToken(t, "xauth", "app-1", testNow, time.Minute)

	fromCookie := httptest.NewRequest(http.MethodGet, "/protected", nil)
	fromCookie.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: valid})
	if _, err := validator.ValidateRequest(fromCookie); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	bearerWins := httptest.NewRequest(http.MethodGet, "/protected", nil)
	bearerWins.Header.Set("Authorization", "Bearer garbage")
	bearerWins.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: valid})
	if _, err := validator.ValidateRequest(bearerWins); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected the bearer token to be validated, got %v", err)
	}

	if _, err := validator.ValidateRequest(httptest.NewRequest(http.MethodGet, "/protected", nil)); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	validator := newTestValidator(t)

	router := gin.New()
	router.Use(validator.GinMiddleware(""))
	router.GET("/protected", func(contextGin *gin.Context) {
		value, exists := contextGin.Get(DefaultContextKey)
		if !exists {
			t.Fatalf("claims missing")
		}
		if _, ok := value.(*Claims); !ok {
			t.Fatalf("unexpected claims type: %T", value)
		}
		contextGin.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodGet, "/protected", nil)
	request.Header.Set("Authorization", "Bearer "+issueToken(t, "xauth", "app-1", testNow, time.Minute))
	response := httptest.NewRecorder()
	router.ServeHTTP(response, request)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}

	responseMissing := httptest.NewRecorder()
	router.ServeHTTP(responseMissing, httptest.NewRequest(http.MethodGet, "/protected", nil))
	if responseMissing.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", responseMissing.Code)
	}
}
