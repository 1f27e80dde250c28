package twitter

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tyemirov/xauth/internal/ratelimit"
	"github.com/tyemirov/xauth/internal/ttlcache"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	DefaultAuthorizeURL = "https://twitter.com/i/oauth2/authorize"
	DefaultTokenURL     = "https://api.twitter.com/2/oauth2/token"
	DefaultAPIBaseURL   = "https://api.twitter.com"
	defaultHTTPTimeout  = 15 * time.Second
	defaultRotationTTL  = 24 * time.Hour
)

// DefaultScopes is the scope set requested when none is configured.
var DefaultScopes = []string{"tweet.read", "users.read", "follows.read", "offline.access"}

// Config describes a Client.
type Config struct {
	ClientID       string
	ClientSecret   string
	AppBearerToken string
	AuthorizeURL   string
	TokenURL       string
	APIBaseURL     string
	Scopes         []string
	HTTPClient     *http.Client
	Executor       *ratelimit.Executor
	Logger         *zap.Logger
	Clock          ttlcache.Clock
	// RotationGuardTTL bounds how long a rotated refresh token is remembered as spent.
	RotationGuardTTL time.Duration
}

// Client talks to the X OAuth2 and v2 user endpoints.
type Client struct {
	oauthConfig    oauth2.Config
	apiBaseURL     string
	appBearerToken string
	httpClient     *http.Client
	executor       *ratelimit.Executor
	logger         *zap.Logger
	clock          ttlcache.Clock
	rotations      *ttlcache.Cache[string, struct{}]
	rotationTTL    time.Duration
}

// NewClient validates the configuration and builds a Client.
func NewClient(config Config) (*Client, error) {
	if strings.TrimSpace(config.ClientID) == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(config.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: client secret is required", ErrInvalidConfig)
	}
	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := config.Clock
	if clock == nil {
		clock = ttlcache.SystemClock()
	}
	executor := config.Executor
	if executor == nil {
		executor = ratelimit.NewExecutor(ratelimit.DefaultPolicy(), ratelimit.WithLogger(logger))
	}
	rotationTTL := config.RotationGuardTTL
	if rotationTTL <= 0 {
		rotationTTL = defaultRotationTTL
	}
	return &Client{
		oauthConfig: oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Scopes:       append([]string(nil), scopes...),
			Endpoint: oauth2.Endpoint{
				AuthURL:   valueOrDefault(config.AuthorizeURL, DefaultAuthorizeURL),
				TokenURL:  valueOrDefault(config.TokenURL, DefaultTokenURL),
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		apiBaseURL:     strings.TrimRight(valueOrDefault(config.APIBaseURL, DefaultAPIBaseURL), "/"),
		appBearerToken: strings.TrimSpace(config.AppBearerToken),
		httpClient:     httpClient,
		executor:       executor,
		logger:         logger,
		clock:          clock,
		rotations:      ttlcache.New[string, struct{}](clock),
		rotationTTL:    rotationTTL,
	}, nil
}

// AuthorizationURL builds the provider consent URL for a PKCE login.
// forceLogin asks the provider to show the account chooser again.
func (client *Client) AuthorizationURL(callbackURL string, state string, codeChallenge string, forceLogin bool) string {
	configuration := client.oauthConfig
	configuration.RedirectURL = callbackURL
	options := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if forceLogin {
		options = append(options,
			oauth2.SetAuthURLParam("prompt", "login"),
			oauth2.SetAuthURLParam("t", strconv.FormatInt(client.clock.Now().UnixMilli(), 10)),
		)
	}
	return configuration.AuthCodeURL(state, options...)
}

// PurgeRotations drops expired rotation-guard entries.
func (client *Client) PurgeRotations() int {
	return client.rotations.Purge()
}

func (client *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, client.httpClient)
}

func valueOrDefault(value string, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
