package authkit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tyemirov/xauth/internal/ttlcache"
	"github.com/tyemirov/xauth/internal/twitter"
	"go.uber.org/zap"
)

// Login error codes sent to the client in the ?error= payload.
const (
	CodeAuthorizationDenied   = "authorization_denied"
	CodeMissingCallbackParams = "missing_callback_params"
	CodeStateInvalid          = "state_invalid"
	CodeTokenExchangeFailed   = "token_exchange_failed"
	CodeProfileFetchFailed    = "profile_fetch_failed"
	CodeUserStoreFailed       = "user_store_failed"
	CodeSessionIssueFailed    = "session_issue_failed"
	CodeLoginStartFailed      = "login_start_failed"
)

// DefaultFollowCheckTimeout bounds the optional follow check run during login.
const DefaultFollowCheckTimeout = 3 * time.Second

// Provider is the subset of the X client the HTTP surface relies on.
type Provider interface {
	AuthorizationURL(callbackURL string, state string, codeChallenge string, forceLogin bool) string
	ExchangeCode(ctx context.Context, code string, callbackURL string, codeVerifier string) (*twitter.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*twitter.TokenPair, error)
	GetUserProfile(ctx context.Context, accessToken string) (*twitter.Profile, error)
	GetUserProfileByUsername(ctx context.Context, input string) (*twitter.Profile, error)
	CheckFollowStatus(ctx context.Context, accessToken string, sourceUserID string, targetUsername string) twitter.FollowStatus
}

// CallbackParams are the query values the provider sends to the callback.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// LoginResult is a completed login.
type LoginResult struct {
	Profile          *twitter.Profile
	Tokens           *twitter.TokenPair
	User             *User
	SessionToken     string
	SessionExpiresAt time.Time
	Follow           twitter.FollowStatus
}

// LoginFlowDependencies wires a LoginFlow.
type LoginFlowDependencies struct {
	Provider Provider
	States   *PKCEStore
	Sessions *SessionManager
	Users    UserStore
	Metrics  MetricsRecorder
	Logger   *zap.Logger
	Clock    ttlcache.Clock
	// FollowTargetUsername, when set, is checked against the new user's following list.
	FollowTargetUsername string
	// FollowCheckTimeout bounds the login-time follow check; past it the status is skipped.
	FollowCheckTimeout time.Duration
}

// LoginFlow drives one login attempt from START to SESSION_ISSUED.
// A failed attempt is never resumed; the client starts over.
type LoginFlow struct {
	provider Provider
	states   *PKCEStore
	sessions *SessionManager
	users    UserStore
	metrics  MetricsRecorder
	logger   *zap.Logger
	clock    ttlcache.Clock
	target   string

	// followTimeout keeps rate-limit backoff from holding the callback open.
	followTimeout time.Duration
}

// NewLoginFlow validates dependencies.
func NewLoginFlow(dependencies LoginFlowDependencies) (*LoginFlow, error) {
	if dependencies.Provider == nil || dependencies.States == nil || dependencies.Sessions == nil || dependencies.Users == nil {
		return nil, errors.New("login_flow.new: provider, states, sessions, and users are required")
	}
	flow := &LoginFlow{
		provider: dependencies.Provider,
		states:   dependencies.States,
		sessions: dependencies.Sessions,
		users:    dependencies.Users,
		metrics:  dependencies.Metrics,
		logger:   dependencies.Logger,
		clock:    dependencies.Clock,
		target:   strings.TrimSpace(dependencies.FollowTargetUsername),
	}
	flow.followTimeout = dependencies.FollowCheckTimeout
	if flow.followTimeout <= 0 {
		flow.followTimeout = DefaultFollowCheckTimeout
	}
	if flow.metrics == nil {
		flow.metrics = noopMetrics{}
	}
	if flow.logger == nil {
		flow.logger = zap.NewNop()
	}
	if flow.clock == nil {
		flow.clock = ttlcache.SystemClock()
	}
	return flow, nil
}

// Start generates PKCE values, stores them under a fresh state, and returns the authorize URL.
func (flow *LoginFlow) Start(ctx context.Context, callbackURL string, forceLogin bool) (string, error) {
	challenge, err := NewPKCEChallenge()
	if err != nil {
		return "", &LoginError{Stage: StageStart, Code: CodeLoginStartFailed, Message: "Could not start login.", Err: err}
	}
	if _, err := flow.states.Store(ctx, challenge.State, challenge.CodeVerifier, callbackURL); err != nil {
		return "", &LoginError{Stage: StageStart, Code: CodeLoginStartFailed, Message: "Could not start login.", Err: err}
	}
	flow.metrics.Increment(MetricLoginStarted)
	flow.logger.Debug("login authorizing",
		zap.String("stage", string(StageAuthorizing)),
		zap.Bool("force_login", forceLogin),
	)
	return flow.provider.AuthorizationURL(callbackURL, challenge.State, challenge.CodeChallenge, forceLogin), nil
}

// Complete consumes the state, exchanges the code, fetches the profile, records the user,
// and issues a session. Failures are *LoginError values naming the terminal stage.
func (flow *LoginFlow) Complete(ctx context.Context, params CallbackParams) (*LoginResult, error) {
	if params.Error != "" {
		flow.metrics.Increment(MetricLoginDenied)
		return nil, &LoginError{
			Stage:   StageProviderError,
			Code:    CodeAuthorizationDenied,
			Message: deniedMessage(params),
			Err:     &twitter.DeniedError{Code: params.Error, Description: params.ErrorDescription},
		}
	}
	if strings.TrimSpace(params.Code) == "" || strings.TrimSpace(params.State) == "" {
		flow.metrics.Increment(MetricLoginStateInvalid)
		return nil, &LoginError{Stage: StageStateInvalid, Code: CodeMissingCallbackParams, Message: "The login response was incomplete.", Err: ErrMissingCallbackParams}
	}

	record, err := flow.states.Consume(ctx, params.State)
	if err != nil {
		flow.metrics.Increment(MetricLoginStateInvalid)
		return nil, &LoginError{Stage: StageStateInvalid, Code: CodeStateInvalid, Message: "The login link expired. Please try again.", Err: err}
	}
	flow.logger.Debug("login callback received", zap.String("stage", string(StageCallbackReceived)))

	tokens, err := flow.provider.ExchangeCode(ctx, params.Code, record.CallbackURL, record.CodeVerifier)
	if err != nil {
		flow.metrics.Increment(MetricLoginProviderError)
		return nil, &LoginError{Stage: StageProviderError, Code: CodeTokenExchangeFailed, Message: "X rejected the login. Please try again.", Err: err}
	}
	flow.logger.Debug("login token exchanged", zap.String("stage", string(StageTokenExchanged)))

	profile, err := flow.provider.GetUserProfile(ctx, tokens.AccessToken)
	if err != nil {
		flow.metrics.Increment(MetricLoginProviderError)
		return nil, &LoginError{Stage: StageProviderError, Code: CodeProfileFetchFailed, Message: "Could not load your X profile.", Err: err}
	}
	flow.logger.Debug("login profile fetched",
		zap.String("stage", string(StageProfileFetched)),
		zap.String("username", profile.Username),
	)

	user, err := flow.users.Upsert(ctx, User{
		OpenID:          OpenIDForProviderUser(profile.ID),
		Name:            profile.Name,
		Username:        profile.Username,
		ProfileImageURL: profile.ProfileImageURL,
		LastSignedInAt:  flow.clock.Now().UTC(),
	})
	if err != nil {
		return nil, &LoginError{Stage: StageProfileFetched, Code: CodeUserStoreFailed, Message: "Could not complete login.", Err: err}
	}
	sessionToken, expiresAt, err := flow.sessions.Issue(user.OpenID, IssueOptions{Name: profile.Name})
	if err != nil {
		return nil, &LoginError{Stage: StageProfileFetched, Code: CodeSessionIssueFailed, Message: "Could not complete login.", Err: err}
	}
	follow := flow.checkFollow(ctx, tokens.AccessToken, profile.ID)
	flow.metrics.Increment(MetricLoginSucceeded)
	return &LoginResult{
		Profile:          profile,
		Tokens:           tokens,
		User:             user,
		SessionToken:     sessionToken,
		SessionExpiresAt: expiresAt,
		Follow:           follow,
	}, nil
}

func (flow *LoginFlow) checkFollow(ctx context.Context, accessToken string, sourceUserID string) twitter.FollowStatus {
	if flow.target == "" {
		return twitter.FollowStatus{Skipped: true}
	}
	followCtx, cancel := context.WithTimeout(ctx, flow.followTimeout)
	defer cancel()
	status := flow.provider.CheckFollowStatus(followCtx, accessToken, sourceUserID, flow.target)
	if followCtx.Err() != nil {
		flow.logger.Warn("login follow check timed out",
			zap.String("code", "auth.callback.follow_timeout"),
			zap.Duration("timeout", flow.followTimeout),
		)
		return twitter.FollowStatus{Skipped: true}
	}
	return status
}

func deniedMessage(params CallbackParams) string {
	if params.Error == "access_denied" {
		return "Authorization was cancelled."
	}
	if params.ErrorDescription != "" {
		return params.ErrorDescription
	}
	return "X authorization failed."
}
