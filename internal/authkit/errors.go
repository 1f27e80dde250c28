package authkit

import (
	"errors"
	"fmt"
)

var (
	// ErrStateNotFound indicates the state is unknown, expired, or already consumed.
	ErrStateNotFound = errors.New("pkce_store.state_not_found")
	// ErrMissingCallbackParams indicates a callback without code or state.
	ErrMissingCallbackParams = errors.New("login.missing_callback_params")
	// ErrAuthentication is returned for any request that does not carry a usable session. Never retried.
	ErrAuthentication = errors.New("session.authentication_failed")
	// ErrUserNotFound indicates no local user matches the open id.
	ErrUserNotFound = errors.New("user_store.not_found")
	// ErrInvalidConfig indicates an unusable ServerConfig.
	ErrInvalidConfig = errors.New("config.invalid")
)

// LoginStage names a step of one login attempt.
type LoginStage string

const (
	StageStart            LoginStage = "START"
	StageAuthorizing      LoginStage = "AUTHORIZING"
	StageCallbackReceived LoginStage = "CALLBACK_RECEIVED"
	StageTokenExchanged   LoginStage = "TOKEN_EXCHANGED"
	StageProfileFetched   LoginStage = "PROFILE_FETCHED"
	StageSessionIssued    LoginStage = "SESSION_ISSUED"
	StageStateInvalid     LoginStage = "STATE_INVALID"
	StageProviderError    LoginStage = "PROVIDER_ERROR"
)

// LoginError records where a login attempt stopped.
// Stage is the terminal stage; Code is the machine-readable reason sent to the client.
type LoginError struct {
	Stage   LoginStage
	Code    string
	Message string
	Err     error
}

func (loginError *LoginError) Error() string {
	return fmt.Sprintf("login.%s: %s: %v", loginError.Stage, loginError.Code, loginError.Err)
}

func (loginError *LoginError) Unwrap() error {
	return loginError.Err
}
