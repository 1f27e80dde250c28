package twitter

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates the client configuration is incomplete.
	ErrInvalidConfig = errors.New("twitter.config.invalid")
	// ErrAuthorizationDenied marks a callback carrying ?error= from the authorize endpoint.
	ErrAuthorizationDenied = errors.New("twitter.authorization_denied")
	// ErrRefreshFailed is returned for every refresh failure. Revoked and expired tokens are not distinguished.
	ErrRefreshFailed = errors.New("twitter.refresh_failed")
	// ErrUserNotFound is returned when a username lookup yields no user.
	ErrUserNotFound = errors.New("twitter.user_not_found")
	// ErrInvalidUsername rejects lookup input that does not normalize to a handle.
	ErrInvalidUsername = errors.New("twitter.invalid_username")
)

// ProviderError is a non-2xx answer from the token or API endpoints. Body is kept verbatim.
type ProviderError struct {
	Endpoint   string
	StatusCode int
	// Code is the OAuth error code when the token endpoint supplied one.
	Code string
	Body string
	Err  error
}

func (providerError *ProviderError) Error() string {
	if providerError.StatusCode == 0 && providerError.Err != nil {
		return fmt.Sprintf("%s: %v", providerError.Endpoint, providerError.Err)
	}
	if providerError.Code != "" {
		return fmt.Sprintf("%s: status %d (%s)", providerError.Endpoint, providerError.StatusCode, providerError.Code)
	}
	return fmt.Sprintf("%s: status %d", providerError.Endpoint, providerError.StatusCode)
}

func (providerError *ProviderError) Unwrap() error {
	return providerError.Err
}

// DeniedError carries the ?error= values of a denied authorization.
type DeniedError struct {
	Code        string
	Description string
}

func (deniedError *DeniedError) Error() string {
	if deniedError.Description != "" {
		return fmt.Sprintf("authorization denied: %s: %s", deniedError.Code, deniedError.Description)
	}
	return fmt.Sprintf("authorization denied: %s", deniedError.Code)
}

// Is lets errors.Is(err, ErrAuthorizationDenied) match.
func (deniedError *DeniedError) Is(target error) bool {
	return target == ErrAuthorizationDenied
}
