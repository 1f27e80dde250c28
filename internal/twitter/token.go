package twitter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const endpointToken = "oauth2.token"

// TokenPair is the provider's token response.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// ExchangeCode trades an authorization code for tokens. It is never retried.
func (client *Client) ExchangeCode(ctx context.Context, code string, callbackURL string, codeVerifier string) (*TokenPair, error) {
	configuration := client.oauthConfig
	configuration.RedirectURL = callbackURL
	token, err := configuration.Exchange(client.oauthContext(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("twitter.exchange: %w", asProviderError(endpointToken, err))
	}
	return newTokenPair(token), nil
}

// Refresh rotates refreshToken into a new pair. The presented token is spent before the
// provider is contacted; a replay is rejected locally. A failed provider call releases it.
func (client *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: missing refresh token", ErrRefreshFailed)
	}
	fingerprint := fingerprintToken(refreshToken)
	if !client.rotations.Add(fingerprint, struct{}{}, client.rotationTTL) {
		client.logger.Warn("refresh token replay rejected",
			zap.String("code", "twitter.refresh.replay"),
			zap.String("token_fingerprint", fingerprint[:12]),
		)
		return nil, fmt.Errorf("%w: refresh token already rotated", ErrRefreshFailed)
	}

	source := client.oauthConfig.TokenSource(client.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		client.rotations.Delete(fingerprint)
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, asProviderError(endpointToken, err))
	}
	if token.RefreshToken == refreshToken {
		// Provider did not rotate; the presented token stays valid.
		client.rotations.Delete(fingerprint)
	}
	return newTokenPair(token), nil
}

func newTokenPair(token *oauth2.Token) *TokenPair {
	pair := &TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
		TokenType:    token.TokenType,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		pair.Scope = scope
	}
	return pair
}

func asProviderError(endpoint string, err error) error {
	var retrieveError *oauth2.RetrieveError
	if errors.As(err, &retrieveError) {
		providerError := &ProviderError{
			Endpoint: endpoint,
			Code:     retrieveError.ErrorCode,
			Body:     string(retrieveError.Body),
			Err:      err,
		}
		if retrieveError.Response != nil {
			providerError.StatusCode = retrieveError.Response.StatusCode
		}
		return providerError
	}
	return &ProviderError{Endpoint: endpoint, Err: err}
}

func fingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
