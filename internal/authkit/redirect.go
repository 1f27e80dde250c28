package authkit

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/tyemirov/xauth/internal/twitter"
)

// CallbackUserData is the ?data= payload handed to the client after a successful login.
type CallbackUserData struct {
	TwitterID         string           `json:"twitterId"`
	Name              string           `json:"name"`
	Username          string           `json:"username"`
	ProfileImage      string           `json:"profileImage"`
	Description       string           `json:"description"`
	FollowersCount    int              `json:"followersCount"`
	FollowingCount    int              `json:"followingCount"`
	AccessToken       string           `json:"accessToken"`
	RefreshToken      string           `json:"refreshToken"`
	ExpiresIn         int64            `json:"expiresIn"`
	IsFollowingTarget bool             `json:"isFollowingTarget"`
	TargetAccount     *twitter.Profile `json:"targetAccount"`
}

// CallbackErrorData is the ?error= payload.
type CallbackErrorData struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newCallbackUserData(result *LoginResult) CallbackUserData {
	return CallbackUserData{
		TwitterID:         result.Profile.ID,
		Name:              result.Profile.Name,
		Username:          result.Profile.Username,
		ProfileImage:      result.Profile.ProfileImageURL,
		Description:       result.Profile.Description,
		FollowersCount:    result.Profile.FollowersCount,
		FollowingCount:    result.Profile.FollowingCount,
		AccessToken:       result.Tokens.AccessToken,
		RefreshToken:      result.Tokens.RefreshToken,
		ExpiresIn:         result.Tokens.ExpiresIn,
		IsFollowingTarget: result.Follow.IsFollowing,
		TargetAccount:     result.Follow.TargetUser,
	}
}

// clientRedirectURL appends key=<url-encoded JSON payload> to base.
func clientRedirectURL(base string, key string, payload any) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("redirect.parse: %w", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("redirect.encode: %w", err)
	}
	query := parsed.Query()
	query.Set(key, string(encoded))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
