package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/tyemirov/xauth/internal/ratelimit"
)

const (
	endpointUsersMe         = "users.me"
	endpointUsersByUsername = "users.by_username"
	userFields              = "profile_image_url,public_metrics,description"
	maxResponseBytes        = 1 << 20
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

var profileHosts = map[string]struct{}{
	"x.com":              {},
	"www.x.com":          {},
	"twitter.com":        {},
	"www.twitter.com":    {},
	"mobile.twitter.com": {},
	"mobile.x.com":       {},
}

// Profile is the public view of an X account.
type Profile struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profileImage"`
	Description     string `json:"description"`
	FollowersCount  int    `json:"followersCount"`
	FollowingCount  int    `json:"followingCount"`
	TweetCount      int    `json:"tweetCount"`
}

type apiUser struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profile_image_url"`
	Description     string `json:"description"`
	PublicMetrics   struct {
		FollowersCount int `json:"followers_count"`
		FollowingCount int `json:"following_count"`
		TweetCount     int `json:"tweet_count"`
	} `json:"public_metrics"`
}

type userEnvelope struct {
	Data *apiUser `json:"data"`
}

func (user apiUser) profile() *Profile {
	return &Profile{
		ID:              user.ID,
		Name:            user.Name,
		Username:        user.Username,
		ProfileImageURL: LargeAvatarURL(user.ProfileImageURL),
		Description:     user.Description,
		FollowersCount:  user.PublicMetrics.FollowersCount,
		FollowingCount:  user.PublicMetrics.FollowingCount,
		TweetCount:      user.PublicMetrics.TweetCount,
	}
}

// GetUserProfile fetches the account that owns accessToken.
func (client *Client) GetUserProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var envelope userEnvelope
	query := url.Values{"user.fields": {userFields}}
	if _, err := client.getJSON(ctx, endpointUsersMe, "/2/users/me", query, accessToken, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data == nil || envelope.Data.ID == "" {
		return nil, &ProviderError{Endpoint: endpointUsersMe, StatusCode: http.StatusOK, Body: "missing user data"}
	}
	return envelope.Data.profile(), nil
}

// GetUserProfileByUsername resolves a handle, @handle, or profile URL using the app bearer token.
func (client *Client) GetUserProfileByUsername(ctx context.Context, input string) (*Profile, error) {
	username, ok := NormalizeUsername(input)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, input)
	}
	if client.appBearerToken == "" {
		return nil, fmt.Errorf("%w: app bearer token is required for username lookups", ErrInvalidConfig)
	}
	profile, _, err := client.lookupUsername(ctx, username, client.appBearerToken)
	return profile, err
}

func (client *Client) lookupUsername(ctx context.Context, username string, bearerToken string) (*Profile, *ratelimit.Window, error) {
	var envelope userEnvelope
	query := url.Values{"user.fields": {userFields}}
	window, err := client.getJSON(ctx, endpointUsersByUsername, "/2/users/by/username/"+url.PathEscape(username), query, bearerToken, &envelope)
	if err != nil {
		var providerError *ProviderError
		if errors.As(err, &providerError) && providerError.StatusCode == http.StatusNotFound {
			return nil, window, fmt.Errorf("%w: %s", ErrUserNotFound, username)
		}
		return nil, window, err
	}
	if envelope.Data == nil || envelope.Data.ID == "" {
		return nil, window, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return envelope.Data.profile(), window, nil
}

// getJSON performs a rate-limited GET and decodes a 2xx body into out.
func (client *Client) getJSON(ctx context.Context, endpoint string, path string, query url.Values, bearerToken string, out any) (*ratelimit.Window, error) {
	target := client.apiBaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	result, err := client.executor.Do(ctx, endpoint, func(ctx context.Context) (*http.Response, error) {
		request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if requestErr != nil {
			return nil, requestErr
		}
		request.Header.Set("Authorization", "Bearer "+bearerToken)
		request.Header.Set("Accept", "application/json")
		return client.httpClient.Do(request)
	})
	if err != nil {
		return nil, fmt.Errorf("twitter.%s: %w", endpoint, err)
	}
	defer result.Response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(result.Response.Body, maxResponseBytes))
	if err != nil {
		return result.Window, fmt.Errorf("twitter.%s: read body: %w", endpoint, err)
	}
	if result.Response.StatusCode < 200 || result.Response.StatusCode > 299 {
		return result.Window, &ProviderError{Endpoint: endpoint, StatusCode: result.Response.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return result.Window, fmt.Errorf("twitter.%s: decode: %w", endpoint, err)
	}
	return result.Window, nil
}

// NormalizeUsername reduces "name", "@name", or an x.com / twitter.com profile URL to the bare handle.
func NormalizeUsername(input string) (string, bool) {
	candidate := strings.TrimSpace(input)
	if candidate == "" {
		return "", false
	}
	lowered := strings.ToLower(candidate)
	if !strings.HasPrefix(lowered, "http://") && !strings.HasPrefix(lowered, "https://") {
		for host := range profileHosts {
			if strings.HasPrefix(lowered, host+"/") {
				candidate = "https://" + candidate
				break
			}
		}
	}
	if strings.Contains(candidate, "://") {
		parsed, err := url.Parse(candidate)
		if err != nil {
			return "", false
		}
		if _, known := profileHosts[strings.ToLower(parsed.Hostname())]; !known {
			return "", false
		}
		segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		candidate = segments[0]
	}
	candidate = strings.TrimPrefix(candidate, "@")
	if !usernamePattern.MatchString(candidate) {
		return "", false
	}
	return candidate, true
}

// LargeAvatarURL swaps the 48px "_normal" avatar variant for the 400px one.
func LargeAvatarURL(imageURL string) string {
	return strings.Replace(imageURL, "_normal", "_400x400", 1)
}
