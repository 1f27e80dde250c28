package twitter

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const (
	endpointFollowing     = "users.following"
	followingPageCapacity = "1000"
)

// FollowStatus reports whether a user follows the target account.
// Skipped means the check could not complete and IsFollowing carries no information.
type FollowStatus struct {
	IsFollowing bool     `json:"isFollowing"`
	TargetUser  *Profile `json:"targetUser"`
	Skipped     bool     `json:"skipped"`
}

type followingEnvelope struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// CheckFollowStatus tells whether sourceUserID follows targetUsername. It never fails:
// errors and an exhausted rate-limit window degrade to a skipped result.
// Only the first page of followings is inspected.
func (client *Client) CheckFollowStatus(ctx context.Context, accessToken string, sourceUserID string, targetUsername string) FollowStatus {
	skipped := FollowStatus{Skipped: true}
	sourceUserID = strings.TrimSpace(sourceUserID)
	username, ok := NormalizeUsername(targetUsername)
	if sourceUserID == "" || !ok {
		client.logger.Warn("follow status skipped: invalid input",
			zap.String("code", "twitter.follow.invalid_input"),
			zap.String("target", targetUsername),
		)
		return skipped
	}

	target, window, err := client.lookupUsername(ctx, username, accessToken)
	if err != nil {
		client.logger.Warn("follow status skipped: target lookup failed",
			zap.String("code", "twitter.follow.lookup_failed"),
			zap.String("target", username),
			zap.Error(err),
		)
		return skipped
	}
	if window != nil && window.Exhausted() {
		client.logger.Info("follow status skipped: rate limit window exhausted",
			zap.String("code", "twitter.follow.window_exhausted"),
			zap.Time("reset_at", window.ResetAt()),
		)
		return skipped
	}

	var envelope followingEnvelope
	query := url.Values{"max_results": {followingPageCapacity}}
	if _, err := client.getJSON(ctx, endpointFollowing, "/2/users/"+url.PathEscape(sourceUserID)+"/following", query, accessToken, &envelope); err != nil {
		client.logger.Warn("follow status skipped: following list failed",
			zap.String("code", "twitter.follow.list_failed"),
			zap.String("source_user_id", sourceUserID),
			zap.Error(err),
		)
		return FollowStatus{TargetUser: target, Skipped: true}
	}
	for _, followed := range envelope.Data {
		if followed.ID == target.ID {
			return FollowStatus{IsFollowing: true, TargetUser: target}
		}
	}
	return FollowStatus{TargetUser: target}
}
