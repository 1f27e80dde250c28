package twitter

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckFollowStatusFollowing(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider(t)
	provider.followingIDs = []string{"1", "783214", "3"}
	client := newTestClient(t, provider, nil)

	status := client.CheckFollowStatus(context.Background(), "at-1", "2244994945", "@target")
	require.True(t, status.IsFollowing)
	require.False(t, status.Skipped)
	require.NotNil(t, status.TargetUser)
	require.Equal(t, "783214", status.TargetUser.ID)
	require.Equal(t, 1, provider.count("following"))
}

func TestCheckFollowStatusNotFollowing(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider(t)
	provider.followingIDs = []string{"1", "2"}
	client := newTestClient(t, provider, nil)

	status := client.CheckFollowStatus(context.Background(), "at-1", "2244994945", "target")
	require.False(t, status.IsFollowing)
	require.False(t, status.Skipped)
	require.Equal(t, "783214", status.TargetUser.ID)
}

func TestCheckFollowStatusSkipsWhenWindowExhausted(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider(t)
	provider.lookupLeft = "0"
	provider.followingIDs = []string{"783214"}
	client := newTestClient(t, provider, nil)

	status := client.CheckFollowStatus(context.Background(), "at-1", "2244994945", "target")
	require.Equal(t, FollowStatus{IsFollowing: false, TargetUser: nil, Skipped: true}, status)
	require.Equal(t, 1, provider.count("by_username"))
	require.Equal(t, 0, provider.count("following"), "second call must not be issued")
}

func TestCheckFollowStatusDegradesOnLookupFailure(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider(t)
	provider.lookupStatus = http.StatusForbidden
	client := newTestClient(t, provider, nil)

	status := client.CheckFollowStatus(context.Background(), "at-1", "2244994945", "target")
	require.Equal(t, FollowStatus{Skipped: true}, status)
	require.Equal(t, 0, provider.count("following"))
}

func TestCheckFollowStatusRejectsBadInput(t *testing.T) {
	t.Parallel()
	provider := newFakeProvider(t)
	client := newTestClient(t, provider, nil)

	require.True(t, client.CheckFollowStatus(context.Background(), "at-1", "", "target").Skipped)
	require.True(t, client.CheckFollowStatus(context.Background(), "at-1", "1", "not a handle").Skipped)
	require.Equal(t, 0, provider.count("by_username"))
}
