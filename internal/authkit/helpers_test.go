package authkit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tyemirov/xauth/internal/twitter"
)

var testSigningKey = []byte("test-signing-key-0123456789abcdef")

func newTestServerConfig() ServerConfig {
	configuration := ServerConfig{
		AppID:                "app-test",
		SigningKey:           testSigningKey,
		Issuer:               "xauth-test",
		ClientRedirectURL:    "https://app.example.com/oauth/twitter-callback",
		FollowTargetUsername: "target",
		IdleTimeout:          DefaultIdleTimeout,
	}
	if err := configuration.Validate(); err != nil {
		panic(err)
	}
	return configuration
}

type testUserStore struct {
	mutex   sync.Mutex
	users   map[string]User
	touches int
	findErr error
}

func newTestUserStore() *testUserStore {
	return &testUserStore{users: map[string]User{}}
}

func (store *testUserStore) FindByOpenID(ctx context.Context, openID string) (*User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.findErr != nil {
		return nil, store.findErr
	}
	user, ok := store.users[openID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (store *testUserStore) Upsert(ctx context.Context, user User) (*User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	existing, ok := store.users[user.OpenID]
	if ok {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = user.LastSignedInAt
	}
	user.UpdatedAt = user.LastSignedInAt
	store.users[user.OpenID] = user
	stored := user
	return &stored, nil
}

func (store *testUserStore) TouchLastSignedIn(ctx context.Context, openID string, signedInAt time.Time) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user, ok := store.users[openID]
	if !ok {
		return ErrUserNotFound
	}
	user.LastSignedInAt = signedInAt
	store.users[openID] = user
	store.touches++
	return nil
}

func (store *testUserStore) get(openID string) (User, bool) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user, ok := store.users[openID]
	return user, ok
}

// fakeProvider stands in for the X client.
type fakeProvider struct {
	mutex          sync.Mutex
	exchanges      []exchangeCall
	exchangeErr    error
	profileErr     error
	refreshErr     error
	refreshCalls   int
	followStatus   twitter.FollowStatus
	followCalls    []string
	lookupProfiles map[string]*twitter.Profile
}

type exchangeCall struct {
	code         string
	callbackURL  string
	codeVerifier string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		lookupProfiles: map[string]*twitter.Profile{
			"target": {ID: "783214", Name: "Target", Username: "target"},
		},
	}
}

func (provider *fakeProvider) AuthorizationURL(callbackURL string, state string, codeChallenge string, forceLogin bool) string {
	force := ""
	if forceLogin {
		force = "&prompt=login"
	}
	return "https://twitter.com/i/oauth2/authorize?state=" + state + "&code_challenge=" + codeChallenge + "&redirect_uri=" + callbackURL + force
}

func (provider *fakeProvider) ExchangeCode(ctx context.Context, code string, callbackURL string, codeVerifier string) (*twitter.TokenPair, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.exchanges = append(provider.exchanges, exchangeCall{code: code, callbackURL: callbackURL, codeVerifier: codeVerifier})
	if provider.exchangeErr != nil {
		return nil, provider.exchangeErr
	}
	return &twitter.TokenPair{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresIn: 7200, TokenType: "bearer", Scope: "tweet.read users.read"}, nil
}

func (provider *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*twitter.TokenPair, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.refreshCalls++
	if provider.refreshErr != nil {
		return nil, provider.refreshErr
	}
	return &twitter.TokenPair{AccessToken: "at-2", RefreshToken: "rt-2", ExpiresIn: 7200, TokenType: "bearer", Scope: "tweet.read"}, nil
}

func (provider *fakeProvider) GetUserProfile(ctx context.Context, accessToken string) (*twitter.Profile, error) {
	if provider.profileErr != nil {
		return nil, provider.profileErr
	}
	return &twitter.Profile{
		ID:              "2244994945",
		Name:            "Alice",
		Username:        "alice",
		ProfileImageURL: "https://pbs.twimg.com/profile_images/1/a_400x400.jpg",
		Description:     "hello",
		FollowersCount:  10,
		FollowingCount:  5,
	}, nil
}

func (provider *fakeProvider) GetUserProfileByUsername(ctx context.Context, input string) (*twitter.Profile, error) {
	username, ok := twitter.NormalizeUsername(input)
	if !ok {
		return nil, twitter.ErrInvalidUsername
	}
	if username == "broken" {
		return nil, errors.New("upstream unavailable")
	}
	profile, found := provider.lookupProfiles[username]
	if !found {
		return nil, twitter.ErrUserNotFound
	}
	return profile, nil
}

func (provider *fakeProvider) CheckFollowStatus(ctx context.Context, accessToken string, sourceUserID string, targetUsername string) twitter.FollowStatus {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.followCalls = append(provider.followCalls, accessToken+"|"+sourceUserID+"|"+targetUsername)
	return provider.followStatus
}

func (provider *fakeProvider) exchangeCount() int {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	return len(provider.exchanges)
}

// memoryDurableStore is an in-process DurablePKCEStore with switchable failures.
type memoryDurableStore struct {
	mutex   sync.Mutex
	records map[string]PKCERecord
	saveErr error
	saves   int
}

func newMemoryDurableStore() *memoryDurableStore {
	return &memoryDurableStore{records: map[string]PKCERecord{}}
}

func (store *memoryDurableStore) Name() string { return "test-durable" }

func (store *memoryDurableStore) Save(ctx context.Context, record PKCERecord) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.saves++
	if store.saveErr != nil {
		return store.saveErr
	}
	store.records[record.State] = record
	return nil
}

func (store *memoryDurableStore) Load(ctx context.Context, state string) (PKCERecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, ok := store.records[state]
	if !ok {
		return PKCERecord{}, ErrStateNotFound
	}
	return record, nil
}

func (store *memoryDurableStore) Take(ctx context.Context, state string) (PKCERecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, ok := store.records[state]
	if !ok {
		return PKCERecord{}, ErrStateNotFound
	}
	delete(store.records, state)
	return record, nil
}

func (store *memoryDurableStore) Remove(ctx context.Context, state string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.records, state)
	return nil
}

func (store *memoryDurableStore) has(state string) bool {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	_, ok := store.records[state]
	return ok
}
