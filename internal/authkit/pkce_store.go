package authkit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tyemirov/xauth/internal/ttlcache"
	"go.uber.org/zap"
)

const (
	// DefaultPKCETTL bounds how long a login may sit at the provider's consent screen.
	DefaultPKCETTL           = 10 * time.Minute
	defaultDurableOpTimeout  = 5 * time.Second
	durableTierNameMemory    = "memory"
	pkceStoreLogCodeDurable  = "pkce_store.durable_failed"
	pkceStoreLogCodeFallback = "pkce_store.durable_fallback"
)

// PKCERecord correlates a state value with the verifier and callback used to start a login.
type PKCERecord struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"codeVerifier"`
	CallbackURL  string    `json:"callbackUrl"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the record is past its deadline at now.
func (record PKCERecord) Expired(now time.Time) bool {
	return !now.Before(record.ExpiresAt)
}

// localPKCEEntry is a local-tier slot. A consumed slot is a tombstone that keeps
// losers of a consume race from falling through to the durable tier.
type localPKCEEntry struct {
	record   PKCERecord
	consumed bool
}

// DurablePKCEStore is a shared tier that survives instance restarts.
// Load and Take return ErrStateNotFound for unknown states. Take must be atomic:
// among concurrent callers for one state, at most one receives the record.
//
// Single use holds per tier, not across instances: the creating instance consumes from
// its local tier and only then removes the durable copy, so a callback replayed to another
// instance in that window can still Take it. The provider's single-use authorization code
// rejects the second exchange.
type DurablePKCEStore interface {
	Save(ctx context.Context, record PKCERecord) error
	Load(ctx context.Context, state string) (PKCERecord, error)
	Take(ctx context.Context, state string) (PKCERecord, error)
	Remove(ctx context.Context, state string) error
	Name() string
}

// PKCEStore is a two-tier state store. The local tier is authoritative on the creating
// instance; durable writes are asynchronous and best-effort, so another instance can
// only serve a callback when the write landed before the callback arrived.
type PKCEStore struct {
	local          *ttlcache.Cache[string, localPKCEEntry]
	durable        DurablePKCEStore
	ttl            time.Duration
	clock          ttlcache.Clock
	logger         *zap.Logger
	durableTimeout time.Duration
	pending        sync.WaitGroup
}

// PKCEStoreOptions configures a PKCEStore. Durable may be nil for memory-only operation.
type PKCEStoreOptions struct {
	Durable        DurablePKCEStore
	TTL            time.Duration
	Clock          ttlcache.Clock
	Logger         *zap.Logger
	DurableTimeout time.Duration
}

// NewPKCEStore constructs a PKCEStore.
func NewPKCEStore(options PKCEStoreOptions) *PKCEStore {
	clock := options.Clock
	if clock == nil {
		clock = ttlcache.SystemClock()
	}
	ttl := options.TTL
	if ttl <= 0 {
		ttl = DefaultPKCETTL
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	durableTimeout := options.DurableTimeout
	if durableTimeout <= 0 {
		durableTimeout = defaultDurableOpTimeout
	}
	return &PKCEStore{
		local:          ttlcache.New[string, localPKCEEntry](clock),
		durable:        options.Durable,
		ttl:            ttl,
		clock:          clock,
		logger:         logger,
		durableTimeout: durableTimeout,
	}
}

// TTL returns the record lifetime.
func (store *PKCEStore) TTL() time.Duration {
	return store.ttl
}

// DurableTier names the configured durable tier, or "memory".
func (store *PKCEStore) DurableTier() string {
	if store.durable == nil {
		return durableTierNameMemory
	}
	return store.durable.Name()
}

// Store saves the verifier and callback for state. The local write is synchronous;
// the durable write runs in the background and its failure is only logged.
func (store *PKCEStore) Store(ctx context.Context, state string, codeVerifier string, callbackURL string) (PKCERecord, error) {
	if strings.TrimSpace(state) == "" {
		return PKCERecord{}, errors.New("pkce_store.store: empty state")
	}
	record := PKCERecord{
		State:        state,
		CodeVerifier: codeVerifier,
		CallbackURL:  callbackURL,
		ExpiresAt:    store.clock.Now().Add(store.ttl),
	}
	store.local.Set(state, localPKCEEntry{record: record}, store.ttl)
	if store.durable == nil {
		return record, nil
	}

	detached := context.WithoutCancel(ctx)
	store.pending.Add(1)
	go func() {
		defer store.pending.Done()
		writeCtx, cancel := context.WithTimeout(detached, store.durableTimeout)
		defer cancel()
		if err := store.durable.Save(writeCtx, record); err != nil {
			store.logger.Warn("pkce durable write failed; continuing memory-only",
				zap.String("code", pkceStoreLogCodeDurable),
				zap.String("tier", store.durable.Name()),
				zap.Error(err),
			)
			return
		}
		// Consumed while the write was in flight: do not leave a stale durable copy.
		if slot, ok := store.local.Get(state); !ok || slot.consumed {
			_ = store.durable.Remove(writeCtx, state)
		}
	}()
	return record, nil
}

// Get returns the record for state without consuming it. The local tier is checked first.
func (store *PKCEStore) Get(ctx context.Context, state string) (PKCERecord, error) {
	if slot, ok := store.local.Get(state); ok {
		if slot.consumed {
			return PKCERecord{}, ErrStateNotFound
		}
		return slot.record, nil
	}
	if store.durable == nil {
		return PKCERecord{}, ErrStateNotFound
	}
	record, err := store.durable.Load(ctx, state)
	if err != nil {
		return PKCERecord{}, store.durableMiss("get", err)
	}
	if record.Expired(store.clock.Now()) {
		_ = store.durable.Remove(ctx, state)
		return PKCERecord{}, ErrStateNotFound
	}
	return record, nil
}

// Delete removes state from both tiers.
func (store *PKCEStore) Delete(ctx context.Context, state string) error {
	store.local.Delete(state)
	if store.durable == nil {
		return nil
	}
	if err := store.durable.Remove(ctx, state); err != nil {
		store.logger.Warn("pkce durable delete failed",
			zap.String("code", pkceStoreLogCodeDurable),
			zap.String("tier", store.durable.Name()),
			zap.Error(err),
		)
	}
	return nil
}

// Consume atomically reads and deletes the record for state.
// Exactly one of any set of concurrent callers on this instance receives it; the rest get
// ErrStateNotFound. See DurablePKCEStore for the cross-instance window.
func (store *PKCEStore) Consume(ctx context.Context, state string) (PKCERecord, error) {
	if previous, ok := store.local.Swap(state, localPKCEEntry{consumed: true}); ok {
		if previous.consumed {
			return PKCERecord{}, ErrStateNotFound
		}
		record := previous.record
		if store.durable != nil {
			if err := store.durable.Remove(ctx, state); err != nil {
				store.logger.Warn("pkce durable delete after consume failed",
					zap.String("code", pkceStoreLogCodeDurable),
					zap.String("tier", store.durable.Name()),
					zap.Error(err),
				)
			}
		}
		return record, nil
	}
	if store.durable == nil {
		return PKCERecord{}, ErrStateNotFound
	}
	record, err := store.durable.Take(ctx, state)
	if err != nil {
		return PKCERecord{}, store.durableMiss("consume", err)
	}
	if record.Expired(store.clock.Now()) {
		return PKCERecord{}, ErrStateNotFound
	}
	store.logger.Info("pkce state served by durable tier",
		zap.String("code", pkceStoreLogCodeFallback),
		zap.String("tier", store.durable.Name()),
	)
	return record, nil
}

// Purge drops expired local records.
func (store *PKCEStore) Purge() int {
	return store.local.Purge()
}

// RunSweeper purges expired local records every interval until ctx is done.
func (store *PKCEStore) RunSweeper(ctx context.Context, interval time.Duration) {
	store.local.RunSweeper(ctx, interval)
}

// WaitForDurableWrites blocks until in-flight background writes finish.
func (store *PKCEStore) WaitForDurableWrites() {
	store.pending.Wait()
}

func (store *PKCEStore) durableMiss(operation string, err error) error {
	if errors.Is(err, ErrStateNotFound) {
		return ErrStateNotFound
	}
	store.logger.Warn("pkce durable read failed",
		zap.String("code", pkceStoreLogCodeDurable),
		zap.String("tier", store.durable.Name()),
		zap.String("operation", operation),
		zap.Error(err),
	)
	return ErrStateNotFound
}
