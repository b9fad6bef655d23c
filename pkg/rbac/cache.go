package rbac

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/sitework/pkg/observability"
)

// SharedMembershipStore is a cache tier shared between processes
type SharedMembershipStore interface {
	Get(ctx context.Context, orgID, userID string) (*Membership, bool, error)
	Set(ctx context.Context, m *Membership) error
	Delete(ctx context.Context, userID string) error
	DeleteAll(ctx context.Context) error
}

// CacheConfig bounds the membership cache
type CacheConfig struct {
	Size          int
	TTL           time.Duration
	MaxRetries    uint64
	RetryInterval time.Duration
}

const (
	defaultCacheSize     = 4096
	defaultCacheTTL      = 5 * time.Minute
	defaultRetryInterval = 50 * time.Millisecond
	defaultMaxRetries    = 3
)

// DefaultCacheConfig returns the settings used when nothing is configured
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Size:          defaultCacheSize,
		TTL:           defaultCacheTTL,
		MaxRetries:    defaultMaxRetries,
		RetryInterval: defaultRetryInterval,
	}
}

// cache lookup results, used as metric labels
const (
	cacheHit     = "hit"
	cacheMiss    = "miss"
	cacheRefresh = "refresh"
	cacheError   = "error"
)

type cacheKey struct {
	UserID string
	OrgID  string
}

// MembershipCache fronts a MembershipStore. Entries live until their TTL,
// an explicit Invalidate, or a forced refresh. Concurrent misses for the
// same key share one load, and transient store failures are retried with
// exponential backoff a bounded number of times.
type MembershipCache struct {
	store   MembershipStore
	shared  SharedMembershipStore
	l1      *expirable.LRU[cacheKey, Membership]
	group   singleflight.Group
	cfg     CacheConfig
	metrics *observability.Metrics

	// mu orders writes against invalidation; gen changes on every
	// invalidation so loads that started earlier do not repopulate.
	mu  sync.Mutex
	gen uint64
}

// CacheOption configures a MembershipCache
type CacheOption func(*MembershipCache)

// WithSharedStore adds a second tier, typically Redis
func WithSharedStore(s SharedMembershipStore) CacheOption {
	return func(c *MembershipCache) { c.shared = s }
}

// WithCacheMetrics records hit/miss/refresh/error counts
func WithCacheMetrics(m *observability.Metrics) CacheOption {
	return func(c *MembershipCache) { c.metrics = m }
}

// NewMembershipCache creates a cache in front of store
func NewMembershipCache(store MembershipStore, cfg CacheConfig, opts ...CacheOption) *MembershipCache {
	if cfg.Size <= 0 {
		cfg.Size = defaultCacheSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}

	c := &MembershipCache{
		store: store,
		l1:    expirable.NewLRU[cacheKey, Membership](cfg.Size, nil, cfg.TTL),
		cfg:   cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the membership of userID in orgID. With force set the cached
// entry is ignored and replaced.
func (c *MembershipCache) Get(ctx context.Context, orgID, userID string, force bool) (*Membership, error) {
	key := cacheKey{UserID: userID, OrgID: orgID}
	if !force {
		if m, ok := c.l1.Get(key); ok {
			c.metrics.ObserveMembershipCache(cacheHit)
			return m.clone(), nil
		}
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	// lookups never join a flight started before the latest invalidation
	flight := strconv.FormatUint(gen, 10) + "\x00" + orgID + "\x00" + userID
	result := cacheMiss
	if force {
		flight = "force\x00" + flight
		result = cacheRefresh
	}

	v, err, _ := c.group.Do(flight, func() (interface{}, error) {
		return c.load(ctx, key, gen, force)
	})
	if err != nil {
		if !errors.Is(err, ErrMembershipNotFound) {
			c.metrics.ObserveMembershipCache(cacheError)
		}
		return nil, err
	}
	c.metrics.ObserveMembershipCache(result)
	return v.(*Membership).clone(), nil
}

func (c *MembershipCache) load(ctx context.Context, key cacheKey, gen uint64, force bool) (*Membership, error) {
	logger := observability.FromContext(ctx)

	if !force && c.shared != nil {
		m, ok, err := c.shared.Get(ctx, key.OrgID, key.UserID)
		switch {
		case err != nil:
			logger.WithError(err).Warn("shared membership cache read failed")
		case ok:
			c.mu.Lock()
			if c.gen == gen {
				c.l1.Add(key, *m)
			}
			c.mu.Unlock()
			return m, nil
		}
	}

	m, err := c.fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return m, nil
	}
	c.l1.Add(key, *m)
	if c.shared != nil {
		if err := c.shared.Set(ctx, m); err != nil {
			logger.WithError(err).Warn("shared membership cache write failed")
		}
	}
	return m, nil
}

func (c *MembershipCache) fetch(ctx context.Context, key cacheKey) (*Membership, error) {
	logger := observability.FromContext(ctx)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryInterval
	eb.MaxInterval = 20 * c.cfg.RetryInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.cfg.MaxRetries), ctx)

	op := func() (*Membership, error) {
		m, err := c.store.GetMembership(ctx, key.OrgID, key.UserID)
		if err != nil && !IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return m, err
	}
	notify := func(err error, wait time.Duration) {
		logger.WithError(err).Warnf("membership lookup failed, retrying in %s", wait)
	}
	return backoff.RetryNotifyWithData(op, b, notify)
}

// PrimeWith stores m without a lookup, e.g. right after a role change the
// caller already knows the outcome of.
func (c *MembershipCache) PrimeWith(ctx context.Context, m *Membership) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.l1.Add(cacheKey{UserID: m.UserID, OrgID: m.OrgID}, *m.clone())
	if c.shared != nil {
		return c.shared.Set(ctx, m)
	}
	return nil
}

// Invalidate drops every cached membership of userID. Call it on role
// switch, org switch and logout.
func (c *MembershipCache) Invalidate(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for _, k := range c.l1.Keys() {
		if k.UserID == userID {
			c.l1.Remove(k)
		}
	}
	if c.shared != nil {
		return c.shared.Delete(ctx, userID)
	}
	return nil
}

// InvalidateAll empties the cache
func (c *MembershipCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.l1.Purge()
	if c.shared != nil {
		return c.shared.DeleteAll(ctx)
	}
	return nil
}

// Len returns the number of entries held in process
func (c *MembershipCache) Len() int {
	return c.l1.Len()
}

func (m Membership) clone() *Membership {
	if m.RoleID != nil {
		id := *m.RoleID
		m.RoleID = &id
	}
	return &m
}
