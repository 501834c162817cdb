package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tiercache/tiercache/internal/keys"
	"github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/retry"
	"github.com/tiercache/tiercache/pkg/types"
)

// DefaultTTL applies to Set calls that specify no TTL.
const DefaultTTL = 5 * time.Minute

// ConnectivityFunc reports whether the host currently has connectivity. The
// service never listens for reconnection itself; the host wires its own
// online signal to DrainOfflineQueue.
type ConnectivityFunc func() bool

// Recorder receives cache events for instrumentation. The metrics collector
// implements it; a nil recorder disables instrumentation.
type Recorder interface {
	Hit(tier types.Tier)
	Miss()
	Promotion()
	Invalidation(removed int)
	QueueDepth(depth int)
}

// SetOptions adjusts a single Set call.
type SetOptions struct {
	// TTL overrides the service default for this entry.
	TTL time.Duration
	// Tier names an additional durable tier to write besides memory.
	// Empty uses the service default.
	Tier types.Tier
	// Persist additionally writes an independent non-expiring copy into the
	// sqlite tier under the persist prefix. This is a second, distinct
	// entry, not a TTL extension.
	Persist bool
}

// Options configures a Service.
type Options struct {
	// DefaultTTL applies when SetOptions carries no TTL. Defaults to
	// DefaultTTL.
	DefaultTTL time.Duration
	// DefaultTier is the durable tier written by Set when SetOptions names
	// none. Defaults to the memory tier, i.e. no extra write.
	DefaultTier types.Tier
	// PersistOnSet makes every Set also write a persisted copy.
	PersistOnSet bool
	// Online reports connectivity. Defaults to always-online.
	Online ConnectivityFunc
	// Retry configures offline-queue replay backoff.
	Retry retry.Config

	Logger   *slog.Logger
	Recorder Recorder
}

type tierStore struct {
	name  types.Tier
	store types.Strategy
}

// Service presents one coherent cache over the three storage tiers, with
// TTL enforcement, namespacing, pattern invalidation, a separate
// non-expiring persistence facility, and an offline operation queue.
//
// Operations on the same key issued in sequence by one caller observe
// program order. The service provides no mutual exclusion across callers
// racing to Set the same key; use Loader when that matters.
type Service struct {
	tiers   []tierStore
	memory  types.Strategy
	sqlite  types.Strategy
	opts    Options
	log     *slog.Logger
	rec     Recorder
	retryer *retry.Retryer

	queueMu sync.Mutex
	queue   []func(context.Context) error

	statsMu sync.Mutex
	stats   types.Stats
}

// New creates a Service over the given strategies in lookup order: memory,
// then file, then sqlite. The strategies are owned by the service and must
// not be shared with another service instance.
func New(memory, file, sqlite types.Strategy, opts Options) *Service {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.DefaultTier == "" {
		opts.DefaultTier = types.TierMemory
	}
	if opts.Online == nil {
		opts.Online = func() bool { return true }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Service{
		tiers: []tierStore{
			{types.TierMemory, memory},
			{types.TierFile, file},
			{types.TierSQLite, sqlite},
		},
		memory:  memory,
		sqlite:  sqlite,
		opts:    opts,
		log:     opts.Logger.With("component", "cache"),
		rec:     opts.Recorder,
		retryer: retry.New(opts.Retry),
		stats:   types.Stats{Hits: make(map[types.Tier]uint64)},
	}
}

// Get looks the key up tier by tier, returning on the first valid hit and
// decoding the payload into out (out may be nil to probe existence). An
// entry found expired in any tier is removed from that tier before the
// search continues. A hit in a slower tier is promoted into memory so the
// next Get is served without touching slower storage. Returns false when
// no tier holds a valid entry, signaling the caller to fetch from the
// source and Set the result back.
func (s *Service) Get(ctx context.Context, namespace, key string, out any) (bool, error) {
	ck := keys.Compose(namespace, key)
	now := time.Now()

	for i, tier := range s.tiers {
		entry, err := tier.store.Get(ctx, ck)
		if err != nil {
			// A failing tier is a miss for that tier only.
			s.log.Warn("tier read failed, continuing search",
				"tier", tier.name, "key", ck, "error", err)
			continue
		}
		if entry == nil {
			continue
		}
		if entry.Expired(now) {
			if err := tier.store.Remove(ctx, ck); err != nil {
				s.log.Warn("failed to remove expired entry",
					"tier", tier.name, "key", ck, "error", err)
			}
			continue
		}

		if i > 0 {
			if err := s.memory.Set(ctx, ck, entry); err != nil {
				s.log.Warn("tier promotion failed", "key", ck, "error", err)
			} else {
				s.recordPromotion()
			}
		}
		s.recordHit(tier.name)

		if out == nil {
			return true, nil
		}
		if err := json.Unmarshal(entry.Data, out); err != nil {
			return false, errors.Wrap(err, errors.CodeEncoding, errors.CategoryOperation,
				"failed to decode cached value for "+ck).WithComponent("cache")
		}
		return true, nil
	}

	s.recordMiss()
	return false, nil
}

// Set stores value under the composite key. The entry always lands in
// memory; when opts (or the service default) names the file or sqlite tier
// it is additionally written there, so a restart that wipes memory can
// still serve the value. Write failures propagate: a silent cache-write
// failure could mask a durable-storage quota problem.
func (s *Service) Set(ctx context.Context, namespace, key string, value any, opts *SetOptions) error {
	if opts == nil {
		opts = &SetOptions{}
	}

	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.CodeEncoding, errors.CategoryOperation,
			"failed to encode value for "+key).WithComponent("cache")
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.opts.DefaultTTL
	}
	now := time.Now()
	entry := &types.Entry{
		Data:      data,
		Expires:   now.Add(ttl).UnixMilli(),
		CreatedAt: now.UnixMilli(),
	}

	ck := keys.Compose(namespace, key)
	if err := s.memory.Set(ctx, ck, entry); err != nil {
		return err
	}

	tier := opts.Tier
	if tier == "" {
		tier = s.opts.DefaultTier
	}
	if tier != types.TierMemory {
		target, err := s.tier(tier)
		if err != nil {
			return err
		}
		if err := target.Set(ctx, ck, entry); err != nil {
			return err
		}
	}

	if opts.Persist || s.opts.PersistOnSet {
		return s.Persist(ctx, namespace, key, value)
	}
	return nil
}

// Invalidate removes the composite key from all tiers. Absent entries are
// not errors.
func (s *Service) Invalidate(ctx context.Context, namespace, key string) error {
	ck := keys.Compose(namespace, key)

	var errs []error
	for _, tier := range s.tiers {
		if err := tier.store.Remove(ctx, ck); err != nil {
			errs = append(errs, err)
		}
	}
	s.recordInvalidation(1)
	return stderrors.Join(errs...)
}

// InvalidatePattern removes every key matching the pattern (scoped under
// the namespace) from all tiers. Key sets are unioned across tiers first,
// so a key present in only one tier (promoted into memory but not yet
// durable, say) is still fully invalidated. A tier that fails to
// enumerate contributes an empty set rather than aborting the call.
func (s *Service) InvalidatePattern(ctx context.Context, namespace, pattern string) error {
	cp := keys.Compose(namespace, pattern)

	matched := make(map[string]struct{})
	for _, tier := range s.tiers {
		found, err := tier.store.Keys(ctx, cp)
		if err != nil {
			s.log.Warn("pattern enumeration failed for tier",
				"tier", tier.name, "pattern", cp, "error", err)
			continue
		}
		for _, k := range found {
			matched[k] = struct{}{}
		}
	}

	var errs []error
	for k := range matched {
		for _, tier := range s.tiers {
			if err := tier.store.Remove(ctx, k); err != nil {
				errs = append(errs, err)
			}
		}
	}
	s.recordInvalidation(len(matched))
	return stderrors.Join(errs...)
}

// Persist writes a non-expiring copy of value into the sqlite tier under
// the persist prefix, independent of any TTL'd entry for the same logical
// key.
func (s *Service) Persist(ctx context.Context, namespace, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.CodeEncoding, errors.CategoryOperation,
			"failed to encode persisted value for "+key).WithComponent("cache")
	}

	entry := &types.Entry{
		Data:      data,
		Expires:   0,
		CreatedAt: time.Now().UnixMilli(),
	}
	return s.sqlite.Set(ctx, keys.Persisted(namespace, key), entry)
}

// IsPersisted reports whether a persisted copy exists for the logical key.
// Only the sqlite tier's persist entry is consulted.
func (s *Service) IsPersisted(ctx context.Context, namespace, key string) (bool, error) {
	entry, err := s.sqlite.Get(ctx, keys.Persisted(namespace, key))
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// LoadPersisted decodes the persisted copy into out, reporting whether one
// exists.
func (s *Service) LoadPersisted(ctx context.Context, namespace, key string, out any) (bool, error) {
	entry, err := s.sqlite.Get(ctx, keys.Persisted(namespace, key))
	if err != nil || entry == nil {
		return false, err
	}
	if out != nil {
		if err := json.Unmarshal(entry.Data, out); err != nil {
			return false, errors.Wrap(err, errors.CodeEncoding, errors.CategoryOperation,
				"failed to decode persisted value for "+key).WithComponent("cache")
		}
	}
	return true, nil
}

// ClearAll clears every tier unconditionally. Used for full resets, e.g.
// logout.
func (s *Service) ClearAll(ctx context.Context) error {
	var errs []error
	for _, tier := range s.tiers {
		if err := tier.store.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// TTL returns the remaining time until expiry for the first tier holding
// the key. ok is false when the key is absent everywhere or the entry has
// no expiry.
func (s *Service) TTL(ctx context.Context, namespace, key string) (time.Duration, bool, error) {
	entry, _, err := s.find(ctx, keys.Compose(namespace, key))
	if err != nil || entry == nil || entry.Expires == 0 {
		return 0, false, err
	}
	return time.Until(time.UnixMilli(entry.Expires)), true, nil
}

// ExtendTTL adds extra to the expiry of the first tier's entry and rewrites
// it in place. An entry without expiry counts as successfully extended as a
// no-op. Returns false when no tier holds the key.
func (s *Service) ExtendTTL(ctx context.Context, namespace, key string, extra time.Duration) (bool, error) {
	ck := keys.Compose(namespace, key)
	entry, store, err := s.find(ctx, ck)
	if err != nil || entry == nil {
		return false, err
	}
	if entry.Expires == 0 {
		return true, nil
	}

	entry.Expires += extra.Milliseconds()
	if err := store.Set(ctx, ck, entry); err != nil {
		return false, err
	}
	return true, nil
}

// CacheSize returns the total number of entries across all tiers. Entries
// present in several tiers count once per tier, matching what each medium
// physically holds.
func (s *Service) CacheSize(ctx context.Context) (int, error) {
	total := 0
	for _, tier := range s.tiers {
		found, err := tier.store.Keys(ctx, "")
		if err != nil {
			s.log.Warn("failed to count tier entries", "tier", tier.name, "error", err)
			continue
		}
		total += len(found)
	}
	return total, nil
}

// Online reports the injected connectivity state.
func (s *Service) Online() bool {
	return s.opts.Online()
}

// Stats returns a snapshot of hit/miss accounting.
func (s *Service) Stats() types.Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	snapshot := types.Stats{
		Hits:       make(map[types.Tier]uint64, len(s.stats.Hits)),
		Misses:     s.stats.Misses,
		Promotions: s.stats.Promotions,
	}
	var hits uint64
	for tier, n := range s.stats.Hits {
		snapshot.Hits[tier] = n
		hits += n
	}
	if total := hits + snapshot.Misses; total > 0 {
		snapshot.HitRate = float64(hits) / float64(total)
	}
	return snapshot
}

// find locates the first non-expired entry for the composite key, returning
// the entry and the strategy that holds it. Expired entries are skipped
// without side effects; Get owns proactive removal.
func (s *Service) find(ctx context.Context, ck string) (*types.Entry, types.Strategy, error) {
	now := time.Now()
	for _, tier := range s.tiers {
		entry, err := tier.store.Get(ctx, ck)
		if err != nil {
			s.log.Warn("tier read failed, continuing search",
				"tier", tier.name, "key", ck, "error", err)
			continue
		}
		if entry == nil || entry.Expired(now) {
			continue
		}
		return entry, tier.store, nil
	}
	return nil, nil, nil
}

func (s *Service) tier(name types.Tier) (types.Strategy, error) {
	for _, tier := range s.tiers {
		if tier.name == name {
			return tier.store, nil
		}
	}
	return nil, errors.Newf(errors.CodeInvalidConfig, errors.CategoryConfiguration,
		"unknown storage tier %q", name).WithComponent("cache")
}

func (s *Service) recordHit(tier types.Tier) {
	s.statsMu.Lock()
	s.stats.Hits[tier]++
	s.statsMu.Unlock()
	if s.rec != nil {
		s.rec.Hit(tier)
	}
}

func (s *Service) recordMiss() {
	s.statsMu.Lock()
	s.stats.Misses++
	s.statsMu.Unlock()
	if s.rec != nil {
		s.rec.Miss()
	}
}

func (s *Service) recordPromotion() {
	s.statsMu.Lock()
	s.stats.Promotions++
	s.statsMu.Unlock()
	if s.rec != nil {
		s.rec.Promotion()
	}
}

func (s *Service) recordInvalidation(removed int) {
	if s.rec != nil {
		s.rec.Invalidation(removed)
	}
}
