// Package types provides the core contracts shared across tiercache: the
// storage envelope written into every tier, the storage strategy capability
// interface implemented by each tier, and the statistics structures
// exchanged between the cache service and its observers.
package types

import (
	"context"
	"encoding/json"
	"time"
)

// Tier identifies one storage back-end, ordered from fastest/least-durable
// to slowest/most-durable.
type Tier string

const (
	// TierMemory is the in-process tier. Fastest, wiped on restart.
	TierMemory Tier = "memory"
	// TierFile is the small durable tier backed by a single JSON document
	// on disk, subject to a byte quota.
	TierFile Tier = "file"
	// TierSQLite is the large durable tier backed by an embedded SQLite
	// database.
	TierSQLite Tier = "sqlite"
)

// Tiers returns all tiers in lookup order.
func Tiers() []Tier {
	return []Tier{TierMemory, TierFile, TierSQLite}
}

// Entry is the envelope stored in every tier. Timestamps are epoch
// milliseconds. A zero Expires means the entry never expires; the persisted
// facility is the only producer of non-expiring entries.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Expires   int64           `json:"expires"`
	CreatedAt int64           `json:"createdAt"`
}

// Expired reports whether the entry's expiry has passed at the given time.
// Non-expiring entries are never expired.
func (e *Entry) Expired(now time.Time) bool {
	return e.Expires != 0 && e.Expires <= now.UnixMilli()
}

// Clone returns a deep copy of the entry. Tiers copy entries on promotion
// rather than sharing them, so payload bytes are never aliased across tiers.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := &Entry{
		Expires:   e.Expires,
		CreatedAt: e.CreatedAt,
	}
	if e.Data != nil {
		clone.Data = make(json.RawMessage, len(e.Data))
		copy(clone.Data, e.Data)
	}
	return clone
}

// Strategy is the uniform contract implemented by every storage tier.
//
// Get returns (nil, nil) when the key is absent. Implementations log read
// failures of their own medium and report them as a miss rather than an
// error, so a corrupt medium cannot abort a multi-tier lookup; the only
// errors Get returns are hard availability failures such as the database
// refusing to open. Set may fail and the failure must be surfaced, e.g.
// when the medium rejects the write for capacity reasons. Remove is
// idempotent; removing an absent key is not an error. Clear removes only
// entries the strategy owns. Keys lists stored keys, filtered by a glob
// pattern where '*' matches any run of characters and every other
// metacharacter is literal; the empty pattern matches everything.
type Strategy interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Stats captures hit/miss accounting for the cache service.
type Stats struct {
	Hits       map[Tier]uint64 `json:"hits"`
	Misses     uint64          `json:"misses"`
	Promotions uint64          `json:"promotions"`
	HitRate    float64         `json:"hit_rate"`
}
