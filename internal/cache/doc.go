/*
Package cache orchestrates three storage tiers into one logical client-side
cache with TTL enforcement, namespacing, pattern-based bulk invalidation, a
separate non-expiring persistence facility, and an offline operation queue.

# Architecture

	┌─────────────────────────────────────────────┐
	│          API wrapper services               │
	│   (choose namespace + TTL per resource)     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              cache.Service                  │  ← this package
	│   Get / Set / Invalidate / Persist / ...    │
	└─────────────────────────────────────────────┘
	       │              │              │
	┌──────┴─────┐ ┌──────┴─────┐ ┌──────┴─────┐
	│   Memory   │ │    File    │ │   SQLite   │
	│  volatile  │ │ ~5MB quota │ │  unbounded │
	│   fastest  │ │  document  │ │  database  │
	└────────────┘ └────────────┘ └────────────┘

Lookups walk the tiers in the fixed order memory → file → sqlite and stop
at the first valid hit. A hit in a slower tier is promoted into memory, so
the next lookup for the same key is served without touching slower storage.
A miss across all tiers signals the caller to fetch from the network and
Set the result back.

# TTL and persistence

Every entry carries an absolute expiry; an expired entry is never returned
and is removed from the tier that served it. Persisted entries are a second,
independent facility: stored without expiry in the sqlite tier under a
distinct key prefix, they survive the expiry and eviction of the TTL'd
entry for the same logical key.

# Invalidation

Invalidate removes a key from every tier. InvalidatePattern resolves a glob
pattern ('*' matches any run of characters) against every tier's key
listing, unions the results, and removes each matched key from every tier,
so a key present in only one tier is still fully invalidated. Pattern
resolution is not atomic across tiers: a concurrent Get interleaved between
enumeration and removal can observe a stale value from a tier not yet
processed.

# Offline queue

Mutating operations attempted while the injected connectivity probe reports
offline can be deferred with QueueOfflineOperation and replayed in FIFO
order by DrainOfflineQueue once the host observes reconnection. The queue
belongs to one Service instance, is not persisted, and is not coordinated
across instances.

# Concurrency

Every operation is safe for concurrent use, but the service provides no
mutual exclusion across callers racing to Set the same key: two callers may
both miss, both fetch, and both Set. Loader wraps the service with
singleflight deduplication for callers where that check-then-act race
matters.
*/
package cache
