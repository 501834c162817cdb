package cache

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/singleflight"

	"github.com/tiercache/tiercache/internal/keys"
	"github.com/tiercache/tiercache/pkg/errors"
)

// FetchFunc loads the value for a key from the source of truth.
type FetchFunc func(ctx context.Context) (any, error)

// Loader collapses concurrent cache misses for the same composite key into
// a single fetch followed by a single Set. The Service itself deliberately
// provides no cross-caller mutual exclusion, so two callers that both miss
// would both fetch; Loader is the in-flight deduplication layer for callers
// where that matters.
type Loader struct {
	svc   *Service
	group singleflight.Group
}

// NewLoader creates a Loader over svc.
func NewLoader(svc *Service) *Loader {
	return &Loader{svc: svc}
}

// GetOrLoad returns the cached value for the key, fetching and caching it
// on a miss. Concurrent callers missing the same key share one fetch. The
// result is decoded into out.
func (l *Loader) GetOrLoad(ctx context.Context, namespace, key string, out any, opts *SetOptions, fetch FetchFunc) error {
	ok, err := l.svc.Get(ctx, namespace, key, out)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	value, err, _ := l.group.Do(keys.Compose(namespace, key), func() (any, error) {
		fetched, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := l.svc.Set(ctx, namespace, key, fetched, opts); err != nil {
			return nil, err
		}
		return fetched, nil
	})
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	// Followers of the shared flight receive the leader's value; route it
	// through JSON so every caller decodes identically to a cache hit.
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.CodeEncoding, errors.CategoryOperation,
			"failed to encode loaded value for "+key).WithComponent("loader")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, errors.CodeEncoding, errors.CategoryOperation,
			"failed to decode loaded value for "+key).WithComponent("loader")
	}
	return nil
}
