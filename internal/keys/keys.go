// Package keys owns the cache key grammar: namespace composition, the
// persisted-entry prefix, and the glob pattern translation shared by every
// storage strategy. All composition and matching rules live here so there
// is exactly one authoritative implementation.
package keys

import (
	"regexp"
	"strings"

	"github.com/tiercache/tiercache/pkg/errors"
)

// persistPrefix marks the non-expiring persisted copy of a logical key. It
// is layered on top of the namespace, so a persisted entry and a TTL'd
// entry for the same logical key never collide.
const persistPrefix = "persist:"

// Compose builds the composite cache key for a namespace and key. An empty
// namespace yields the bare key.
func Compose(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + ":" + key
}

// Persisted builds the key under which the non-expiring persisted copy of a
// logical key is stored.
func Persisted(namespace, key string) string {
	return persistPrefix + Compose(namespace, key)
}

// CompileGlob translates a glob pattern into an anchored regular
// expression: '*' matches any run of characters, every other regexp
// metacharacter is escaped, and the match covers the full key.
func CompileGlob(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeBadPattern, errors.CategoryOperation,
			"invalid key pattern "+pattern)
	}
	return re, nil
}

// Filter returns the subset of candidates matching the glob pattern. The
// empty pattern matches everything.
func Filter(pattern string, candidates []string) ([]string, error) {
	if pattern == "" {
		out := make([]string, len(candidates))
		copy(out, candidates)
		return out, nil
	}

	re, err := CompileGlob(pattern)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, key := range candidates {
		if re.MatchString(key) {
			out = append(out, key)
		}
	}
	return out, nil
}
