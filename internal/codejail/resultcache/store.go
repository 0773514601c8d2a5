// Package resultcache stores the outcome of a SafeExec call: the error message
// (absent on success) and the JSON-safe globals left behind.
package resultcache

import (
	"context"
	"time"

	"capajail/internal/codejail/canon"
	"capajail/internal/common/cache"
	appErr "capajail/pkg/errors"
)

// Entry is one cached outcome.
type Entry struct {
	Emsg    *string
	Globals map[string]any
}

// Failed reports whether the entry records a user-code failure.
func (e Entry) Failed() bool { return e.Emsg != nil }

// Store is the cache protocol SafeExec consumes.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
}

// Options tune a KVStore.
type Options struct {
	// TTL applied to every entry; 0 keeps entries until the backend evicts them.
	TTL time.Duration `yaml:"ttl"`
	// CompressThreshold is the encoded size above which values are zstd-compressed.
	// A negative value disables compression.
	CompressThreshold int `yaml:"compressThreshold"`
}

// DefaultCompressThreshold is used when Options.CompressThreshold is zero.
const DefaultCompressThreshold = 4 << 10

// KVStore keeps entries in a string key/value cache.
type KVStore struct {
	kv   cache.Cache
	opts Options
}

// NewKVStore wraps kv.
func NewKVStore(kv cache.Cache, opts Options) *KVStore {
	if opts.CompressThreshold == 0 {
		opts.CompressThreshold = DefaultCompressThreshold
	}
	return &KVStore{kv: kv, opts: opts}
}

func checkKey(key string) error {
	if len(key) > canon.MaxKeyLength {
		return appErr.Newf(appErr.CacheKeyTooLong, "cache key is %d bytes, limit is %d", len(key), canon.MaxKeyLength)
	}
	return nil
}

// Get returns the entry under key. A miss is (Entry{}, false, nil).
func (s *KVStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	if err := checkKey(key); err != nil {
		return Entry{}, false, err
	}
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return Entry{}, false, appErr.Wrap(err, appErr.CacheError)
	}
	if raw == "" {
		return Entry{}, false, nil
	}
	entry, err := decodeEntry([]byte(raw))
	if err != nil {
		return Entry{}, false, appErr.Wrapf(err, appErr.CacheError, "decode cache entry: %v", err)
	}
	return entry, true, nil
}

// Set stores entry under key. Globals are filtered to JSON-safe values.
func (s *KVStore) Set(ctx context.Context, key string, entry Entry) error {
	if err := checkKey(key); err != nil {
		return err
	}
	raw, err := encodeEntry(entry, s.opts.CompressThreshold)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "encode cache entry: %v", err)
	}
	if err := s.kv.Set(ctx, key, string(raw), s.opts.TTL); err != nil {
		return appErr.Wrap(err, appErr.CacheSetFailed)
	}
	return nil
}
