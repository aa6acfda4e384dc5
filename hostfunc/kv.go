package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// KVConfig bounds what a KV accepts.
type KVConfig struct {
	MaxKeySize   int // bytes, 0 = unlimited
	MaxValueSize int // bytes of the JSON encoding, 0 = unlimited
	MaxEntries   int // 0 = unlimited
}

// DefaultKVConfig allows 256-byte keys, 1MB values and 10000 entries.
func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   256,
		MaxValueSize: 1 << 20,
		MaxEntries:   10000,
	}
}

// KV is an in-memory store shared by every script run against the same
// registry, so state set by one bundle is visible to the next.
type KV struct {
	cfg  KVConfig
	data map[string]any
	mu   sync.RWMutex
}

// NewKV returns an empty store limited by cfg.
func NewKV(cfg KVConfig) *KV {
	return &KV{cfg: cfg, data: make(map[string]any)}
}

// Register exposes the store as kv_get, kv_set, kv_delete and kv_keys.
func (s *KV) Register(r *Registry) {
	r.Register("kv_get", s.Get)
	r.Register("kv_set", s.Set)
	r.Register("kv_delete", s.Delete)
	r.Register("kv_keys", s.Keys)
}

func keyArg(args []any) (string, error) {
	if len(args) == 0 {
		return "", errors.New("key required")
	}
	key, ok := args[0].(string)
	if !ok {
		return "", errors.New("key must be a string")
	}
	return key, nil
}

// Get(key, default?) returns the stored value, default, or nil.
func (s *KV) Get(ctx context.Context, args ...any) (any, error) {
	key, err := keyArg(args)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	val, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		if len(args) > 1 {
			return args[1], nil
		}
		return nil, nil
	}
	return val, nil
}

// Set(key, value) stores any JSON-encodable value.
func (s *KV) Set(ctx context.Context, args ...any) (any, error) {
	key, err := keyArg(args)
	if err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return nil, errors.New("value required")
	}
	val := args[1]

	if s.cfg.MaxKeySize > 0 && len(key) > s.cfg.MaxKeySize {
		return nil, fmt.Errorf("key too large: %d > %d bytes", len(key), s.cfg.MaxKeySize)
	}
	if s.cfg.MaxValueSize > 0 {
		encoded, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("value not storable: %w", err)
		}
		if len(encoded) > s.cfg.MaxValueSize {
			return nil, fmt.Errorf("value too large: %d > %d bytes", len(encoded), s.cfg.MaxValueSize)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; !exists && s.cfg.MaxEntries > 0 && len(s.data) >= s.cfg.MaxEntries {
		return nil, fmt.Errorf("too many entries: limit %d", s.cfg.MaxEntries)
	}
	s.data[key] = val

	return "ok", nil
}

// Delete(key) removes key. Missing keys are not an error.
func (s *KV) Delete(ctx context.Context, args ...any) (any, error) {
	key, err := keyArg(args)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()

	return "ok", nil
}

// Keys returns the stored keys in sorted order.
func (s *KV) Keys(ctx context.Context, args ...any) (any, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}
