// Package memory implements provider.Store on a process-local map. It exists
// for local development and tests: all atomic operations are serialized under
// one mutex, so within a single process the store behaves like a tiny Redis.
// It obviously cannot coordinate across processes.
package memory

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/unkn0wn-root/flashguard/internal/script"
	pr "github.com/unkn0wn-root/flashguard/provider"
)

// ErrUnknownScript is returned by Eval for scripts this backend does not
// emulate. Only the sources in internal/script are recognized.
var ErrUnknownScript = errors.New("memory provider: unknown script")

type entry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type Store struct {
	mu  sync.Mutex
	m   map[string]entry
	now func() time.Time
}

var _ pr.Store = (*Store)(nil)

func New() *Store {
	return &Store{m: make(map[string]entry), now: time.Now}
}

// SetClock replaces the time source. Intended for tests (TTL expiry without
// sleeping). Not safe to call concurrently with other operations.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// live returns the entry for key, pruning it when its TTL already passed.
// Callers must hold s.mu.
func (s *Store) live(key string) (entry, bool) {
	e, ok := s.m[key]
	if !ok {
		return entry{}, false
	}
	if !e.exp.IsZero() && s.now().After(e.exp) {
		delete(s.m, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.v...), true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = entry{v: append([]byte(nil), value...), exp: s.expiry(ttl)}
	return nil
}

func (s *Store) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.m[key] = entry{v: append([]byte(nil), value...), exp: s.expiry(ttl)}
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if e, ok := s.live(key); ok {
		parsed, err := strconv.ParseInt(string(e.v), 10, 64)
		if err != nil {
			return 0, errors.New("memory provider: value is not an integer")
		}
		n = parsed
	}
	n++
	e := s.m[key]
	e.v = []byte(strconv.FormatInt(n, 10))
	s.m[key] = e
	return n, nil
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return false, nil
	}
	e.exp = s.expiry(ttl)
	s.m[key] = e
	return true, nil
}

// Eval emulates the module's own scripts under the store mutex, which gives
// the same atomicity the real server provides.
func (s *Store) Eval(_ context.Context, src string, keys []string, args ...any) (any, error) {
	switch src {
	case script.CompareAndDelete:
		if len(keys) != 1 || len(args) != 1 {
			return nil, errors.New("memory provider: compare-and-delete expects 1 key and 1 arg")
		}
		want, err := argBytes(args[0])
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		e, ok := s.live(keys[0])
		if !ok || !bytes.Equal(e.v, want) {
			return int64(0), nil
		}
		delete(s.m, keys[0])
		return int64(1), nil
	default:
		return nil, ErrUnknownScript
	}
}

func (s *Store) Close(context.Context) error { return nil }

func argBytes(a any) ([]byte, error) {
	switch v := a.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("memory provider: unsupported arg type")
	}
}
