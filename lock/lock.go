// Package lock provides a mutual-exclusion primitive over a shared key-value
// store. TryLock is a single conditional set and never blocks; any wait or
// retry policy belongs to the caller. Release goes through a server-side
// compare-and-delete script, so an owner whose TTL lapsed can never delete a
// lock that has since been re-acquired by someone else.
package lock

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/flashguard/internal/script"
	pr "github.com/unkn0wn-root/flashguard/provider"
)

const keyPrefix = "lock:"

// instanceID identifies this process; combined with the per-acquisition
// counter it makes every token unique across processes and attempts.
var (
	instanceID = uuid.NewString() + "-"
	acquireSeq atomic.Uint64
)

// Mutex is a lock on one named resource. Create one per acquisition attempt
// (like a request-scoped object); a Mutex is not meant to be shared between
// goroutines.
type Mutex struct {
	store pr.Store
	name  string
	token string // set on successful TryLock, cleared on Unlock
}

// New returns an unacquired Mutex for the named resource. The store key is
// "lock:" + name.
func New(store pr.Store, name string) *Mutex {
	return &Mutex{store: store, name: name}
}

// Key returns the full store key guarding this resource.
func (m *Mutex) Key() string { return keyPrefix + m.name }

// TryLock attempts a single atomic set-if-absent with the given TTL.
// ok=false with a nil error means someone else holds the lock right now;
// that is control flow, not a failure. A non-nil error means the store could
// not be reached and the lock state is unknown.
func (m *Mutex) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	token := instanceID + strconv.FormatUint(acquireSeq.Add(1), 10)
	ok, err := m.store.SetNX(ctx, m.Key(), []byte(token), ttl)
	if err != nil {
		return false, fmt.Errorf("lock %q: acquire: %w", m.name, err)
	}
	if ok {
		m.token = token
	}
	return ok, nil
}

// Unlock releases the lock via compare-and-delete: the stored token is read,
// compared to this acquisition's token and deleted only on match, all as one
// server-side step. released=false means the lock was no longer ours (TTL
// expiry followed by another acquisition) and nothing was deleted.
func (m *Mutex) Unlock(ctx context.Context) (released bool, err error) {
	if m.token == "" {
		return false, nil
	}
	token := m.token
	m.token = ""
	res, err := m.store.Eval(ctx, script.CompareAndDelete, []string{m.Key()}, token)
	if err != nil {
		return false, fmt.Errorf("lock %q: release: %w", m.name, err)
	}
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("lock %q: release: unexpected script result %T", m.name, res)
	}
	return n == 1, nil
}
