package transport

import (
	"sync"

	"github.com/patrickmn/go-cache"
)

// tables holds the two in-flight maps (spec §3): sent and received,
// keyed by UUID.Key(). Built on patrickmn/go-cache the way the teacher's
// SessionManager builds its session table (internal/server/session.go)
// — used here purely for its concurrency-safe map semantics with
// NoExpiration; the spec's own waitTill-driven retention (not
// go-cache's TTL) decides when entries actually get removed.
type tables struct {
	sent     *cache.Cache
	received *cache.Cache

	receivedCreateMu sync.Mutex
}

func newTables() *tables {
	return &tables{
		sent:     cache.New(cache.NoExpiration, 0),
		received: cache.New(cache.NoExpiration, 0),
	}
}

func (t *tables) putSent(m *SendingMessage) {
	t.sent.Set(m.UUID.Key(), m, cache.NoExpiration)
}

func (t *tables) getSent(key string) (*SendingMessage, bool) {
	v, ok := t.sent.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*SendingMessage), true
}

func (t *tables) deleteSent(key string) {
	t.sent.Delete(key)
}

func (t *tables) sentCount() int {
	return t.sent.ItemCount()
}

func (t *tables) putReceived(m *ReceivingMessage) {
	t.received.Set(m.UUID.Key(), m, cache.NoExpiration)
}

func (t *tables) getReceived(key string) (*ReceivingMessage, bool) {
	v, ok := t.received.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*ReceivingMessage), true
}

// getOrCreateReceived returns the existing ReceivingMessage for key, or
// atomically creates and stores one via makeFn. Unlike the teacher's
// SessionManager.GetOrCreate (a plain get-then-set with no protection
// against a concurrent duplicate create), this is guarded so exactly
// one ReceivingMessage is ever created per UUID — required by the
// at-most-once messageProcessed invariant (spec §3).
func (t *tables) getOrCreateReceived(key string, makeFn func() *ReceivingMessage) (rm *ReceivingMessage, created bool) {
	t.receivedCreateMu.Lock()
	defer t.receivedCreateMu.Unlock()
	if v, ok := t.received.Get(key); ok {
		return v.(*ReceivingMessage), false
	}
	rm = makeFn()
	t.received.Set(key, rm, cache.NoExpiration)
	return rm, true
}

func (t *tables) deleteReceived(key string) {
	t.received.Delete(key)
}

func (t *tables) receivedCount() int {
	return t.received.ItemCount()
}
