package transport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"clustertransport/internal/identity"
)

func TestTablesSentPutGetDelete(t *testing.T) {
	t.Parallel()
	tb := newTables()
	self := identity.NewClusterIdentity()
	dest := identity.NewClusterIdentity()
	sm := NewSendingMessage(self, &dest, []byte("hi"), 1024)

	tb.putSent(sm)
	got, ok := tb.getSent(sm.UUID.Key())
	require.True(t, ok)
	require.Same(t, sm, got)
	require.Equal(t, 1, tb.sentCount())

	tb.deleteSent(sm.UUID.Key())
	_, ok = tb.getSent(sm.UUID.Key())
	require.False(t, ok)
}

func TestTablesGetOrCreateReceivedCreatesOnce(t *testing.T) {
	t.Parallel()
	tb := newTables()
	key := "shared-key"

	var created int
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, wasCreated := tb.getOrCreateReceived(key, func() *ReceivingMessage {
				cluster := identity.NewClusterIdentity()
				return NewReceivingMessage(identity.NewUUID(cluster), nil, 10, 10)
			})
			if wasCreated {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, created)
	require.Equal(t, 1, tb.receivedCount())
}
