package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clustertransport/internal/identity"
	"clustertransport/internal/wire"
)

func TestSendingMessageTotalChunks(t *testing.T) {
	t.Parallel()
	self := identity.NewClusterIdentity()
	dest := identity.NewClusterIdentity()
	sm := NewSendingMessage(self, &dest, make([]byte, 3000), 1024)

	require.Equal(t, uint32(3), sm.TotalChunks())
	require.Len(t, sm.ChunkAt(0), 1024)
	require.Len(t, sm.ChunkAt(1), 1024)
	require.Len(t, sm.ChunkAt(2), 952)
}

func TestSendingMessageBroadcastSkipsWaitingForReceipt(t *testing.T) {
	t.Parallel()
	self := identity.NewClusterIdentity()
	sm := NewSendingMessage(self, nil, []byte("hi"), 1024)

	require.Equal(t, NotSent, sm.Status())
	sm.MarkBroadcastSent()
	require.Equal(t, SuccessfullySent, sm.Status())
}

func TestSendingMessageReceiptCancelsWaiter(t *testing.T) {
	t.Parallel()
	self := identity.NewClusterIdentity()
	dest := identity.NewClusterIdentity()
	sm := NewSendingMessage(self, &dest, []byte("hi"), 1024)

	entry := sm.MarkWaitingForReceipt()
	require.Equal(t, WaitingForReceipt, sm.Status())
	require.False(t, entry.cancelled.Load())

	sm.MarkReceiptReceived()
	require.Equal(t, SuccessfullySent, sm.Status())
	require.True(t, entry.cancelled.Load())
}

func TestSendingMessageRetryCapRespected(t *testing.T) {
	t.Parallel()
	self := identity.NewClusterIdentity()
	dest := identity.NewClusterIdentity()
	sm := NewSendingMessage(self, &dest, []byte("hi"), 1024)
	sm.MarkWaitingForReceipt()

	for i := 0; i < wire.MaxReceiptWaits; i++ {
		_, ok := sm.Retry()
		require.True(t, ok, "retry %d should be allowed", i)
	}

	_, ok := sm.Retry()
	require.False(t, ok, "retry beyond the cap must be refused")
	require.True(t, sm.RetriesExhausted())
}

func TestSendingMessageRetryStopsAfterTerminal(t *testing.T) {
	t.Parallel()
	self := identity.NewClusterIdentity()
	dest := identity.NewClusterIdentity()
	sm := NewSendingMessage(self, &dest, []byte("hi"), 1024)
	sm.MarkWaitingForReceipt()
	sm.MarkReceiptReceived()

	_, ok := sm.Retry()
	require.False(t, ok)
	require.False(t, sm.RetriesExhausted(), "already-terminal message is not 'exhausted'")
}

func TestSendingMessageWaitTillAdvancesOnRetry(t *testing.T) {
	t.Parallel()
	self := identity.NewClusterIdentity()
	dest := identity.NewClusterIdentity()
	sm := NewSendingMessage(self, &dest, []byte("hi"), 1024)
	sm.MarkWaitingForReceipt()

	first := sm.WaitTill()
	time.Sleep(time.Millisecond)
	sm.Retry()
	require.True(t, sm.WaitTill().After(first))
}
