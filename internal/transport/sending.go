package transport

import (
	"sync"
	"time"

	"clustertransport/internal/identity"
	"clustertransport/internal/wire"
)

// SendingStatus is the lifecycle state of a SendingMessage (spec §3).
type SendingStatus int

const (
	NotSent SendingStatus = iota
	WaitingForReceipt
	SuccessfullySent
)

// SendingMessage is the per-outbound-message state described in spec
// §3. Destination is nil for broadcast. All mutable fields are guarded
// by mu; immutable fields may be read without locking.
type SendingMessage struct {
	UUID        identity.UUID
	Bytes       []byte
	TotalSize   uint32
	ChunkSize   uint16
	Destination *identity.ClusterIdentity

	mu                sync.Mutex
	status            SendingStatus
	waitTill          time.Time
	waitRepeatedCount int
	entry             *waitEntry
}

// NewSendingMessage constructs a fresh SendingMessage with a newly
// minted UUID scoped to self. Only the Sender worker may subsequently
// move it out of NotSent (invariant a, spec §3).
func NewSendingMessage(self identity.ClusterIdentity, dest *identity.ClusterIdentity, payload []byte, chunkSize uint16) *SendingMessage {
	return &SendingMessage{
		UUID:        identity.NewUUID(self),
		Bytes:       payload,
		TotalSize:   uint32(len(payload)),
		ChunkSize:   chunkSize,
		Destination: dest,
		status:      NotSent,
	}
}

// TotalChunks returns ceil(TotalSize/ChunkSize).
func (m *SendingMessage) TotalChunks() uint32 {
	if m.TotalSize == 0 {
		return 1
	}
	return (m.TotalSize + uint32(m.ChunkSize) - 1) / uint32(m.ChunkSize)
}

// ChunkAt returns the payload slice for chunk index i.
func (m *SendingMessage) ChunkAt(i uint32) []byte {
	start := i * uint32(m.ChunkSize)
	end := start + uint32(m.ChunkSize)
	if end > m.TotalSize {
		end = m.TotalSize
	}
	return m.Bytes[start:end]
}

func (m *SendingMessage) Status() SendingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *SendingMessage) WaitTill() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waitTill
}

// MarkBroadcastSent transitions a broadcast message directly to
// SuccessfullySent, skipping WaitingForReceipt (invariant c, spec §3).
func (m *SendingMessage) MarkBroadcastSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = SuccessfullySent
	m.waitTill = time.Now().Add(wire.WaitingAfterReceiptTimeout)
}

// MarkWaitingForReceipt transitions NotSent -> WaitingForReceipt and
// arms the receipt timer, returning the waitEntry to push onto the
// sent-waiting queue.
func (m *SendingMessage) MarkWaitingForReceipt() *waitEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = WaitingForReceipt
	m.waitRepeatedCount = 0
	m.waitTill = time.Now().Add(wire.WaitingForReceiptTimeout)
	m.entry = newWaitEntry(m.UUID.Key(), m.waitTill)
	return m.entry
}

// Retry is called by SentWaitingProcessor when the entry's deadline has
// elapsed. If the message is still WaitingForReceipt and under the
// retry cap, it rearms the timer and returns (entry, true) for the
// caller to re-push and re-request. If the cap is reached, it returns
// (nil, false) and the caller must remove the message from the sent
// table. If the message already moved to a terminal state, returns
// (nil, false) with nothing further to do.
func (m *SendingMessage) Retry() (*waitEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != WaitingForReceipt {
		return nil, false
	}
	if m.waitRepeatedCount >= wire.MaxReceiptWaits {
		return nil, false
	}
	m.waitRepeatedCount++
	m.waitTill = time.Now().Add(wire.WaitingForReceiptTimeout)
	m.entry = newWaitEntry(m.UUID.Key(), m.waitTill)
	return m.entry, true
}

// RetriesExhausted reports whether the message is still waiting and has
// hit the retry cap (used by the caller to distinguish "exhausted" from
// "already terminal" after a false return from Retry).
func (m *SendingMessage) RetriesExhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == WaitingForReceipt && m.waitRepeatedCount >= wire.MaxReceiptWaits
}

// MarkReceiptReceived transitions WaitingForReceipt -> SuccessfullySent
// on receipt of a type-3 frame, cancelling any pending waiter
// unconditionally (spec §9 resolves the teacher's inconsistent
// cancellation in favor of always cancelling on terminal transitions).
func (m *SendingMessage) MarkReceiptReceived() *waitEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.entry
	m.entry = nil
	m.status = SuccessfullySent
	m.waitTill = time.Now().Add(wire.WaitingAfterReceiptTimeout)
	if prev != nil {
		prev.Cancel()
	}
	return nil // caller pushes a fresh completed-queue entry keyed by UUID
}

// WaitEntry returns the currently armed waiter, if any.
func (m *SendingMessage) WaitEntry() *waitEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entry
}
