package transport

import (
	"sync"
	"time"

	"clustertransport/internal/identity"
	"clustertransport/internal/wire"
)

// ReceivingStatus is the lifecycle state of a ReceivingMessage (spec §3).
type ReceivingStatus int

const (
	WaitingForChunks ReceivingStatus = iota
	SuccessfullyReceived
)

// ReceivingMessage is the per-inbound-message state described in spec
// §3. Destination is nil for a broadcast message, or this node's
// ClusterIdentity.
type ReceivingMessage struct {
	UUID        identity.UUID
	TotalSize   uint32
	ChunkSize   uint16
	Destination *identity.ClusterIdentity

	mu                sync.Mutex
	bytes             []byte
	chunks            map[uint32]struct{}
	totalChunks       uint32
	messageProcessed  bool
	status            ReceivingStatus
	waitTill          time.Time
	waitRepeatedCount int
	entry             *waitEntry
}

// NewReceivingMessage constructs a fresh ReceivingMessage sized to hold
// totalSize bytes, and arms its completion timer.
func NewReceivingMessage(id identity.UUID, dest *identity.ClusterIdentity, totalSize uint32, chunkSize uint16) *ReceivingMessage {
	rm := &ReceivingMessage{
		UUID:        id,
		TotalSize:   totalSize,
		ChunkSize:   chunkSize,
		Destination: dest,
		bytes:       make([]byte, totalSize),
		chunks:      make(map[uint32]struct{}),
		status:      WaitingForChunks,
	}
	if chunkSize == 0 {
		rm.totalChunks = 1
	} else {
		rm.totalChunks = (totalSize + uint32(chunkSize) - 1) / uint32(chunkSize)
	}
	rm.waitTill = time.Now().Add(wire.WaitingForAllChunksTimeout)
	rm.entry = newWaitEntry(id.Key(), rm.waitTill)
	return rm
}

// WaitEntry returns the waiter armed at construction (or by the most
// recent Retry call).
func (m *ReceivingMessage) WaitEntry() *waitEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entry
}

// WriteChunk stores chunk index's payload. Writes are idempotent: a
// replayed index neither alters bytes nor increases the chunk set
// (invariant, spec §3/§8). Returns true if the message is now complete.
func (m *ReceivingMessage) WriteChunk(index uint32, payload []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index >= m.totalChunks {
		return m.isCompleteLocked()
	}
	if _, seen := m.chunks[index]; seen {
		return m.isCompleteLocked()
	}
	start := index * uint32(m.ChunkSize)
	dataSize := uint32(m.ChunkSize)
	if start+dataSize > m.TotalSize {
		dataSize = m.TotalSize - start
	}
	n := copy(m.bytes[start:start+dataSize], payload)
	_ = n
	m.chunks[index] = struct{}{}
	return m.isCompleteLocked()
}

func (m *ReceivingMessage) isCompleteLocked() bool {
	return uint32(len(m.chunks)) == m.totalChunks
}

func (m *ReceivingMessage) IsComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isCompleteLocked()
}

// MissingIndices returns the currently-missing chunk indices in
// ascending order. If nothing has arrived yet, that's "all indices".
func (m *ReceivingMessage) MissingIndices() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	missing := make([]uint32, 0, m.totalChunks-uint32(len(m.chunks)))
	for i := uint32(0); i < m.totalChunks; i++ {
		if _, ok := m.chunks[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// MarkComplete transitions WaitingForChunks -> SuccessfullyReceived and
// cancels the waiter unconditionally, mirroring SendingMessage's
// terminal-transition handling (spec §9).
func (m *ReceivingMessage) MarkComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = SuccessfullyReceived
	m.waitTill = time.Now().Add(wire.WaitingAfterCompleteTimeout)
	if m.entry != nil {
		m.entry.Cancel()
		m.entry = nil
	}
}

func (m *ReceivingMessage) Status() ReceivingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *ReceivingMessage) WaitTill() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waitTill
}

// ProcessOnce runs fn at most once, exactly when this call is the first
// to observe messageProcessed==false, under the message's own lock
// (invariant: deserialization/dispatch happens at most once, spec §3/§8).
// fn receives a copy of the completed byte buffer.
func (m *ReceivingMessage) ProcessOnce(fn func(payload []byte)) {
	m.mu.Lock()
	if m.messageProcessed {
		m.mu.Unlock()
		return
	}
	m.messageProcessed = true
	payload := make([]byte, len(m.bytes))
	copy(payload, m.bytes)
	m.mu.Unlock()

	fn(payload)
}

// Retry mirrors SendingMessage.Retry for the receive side: rearms the
// 1s completion timer and increments waitRepeatedCount if still under
// maxChunkWaits, or signals exhaustion.
func (m *ReceivingMessage) Retry() (*waitEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != WaitingForChunks {
		return nil, false
	}
	if m.waitRepeatedCount >= wire.MaxChunkWaits {
		return nil, false
	}
	m.waitRepeatedCount++
	m.waitTill = time.Now().Add(wire.WaitingForAllChunksTimeout)
	m.entry = newWaitEntry(m.UUID.Key(), m.waitTill)
	return m.entry, true
}

func (m *ReceivingMessage) RetriesExhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == WaitingForChunks && m.waitRepeatedCount >= wire.MaxChunkWaits
}
