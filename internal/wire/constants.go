package wire

import "time"

// Wire-visible constants (spec §6). These must match across every
// cluster member and are therefore compile-time constants, not flags.
const (
	BroadcastPort   = 9900
	DynamicPortLow  = 9901
	DynamicPortHigh = 9999

	SendingChunkSize = 1024 // bytes, also the max chunk size
	MaxMissingList   = 256  // indices per MessageChunksNeeded frame
	MaxPacketSize    = 16 * 1024
	RecvBufferSize   = 16 * 1024

	PollTimeout = 200 * time.Millisecond

	WaitingForReceiptTimeout   = 1000 * time.Millisecond
	MaxReceiptWaits            = 3
	WaitingAfterReceiptTimeout = 6000 * time.Millisecond

	WaitingForAllChunksTimeout  = 1000 * time.Millisecond
	MaxChunkWaits               = 3
	WaitingAfterCompleteTimeout = 6000 * time.Millisecond
)
