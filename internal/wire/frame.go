// Package wire implements the on-the-wire frame format described in
// spec §4.2: a fixed 55-byte header common to every frame, followed by
// a type-specific trailer. All multi-byte integers are little-endian.
package wire

import (
	"encoding/binary"
	"fmt"

	"clustertransport/internal/identity"
)

// Frame type codes. Matches are performed modulo 16 (TypeNum); the high
// nibble is reserved. Decode keeps the raw type byte in Header.Type; the
// Encode functions always write the bare code, with the high nibble zero.
const (
	TypeMessageChunk             byte = 1
	TypeMessageReceiptRequest    byte = 2
	TypeMessageReceipt           byte = 3
	TypeMessageChunksNeeded      byte = 4
	TypeMessageChunkRangesNeeded byte = 5
	TypeMessageNoLongerExists    byte = 6
)

// HeaderLen is the size in bytes of the common frame prefix.
const HeaderLen = 1 + 8 + 8 + 8 + 8 + 8 + 8 + 4 + 2 // 55

// ReceiptOK and ReceiptFailed are the two defined MessageReceipt error codes.
const (
	ReceiptOK     uint16 = 0
	ReceiptFailed uint16 = 1
)

// TypeNum masks off the reserved high nibble of a type byte.
func TypeNum(t byte) byte {
	return t % 16
}

// Header is the common prefix of every frame.
type Header struct {
	Type        byte
	MessageUUID identity.UUID
	// Destination is the zero ClusterIdentity for broadcast frames.
	Destination identity.ClusterIdentity
	TotalSize   uint32
	ChunkSize   uint16
}

func (h Header) encode(buf []byte) {
	_ = buf[HeaderLen-1] // bounds check hint
	buf[0] = h.Type
	binary.LittleEndian.PutUint64(buf[1:9], h.MessageUUID.Cluster.Time)
	binary.LittleEndian.PutUint64(buf[9:17], h.MessageUUID.Cluster.Rand)
	binary.LittleEndian.PutUint64(buf[17:25], h.MessageUUID.Time)
	binary.LittleEndian.PutUint64(buf[25:33], h.MessageUUID.Rand)
	binary.LittleEndian.PutUint64(buf[33:41], h.Destination.Time)
	binary.LittleEndian.PutUint64(buf[41:49], h.Destination.Rand)
	binary.LittleEndian.PutUint32(buf[49:53], h.TotalSize)
	binary.LittleEndian.PutUint16(buf[53:55], h.ChunkSize)
}

func decodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderLen {
		return Header{}, fmt.Errorf("wire: short header: %d bytes", len(data))
	}
	var h Header
	h.Type = data[0]
	h.MessageUUID.Cluster.Time = binary.LittleEndian.Uint64(data[1:9])
	h.MessageUUID.Cluster.Rand = binary.LittleEndian.Uint64(data[9:17])
	h.MessageUUID.Time = binary.LittleEndian.Uint64(data[17:25])
	h.MessageUUID.Rand = binary.LittleEndian.Uint64(data[25:33])
	h.Destination.Time = binary.LittleEndian.Uint64(data[33:41])
	h.Destination.Rand = binary.LittleEndian.Uint64(data[41:49])
	h.TotalSize = binary.LittleEndian.Uint32(data[49:53])
	h.ChunkSize = binary.LittleEndian.Uint16(data[53:55])
	return h, nil
}

// Frame is a fully decoded inbound datagram: the common header plus
// whichever type-specific fields TypeNum selects.
type Frame struct {
	Header  Header
	TypeNum byte

	Index   uint32 // MessageChunk
	Payload []byte // MessageChunk

	ErrorCode uint16 // MessageReceipt

	Indices []uint32   // MessageChunksNeeded
	Ranges  [][2]uint32 // MessageChunkRangesNeeded, inclusive-inclusive
}

// Decode parses a full datagram into a Frame.
func Decode(data []byte) (*Frame, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	f := &Frame{Header: h, TypeNum: TypeNum(h.Type)}
	rest := data[HeaderLen:]

	switch f.TypeNum {
	case TypeMessageChunk:
		if len(rest) < 4 {
			return nil, fmt.Errorf("wire: short chunk trailer: %d bytes", len(rest))
		}
		f.Index = binary.LittleEndian.Uint32(rest[0:4])
		f.Payload = rest[4:]
	case TypeMessageReceiptRequest, TypeMessageNoLongerExists:
		// no trailer
	case TypeMessageReceipt:
		if len(rest) < 2 {
			return nil, fmt.Errorf("wire: short receipt trailer: %d bytes", len(rest))
		}
		f.ErrorCode = binary.LittleEndian.Uint16(rest[0:2])
	case TypeMessageChunksNeeded:
		indices, err := decodeIndices(rest)
		if err != nil {
			return nil, err
		}
		f.Indices = indices
	case TypeMessageChunkRangesNeeded:
		ranges, err := decodeRanges(rest)
		if err != nil {
			return nil, err
		}
		f.Ranges = ranges
	default:
		return nil, fmt.Errorf("wire: unknown type %d (typeNum %d)", h.Type, f.TypeNum)
	}
	return f, nil
}

func decodeIndices(rest []byte) ([]uint32, error) {
	if len(rest) < 2 {
		return nil, fmt.Errorf("wire: short chunks-needed trailer: %d bytes", len(rest))
	}
	count := binary.LittleEndian.Uint16(rest[0:2])
	rest = rest[2:]
	if len(rest) < int(count)*4 {
		return nil, fmt.Errorf("wire: truncated chunks-needed indices")
	}
	indices := make([]uint32, count)
	for i := range indices {
		indices[i] = binary.LittleEndian.Uint32(rest[i*4 : i*4+4])
	}
	return indices, nil
}

func decodeRanges(rest []byte) ([][2]uint32, error) {
	if len(rest) < 2 {
		return nil, fmt.Errorf("wire: short ranges-needed trailer: %d bytes", len(rest))
	}
	count := binary.LittleEndian.Uint16(rest[0:2])
	rest = rest[2:]
	if len(rest) < int(count)*8 {
		return nil, fmt.Errorf("wire: truncated ranges-needed entries")
	}
	ranges := make([][2]uint32, count)
	for i := range ranges {
		lo := binary.LittleEndian.Uint32(rest[i*8 : i*8+4])
		hi := binary.LittleEndian.Uint32(rest[i*8+4 : i*8+8])
		ranges[i] = [2]uint32{lo, hi}
	}
	return ranges, nil
}

// EncodeChunk builds a MessageChunk frame.
func EncodeChunk(h Header, index uint32, payload []byte) []byte {
	h.Type = TypeMessageChunk
	buf := make([]byte, HeaderLen+4+len(payload))
	h.encode(buf)
	binary.LittleEndian.PutUint32(buf[HeaderLen:HeaderLen+4], index)
	copy(buf[HeaderLen+4:], payload)
	return buf
}

// EncodeReceiptRequest builds a MessageReceiptRequest frame.
func EncodeReceiptRequest(h Header) []byte {
	h.Type = TypeMessageReceiptRequest
	buf := make([]byte, HeaderLen)
	h.encode(buf)
	return buf
}

// EncodeReceipt builds a MessageReceipt frame.
func EncodeReceipt(h Header, errorCode uint16) []byte {
	h.Type = TypeMessageReceipt
	buf := make([]byte, HeaderLen+2)
	h.encode(buf)
	binary.LittleEndian.PutUint16(buf[HeaderLen:HeaderLen+2], errorCode)
	return buf
}

// EncodeChunksNeeded builds a MessageChunksNeeded frame. Callers must
// split lists longer than MaxMissingList into multiple frames (spec §4.5).
func EncodeChunksNeeded(h Header, indices []uint32) []byte {
	h.Type = TypeMessageChunksNeeded
	buf := make([]byte, HeaderLen+2+4*len(indices))
	h.encode(buf)
	binary.LittleEndian.PutUint16(buf[HeaderLen:HeaderLen+2], uint16(len(indices)))
	off := HeaderLen + 2
	for _, idx := range indices {
		binary.LittleEndian.PutUint32(buf[off:off+4], idx)
		off += 4
	}
	return buf
}

// EncodeChunkRangesNeeded builds a MessageChunkRangesNeeded frame with
// inclusive-inclusive [lo, hi] ranges.
func EncodeChunkRangesNeeded(h Header, ranges [][2]uint32) []byte {
	h.Type = TypeMessageChunkRangesNeeded
	buf := make([]byte, HeaderLen+2+8*len(ranges))
	h.encode(buf)
	binary.LittleEndian.PutUint16(buf[HeaderLen:HeaderLen+2], uint16(len(ranges)))
	off := HeaderLen + 2
	for _, r := range ranges {
		binary.LittleEndian.PutUint32(buf[off:off+4], r[0])
		binary.LittleEndian.PutUint32(buf[off+4:off+8], r[1])
		off += 8
	}
	return buf
}

// EncodeNoLongerExists builds a MessageNoLongerExists frame.
func EncodeNoLongerExists(h Header) []byte {
	h.Type = TypeMessageNoLongerExists
	buf := make([]byte, HeaderLen)
	h.encode(buf)
	return buf
}

// SplitMissingIndices windows indices into chunks of at most
// MaxMissingList entries (spec §4.5).
func SplitMissingIndices(indices []uint32) [][]uint32 {
	if len(indices) == 0 {
		return nil
	}
	var windows [][]uint32
	for start := 0; start < len(indices); start += MaxMissingList {
		end := start + MaxMissingList
		if end > len(indices) {
			end = len(indices)
		}
		windows = append(windows, indices[start:end])
	}
	return windows
}
