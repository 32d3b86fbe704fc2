package cluster

import (
	"encoding/binary"
	"fmt"

	"clustertransport/internal/identity"
)

// Kind discriminates the tagged union ClusterMessage carries as its
// payload (spec §6a, replacing object serialization of application
// messages per the re-architecture guidance).
type Kind byte

const (
	KindActor Kind = iota
	KindStop
	KindStatusRequest
	KindStatusResponse
	KindTargetedByUUID
	KindTargetedByClassName
	KindTargetedByID
)

func (k Kind) String() string {
	switch k {
	case KindActor:
		return "Actor"
	case KindStop:
		return "Stop"
	case KindStatusRequest:
		return "StatusRequest"
	case KindStatusResponse:
		return "StatusResponse"
	case KindTargetedByUUID:
		return "TargetedByUUID"
	case KindTargetedByClassName:
		return "TargetedByClassName"
	case KindTargetedByID:
		return "TargetedByID"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// ClusterMessage is the application-level envelope carried inside a
// transport Send/broadcast payload. It has one explicit binary encoding
// regardless of Kind: the fields a particular Kind doesn't use are
// simply empty, which keeps Marshal/Unmarshal trivial and makes
// byte-identical payloads decode to equal values.
type ClusterMessage struct {
	Kind       Kind
	TargetUUID identity.UUID
	ClassName  string
	TargetID   string
	Payload    []byte
}

// MarshalBinary encodes m as: 1 byte kind, 32 bytes TargetUUID (four
// little-endian uint64s), a length-prefixed ClassName, a length-prefixed
// TargetID, then a length-prefixed Payload.
func (m ClusterMessage) MarshalBinary() ([]byte, error) {
	classBytes := []byte(m.ClassName)
	idBytes := []byte(m.TargetID)
	if len(classBytes) > 0xFFFF || len(idBytes) > 0xFFFF {
		return nil, fmt.Errorf("cluster: ClassName/TargetID exceeds 65535 bytes")
	}

	size := 1 + 32 + 2 + len(classBytes) + 2 + len(idBytes) + 4 + len(m.Payload)
	buf := make([]byte, size)
	off := 0

	buf[off] = byte(m.Kind)
	off++

	binary.LittleEndian.PutUint64(buf[off:off+8], m.TargetUUID.Cluster.Time)
	binary.LittleEndian.PutUint64(buf[off+8:off+16], m.TargetUUID.Cluster.Rand)
	binary.LittleEndian.PutUint64(buf[off+16:off+24], m.TargetUUID.Time)
	binary.LittleEndian.PutUint64(buf[off+24:off+32], m.TargetUUID.Rand)
	off += 32

	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(classBytes)))
	off += 2
	off += copy(buf[off:], classBytes)

	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(idBytes)))
	off += 2
	off += copy(buf[off:], idBytes)

	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(m.Payload)))
	off += 4
	copy(buf[off:], m.Payload)

	return buf, nil
}

// UnmarshalBinary decodes the wire form written by MarshalBinary.
func (m *ClusterMessage) UnmarshalBinary(data []byte) error {
	if len(data) < 1+32+2 {
		return fmt.Errorf("cluster: message too short: %d bytes", len(data))
	}
	off := 0
	m.Kind = Kind(data[off])
	off++

	m.TargetUUID.Cluster.Time = binary.LittleEndian.Uint64(data[off : off+8])
	m.TargetUUID.Cluster.Rand = binary.LittleEndian.Uint64(data[off+8 : off+16])
	m.TargetUUID.Time = binary.LittleEndian.Uint64(data[off+16 : off+24])
	m.TargetUUID.Rand = binary.LittleEndian.Uint64(data[off+24 : off+32])
	off += 32

	classLen, err := readUint16(data, off)
	if err != nil {
		return err
	}
	off += 2
	if off+int(classLen) > len(data) {
		return fmt.Errorf("cluster: truncated ClassName")
	}
	m.ClassName = string(data[off : off+int(classLen)])
	off += int(classLen)

	idLen, err := readUint16(data, off)
	if err != nil {
		return err
	}
	off += 2
	if off+int(idLen) > len(data) {
		return fmt.Errorf("cluster: truncated TargetID")
	}
	m.TargetID = string(data[off : off+int(idLen)])
	off += int(idLen)

	if off+4 > len(data) {
		return fmt.Errorf("cluster: truncated payload length")
	}
	payloadLen := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	if off+int(payloadLen) > len(data) {
		return fmt.Errorf("cluster: truncated payload")
	}
	m.Payload = append([]byte(nil), data[off:off+int(payloadLen)]...)

	return nil
}

func readUint16(data []byte, off int) (uint16, error) {
	if off+2 > len(data) {
		return 0, fmt.Errorf("cluster: truncated length field at offset %d", off)
	}
	return binary.LittleEndian.Uint16(data[off : off+2]), nil
}
