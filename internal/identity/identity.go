// Package identity defines the cluster-wide identifiers used as message
// and actor ids: a 128-bit ClusterIdentity naming a process, and a 256-bit
// UUID composed of a ClusterIdentity plus a local uniqueness pair.
package identity

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ClusterIdentity names a cluster member for the life of the process.
type ClusterIdentity struct {
	Time uint64
	Rand uint64
}

// IsZero reports whether c is the zero ClusterIdentity, which the wire
// format (§4.2) uses to mean "broadcast" in a UUID's destination field.
func (c ClusterIdentity) IsZero() bool {
	return c.Time == 0 && c.Rand == 0
}

// Key returns a stable string form suitable for use as a map/cache key.
func (c ClusterIdentity) Key() string {
	return fmt.Sprintf("%016x%016x", c.Time, c.Rand)
}

func (c ClusterIdentity) String() string {
	return c.Key()
}

// NewClusterIdentity mints a fresh identity. The time half is the
// current time at the call; the rand half is sourced from a google/uuid value
// so we don't hand-roll a CSPRNG wrapper for 8 random bytes.
func NewClusterIdentity() ClusterIdentity {
	return ClusterIdentity{
		Time: uint64(time.Now().UnixNano()),
		Rand: randomUint64(),
	}
}

// UUID uniquely identifies a message or an actor: the ClusterIdentity of
// the process that minted it, plus a local (time, rand) pair.
type UUID struct {
	Cluster ClusterIdentity
	Time    uint64
	Rand    uint64
}

// NewUUID mints a fresh UUID scoped to cluster.
func NewUUID(cluster ClusterIdentity) UUID {
	return UUID{
		Cluster: cluster,
		Time:    uint64(time.Now().UnixNano()),
		Rand:    randomUint64(),
	}
}

// Key returns a stable string form of all four 64-bit components,
// suitable for use as a map/cache key (sent/received tables, logging).
func (u UUID) Key() string {
	return fmt.Sprintf("%016x%016x%016x%016x", u.Cluster.Time, u.Cluster.Rand, u.Time, u.Rand)
}

func (u UUID) String() string {
	return u.Key()
}

// Equal reports component-wise equality over all four 64-bit fields.
func (u UUID) Equal(o UUID) bool {
	return u.Cluster == o.Cluster && u.Time == o.Time && u.Rand == o.Rand
}

func randomUint64() uint64 {
	id := uuid.New()
	b := id[:]
	return binary.BigEndian.Uint64(b[0:8]) ^ binary.BigEndian.Uint64(b[8:16])
}
