package addr

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"clustertransport/internal/identity"
)

func TestRecordAndLookup(t *testing.T) {
	t.Parallel()
	m := NewMap()
	id := identity.ClusterIdentity{Time: 1, Rand: 2}
	a := UDPAddress{IP: "10.0.0.1", Port: 9901}

	m.Record(id, a)

	got, ok := m.IdentityFor(a)
	require.True(t, ok)
	require.Equal(t, id, got)

	preferred, ok := m.PreferredAddress(id)
	require.True(t, ok)
	require.Equal(t, a, preferred)
}

func TestRecordPrependsNewAddressAsPreferred(t *testing.T) {
	t.Parallel()
	m := NewMap()
	id := identity.ClusterIdentity{Time: 1, Rand: 2}
	a1 := UDPAddress{IP: "10.0.0.1", Port: 9901}
	a2 := UDPAddress{IP: "10.0.0.2", Port: 9901}

	m.Record(id, a1)
	m.Record(id, a2)

	preferred, ok := m.PreferredAddress(id)
	require.True(t, ok)
	require.Equal(t, a2, preferred)
	require.ElementsMatch(t, []UDPAddress{a1, a2}, m.AddressesFor(id))
}

func TestRecordDedupesExistingAddress(t *testing.T) {
	t.Parallel()
	m := NewMap()
	id := identity.ClusterIdentity{Time: 1, Rand: 2}
	a := UDPAddress{IP: "10.0.0.1", Port: 9901}

	m.Record(id, a)
	m.Record(id, a)
	m.Record(id, a)

	require.Len(t, m.AddressesFor(id), 1)
}

func TestPreferredAddressUnknownIdentity(t *testing.T) {
	t.Parallel()
	m := NewMap()
	_, ok := m.PreferredAddress(identity.ClusterIdentity{Time: 9, Rand: 9})
	require.False(t, ok)
}

func TestRecordConcurrentWritersConverge(t *testing.T) {
	t.Parallel()
	m := NewMap()
	id := identity.ClusterIdentity{Time: 1, Rand: 2}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Record(id, UDPAddress{IP: "10.0.0.1", Port: 9901 + i})
		}(i)
	}
	wg.Wait()

	require.Len(t, m.AddressesFor(id), 50)
}
