package addr

import (
	"sync"
	"sync/atomic"

	"clustertransport/internal/identity"
)

// Map is the two-way address book described in spec §3/§4.6:
// UDPAddress -> ClusterIdentity, and ClusterIdentity -> ordered list of
// UDPAddress (head = preferred route). Updated on every inbound
// chunk/receipt-request/no-longer-exists frame.
//
// The id->addresses side is a CAS loop over an immutable slice pointer
// (prepend-on-new), matching the re-architecture guidance in spec §9:
// "maps cleanly to any lock-free concurrent map with an update-function
// primitive."
type Map struct {
	addrToID sync.Map // string(UDPAddress) -> identity.ClusterIdentity
	idToAddr sync.Map // string(ClusterIdentity) -> *addrList
}

type addrList struct {
	ptr atomic.Pointer[[]UDPAddress]
}

func NewMap() *Map {
	return &Map{}
}

// Record ensures the pair (id, address) is present: addrToID is
// overwritten unconditionally (last writer wins, per spec §4.6 is
// explicitly "not a performance-ranked routing decision"); idToAddr
// prepends address only if it isn't already in the list.
func (m *Map) Record(id identity.ClusterIdentity, address UDPAddress) {
	m.addrToID.Store(address.String(), id)

	v, _ := m.idToAddr.LoadOrStore(id.Key(), &addrList{})
	entry := v.(*addrList)

	for {
		cur := entry.ptr.Load()
		if cur != nil {
			for _, a := range *cur {
				if a == address {
					return
				}
			}
		}
		next := make([]UDPAddress, 0, 1+lenOf(cur))
		next = append(next, address)
		if cur != nil {
			next = append(next, (*cur)...)
		}
		if entry.ptr.CompareAndSwap(cur, &next) {
			return
		}
		// lost the race, retry with the fresher list
	}
}

func lenOf(p *[]UDPAddress) int {
	if p == nil {
		return 0
	}
	return len(*p)
}

// IdentityFor returns the ClusterIdentity last recorded for address.
func (m *Map) IdentityFor(address UDPAddress) (identity.ClusterIdentity, bool) {
	v, ok := m.addrToID.Load(address.String())
	if !ok {
		return identity.ClusterIdentity{}, false
	}
	return v.(identity.ClusterIdentity), true
}

// AddressesFor returns the known addresses for id, head-first-preferred.
func (m *Map) AddressesFor(id identity.ClusterIdentity) []UDPAddress {
	v, ok := m.idToAddr.Load(id.Key())
	if !ok {
		return nil
	}
	entry := v.(*addrList)
	p := entry.ptr.Load()
	if p == nil {
		return nil
	}
	return *p
}

// PreferredAddress returns the head of AddressesFor(id), if any.
func (m *Map) PreferredAddress(id identity.ClusterIdentity) (UDPAddress, bool) {
	addrs := m.AddressesFor(id)
	if len(addrs) == 0 {
		return UDPAddress{}, false
	}
	return addrs[0], true
}
