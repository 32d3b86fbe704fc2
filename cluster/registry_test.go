package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"

	"clustertransport/internal/identity"
)

type recordingActor struct {
	uuid      identity.UUID
	className string
	id        string
	received  []ClusterMessage
}

func (a *recordingActor) UUID() identity.UUID      { return a.uuid }
func (a *recordingActor) ClassName() string        { return a.className }
func (a *recordingActor) ID() string               { return a.id }
func (a *recordingActor) Receive(_ identity.ClusterIdentity, msg ClusterMessage) {
	a.received = append(a.received, msg)
}

func newActor(className, id string) *recordingActor {
	cluster := identity.NewClusterIdentity()
	return &recordingActor{uuid: identity.NewUUID(cluster), className: className, id: id}
}

func TestInMemoryActorRegistryLookups(t *testing.T) {
	t.Parallel()
	r := NewInMemoryActorRegistry()
	a1 := newActor("PingActor", "worker-1")
	a2 := newActor("PingActor", "worker-2")
	a3 := newActor("PongActor", "worker-1")
	r.Register(a1)
	r.Register(a2)
	r.Register(a3)

	got, ok := r.GetByUUID(a1.UUID())
	require.True(t, ok)
	require.Same(t, a1, got)

	require.ElementsMatch(t, []Actor{a1, a2}, r.GetAllByClassName("PingActor"))
	require.ElementsMatch(t, []Actor{a1, a3}, r.GetAllByID("worker-1"))
	require.Len(t, r.GetAll(), 3)

	r.Unregister(a1.UUID())
	_, ok = r.GetByUUID(a1.UUID())
	require.False(t, ok)
}

func TestRouteToActorsTargetedByUUID(t *testing.T) {
	t.Parallel()
	r := NewInMemoryActorRegistry()
	a1 := newActor("PingActor", "worker-1")
	a2 := newActor("PingActor", "worker-2")
	r.Register(a1)
	r.Register(a2)

	from := identity.NewClusterIdentity()
	msg := ClusterMessage{Kind: KindTargetedByUUID, TargetUUID: a1.UUID()}
	RouteToActors(r, from, msg)

	require.Len(t, a1.received, 1)
	require.Empty(t, a2.received)
}

func TestRouteToActorsBroadcastsOtherKinds(t *testing.T) {
	t.Parallel()
	r := NewInMemoryActorRegistry()
	a1 := newActor("PingActor", "worker-1")
	a2 := newActor("PongActor", "worker-2")
	r.Register(a1)
	r.Register(a2)

	from := identity.NewClusterIdentity()
	RouteToActors(r, from, ClusterMessage{Kind: KindActor, Payload: []byte("x")})

	require.Len(t, a1.received, 1)
	require.Len(t, a2.received, 1)
}

func TestRouteToActorsTargetedByClassName(t *testing.T) {
	t.Parallel()
	r := NewInMemoryActorRegistry()
	a1 := newActor("PingActor", "worker-1")
	a2 := newActor("PongActor", "worker-2")
	r.Register(a1)
	r.Register(a2)

	from := identity.NewClusterIdentity()
	RouteToActors(r, from, ClusterMessage{Kind: KindTargetedByClassName, ClassName: "PongActor"})

	require.Empty(t, a1.received)
	require.Len(t, a2.received, 1)
}
