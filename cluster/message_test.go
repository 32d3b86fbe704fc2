package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"

	"clustertransport/internal/identity"
)

func TestClusterMessageRoundTrip(t *testing.T) {
	t.Parallel()
	cluster := identity.ClusterIdentity{Time: 1, Rand: 2}
	msg := ClusterMessage{
		Kind:       KindTargetedByUUID,
		TargetUUID: identity.UUID{Cluster: cluster, Time: 3, Rand: 4},
		ClassName:  "worker.PingActor",
		TargetID:   "worker-7",
		Payload:    []byte("ping"),
	}

	raw, err := msg.MarshalBinary()
	require.NoError(t, err)

	var decoded ClusterMessage
	require.NoError(t, decoded.UnmarshalBinary(raw))
	require.Equal(t, msg, decoded)
}

func TestClusterMessageEmptyPayloadRoundTrip(t *testing.T) {
	t.Parallel()
	msg := ClusterMessage{Kind: KindStop}

	raw, err := msg.MarshalBinary()
	require.NoError(t, err)

	var decoded ClusterMessage
	require.NoError(t, decoded.UnmarshalBinary(raw))
	require.Equal(t, KindStop, decoded.Kind)
	require.Empty(t, decoded.Payload)
}

func TestClusterMessageUnmarshalTooShort(t *testing.T) {
	t.Parallel()
	var msg ClusterMessage
	require.Error(t, msg.UnmarshalBinary([]byte{1, 2, 3}))
}

func TestKindString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "Actor", KindActor.String())
	require.Contains(t, Kind(99).String(), "99")
}
