package transport

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"clustertransport/internal/addr"
	"clustertransport/internal/identity"
	"clustertransport/internal/metrics"
	"clustertransport/internal/wire"
)

type capturingProcessor struct {
	ch chan []byte
}

func (p *capturingProcessor) Process(_ identity.ClusterIdentity, payload []byte) {
	p.ch <- payload
}

func newLoopbackConn(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTestEngine(t *testing.T, processor Processor) (*Engine, *net.UDPConn) {
	t.Helper()
	localConn := newLoopbackConn(t)
	sock := &socketEntry{
		ifaceName: "lo-test",
		ifaceAddr: net.IPv4(127, 0, 0, 1),
		ifaceMask: net.CIDRMask(8, 32),
		unicast:   localConn,
	}
	e := &Engine{
		self:               identity.NewClusterIdentity(),
		sockets:            []*socketEntry{sock},
		addrMap:            addr.NewMap(),
		tables:             newTables(),
		metrics:            metrics.New("test"),
		processor:          processor,
		senderQueue:        make(chan *SendingMessage, 16),
		sentWaitQ:          newWaitQueue(),
		sentCompletedQ:     newWaitQueue(),
		receivedWaitQ:      newWaitQueue(),
		receivedCompletedQ: newWaitQueue(),
		done:               make(chan struct{}),
	}
	return e, localConn
}

func readFrame(t *testing.T, conn *net.UDPConn) (*wire.Frame, *net.UDPAddr) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, wire.RecvBufferSize)
	n, from, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	frame, err := wire.Decode(buf[:n])
	require.NoError(t, err)
	return frame, from
}

func TestEngineReassemblesAndSendsReceipt(t *testing.T) {
	t.Parallel()
	processed := make(chan []byte, 1)
	e, _ := newTestEngine(t, &capturingProcessor{ch: processed})
	remoteConn := newLoopbackConn(t)
	remoteAddr := remoteConn.LocalAddr().(*net.UDPAddr)

	senderCluster := identity.NewClusterIdentity()
	msgUUID := identity.NewUUID(senderCluster)
	header := wire.Header{MessageUUID: msgUUID, Destination: e.self, TotalSize: 10, ChunkSize: 5}

	frame0 := wire.EncodeChunk(header, 0, []byte("hello"))
	frame1 := wire.EncodeChunk(header, 1, []byte("world"))

	e.handleDatagram(frame0, remoteAddr, e.sockets[0])
	e.handleDatagram(frame1, remoteAddr, e.sockets[0])

	select {
	case payload := <-processed:
		require.Equal(t, "helloworld", string(payload))
	case <-time.After(time.Second):
		t.Fatal("processor was never invoked")
	}

	receipt, _ := readFrame(t, remoteConn)
	require.Equal(t, wire.TypeMessageReceipt, receipt.TypeNum)
	require.Equal(t, wire.ReceiptOK, receipt.ErrorCode)
}

func TestEngineUnknownUUIDElicitsNoLongerExists(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, &capturingProcessor{ch: make(chan []byte, 1)})
	remoteConn := newLoopbackConn(t)
	remoteAddr := remoteConn.LocalAddr().(*net.UDPAddr)

	unknown := identity.NewUUID(identity.NewClusterIdentity())
	header := wire.Header{MessageUUID: unknown, Destination: e.self}
	frame := wire.EncodeChunksNeeded(header, []uint32{0, 1})

	e.handleDatagram(frame, remoteAddr, e.sockets[0])

	reply, _ := readFrame(t, remoteConn)
	require.Equal(t, wire.TypeMessageNoLongerExists, reply.TypeNum)
	require.Equal(t, float64(1), testutil.ToFloat64(e.metrics.NoLongerExists))
}

func TestEngineChunksNeededTriggersResend(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, &capturingProcessor{ch: make(chan []byte, 1)})
	remoteConn := newLoopbackConn(t)
	remoteAddr := remoteConn.LocalAddr().(*net.UDPAddr)

	dest := identity.NewClusterIdentity()
	sm := NewSendingMessage(e.self, &dest, []byte("0123456789"), 5)
	e.tables.putSent(sm)
	e.addrMap.Record(dest, addr.FromUDPAddr(remoteAddr))

	header := wire.Header{MessageUUID: sm.UUID, Destination: dest}
	nack := wire.EncodeChunksNeeded(header, []uint32{1})
	e.handleDatagram(nack, remoteAddr, e.sockets[0])

	resent, _ := readFrame(t, remoteConn)
	require.Equal(t, wire.TypeMessageChunk, resent.TypeNum)
	require.Equal(t, uint32(1), resent.Index)
	require.Equal(t, "56789", string(resent.Payload))
}

func TestEngineReceiptMarksSuccessfullySent(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, &capturingProcessor{ch: make(chan []byte, 1)})
	remoteAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}

	dest := identity.NewClusterIdentity()
	sm := NewSendingMessage(e.self, &dest, []byte("hi"), 1024)
	e.tables.putSent(sm)
	sm.MarkWaitingForReceipt()

	header := wire.Header{MessageUUID: sm.UUID, Destination: dest}
	receipt := wire.EncodeReceipt(header, wire.ReceiptOK)
	e.handleDatagram(receipt, remoteAddr, e.sockets[0])

	require.Equal(t, SuccessfullySent, sm.Status())
}
