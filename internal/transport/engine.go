// Package transport implements the reliable chunked datagram protocol
// and its concurrent message-lifecycle engine: the six workers of spec
// §2, the SendingMessage/ReceivingMessage state machines of spec §3,
// and the wire demultiplexer of spec §4.4.
package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"clustertransport/internal/addr"
	"clustertransport/internal/identity"
	"clustertransport/internal/metrics"
	"clustertransport/internal/wire"
)

// Processor is the narrow upstream dispatch interface (spec §6):
// "processMessage(clusterMessage)". It is invoked on a Receiver
// goroutine and must not block for long.
type Processor interface {
	Process(from identity.ClusterIdentity, payload []byte)
}

// Engine is the running transport instance for one (appName, groupName)
// pair: sockets, address map, in-flight tables, and the six workers.
type Engine struct {
	self    identity.ClusterIdentity
	sockets []*socketEntry

	addrMap *addr.Map
	tables  *tables
	metrics *metrics.Collector

	processor Processor

	senderQueue chan *SendingMessage

	sentWaitQ          *waitQueue
	sentCompletedQ     *waitQueue
	receivedWaitQ      *waitQueue
	receivedCompletedQ *waitQueue

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewEngine discovers sockets on every non-loopback interface and
// starts the six workers described in spec §2.
func NewEngine(processor Processor, collector *metrics.Collector) (*Engine, error) {
	sockets, err := discoverSockets()
	if err != nil {
		return nil, err
	}
	if len(sockets) == 0 {
		return nil, errors.New("transport: no usable non-loopback IPv4 interface")
	}

	e := &Engine{
		self:               identity.NewClusterIdentity(),
		sockets:            sockets,
		addrMap:            addr.NewMap(),
		tables:             newTables(),
		metrics:            collector,
		processor:          processor,
		senderQueue:        make(chan *SendingMessage, 1024),
		sentWaitQ:          newWaitQueue(),
		sentCompletedQ:     newWaitQueue(),
		receivedWaitQ:      newWaitQueue(),
		receivedCompletedQ: newWaitQueue(),
		done:               make(chan struct{}),
	}
	e.start()
	return e, nil
}

func (e *Engine) start() {
	for _, s := range e.sockets {
		e.wg.Add(2)
		go e.receiveLoop(s, s.unicast)
		go e.receiveLoop(s, s.broadcast)
	}
	e.wg.Add(5)
	go e.senderLoop()
	go e.sentWaitingProcessorLoop()
	go e.sentCompletedCleanerLoop()
	go e.receivedWaitingProcessorLoop()
	go e.receivedCompletedCleanerLoop()

	e.wg.Add(1)
	go e.metricsLoop()

	log.Info().
		Str("self", e.self.Key()).
		Int("interfaces", len(e.sockets)).
		Msg("transport engine started")
}

// Shutdown closes every socket and signals all workers to exit. No
// graceful drain is promised (spec §5): in-flight retries are dropped.
func (e *Engine) Shutdown() {
	e.closeOnce.Do(func() {
		close(e.done)
		closeSockets(e.sockets)
	})
	e.wg.Wait()
	log.Info().Str("self", e.self.Key()).Msg("transport engine stopped")
}

func (e *Engine) SelfID() identity.ClusterIdentity {
	return e.self
}

// Send enqueues payload for delivery to dest (unicast) or to everyone
// (dest == nil, broadcast). Serialization of the application payload is
// the caller's responsibility (spec §6).
func (e *Engine) Send(dest *identity.ClusterIdentity, payload []byte) (identity.UUID, error) {
	sm := NewSendingMessage(e.self, dest, payload, wire.SendingChunkSize)
	e.tables.putSent(sm)
	select {
	case e.senderQueue <- sm:
	case <-e.done:
		return sm.UUID, errors.New("transport: engine is shutting down")
	}
	return sm.UUID, nil
}

// --- Sender ---

func (e *Engine) senderLoop() {
	defer e.wg.Done()
	for {
		select {
		case sm := <-e.senderQueue:
			if sm.Status() != NotSent {
				continue
			}
			e.transmitAllChunks(sm)
			e.markSentAndWait(sm)
		case <-e.done:
			return
		}
	}
}

func (e *Engine) resolveRoute(dest *identity.ClusterIdentity) (*addr.UDPAddress, *socketEntry) {
	if dest == nil {
		return nil, nil
	}
	a, ok := e.addrMap.PreferredAddress(*dest)
	if !ok {
		return nil, nil
	}
	sock := socketForTarget(e.sockets, net.ParseIP(a.IP))
	if sock == nil {
		return nil, nil
	}
	return &a, sock
}

func (e *Engine) sendFrame(frame []byte, dest *addr.UDPAddress, sock *socketEntry) {
	if dest != nil && sock != nil {
		if _, err := sock.unicast.WriteToUDP(frame, dest.ToUDPAddr()); err != nil {
			log.Warn().Err(err).Str("dest", dest.String()).Msg("udp write failed")
		}
		return
	}
	// No resolved unicast route (or a genuine broadcast message): flood
	// every interface's broadcast address, per spec §4.3.
	for _, s := range e.sockets {
		bcast := &net.UDPAddr{IP: s.broadcastIP, Port: wire.BroadcastPort}
		if _, err := s.unicast.WriteToUDP(frame, bcast); err != nil {
			log.Warn().Err(err).Str("iface", s.ifaceName).Msg("udp broadcast write failed")
		}
	}
}

func (e *Engine) chunkHeader(sm *SendingMessage) wire.Header {
	h := wire.Header{MessageUUID: sm.UUID, TotalSize: sm.TotalSize, ChunkSize: sm.ChunkSize}
	if sm.Destination != nil {
		h.Destination = *sm.Destination
	}
	return h
}

func (e *Engine) transmitAllChunks(sm *SendingMessage) {
	dest, sock := e.resolveRoute(sm.Destination)
	header := e.chunkHeader(sm)
	total := sm.TotalChunks()
	for i := uint32(0); i < total; i++ {
		frame := wire.EncodeChunk(header, i, sm.ChunkAt(i))
		e.sendFrame(frame, dest, sock)
		e.metrics.ChunksSent.Inc()
	}
}

func (e *Engine) markSentAndWait(sm *SendingMessage) {
	if sm.Destination == nil {
		sm.MarkBroadcastSent()
		e.sentCompletedQ.Push(newWaitEntry(sm.UUID.Key(), sm.WaitTill()))
		return
	}
	entry := sm.MarkWaitingForReceipt()
	e.sentWaitQ.Push(entry)
}

func (e *Engine) resend(sm *SendingMessage, indices []uint32) {
	dest, sock := e.resolveRoute(sm.Destination)
	header := e.chunkHeader(sm)
	total := sm.TotalChunks()
	for _, idx := range indices {
		if idx >= total {
			continue
		}
		frame := wire.EncodeChunk(header, idx, sm.ChunkAt(idx))
		e.sendFrame(frame, dest, sock)
		e.metrics.ChunksSent.Inc()
	}
}

func (e *Engine) sendReceiptRequest(sm *SendingMessage) {
	dest, sock := e.resolveRoute(sm.Destination)
	frame := wire.EncodeReceiptRequest(e.chunkHeader(sm))
	e.sendFrame(frame, dest, sock)
}

// --- SentWaitingProcessor / SentCompletedCleaner ---

func (e *Engine) sentWaitingProcessorLoop() {
	defer e.wg.Done()
	for {
		entry, ok := e.sentWaitQ.Next(e.done, wire.PollTimeout)
		if !ok {
			return
		}
		sm, found := e.tables.getSent(entry.key)
		if !found {
			continue
		}
		newEntry, shouldRetry := sm.Retry()
		if !shouldRetry {
			if sm.RetriesExhausted() {
				e.tables.deleteSent(entry.key)
				e.metrics.SendRetryExhausted.Inc()
				log.Warn().Str("uuid", entry.key).Msg("sending message abandoned: receipt retries exhausted")
			}
			continue
		}
		e.sentWaitQ.Push(newEntry)
		e.sendReceiptRequest(sm)
	}
}

func (e *Engine) sentCompletedCleanerLoop() {
	defer e.wg.Done()
	for {
		entry, ok := e.sentCompletedQ.Next(e.done, wire.PollTimeout)
		if !ok {
			return
		}
		sm, found := e.tables.getSent(entry.key)
		if !found {
			continue
		}
		if sm.Status() == SuccessfullySent {
			e.tables.deleteSent(entry.key)
		}
	}
}

// --- Receiver ---

func (e *Engine) receiveLoop(sockEntry *socketEntry, conn *net.UDPConn) {
	defer e.wg.Done()
	buf := make([]byte, wire.RecvBufferSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.done:
				return
			default:
				log.Debug().Err(err).Str("iface", sockEntry.ifaceName).Msg("udp read error")
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		e.handleDatagram(data, from, sockEntry)
	}
}

func (e *Engine) handleDatagram(data []byte, from *net.UDPAddr, sourceSocket *socketEntry) {
	frame, err := wire.Decode(data)
	if err != nil {
		e.metrics.ParseErrors.Inc()
		log.Debug().Err(err).Str("from", from.String()).Msg("dropping unparseable datagram")
		return
	}

	switch frame.TypeNum {
	case wire.TypeMessageChunk, wire.TypeMessageReceiptRequest, wire.TypeMessageNoLongerExists:
		e.handleReceiveSideFrame(frame, from, sourceSocket)
	case wire.TypeMessageReceipt, wire.TypeMessageChunksNeeded, wire.TypeMessageChunkRangesNeeded:
		e.handleSendSideFrame(frame, from, sourceSocket)
	default:
		e.metrics.ParseErrors.Inc()
		log.Debug().Uint8("type", frame.Header.Type).Msg("dropping frame of unknown type")
	}
}

// handleReceiveSideFrame dispatches types 1, 2, 6 (spec §4.4 step 2).
func (e *Engine) handleReceiveSideFrame(frame *wire.Frame, from *net.UDPAddr, sourceSocket *socketEntry) {
	senderID := frame.Header.MessageUUID.Cluster
	e.addrMap.Record(senderID, addr.FromUDPAddr(from))

	isBroadcast := frame.Header.Destination.IsZero()
	if !isBroadcast && frame.Header.Destination != e.self {
		return // addressed to some other cluster member
	}

	var destPtr *identity.ClusterIdentity
	if !isBroadcast {
		d := frame.Header.Destination
		destPtr = &d
	}

	key := frame.Header.MessageUUID.Key()
	rm, created := e.tables.getOrCreateReceived(key, func() *ReceivingMessage {
		return NewReceivingMessage(frame.Header.MessageUUID, destPtr, frame.Header.TotalSize, frame.Header.ChunkSize)
	})
	if created {
		e.receivedWaitQ.Push(rm.WaitEntry())
	}

	switch frame.TypeNum {
	case wire.TypeMessageChunk:
		e.metrics.ChunksReceived.Inc()
		e.handleChunk(rm, frame, from, sourceSocket, key)
	case wire.TypeMessageReceiptRequest:
		if isBroadcast {
			return // receipt requests are only meaningful for a unicast destination
		}
		e.handleReceiptRequest(rm, from, sourceSocket)
	case wire.TypeMessageNoLongerExists:
		log.Info().Str("uuid", key).Str("from", from.String()).Msg("peer reports our receiving context no longer exists")
	}
}

func (e *Engine) handleChunk(rm *ReceivingMessage, frame *wire.Frame, from *net.UDPAddr, sourceSocket *socketEntry, key string) {
	complete := rm.WriteChunk(frame.Index, frame.Payload)
	if !complete {
		return
	}
	rm.MarkComplete()
	e.processMessageOnce(rm, from, sourceSocket)
	e.receivedCompletedQ.Push(newWaitEntry(key, rm.WaitTill()))
}

func (e *Engine) handleReceiptRequest(rm *ReceivingMessage, from *net.UDPAddr, sourceSocket *socketEntry) {
	if rm.IsComplete() {
		e.sendReceipt(rm, from, sourceSocket, wire.ReceiptOK)
		return
	}
	e.sendChunksNeeded(rm, from, sourceSocket)
}

func (e *Engine) receivingHeader(rm *ReceivingMessage) wire.Header {
	h := wire.Header{MessageUUID: rm.UUID, TotalSize: rm.TotalSize, ChunkSize: rm.ChunkSize}
	if rm.Destination != nil {
		h.Destination = *rm.Destination
	}
	return h
}

func (e *Engine) sendReceipt(rm *ReceivingMessage, to *net.UDPAddr, sourceSocket *socketEntry, code uint16) {
	frame := wire.EncodeReceipt(e.receivingHeader(rm), code)
	if _, err := sourceSocket.unicast.WriteToUDP(frame, to); err != nil {
		log.Warn().Err(err).Str("to", to.String()).Msg("failed to send receipt")
	}
	e.metrics.ReceiptsSent.Inc()
}

func (e *Engine) sendChunksNeeded(rm *ReceivingMessage, to *net.UDPAddr, sourceSocket *socketEntry) {
	missing := rm.MissingIndices()
	header := e.receivingHeader(rm)
	for _, window := range wire.SplitMissingIndices(missing) {
		frame := wire.EncodeChunksNeeded(header, window)
		if _, err := sourceSocket.unicast.WriteToUDP(frame, to); err != nil {
			log.Warn().Err(err).Str("to", to.String()).Msg("failed to send chunks-needed")
		}
		e.metrics.NacksSent.Inc()
	}
}

// processMessageOnce runs the at-most-once dispatch to the upstream
// Processor and, for unicast messages, sends the completion receipt
// (spec §4.4 "processMessageOnce").
func (e *Engine) processMessageOnce(rm *ReceivingMessage, from *net.UDPAddr, sourceSocket *socketEntry) {
	rm.ProcessOnce(func(payload []byte) {
		e.processor.Process(rm.UUID.Cluster, payload)
	})
	if rm.Destination != nil {
		e.sendReceipt(rm, from, sourceSocket, wire.ReceiptOK)
	}
}

// handleSendSideFrame dispatches types 3, 4, 5 (spec §4.4 step 3).
func (e *Engine) handleSendSideFrame(frame *wire.Frame, from *net.UDPAddr, sourceSocket *socketEntry) {
	key := frame.Header.MessageUUID.Key()
	sm, found := e.tables.getSent(key)
	if !found {
		e.sendNoLongerExists(frame.Header, from, sourceSocket)
		return
	}

	switch frame.TypeNum {
	case wire.TypeMessageReceipt:
		e.metrics.ReceiptsReceived.Inc()
		sm.MarkReceiptReceived()
		e.sentCompletedQ.Push(newWaitEntry(key, sm.WaitTill()))
	case wire.TypeMessageChunksNeeded:
		e.metrics.NacksReceived.Inc()
		e.resend(sm, frame.Indices)
	case wire.TypeMessageChunkRangesNeeded:
		e.metrics.NacksReceived.Inc()
		e.resend(sm, expandRanges(frame.Ranges))
	}
}

func (e *Engine) sendNoLongerExists(header wire.Header, to *net.UDPAddr, sourceSocket *socketEntry) {
	frame := wire.EncodeNoLongerExists(header)
	if _, err := sourceSocket.unicast.WriteToUDP(frame, to); err != nil {
		log.Warn().Err(err).Str("to", to.String()).Msg("failed to send no-longer-exists")
	}
	e.metrics.NoLongerExists.Inc()
}

func expandRanges(ranges [][2]uint32) []uint32 {
	var out []uint32
	for _, r := range ranges {
		for i := r[0]; i <= r[1]; i++ {
			out = append(out, i)
		}
	}
	return out
}

// --- ReceivedWaitingProcessor / ReceivedCompletedCleaner ---

func (e *Engine) receivedWaitingProcessorLoop() {
	defer e.wg.Done()
	for {
		entry, ok := e.receivedWaitQ.Next(e.done, wire.PollTimeout)
		if !ok {
			return
		}
		rm, found := e.tables.getReceived(entry.key)
		if !found {
			continue
		}
		newEntry, shouldRetry := rm.Retry()
		if !shouldRetry {
			if rm.RetriesExhausted() {
				e.tables.deleteReceived(entry.key)
				e.metrics.ReceiveRetryExhausted.Inc()
				log.Warn().Str("uuid", entry.key).Msg("receiving message abandoned: chunk retries exhausted")
			}
			continue
		}
		e.receivedWaitQ.Push(newEntry)
		e.requestMissingChunks(rm)
	}
}

func (e *Engine) requestMissingChunks(rm *ReceivingMessage) {
	a, sock := e.resolveRoute(&rm.UUID.Cluster)
	if a == nil || sock == nil {
		log.Warn().Str("uuid", rm.UUID.Key()).Msg("cannot request missing chunks: no resolved route to sender")
		return
	}
	missing := rm.MissingIndices()
	header := e.receivingHeader(rm)
	for _, window := range wire.SplitMissingIndices(missing) {
		frame := wire.EncodeChunksNeeded(header, window)
		e.sendFrame(frame, a, sock)
		e.metrics.NacksSent.Inc()
	}
}

func (e *Engine) receivedCompletedCleanerLoop() {
	defer e.wg.Done()
	for {
		entry, ok := e.receivedCompletedQ.Next(e.done, wire.PollTimeout)
		if !ok {
			return
		}
		rm, found := e.tables.getReceived(entry.key)
		if !found {
			continue
		}
		if rm.Status() == SuccessfullyReceived {
			e.tables.deleteReceived(entry.key)
		}
	}
}

// --- metrics gauges ---

func (e *Engine) metricsLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.metrics.SentTableSize.Set(float64(e.tables.sentCount()))
			e.metrics.ReceivedTableSize.Set(float64(e.tables.receivedCount()))
			e.metrics.SentWaitQueueDepth.Set(float64(e.sentWaitQ.Len()))
			e.metrics.SentCompletedQueueDepth.Set(float64(e.sentCompletedQ.Len()))
			e.metrics.ReceivedWaitQueueDepth.Set(float64(e.receivedWaitQ.Len()))
			e.metrics.ReceivedCompletedQueueDepth.Set(float64(e.receivedCompletedQ.Len()))
		case <-e.done:
			return
		}
	}
}
