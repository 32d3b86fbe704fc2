// Package cluster is the public API: a reliable best-effort message bus
// across a set of UDP-reachable processes, built on the chunked-datagram
// engine in internal/transport. Callers get a Transport, a
// MessageProcessor callback, and an optional ActorRegistry for routing.
package cluster

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"clustertransport/internal/identity"
	"clustertransport/internal/metrics"
	"clustertransport/internal/transport"
)

// MessageProcessor is the upstream dispatch callback invoked once per
// fully-reassembled inbound ClusterMessage (spec §6a). Implementations
// should return quickly; slow work belongs on its own goroutine.
type MessageProcessor interface {
	ProcessMessage(from identity.ClusterIdentity, msg ClusterMessage)
}

// Transport is a running cluster membership labelled (appName, groupName).
// The pair names the instance and its metrics namespace; it is not carried
// on the wire, so every transport reachable over broadcast-capable
// interfaces is a peer, whatever pair it was started with.
type Transport struct {
	appName   string
	groupName string

	engine   *transport.Engine
	metrics  *metrics.Collector
	registry ActorRegistry
}

type processorAdapter struct {
	upstream MessageProcessor
	registry ActorRegistry
}

func (p *processorAdapter) Process(from identity.ClusterIdentity, payload []byte) {
	var msg ClusterMessage
	if err := msg.UnmarshalBinary(payload); err != nil {
		log.Warn().Err(err).Str("from", from.Key()).Msg("dropping malformed cluster message")
		return
	}
	RouteToActors(p.registry, from, msg)
	if p.upstream != nil {
		p.upstream.ProcessMessage(from, msg)
	}
}

// New starts a Transport for (appName, groupName). If registry is nil, a
// fresh InMemoryActorRegistry is used; pass a registry you keep a
// reference to if you need to Register actors before messages arrive.
func New(appName, groupName string, processor MessageProcessor, registry ActorRegistry) (*Transport, error) {
	if registry == nil {
		registry = NewInMemoryActorRegistry()
	}
	collector := metrics.New(metricsNamespace(appName, groupName))

	adapter := &processorAdapter{upstream: processor, registry: registry}
	engine, err := transport.NewEngine(adapter, collector)
	if err != nil {
		return nil, fmt.Errorf("cluster: start transport: %w", err)
	}

	return &Transport{
		appName:   appName,
		groupName: groupName,
		engine:    engine,
		metrics:   collector,
		registry:  registry,
	}, nil
}

func metricsNamespace(appName, groupName string) string {
	return "cluster_" + sanitize(appName) + "_" + sanitize(groupName)
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "cluster"
	}
	return string(out)
}

func (t *Transport) GetAppName() string   { return t.appName }
func (t *Transport) GetGroupName() string { return t.groupName }

// GetClusterId returns this process's ClusterIdentity, stable for the
// life of the process (spec Glossary).
func (t *Transport) GetClusterId() identity.ClusterIdentity {
	return t.engine.SelfID()
}

// Metrics exposes the Prometheus registry backing this Transport, for a
// host binary to serve over /metrics.
func (t *Transport) Metrics() *metrics.Collector {
	return t.metrics
}

// Registry returns the ActorRegistry this Transport routes inbound
// Targeted messages through.
func (t *Transport) Registry() ActorRegistry {
	return t.registry
}

// Send delivers msg to a single destination identity.
func (t *Transport) Send(dest identity.ClusterIdentity, msg ClusterMessage) (identity.UUID, error) {
	payload, err := msg.MarshalBinary()
	if err != nil {
		return identity.UUID{}, fmt.Errorf("cluster: marshal message: %w", err)
	}
	return t.engine.Send(&dest, payload)
}

// SendAll broadcasts msg to every reachable peer, with no receipt
// tracking (spec §3 invariant c): the message is marked sent as soon as
// it leaves the wire.
func (t *Transport) SendAll(msg ClusterMessage) (identity.UUID, error) {
	payload, err := msg.MarshalBinary()
	if err != nil {
		return identity.UUID{}, fmt.Errorf("cluster: marshal message: %w", err)
	}
	return t.engine.Send(nil, payload)
}

// SendAllWithId broadcasts msg addressed to a single actor UUID: every
// peer receives it, but ActorRegistry routing (RouteToActors) delivers
// it only to the addressed actor, skipping a unicast round trip to
// discover which peer currently hosts it.
func (t *Transport) SendAllWithId(id identity.UUID, msg ClusterMessage) (identity.UUID, error) {
	msg.Kind = KindTargetedByUUID
	msg.TargetUUID = id
	return t.SendAll(msg)
}

// Shutdown stops every worker and closes every socket. Not graceful:
// in-flight retries are dropped (spec §5).
func (t *Transport) Shutdown() {
	t.engine.Shutdown()
}
