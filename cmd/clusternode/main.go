package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"clustertransport/cluster"
	"clustertransport/internal/identity"
)

// echoProcessor is a toy MessageProcessor: it logs every inbound
// ClusterMessage and, when -echo is set, bounces KindActor payloads
// straight back to the sender.
type echoProcessor struct {
	transport *cluster.Transport
	echo      bool
}

func (p *echoProcessor) ProcessMessage(from identity.ClusterIdentity, msg cluster.ClusterMessage) {
	log.Info().
		Str("from", from.Key()).
		Str("kind", msg.Kind.String()).
		Int("payload_bytes", len(msg.Payload)).
		Msg("received cluster message")

	if !p.echo || msg.Kind != cluster.KindActor {
		return
	}
	if _, err := p.transport.Send(from, cluster.ClusterMessage{Kind: cluster.KindActor, Payload: msg.Payload}); err != nil {
		log.Warn().Err(err).Msg("echo send failed")
	}
}

func main() {
	appName := flag.String("app-name", "clusternode", "Cluster application name")
	groupName := flag.String("group-name", "default", "Cluster group name")
	logLevel := flag.String("log-level", "info", "Log level: debug/info/warn/error")
	metricsAddr := flag.String("metrics-addr", ":2112", "Address to serve /metrics on")
	echo := flag.Bool("echo", false, "Echo received actor-kind messages back to the sender")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch *logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		log.Fatal().Str("level", *logLevel).Msg("invalid log level")
	}

	proc := &echoProcessor{echo: *echo}
	t, err := cluster.New(*appName, *groupName, proc, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start cluster transport")
	}
	proc.transport = t

	log.Info().
		Str("app", t.GetAppName()).
		Str("group", t.GetGroupName()).
		Str("cluster_id", t.GetClusterId().Key()).
		Str("metrics_addr", *metricsAddr).
		Msg("clusternode started")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(t.Metrics().Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	t.Shutdown()
}
