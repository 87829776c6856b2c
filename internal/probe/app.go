// Package probe is the kafka-probe application: it keeps a transport open to
// one broker, performs a periodic ApiVersions round-trip over it, and exposes
// the outcome through logs, metrics, and the readiness endpoint.
package probe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/dbranscombe/kafka-net/certstore"
	"github.com/dbranscombe/kafka-net/httpserver"
	"github.com/dbranscombe/kafka-net/kafka"
	"github.com/dbranscombe/kafka-net/logger"
	"github.com/dbranscombe/kafka-net/transport"
)

var probeMetrics = struct {
	RoundTrips *prometheus.CounterVec
	Latency    prometheus.Histogram
}{
	RoundTrips: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kafkanet", Subsystem: "probe", Name: "round_trips_total",
			Help: "Probe round-trips by outcome",
		},
		[]string{"status"},
	),
	Latency: promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kafkanet", Subsystem: "probe", Name: "round_trip_seconds",
		Help:    "Probe round-trip latency (seconds)",
		Buckets: prometheus.DefBuckets,
	}),
}

// Run wires everything together and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg *Config, log *logger.Logger) error {
	endpoint, err := transport.ResolveEndpoint(cfg.Broker.Host, cfg.Broker.Port)
	if err != nil {
		return err
	}

	opts := cfg.Transport
	if cfg.TLS.Enabled {
		tlsOpts, err := buildTLSOptions(cfg.TLS)
		if err != nil {
			return err
		}
		opts.TLS = tlsOpts
	}

	tr, err := transport.New(endpoint, opts, log)
	if err != nil {
		return fmt.Errorf("transport init: %w", err)
	}
	defer tr.Close()

	// The event hooks are the transport's observability surface; the probe
	// forwards them to logs (disconnects at Warn, the rest at Debug).
	tr.OnServerDisconnected(func() { log.Warn("probe: broker disconnected") })
	tr.OnReconnectionAttempt(func(n int) { log.Debug("probe: reconnect attempt", zap.Int("attempt", n)) })
	tr.OnWriteToSocketAttempt(func(p transport.Payload) {
		log.Debug("probe: write attempt",
			zap.Stringer("api_key", p.APIKey),
			zap.Int32("correlation_id", p.CorrelationID),
			zap.Int("bytes", len(p.Buffer)))
	})
	tr.OnBytesReceived(func(n int) { log.Debug("probe: bytes received", zap.Int("n", n)) })

	var lastSuccess atomic.Int64
	ready := func() error {
		last := lastSuccess.Load()
		if last == 0 {
			return fmt.Errorf("no successful round-trip yet")
		}
		if age := time.Since(time.Unix(0, last)); age > 3*cfg.Interval {
			return fmt.Errorf("last successful round-trip %v ago", age)
		}
		return nil
	}
	srv, err := httpserver.New(cfg.HTTP, ready, log)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := srv.Start(ctx); err != nil {
			log.Error("probe: http server", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		runProbeLoop(ctx, cfg, tr, &lastSuccess, log)
	}()
	wg.Wait()
	return nil
}

func runProbeLoop(ctx context.Context, cfg *Config, tr *transport.Transport, lastSuccess *atomic.Int64, log *logger.Logger) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	var correlationID int32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		correlationID++
		start := time.Now()
		err := roundTrip(ctx, tr, cfg.ClientID, correlationID)
		if err != nil {
			probeMetrics.RoundTrips.WithLabelValues("error").Inc()
			log.Warn("probe: round-trip failed", zap.Int32("correlation_id", correlationID), zap.Error(err))
			continue
		}
		probeMetrics.RoundTrips.WithLabelValues("ok").Inc()
		probeMetrics.Latency.Observe(time.Since(start).Seconds())
		lastSuccess.Store(time.Now().UnixNano())
		log.Info("probe: round-trip ok",
			zap.Int32("correlation_id", correlationID),
			zap.Duration("latency", time.Since(start)))
	}
}

// roundTrip drives one ApiVersions exchange through the transport the way
// any protocol layer would: write the frame, read the 4-byte size, read
// exactly that many bytes.
func roundTrip(ctx context.Context, tr *transport.Transport, clientID string, correlationID int32) error {
	frame := encodeApiVersionsRequest(clientID, correlationID)
	wf, err := tr.WriteAsync(ctx, transport.Payload{
		Buffer:        frame,
		CorrelationID: correlationID,
		APIKey:        kafka.ApiVersions,
		MessageCount:  1,
	})
	if err != nil {
		return err
	}
	if _, err := wf.Await(ctx); err != nil {
		return err
	}

	hf, err := tr.ReadAsync(ctx, 4)
	if err != nil {
		return err
	}
	header, err := hf.Await(ctx)
	if err != nil {
		return err
	}
	size, err := parseResponseSize(header)
	if err != nil {
		return err
	}

	bf, err := tr.ReadAsync(ctx, size)
	if err != nil {
		return err
	}
	body, err := bf.Await(ctx)
	if err != nil {
		return err
	}
	return checkCorrelation(body, correlationID)
}

func buildTLSOptions(cfg TLSConfig) (*transport.TLSOptions, error) {
	opts := &transport.TLSOptions{
		ClientCertRef:             cfg.ClientCertRef,
		FriendlyName:              cfg.FriendlyName,
		Password:                  cfg.Password,
		AllowSelfSignedServerCert: cfg.AllowSelfSignedServerCert,
		SelfSignedTrainMode:       cfg.SelfSignedTrainMode,
	}
	if cfg.StoreDir != "" {
		store, err := certstore.NewFileStore(cfg.StoreDir)
		if err != nil {
			return nil, err
		}
		opts.Certs = store
	}
	if cfg.TrustedPeersDir != "" {
		peers, err := certstore.NewPeerDir(cfg.TrustedPeersDir)
		if err != nil {
			return nil, err
		}
		opts.TrustedPeers = peers
	}
	return opts, nil
}
