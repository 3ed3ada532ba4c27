// Package proxy ties the cluster session, parser, store and sinks together.
package proxy

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/saviobatista/dxcluster-proxy/internal/cluster"
	"github.com/saviobatista/dxcluster-proxy/internal/config"
	"github.com/saviobatista/dxcluster-proxy/internal/log"
	"github.com/saviobatista/dxcluster-proxy/internal/metrics"
	"github.com/saviobatista/dxcluster-proxy/internal/parser"
	"github.com/saviobatista/dxcluster-proxy/internal/stats"
	"github.com/saviobatista/dxcluster-proxy/internal/store"
	"github.com/saviobatista/dxcluster-proxy/internal/types"
)

const (
	sinkQueueSize   = 1000
	sinkTimeout     = 5 * time.Second
	archiveSinkName = "archive"
)

// SpotSink receives every spot accepted by the store
type SpotSink interface {
	Name() string
	PublishSpot(ctx context.Context, spot types.Spot) error
}

// LineArchive records every raw line received from the cluster
type LineArchive interface {
	WriteLine(line string) error
}

// Options carries the optional collaborators of a Proxy
type Options struct {
	Sinks     []SpotSink
	Archive   LineArchive
	StatsSink stats.Sink
	Dialer    cluster.Dialer
}

type sinkWorker struct {
	sink  SpotSink
	queue chan types.Spot
}

// Proxy is the process-wide context shared by the ingest path and the API
type Proxy struct {
	cfg     *config.Config
	parser  *parser.Parser
	store   *store.Store
	stats   *stats.Stats
	manager *cluster.Manager
	archive LineArchive
	workers []*sinkWorker
	logger  zerolog.Logger
}

// New builds a proxy from configuration. Nothing connects until Run.
func New(cfg *config.Config, opts Options) *Proxy {
	p := &Proxy{
		cfg:     cfg,
		parser:  parser.New(),
		store:   store.New(cfg.Retention),
		stats:   stats.New(),
		archive: opts.Archive,
		logger:  log.WithComponent("proxy"),
	}

	if opts.StatsSink != nil {
		p.stats.SetSink(opts.StatsSink)
	}

	for _, sink := range opts.Sinks {
		p.workers = append(p.workers, &sinkWorker{
			sink:  sink,
			queue: make(chan types.Spot, sinkQueueSize),
		})
	}

	p.manager = cluster.NewManager(
		ClusterConfig(cfg),
		cluster.NewRegistry(cfg.Nodes),
		opts.Dialer,
		p.HandleLine,
		cluster.Hooks{
			OnConnected: func(types.Node) {
				p.stats.IncrementConnects()
			},
			OnDisconnected: func(types.Node, error) {
				p.stats.IncrementDisconnects()
			},
		},
	)

	return p
}

// ClusterConfig maps application configuration onto the session settings
func ClusterConfig(cfg *config.Config) cluster.Config {
	cc := cluster.DefaultConfig()
	cc.Callsign = cfg.Callsign
	cc.HistoryCommand = cfg.HistoryCommand
	cc.HistoryCount = cfg.HistoryCount
	cc.SubscribeCommand = cfg.SubscribeCommand
	cc.ReconnectDelay = cfg.ReconnectDelay
	cc.MaxAttemptsPerNode = cfg.MaxAttempts
	cc.DialTimeout = cfg.DialTimeout
	cc.IdleTimeout = cfg.IdleTimeout
	cc.KeepaliveInterval = cfg.KeepaliveInterval
	return cc
}

// Manager returns the cluster session manager
func (p *Proxy) Manager() *cluster.Manager {
	return p.manager
}

// Store returns the spot store
func (p *Proxy) Store() *store.Store {
	return p.store
}

// Stats returns the ingest statistics
func (p *Proxy) Stats() *stats.Stats {
	return p.stats
}

// Run connects to the cluster and runs the cleanup, statistics and sink
// loops until ctx is cancelled
func (p *Proxy) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, w := range p.workers {
		g.Go(func() error {
			p.runSink(ctx, w)
			return nil
		})
	}

	g.Go(func() error {
		p.runCleanup(ctx, p.cfg.CleanupInterval)
		return nil
	})

	g.Go(func() error {
		p.stats.StartPersistence(ctx, p.cfg.StatsInterval)
		return nil
	})

	g.Go(func() error {
		return p.manager.Run(ctx)
	})

	p.logger.Info().
		Str("callsign", p.cfg.Callsign).
		Int("nodes", p.manager.Registry().Len()).
		Int("sinks", len(p.workers)).
		Dur("retention", p.cfg.Retention).
		Msg("Proxy started")

	return g.Wait()
}

// HandleLine processes one line from the cluster. Lines are handled in the
// order they were read.
func (p *Proxy) HandleLine(line string) {
	p.stats.IncrementTotalLines()
	metrics.LinesReceived.Inc()

	if p.archive != nil {
		if err := p.archive.WriteLine(line); err != nil {
			p.sinkFailed(archiveSinkName, err)
		}
	}

	if !parser.IsSpotLine(line) {
		return
	}
	p.stats.IncrementSpotLines()

	spot := p.parser.Parse(line)
	if spot == nil {
		p.stats.IncrementRejectedLines()
		metrics.LinesRejected.Inc()
		return
	}

	stored, ok := p.store.Insert(*spot)
	if !ok {
		p.stats.IncrementDuplicateSpots()
		metrics.SpotsDuplicate.Inc()
		return
	}

	p.stats.IncrementStoredSpots()
	metrics.SpotsAccepted.Inc()
	metrics.SpotsByBand.WithLabelValues(store.Band(stored.FreqKHz)).Inc()
	metrics.SpotsHeld.Set(float64(p.store.Len()))

	p.logger.Debug().
		Str("spotter", stored.Spotter).
		Str("dx", stored.DXCall).
		Str("freq", stored.Freq).
		Str("mode", string(stored.Mode)).
		Msg("Spot stored")

	p.dispatch(stored)
}

// Sweep evicts spots older than the retention window
func (p *Proxy) Sweep() int {
	removed := p.store.Evict()
	if removed > 0 {
		p.stats.AddEvictedSpots(removed)
		metrics.SpotsEvicted.Add(float64(removed))
		p.logger.Debug().Int("removed", removed).Int("held", p.store.Len()).Msg("Evicted expired spots")
	}
	metrics.SpotsHeld.Set(float64(p.store.Len()))
	return removed
}

func (p *Proxy) runCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}

func (p *Proxy) dispatch(spot types.Spot) {
	for _, w := range p.workers {
		select {
		case w.queue <- spot:
		default:
			metrics.SinkErrors.WithLabelValues(w.sink.Name()).Inc()
			p.stats.IncrementSinkErrors()
			p.logger.Warn().Str("sink", w.sink.Name()).Str("dx", spot.DXCall).Msg("Sink queue full, dropping spot")
		}
	}
}

func (p *Proxy) runSink(ctx context.Context, w *sinkWorker) {
	for {
		select {
		case <-ctx.Done():
			return
		case spot := <-w.queue:
			sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
			err := w.sink.PublishSpot(sctx, spot)
			cancel()
			if err != nil {
				p.sinkFailed(w.sink.Name(), err)
			}
		}
	}
}

func (p *Proxy) sinkFailed(name string, err error) {
	p.stats.IncrementSinkErrors()
	metrics.SinkErrors.WithLabelValues(name).Inc()
	p.logger.Warn().Err(err).Str("sink", name).Msg("Sink delivery failed")
}
