package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/saviobatista/dxcluster-proxy/internal/config"
	"github.com/saviobatista/dxcluster-proxy/internal/db"
	"github.com/saviobatista/dxcluster-proxy/internal/httpapi"
	"github.com/saviobatista/dxcluster-proxy/internal/log"
	"github.com/saviobatista/dxcluster-proxy/internal/nats"
	"github.com/saviobatista/dxcluster-proxy/internal/proxy"
	"github.com/saviobatista/dxcluster-proxy/internal/redis"
	"github.com/saviobatista/dxcluster-proxy/internal/storage"
)

// sinks holds the optional downstream clients enabled by configuration
type sinks struct {
	nats    *nats.Client
	redis   *redis.Client
	db      *db.Client
	archive *storage.Storage
}

// createSinks connects every sink that has an address configured. On error
// the sinks created so far are closed.
func createSinks(ctx context.Context, cfg *config.Config) (*sinks, error) {
	s := &sinks{}

	if cfg.NATSURL != "" {
		client, err := nats.New(cfg.NATSURL, cfg.Retention)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to create NATS client: %w", err)
		}
		s.nats = client
	}

	if cfg.RedisAddr != "" {
		client, err := redis.New(cfg.RedisAddr, cfg.Retention)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
		s.redis = client
	}

	if cfg.DBConnStr != "" {
		client, err := db.New(cfg.DBConnStr)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to create database client: %w", err)
		}
		s.db = client
		if err := client.Ping(ctx); err != nil {
			s.close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	}

	if cfg.RawLogDir != "" {
		archive := storage.New(cfg.RawLogDir)
		if err := archive.Start(); err != nil {
			s.close()
			return nil, fmt.Errorf("failed to start raw line archive: %w", err)
		}
		s.archive = archive
	}

	return s, nil
}

// options maps the enabled sinks onto proxy collaborators
func (s *sinks) options() proxy.Options {
	var opts proxy.Options
	if s.nats != nil {
		opts.Sinks = append(opts.Sinks, s.nats)
	}
	if s.redis != nil {
		opts.Sinks = append(opts.Sinks, s.redis)
	}
	if s.db != nil {
		opts.Sinks = append(opts.Sinks, s.db)
		opts.StatsSink = s.db
	}
	if s.archive != nil {
		opts.Archive = s.archive
	}
	return opts
}

func (s *sinks) close() {
	logger := log.WithComponent("main")

	if s.nats != nil {
		s.nats.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error closing Redis client")
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error closing database client")
		}
	}
	if s.archive != nil {
		if err := s.archive.Stop(); err != nil {
			logger.Warn().Err(err).Msg("Error closing raw line archive")
		}
	}
}

// attach enables the API routes backed by configured sinks
func (s *sinks) attach(server *httpapi.Server) {
	if s.redis != nil {
		server.SetSpotLookup(s.redis)
	}
	if s.db != nil {
		server.SetStatsHistory(s.db)
	}
}

// run starts the proxy and the HTTP API and blocks until ctx is cancelled
func run(ctx context.Context, cfg *config.Config) error {
	logger := log.WithComponent("main")

	s, err := createSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	p := proxy.New(cfg, s.options())

	server := httpapi.NewServer(fmt.Sprintf(":%d", cfg.Port), p.Manager(), p.Store(), p.Stats())
	s.attach(server)
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down...")
		if err := server.Stop(); err != nil {
			logger.Warn().Err(err).Msg("Error stopping HTTP server")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger := log.WithComponent("main")
		logger.Error().Err(err).Msg("Proxy failed")
		stop()
		os.Exit(1)
	}
}
