// Package nats publishes accepted spots to a JetStream stream.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/saviobatista/dxcluster-proxy/internal/log"
	"github.com/saviobatista/dxcluster-proxy/internal/types"
)

const (
	SubjectSpots = "dxcluster.spots"
	StreamSpots  = "DX_SPOTS"

	// SinkName identifies this sink in logs and metrics
	SinkName = "nats"
)

// Client represents a NATS client
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New connects to NATS and ensures the spot stream exists
func New(url string, maxAge time.Duration) (*Client, error) {
	logger := log.WithComponent("nats")

	nc, err := nats.Connect(url,
		nats.Name("dxproxy"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamSpots,
		Subjects: []string{SubjectSpots},
		Storage:  nats.FileStorage,
		MaxAge:   maxAge,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn: nc,
		js:   js,
	}, nil
}

// Name returns the sink name
func (c *Client) Name() string {
	return SinkName
}

// PublishSpot publishes a stored spot to the spot stream
func (c *Client) PublishSpot(ctx context.Context, spot types.Spot) error {
	data, err := json.Marshal(spot)
	if err != nil {
		return fmt.Errorf("failed to marshal spot: %w", err)
	}

	if _, err := c.js.Publish(SubjectSpots, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish spot: %w", err)
	}

	return nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
