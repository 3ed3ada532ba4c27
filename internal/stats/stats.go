package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saviobatista/dxcluster-proxy/internal/log"
)

// ErrNoSink is returned by Persist when no persistence sink is configured
var ErrNoSink = errors.New("stats sink not set")

// Sink stores statistics snapshots
type Sink interface {
	StoreProxyStats(ctx context.Context, snapshot Snapshot) error
}

// Stats tracks ingest statistics
type Stats struct {
	// Line counts
	TotalLines    uint64
	SpotLines     uint64
	RejectedLines uint64

	// Spot counts
	StoredSpots    uint64
	DuplicateSpots uint64
	EvictedSpots   uint64

	// Connection counts
	Connects    uint64
	Disconnects uint64

	// Delivery failures across all sinks
	SinkErrors uint64

	// Timing
	StartTime    time.Time
	LastLineTime time.Time

	sink Sink

	mu sync.RWMutex
}

// Snapshot is a point-in-time copy of the statistics
type Snapshot struct {
	Time           time.Time     `json:"time"`
	TotalLines     uint64        `json:"totalLines"`
	SpotLines      uint64        `json:"spotLines"`
	RejectedLines  uint64        `json:"rejectedLines"`
	StoredSpots    uint64        `json:"storedSpots"`
	DuplicateSpots uint64        `json:"duplicateSpots"`
	EvictedSpots   uint64        `json:"evictedSpots"`
	Connects       uint64        `json:"connects"`
	Disconnects    uint64        `json:"disconnects"`
	SinkErrors     uint64        `json:"sinkErrors"`
	LastLineTime   time.Time     `json:"lastLineTime"`
	Uptime         time.Duration `json:"uptime"`
}

// New creates a new Stats instance
func New() *Stats {
	return &Stats{
		StartTime: time.Now(),
	}
}

// SetSink sets the sink used for persistence
func (s *Stats) SetSink(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// Persist stores the current statistics through the sink
func (s *Stats) Persist(ctx context.Context) error {
	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()

	if sink == nil {
		return ErrNoSink
	}

	return sink.StoreProxyStats(ctx, s.Snapshot())
}

// IncrementTotalLines increments the received lines counter and stamps the line time
func (s *Stats) IncrementTotalLines() {
	atomic.AddUint64(&s.TotalLines, 1)
	s.mu.Lock()
	s.LastLineTime = time.Now()
	s.mu.Unlock()
}

// IncrementSpotLines increments the counter of lines carrying the spot marker
func (s *Stats) IncrementSpotLines() {
	atomic.AddUint64(&s.SpotLines, 1)
}

// IncrementRejectedLines increments the counter of spot lines that failed to parse
func (s *Stats) IncrementRejectedLines() {
	atomic.AddUint64(&s.RejectedLines, 1)
}

// IncrementStoredSpots increments the stored spots counter
func (s *Stats) IncrementStoredSpots() {
	atomic.AddUint64(&s.StoredSpots, 1)
}

// IncrementDuplicateSpots increments the duplicate spots counter
func (s *Stats) IncrementDuplicateSpots() {
	atomic.AddUint64(&s.DuplicateSpots, 1)
}

// AddEvictedSpots adds to the evicted spots counter
func (s *Stats) AddEvictedSpots(n int) {
	if n > 0 {
		atomic.AddUint64(&s.EvictedSpots, uint64(n))
	}
}

// IncrementConnects increments the successful connections counter
func (s *Stats) IncrementConnects() {
	atomic.AddUint64(&s.Connects, 1)
}

// IncrementDisconnects increments the disconnects counter
func (s *Stats) IncrementDisconnects() {
	atomic.AddUint64(&s.Disconnects, 1)
}

// IncrementSinkErrors increments the sink failure counter
func (s *Stats) IncrementSinkErrors() {
	atomic.AddUint64(&s.SinkErrors, 1)
}

// Snapshot returns a copy of the current statistics
func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Time:           time.Now(),
		TotalLines:     atomic.LoadUint64(&s.TotalLines),
		SpotLines:      atomic.LoadUint64(&s.SpotLines),
		RejectedLines:  atomic.LoadUint64(&s.RejectedLines),
		StoredSpots:    atomic.LoadUint64(&s.StoredSpots),
		DuplicateSpots: atomic.LoadUint64(&s.DuplicateSpots),
		EvictedSpots:   atomic.LoadUint64(&s.EvictedSpots),
		Connects:       atomic.LoadUint64(&s.Connects),
		Disconnects:    atomic.LoadUint64(&s.Disconnects),
		SinkErrors:     atomic.LoadUint64(&s.SinkErrors),
		LastLineTime:   s.LastLineTime,
		Uptime:         time.Since(s.StartTime),
	}
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf(
		"Total Lines: %d\n"+
			"Spot Lines: %d\n"+
			"Rejected Lines: %d\n"+
			"Stored Spots: %d\n"+
			"Duplicate Spots: %d\n"+
			"Evicted Spots: %d\n"+
			"Connects: %d\n"+
			"Disconnects: %d\n"+
			"Sink Errors: %d\n"+
			"Last Line Time: %s\n"+
			"Uptime: %s",
		snap.TotalLines,
		snap.SpotLines,
		snap.RejectedLines,
		snap.StoredSpots,
		snap.DuplicateSpots,
		snap.EvictedSpots,
		snap.Connects,
		snap.Disconnects,
		snap.SinkErrors,
		snap.LastLineTime.Format(time.RFC3339),
		snap.Uptime.Round(time.Second),
	)
}

// StartPersistence logs and, when a sink is set, persists statistics every interval
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	logger := log.WithComponent("stats")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final persistence before shutdown
			finalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Persist(finalCtx); err != nil && !errors.Is(err, ErrNoSink) {
				logger.Warn().Err(err).Msg("Failed to persist final statistics")
			}
			cancel()
			return
		case <-ticker.C:
			snap := s.Snapshot()
			logger.Info().
				Uint64("lines", snap.TotalLines).
				Uint64("stored", snap.StoredSpots).
				Uint64("duplicates", snap.DuplicateSpots).
				Uint64("rejected", snap.RejectedLines).
				Uint64("evicted", snap.EvictedSpots).
				Uint64("disconnects", snap.Disconnects).
				Msg("Statistics")
			if err := s.Persist(ctx); err != nil && !errors.Is(err, ErrNoSink) {
				logger.Warn().Err(err).Msg("Failed to persist statistics")
			}
		}
	}
}
