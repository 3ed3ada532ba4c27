// Package store keeps recently received spots in memory.
//
// Spots are held newest-first. A spot is discarded when the same DX call
// was already spotted on the same displayed frequency within DuplicateWindow.
// Evict removes spots older than the retention window; nothing else removes
// spots.
package store

import (
	"sync"
	"time"

	"github.com/saviobatista/dxcluster-proxy/internal/types"
)

const (
	// DuplicateWindow is how long an identical call/frequency pair is suppressed
	DuplicateWindow = 120 * time.Second

	// MaxPageSize caps every Query regardless of the requested limit
	MaxPageSize = 200

	modeUnknown = "unknown"
)

// Store is a bounded, deduplicating, time-windowed collection of spots
type Store struct {
	retention time.Duration
	now       func() time.Time

	mu            sync.RWMutex
	spots         []types.Spot
	totalReceived uint64
	lastSpotTime  time.Time
	lastAssigned  int64
}

// New creates an empty store retaining spots for the given window
func New(retention time.Duration) *Store {
	return &Store{
		retention: retention,
		now:       time.Now,
	}
}

// Insert stamps the spot with its receive time and stores it unless it
// duplicates a recent spot. It returns the stored spot and whether it was kept.
func (s *Store) Insert(spot types.Spot) (types.Spot, bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now.UnixMilli()
	if ts < s.lastAssigned {
		ts = s.lastAssigned
	}

	window := DuplicateWindow.Milliseconds()
	for i := range s.spots {
		existing := &s.spots[i]
		if ts-existing.Timestamp >= window {
			// Older spots only get older from here
			break
		}
		if existing.DXCall == spot.DXCall && existing.Freq == spot.Freq {
			return types.Spot{}, false
		}
	}

	spot.Timestamp = ts
	s.lastAssigned = ts

	s.spots = append(s.spots, types.Spot{})
	copy(s.spots[1:], s.spots)
	s.spots[0] = spot

	s.totalReceived++
	s.lastSpotTime = now

	return spot, true
}

// Evict removes every spot older than the retention window and returns how many were removed
func (s *Store) Evict() int {
	cutoff := s.now().Add(-s.retention).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	keep := len(s.spots)
	for keep > 0 && s.spots[keep-1].Timestamp < cutoff {
		keep--
	}

	removed := len(s.spots) - keep
	if removed > 0 {
		clear(s.spots[keep:])
		s.spots = s.spots[:keep]
	}
	return removed
}

// Query returns up to limit spots received after since (epoch ms), newest first.
// A limit outside 1..MaxPageSize is treated as MaxPageSize.
func (s *Store) Query(limit int, since int64) []types.Spot {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Spot, 0, min(limit, len(s.spots)))
	for _, spot := range s.spots {
		if len(out) == limit {
			break
		}
		if since > 0 && spot.Timestamp <= since {
			// Newest first, so nothing further qualifies
			break
		}
		out = append(out, spot)
	}
	return out
}

// Len returns the number of spots currently held
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.spots)
}

// TotalReceived returns how many spots have ever been accepted
func (s *Store) TotalReceived() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalReceived
}

// LastSpotTime returns when the most recent spot was accepted, zero if none
func (s *Store) LastSpotTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSpotTime
}

// GridCounts reports how many held spots carry grid locators
type GridCounts struct {
	Spotter int `json:"spotter"`
	DX      int `json:"dx"`
	Both    int `json:"both"`
	None    int `json:"none"`
}

// Aggregates summarises the spots currently held
type Aggregates struct {
	Bands         map[string]int `json:"bands"`
	Modes         map[string]int `json:"modes"`
	Grids         GridCounts     `json:"grids"`
	Total         int            `json:"total"`
	TotalReceived uint64         `json:"totalReceived"`
}

// Aggregate computes band, mode and grid counts over the held spots
func (s *Store) Aggregate() Aggregates {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := Aggregates{
		Bands:         make(map[string]int),
		Modes:         make(map[string]int),
		Total:         len(s.spots),
		TotalReceived: s.totalReceived,
	}

	for _, spot := range s.spots {
		agg.Bands[Band(spot.FreqKHz)]++

		mode := string(spot.Mode)
		if mode == "" {
			mode = modeUnknown
		}
		agg.Modes[mode]++

		hasSpotter, hasDX := spot.SpotterGrid != "", spot.DXGrid != ""
		switch {
		case hasSpotter && hasDX:
			agg.Grids.Both++
			agg.Grids.Spotter++
			agg.Grids.DX++
		case hasSpotter:
			agg.Grids.Spotter++
		case hasDX:
			agg.Grids.DX++
		default:
			agg.Grids.None++
		}
	}

	return agg
}
