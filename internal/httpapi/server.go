// Package httpapi serves the read and control HTTP surface of the proxy.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/saviobatista/dxcluster-proxy/internal/cluster"
	"github.com/saviobatista/dxcluster-proxy/internal/log"
	"github.com/saviobatista/dxcluster-proxy/internal/metrics"
	"github.com/saviobatista/dxcluster-proxy/internal/stats"
	"github.com/saviobatista/dxcluster-proxy/internal/store"
	"github.com/saviobatista/dxcluster-proxy/internal/types"
)

const (
	defaultSpotsLimit   = 50
	maxSpotsLimit       = store.MaxPageSize
	defaultCompactLimit = 25
	maxCompactLimit     = 100

	defaultHistoryWindow = 24 * time.Hour
	maxHistoryWindow     = 7 * 24 * time.Hour
)

// Controller is the cluster session contract required by the API
type Controller interface {
	Status() cluster.Status
	Reconnect() (types.Node, error)
	SwitchNode(i int) (types.Node, error)
	Registry() *cluster.Registry
}

// SpotReader is the store contract required by the API
type SpotReader interface {
	Query(limit int, since int64) []types.Spot
	Aggregate() store.Aggregates
	Len() int
	TotalReceived() uint64
	LastSpotTime() time.Time
}

// SpotLookup returns the latest cached spot for a DX call, or nil when none is cached
type SpotLookup interface {
	GetSpot(ctx context.Context, dxCall string) (*types.Spot, error)
}

// StatsHistory reads persisted ingest snapshots
type StatsHistory interface {
	GetProxyStats(ctx context.Context, start, end time.Time) ([]stats.Snapshot, error)
}

// Server provides the HTTP API
type Server struct {
	addr      string
	ctl       Controller
	spots     SpotReader
	stats     *stats.Stats
	lookup    SpotLookup
	history   StatsHistory
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	logger    zerolog.Logger
}

// NewServer creates a new HTTP API server
func NewServer(addr string, ctl Controller, spots SpotReader, st *stats.Stats) *Server {
	if addr == "" {
		addr = "0.0.0.0:3001"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		ctl:       ctl,
		spots:     spots,
		stats:     st,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		logger:    log.WithComponent("http"),
	}
}

// SetSpotLookup enables GET /api/spots/:call
func (s *Server) SetSpotLookup(l SpotLookup) {
	s.lookup = l
}

// SetStatsHistory enables GET /api/stats/history
func (s *Server) SetStatsHistory(h StatsHistory) {
	s.history = h
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestMetrics(), cors())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.GET("/spots", s.handleSpots)
	api.GET("/spots/:call", s.handleSpotByCall)
	api.GET("/dxcluster/spots", s.handleCompactSpots)
	api.GET("/stats", s.handleStats)
	api.GET("/stats/history", s.handleStatsHistory)
	api.GET("/nodes", s.handleNodes)
	api.POST("/reconnect", s.handleReconnect)
	api.POST("/switch-node", s.handleSwitchNode)

	return r
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.startTime = time.Now()
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("HTTP server listening")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server stopped")
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		timer.ObserveDuration(metrics.APIRequestDuration.WithLabelValues(route))

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", timer.Duration()).
			Msg("HTTP request")
	}
}

// queryInt reads a positive integer parameter, falling back to def when the
// value is missing or invalid, and clamping to ceiling
func queryInt(c *gin.Context, name string, def, ceiling int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v <= 0 {
		return def
	}
	return min(v, ceiling)
}

// queryTime reads an epoch milliseconds parameter, falling back to def
func queryTime(c *gin.Context, name string, def time.Time) time.Time {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || v <= 0 {
		return def
	}
	return time.UnixMilli(v).UTC()
}

func epochMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.ctl.Status()

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"connected":      status.Connected,
		"state":          status.State,
		"node":           status.Node.Label,
		"nodeIndex":      status.NodeIndex,
		"sessionId":      status.SessionID,
		"spots":          s.spots.Len(),
		"totalReceived":  s.spots.TotalReceived(),
		"lastSpotTime":   epochMillis(s.spots.LastSpotTime()),
		"uptime":         int64(time.Since(s.startTime).Seconds()),
		"connectedSince": epochMillis(status.ConnectedSince),
	})
}

func (s *Server) handleSpots(c *gin.Context) {
	limit := queryInt(c, "limit", defaultSpotsLimit, maxSpotsLimit)

	var since int64
	if v, err := strconv.ParseInt(c.Query("since"), 10, 64); err == nil && v > 0 {
		since = v
	}

	spots := s.spots.Query(limit, since)
	c.JSON(http.StatusOK, gin.H{
		"spots":     spots,
		"total":     len(spots),
		"connected": s.ctl.Status().Connected,
		"source":    types.SourceDXSpider,
	})
}

func (s *Server) handleCompactSpots(c *gin.Context) {
	limit := queryInt(c, "limit", defaultCompactLimit, maxCompactLimit)

	spots := s.spots.Query(limit, 0)
	out := make([]types.CompactSpot, 0, len(spots))
	for _, spot := range spots {
		out = append(out, spot.Compact())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleStats(c *gin.Context) {
	agg := s.spots.Aggregate()

	body := gin.H{
		"bands":         agg.Bands,
		"modes":         agg.Modes,
		"grids":         agg.Grids,
		"total":         agg.Total,
		"totalReceived": agg.TotalReceived,
	}
	if s.stats != nil {
		body["ingest"] = s.stats.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleSpotByCall(c *gin.Context) {
	if s.lookup == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "spot lookup requires the redis sink"})
		return
	}

	call := strings.ToUpper(strings.TrimSpace(c.Param("call")))
	spot, err := s.lookup.GetSpot(c.Request.Context(), call)
	if err != nil {
		s.logger.Warn().Err(err).Str("call", call).Msg("Spot lookup failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if spot == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no spot for %s", call)})
		return
	}
	c.JSON(http.StatusOK, spot)
}

func (s *Server) handleStatsHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats history requires the database sink"})
		return
	}

	now := time.Now().UTC()
	to := queryTime(c, "to", now)
	from := queryTime(c, "from", to.Add(-defaultHistoryWindow))
	if !from.Before(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
		return
	}
	if to.Sub(from) > maxHistoryWindow {
		from = to.Add(-maxHistoryWindow)
	}

	snapshots, err := s.history.GetProxyStats(c.Request.Context(), from, to)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Stats history query failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if snapshots == nil {
		snapshots = []stats.Snapshot{}
	}
	c.JSON(http.StatusOK, gin.H{
		"from":      from.UnixMilli(),
		"to":        to.UnixMilli(),
		"snapshots": snapshots,
	})
}

type nodeView struct {
	Index  int    `json:"index"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Label  string `json:"label"`
	Active bool   `json:"active"`
}

func (s *Server) nodeList(current int) []nodeView {
	nodes := s.ctl.Registry().Nodes()
	out := make([]nodeView, len(nodes))
	for i, n := range nodes {
		out[i] = nodeView{Index: i, Host: n.Host, Port: n.Port, Label: n.Label, Active: i == current}
	}
	return out
}

func (s *Server) handleNodes(c *gin.Context) {
	current := s.ctl.Status().NodeIndex
	c.JSON(http.StatusOK, gin.H{
		"nodes":   s.nodeList(current),
		"current": current,
	})
}

func (s *Server) handleReconnect(c *gin.Context) {
	node, err := s.ctl.Reconnect()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "reconnecting",
		"node":   node.Label,
	})
}

func (s *Server) handleSwitchNode(c *gin.Context) {
	var req struct {
		Index *int `json:"index"`
	}

	n := s.ctl.Registry().Len()
	invalid := func(msg string) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": msg,
			"nodes": s.nodeList(s.ctl.Status().NodeIndex),
		})
	}

	if err := c.ShouldBindJSON(&req); err != nil || req.Index == nil {
		invalid(fmt.Sprintf("body must be {\"index\": N} with N between 0 and %d", n-1))
		return
	}

	node, err := s.ctl.SwitchNode(*req.Index)
	switch {
	case errors.Is(err, cluster.ErrInvalidNode):
		invalid(fmt.Sprintf("invalid node index %d: must be between 0 and %d", *req.Index, n-1))
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "switching",
		"node":   node.Label,
		"index":  *req.Index,
	})
}
