package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/casetalink/casetalink/internal/connector"
	"github.com/casetalink/casetalink/internal/db"
	"github.com/casetalink/casetalink/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "casetalink",
		"version": util.Version,
	})
}

// handleStatus returns the bridge connection snapshot.
func (s *Server) handleStatus(c *gin.Context) {
	st := s.bridge.Status()

	resp := gin.H{
		"bridge":     st,
		"uptime_sec": int64(util.ProcessUptime() / time.Second),
		"journal":    s.journalStatus(),
	}
	if !st.ConnectedAt.IsZero() && st.State == connector.StateReady {
		resp["connected_sec"] = int64(time.Since(st.ConnectedAt) / time.Second)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) journalStatus() gin.H {
	if s.history == nil {
		return gin.H{"enabled": false}
	}
	stats, err := s.history.Stats()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read journal stats")
		return gin.H{"enabled": true, "error": "failed to read journal"}
	}
	return gin.H{"enabled": true, "stats": stats}
}

// handleEvents returns recent button events, newest first.
// Query parameters: limit (1-1000) and remote (0-255).
func (s *Server) handleEvents(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event journal is disabled"})
		return
	}

	limit := db.DefaultRecentLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > db.MaxRecentLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	remote := db.AllRemotes
	if v := c.Query("remote"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid remote id"})
			return
		}
		remote = int(n)
	}

	entries, err := s.history.Recent(limit, remote)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read journal")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": entries,
		"total":  len(entries),
	})
}

// handleRemotes summarizes each remote seen in the journal.
func (s *Server) handleRemotes(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event journal is disabled"})
		return
	}

	remotes, err := s.history.Remotes()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to summarize journal")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"remotes": remotes,
		"total":   len(remotes),
	})
}

// handleSystem returns host information and resource usage.
func (s *Server) handleSystem(c *gin.Context) {
	resp := gin.H{
		"system":  util.GetSystemInfo(),
		"version": util.Version,
	}

	if usage, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = usage
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if disk, err := util.GetDiskUsage(s.dataDir); err == nil {
		resp["disk"] = disk
	}

	c.JSON(http.StatusOK, resp)
}
