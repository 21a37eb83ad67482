// Package api exposes the intake HTTP surface: job submission, cluster
// reads and health.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"newsmesh/internal/model"
	"newsmesh/internal/realtime"
	"newsmesh/internal/source"
)

// Server binds HTTP routes to the realtime processor.
type Server struct {
	processor *realtime.Processor
	fetcher   *source.RSSFetcher
	feeds     []source.Feed
	log       zerolog.Logger
}

// NewServer constructs the HTTP surface. fetcher may be nil, disabling the
// feed refresh endpoint.
func NewServer(processor *realtime.Processor, fetcher *source.RSSFetcher, feeds []source.Feed, logger zerolog.Logger) *Server {
	return &Server{
		processor: processor,
		fetcher:   fetcher,
		feeds:     feeds,
		log:       logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the Gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)

	g := r.Group("/api")
	g.POST("/jobs", s.handleSubmitJob)
	g.POST("/jobs/batched", s.handleSubmitBatched)
	g.GET("/clusters", s.handleClusters)
	g.GET("/chunks/recent", s.handleRecentChunks)
	g.POST("/feeds/refresh", s.handleFeedRefresh)
	return r
}

type submitJobRequest struct {
	Items       []model.RawItem        `json:"items" binding:"required"`
	Priority    int                    `json:"priority"`
	Preferences *model.UserPreferences `json:"preferences,omitempty"`
}

type submitJobResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleSubmitJob(c *gin.Context) {
	job, ok := s.bindJob(c)
	if !ok {
		return
	}
	if err := s.processor.Submit(job); err != nil {
		s.submitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, submitJobResponse{JobID: job.ID})
}

func (s *Server) handleSubmitBatched(c *gin.Context) {
	job, ok := s.bindJob(c)
	if !ok {
		return
	}
	if err := s.processor.SubmitBatched(job); err != nil {
		s.submitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, submitJobResponse{JobID: job.ID})
}

func (s *Server) bindJob(c *gin.Context) (*model.ProcessingJob, bool) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if len(req.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "items must not be empty"})
		return nil, false
	}
	return &model.ProcessingJob{
		Items:       req.Items,
		Priority:    req.Priority,
		Preferences: req.Preferences,
	}, true
}

func (s *Server) submitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, realtime.ErrQueueFull):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "queue full, retry later"})
	case errors.Is(err, realtime.ErrNotRunning):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "processor not running"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleClusters(c *gin.Context) {
	clusters := s.processor.ActiveClusters()
	c.JSON(http.StatusOK, gin.H{
		"count":    len(clusters),
		"clusters": clusters,
	})
}

func (s *Server) handleRecentChunks(c *gin.Context) {
	chunks := s.processor.RecentChunks()
	c.JSON(http.StatusOK, gin.H{
		"count":  len(chunks),
		"chunks": chunks,
	})
}

// handleFeedRefresh fetches the configured feeds and submits the combined
// items as one job. Runs asynchronously and returns 202 immediately.
func (s *Server) handleFeedRefresh(c *gin.Context) {
	if s.fetcher == nil || len(s.feeds) == 0 {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no feeds configured"})
		return
	}

	go func() {
		items := s.fetcher.FetchAll(context.Background(), s.feeds)
		if len(items) == 0 {
			s.log.Warn().Msg("feed refresh produced no items")
			return
		}
		if err := s.processor.Submit(&model.ProcessingJob{Items: items}); err != nil {
			s.log.Warn().Err(err).Msg("feed refresh job rejected")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "refresh started"})
}

func (s *Server) handleHealth(c *gin.Context) {
	high, normal := s.processor.QueueDepths()
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"priority_queue": high,
		"normal_queue":   normal,
	})
}
