package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"podsearch/internal/domain"
	"podsearch/internal/ingest"
	"podsearch/internal/logger"
	"podsearch/internal/query"
)

// Server exposes the HTTP surface: GET /query for similarity search and
// POST /update to trigger ingestion over the transcript directory.
type Server struct {
	engine         *query.Engine
	pipeline       *ingest.Pipeline
	transcriptsDir string
	log            *logger.Logger
	router         *gin.Engine
}

func New(engine *query.Engine, pipeline *ingest.Pipeline, transcriptsDir string, log *logger.Logger) *Server {
	s := &Server{
		engine:         engine,
		pipeline:       pipeline,
		transcriptsDir: transcriptsDir,
		log:            log,
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/", s.handleHome)
	router.GET("/query", s.handleQuery)
	router.POST("/update", s.handleUpdate)
	s.router = router
	return s
}

// Handler returns the HTTP handler for mounting or testing.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHome(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "podsearch",
		"description": "similarity search over podcast transcripts",
		"endpoints": gin.H{
			"/query":  "GET: search the index (params: search, top_k, podcast)",
			"/update": "POST: ingest the transcript directory",
		},
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	search := c.Query("search")
	if search == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required parameter: search"})
		return
	}
	// An absent top_k selects the configured default; an explicit
	// non-positive value is a client error.
	topK := 0
	if raw := c.Query("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrInvalidTopK.Error()})
			return
		}
		topK = n
	}
	podcast := c.Query("podcast")

	results, err := s.engine.Search(c.Request.Context(), search, topK, podcast)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("query failed", "error", err.Error())
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": search, "results": results})
}

func (s *Server) handleUpdate(c *gin.Context) {
	report, err := s.pipeline.Run(c.Request.Context(), s.transcriptsDir)
	if err != nil {
		s.log.Error("ingestion run failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyQuery), errors.Is(err, domain.ErrInvalidTopK):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRetryable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
