package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"storyfeed/internal/cache"
	"storyfeed/internal/config"
	"storyfeed/internal/feed"
	"storyfeed/internal/filter"
	"storyfeed/internal/findex"
	"storyfeed/internal/security"
	"storyfeed/internal/web"
)

const httpShutdownTimeout = 5 * time.Second

// Server exposes the feed engines over HTTP.
type Server struct {
	router        *gin.Engine
	engines       map[string]*feed.Engine
	builders      map[string]*findex.Builder
	indexes       map[string]*findex.Index
	cache         *cache.Manager
	port          int
	swaggerServer *web.SwaggerServer
	cfg           *config.Config
}

// NewServer wires the gin router, security middleware and routes.
func NewServer(engines map[string]*feed.Engine, builders map[string]*findex.Builder, indexes map[string]*findex.Index, cacheMgr *cache.Manager, cfg *config.Config) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	securityConfig := &security.SecurityConfig{
		EnableRateLimit:       cfg.Security.EnableRateLimit,
		RateLimitPerSecond:    cfg.Security.RateLimitPerSecond,
		RateLimitBurst:        cfg.Security.RateLimitBurst,
		EnableCORS:            cfg.Security.EnableCORS,
		AllowedOrigins:        cfg.Security.AllowedOrigins,
		EnableSecurityHeaders: cfg.Security.EnableSecurityHeaders,
		MaxRequestSize:        cfg.Security.MaxRequestSize,
		EnableRequestID:       cfg.Security.EnableRequestID,
	}
	security.SetupSecurityMiddleware(router, securityConfig)

	server := &Server{
		router:        router,
		engines:       engines,
		builders:      builders,
		indexes:       indexes,
		cache:         cacheMgr,
		port:          cfg.Port,
		swaggerServer: web.NewSwaggerServer(cfg.EnableSwagger),
		cfg:           cfg,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	api := s.router.Group("/api/v1")
	{
		api.GET("/topics", s.getTopics)
		api.GET("/feeds/:topic", s.getFeed)
		api.GET("/feeds/:topic/info", s.getFeedInfo)
		api.POST("/feeds/:topic/refresh", s.refreshFeed)
		api.POST("/feeds/:topic/more", s.loadMore)

		api.GET("/feeds/:topic/filters", s.getFilters)
		api.POST("/feeds/:topic/filters/toggle", s.toggleFilter)
		api.POST("/feeds/:topic/filters/clear", s.clearFilters)
	}

	s.swaggerServer.RegisterRoutes(s.router)
}

// StartWithContext runs the server until the context is cancelled.
func (s *Server) StartWithContext(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(s.port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) engine(c *gin.Context) (*feed.Engine, bool) {
	topic := c.Param("topic")
	eng, ok := s.engines[topic]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "topic '" + topic + "' not found"})
		return nil, false
	}
	return eng, true
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "story-feed",
		"topics":  len(s.engines),
	})
}

func (s *Server) getTopics(c *gin.Context) {
	topics := make([]string, 0, len(s.engines))
	for topic := range s.engines {
		topics = append(topics, topic)
	}
	c.JSON(http.StatusOK, gin.H{
		"topics": topics,
		"count":  len(topics),
	})
}

func (s *Server) getFeed(c *gin.Context) {
	eng, ok := s.engine(c)
	if !ok {
		return
	}
	topic := c.Param("topic")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	// The full (unpaged) view is the hot-cache unit; slicing is cheap.
	if limit == 0 && offset == 0 {
		if view, found := s.cache.GetFeedView(topic); found {
			c.JSON(http.StatusOK, view)
			return
		}
	}

	view := eng.View(limit, offset)
	if limit == 0 && offset == 0 {
		s.cache.SetFeedView(topic, view, 0)
	}

	if err := eng.LastError(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     err.Error(),
			"retryable": true,
			"view":      view,
		})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) getFeedInfo(c *gin.Context) {
	eng, ok := s.engine(c)
	if !ok {
		return
	}

	info, err := eng.SnapshotInfo()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) refreshFeed(c *gin.Context) {
	eng, ok := s.engine(c)
	if !ok {
		return
	}

	if err := eng.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retryable": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Feed refreshed successfully",
		"topic":   c.Param("topic"),
	})
}

func (s *Server) loadMore(c *gin.Context) {
	eng, ok := s.engine(c)
	if !ok {
		return
	}

	if err := eng.LoadMore(c.Request.Context()); err != nil {
		if errors.Is(err, feed.ErrPaginationDisabled) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retryable": true})
		return
	}
	c.JSON(http.StatusOK, eng.View(0, 0))
}

type toggleRequest struct {
	Category string `json:"category" binding:"required"`
	Term     string `json:"term" binding:"required"`
}

func (s *Server) getFilters(c *gin.Context) {
	eng, ok := s.engine(c)
	if !ok {
		return
	}
	topic := c.Param("topic")

	sel := eng.Selection()
	resp := gin.H{
		"keywords":         keys(sel.Keywords),
		"landmarks":        keys(sel.Landmarks),
		"organizations":    keys(sel.Organizations),
		"sources":          keys(sel.Sources),
		"server_confirmed": eng.ServerConfirmed(),
		"degraded":         eng.Degraded(),
	}
	if builder, ok := s.builders[topic]; ok {
		resp["index_building"] = builder.Building()
	}
	if index, ok := s.indexes[topic]; ok {
		resp["index_ready"] = index.Ready()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) toggleFilter(c *gin.Context) {
	eng, ok := s.engine(c)
	if !ok {
		return
	}

	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !filter.ValidCategory(req.Category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown filter category '" + req.Category + "'"})
		return
	}

	eng.Toggle(filter.Category(req.Category), req.Term)
	c.JSON(http.StatusOK, eng.View(0, 0))
}

func (s *Server) clearFilters(c *gin.Context) {
	eng, ok := s.engine(c)
	if !ok {
		return
	}

	if err := eng.ClearFilters(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retryable": true})
		return
	}
	c.JSON(http.StatusOK, eng.View(0, 0))
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
