package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/search"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

const (
	ServiceName = "Manufacturing Knowledge Graph API"
	Version     = "1.0.0"
)

type Server struct {
	Graphiti *core.Graphiti
	log      *zap.Logger
}

func New(g *core.Graphiti, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{Graphiti: g, log: log}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(ginLogger(s.log))
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/", s.Root)
	r.GET("/health", s.Health)
	r.GET("/stats", s.Stats)

	r.POST("/episodes", s.AddEpisode)
	r.GET("/episodes", s.ListEpisodes)
	r.GET("/episodes/:uuid", s.GetEpisode)
	r.DELETE("/episodes/:uuid", s.DeleteEpisode)

	r.POST("/build-graph", s.BuildGraph)
	r.POST("/search-graph", s.SearchGraph)
	r.POST("/clusters", s.Clusters)

	return r
}

func (s *Server) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": ServiceName,
		"status":  "running",
		"version": Version,
		"endpoints": []string{
			"GET /health",
			"GET /stats",
			"POST /episodes",
			"GET /episodes",
			"GET /episodes/:uuid",
			"DELETE /episodes/:uuid",
			"POST /build-graph",
			"POST /search-graph",
			"POST /clusters",
		},
	})
}

// Health always answers 200; graph_connected carries the storage ping.
func (s *Server) Health(c *gin.Context) {
	connected := true
	if err := s.Graphiti.Driver.Ping(c.Request.Context()); err != nil {
		s.log.Warn("graph ping failed", zap.Error(err))
		connected = false
	}
	status := "healthy"
	if !connected {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          status,
		"graph_connected": connected,
		"backend":         s.Graphiti.Driver.Backend(),
		"timestamp":       time.Now().UTC(),
	})
}

func (s *Server) AddEpisode(c *gin.Context) {
	var req core.IngestInput
	if !s.bind(c, &req) {
		return
	}
	res, err := s.Graphiti.IngestEpisode(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "ingest episode", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type BuildGraphRequest struct {
	core.BuildGraphInput
	Override bool `json:"override"`
}

func (s *Server) BuildGraph(c *gin.Context) {
	var req BuildGraphRequest
	if !s.bind(c, &req) {
		return
	}
	res, err := s.Graphiti.BuildGraph(c.Request.Context(), req.BuildGraphInput, req.Override)
	if err != nil {
		s.fail(c, "build graph", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           res.Status,
		"episode_id":       res.EpisodeUUID,
		"episode_name":     res.EpisodeName,
		"nodes_created":    res.EntitiesCreated,
		"nodes_merged":     res.EntitiesMerged,
		"edges_created":    res.RelationsCreated,
		"edges_reinforced": res.RelationsReinforced,
		"edges_superseded": res.RelationsSuperseded,
		"edges_dropped":    res.RelationsDropped,
		"timestamp":        res.Timestamp,
	})
}

type SearchRequest struct {
	Query             string     `json:"query"`
	Limit             int        `json:"limit"`
	IncludeHistorical bool       `json:"include_historical"`
	AsOf              *time.Time `json:"as_of"`
}

func (s *Server) SearchGraph(c *gin.Context) {
	var req SearchRequest
	if !s.bind(c, &req) {
		return
	}
	results, err := s.Graphiti.Search(c.Request.Context(), search.Query{
		Text:              req.Query,
		Limit:             req.Limit,
		IncludeHistorical: req.IncludeHistorical,
		AsOf:              req.AsOf,
	})
	if err != nil {
		s.fail(c, "search", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"query":     req.Query,
		"results":   results,
		"count":     len(results),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) Clusters(c *gin.Context) {
	var req core.ClusterQuery
	if !s.bind(c, &req) {
		return
	}
	clusters, err := s.Graphiti.Clusters(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "clusters", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"query":     req.Text,
		"clusters":  clusters,
		"count":     len(clusters),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) ListEpisodes(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(c, "list episodes", kgerr.New(kgerr.CodeServerRequestInvalid,
				"limit must be an integer", kgerr.Field("field", "limit")))
			return
		}
		limit = n
	}
	episodes, err := s.Graphiti.ListEpisodes(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, "list episodes", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"episodes": episodes, "count": len(episodes)})
}

func (s *Server) GetEpisode(c *gin.Context) {
	detail, err := s.Graphiti.GetEpisode(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		s.fail(c, "get episode", err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) DeleteEpisode(c *gin.Context) {
	res, err := s.Graphiti.DeleteEpisode(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		s.fail(c, "delete episode", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) Stats(c *gin.Context) {
	stats, err := s.Graphiti.GetStats(c.Request.Context())
	if err != nil {
		s.fail(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.fail(c, "decode request", kgerr.Wrap(err, kgerr.CodeServerRequestInvalid, "invalid request body"))
		return false
	}
	return true
}

// fail renders err with the status its code maps to. Server-side failures
// are logged at error level, client mistakes at debug.
func (s *Server) fail(c *gin.Context, op string, err error) {
	status := kgerr.HTTPStatus(err)
	fields := []zap.Field{
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("code", string(kgerr.CodeOf(err))),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", fields...)
	} else {
		s.log.Debug("request rejected", fields...)
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": kgerr.CodeOf(err)})
}

// ginLogger logs one line per request.
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		log.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
