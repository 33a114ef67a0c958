package toolserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/toolrun/internal/observability"
	"github.com/danmuck/toolrun/internal/runner"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Router builds the HTTP status surface for s.
func (s *Server) Router() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, s.cfg.ServerID))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.ServerID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	s.registerRoutes(r)
	return r
}

func (s *Server) registerRoutes(r gin.IRouter) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"server":  s.cfg.ServerID,
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/environments", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"current":      s.Current(),
			"environments": s.Environments(),
		})
	})

	r.GET("/runs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"runs": s.Runs()})
	})

	r.GET("/runs/:id", func(c *gin.Context) {
		st, err := s.RunStatus(c.Param("id"), true)
		if err != nil {
			abortRemote(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})

	r.POST("/runs/:id/stop", func(c *gin.Context) {
		if err := s.StopTool(runner.ToolRef{RunID: c.Param("id")}); err != nil {
			abortRemote(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func abortRemote(c *gin.Context, err error) {
	var rerr *runner.RemoteError
	if errors.As(err, &rerr) {
		c.Set(observability.RemoteCodeKey, string(rerr.Code))
	}
	c.JSON(httpStatus(err), gin.H{"error": err.Error()})
}

func httpStatus(err error) int {
	var rerr *runner.RemoteError
	if !errors.As(err, &rerr) {
		return http.StatusInternalServerError
	}
	switch rerr.Code {
	case runner.CodeUnknownRun, runner.CodeUnknownEnvironment, runner.CodeUnknownTool:
		return http.StatusNotFound
	case runner.CodeRejected:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		if v := strings.TrimSpace(origin); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
