package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"synbridge/pkg/companion"
	"synbridge/pkg/scenario"
)

// Companion is the companion surface the control API drives.
type Companion interface {
	scenario.Issuer
	Peers() []string
}

// CompanionServer exposes the companion over HTTP: issue single commands or
// replay a scenario against the connected host.
type CompanionServer struct {
	engine    *gin.Engine
	companion Companion
	runner    *scenario.Runner
	allowed   []string
	log       *zap.Logger
}

// NewCompanionServer builds the control API. allowed, when non-empty,
// restricts scenario step types.
func NewCompanionServer(c Companion, runner *scenario.Runner, allowed []string, logger *zap.Logger) *CompanionServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &CompanionServer{engine: engine, companion: c, runner: runner, allowed: allowed, log: logger}
	api := engine.Group("/api/v1")
	{
		api.GET("/peers", s.listPeers)
		api.POST("/issue", s.issue)
		api.POST("/scenario", s.runScenario)
		api.POST("/scenario/validate", s.validateScenario)
		api.GET("/health", s.healthCheck)
	}
	return s
}

// Handler exposes the engine for tests and embedding.
func (s *CompanionServer) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled.
func (s *CompanionServer) Run(ctx context.Context, addr string) error {
	return serve(ctx, addr, s.engine, s.log)
}

func (s *CompanionServer) listPeers(c *gin.Context) {
	peers := s.companion.Peers()
	c.JSON(http.StatusOK, gin.H{"peers": peers, "total": len(peers)})
}

type issueRequest struct {
	commandRequest
	TimeoutSeconds int `json:"timeout_seconds"`
}

func (s *CompanionServer) issue(c *gin.Context) {
	var request issueRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
		return
	}
	timeout := 30 * time.Second
	if request.TimeoutSeconds > 0 {
		timeout = time.Duration(request.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	cmd := request.command()
	res, err := s.companion.Issue(ctx, cmd)
	if err != nil {
		c.JSON(issueStatus(err), gin.H{"error": err.Error(), "id": cmd.ID})
		return
	}
	c.JSON(http.StatusOK, res)
}

func issueStatus(err error) int {
	switch {
	case errors.Is(err, companion.ErrNoPeer), errors.Is(err, companion.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// readScenario decodes the YAML request body and picks ?name= from it.
func (s *CompanionServer) readScenario(c *gin.Context) (scenario.Scenario, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body", "details": err.Error()})
		return scenario.Scenario{}, false
	}
	scenarios, err := scenario.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid scenario", "details": err.Error()})
		return scenario.Scenario{}, false
	}
	sc, err := scenario.Find(scenarios, c.Query("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return scenario.Scenario{}, false
	}
	if err := sc.Validate(s.allowed); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Scenario failed validation", "details": err.Error()})
		return scenario.Scenario{}, false
	}
	return sc, true
}

func (s *CompanionServer) runScenario(c *gin.Context) {
	sc, ok := s.readScenario(c)
	if !ok {
		return
	}
	report := s.runner.Run(c.Request.Context(), sc)
	c.JSON(http.StatusOK, report)
}

func (s *CompanionServer) validateScenario(c *gin.Context) {
	sc, ok := s.readScenario(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "name": sc.Name, "steps": len(sc.Steps)})
}

func (s *CompanionServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"peers":     len(s.companion.Peers()),
		"timestamp": time.Now(),
	})
}

var _ Companion = (*companion.Server)(nil)
