package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"synbridge/pkg/models"
	"synbridge/pkg/router"
	"synbridge/pkg/validator"
)

// Bridge is the router surface the API drives.
type Bridge interface {
	Connect() bool
	Disconnect()
	IsConnected() bool
	SendCommandFunc(cmd models.Command, cb func(models.Result)) error
	RouteCommand(cmd models.Command) validator.Outcome
	GetStats() router.Stats
}

// Dispatcher runs fn on the host goroutine.
type Dispatcher interface {
	Do(ctx context.Context, fn func()) error
}

// Capabilities lists what the host accepts and executes.
type Capabilities func() (allowed, executable []string)

// Server host 端HTTP API服务器
type Server struct {
	engine       *gin.Engine
	bridge       Bridge
	loop         Dispatcher
	tracker      *Tracker
	capabilities Capabilities
	log          *zap.Logger
	started      time.Time
}

// NewServer 创建API服务器并设置路由
func NewServer(b Bridge, loop Dispatcher, caps Capabilities, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		engine:       engine,
		bridge:       b,
		loop:         loop,
		tracker:      NewTracker(),
		capabilities: caps,
		log:          logger,
		started:      time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api/v1")
	{
		// commands sent to the companion
		api.POST("/command", s.executeCommand)
		api.GET("/command/:id", s.getCommandStatus)
		api.GET("/commands", s.listCommands)
		api.POST("/cleanup", s.cleanupCommands)

		// commands injected as if the companion had sent them
		api.POST("/route", s.routeCommand)
		api.GET("/capabilities", s.listCapabilities)

		// connection
		api.POST("/connect", s.connect)
		api.POST("/disconnect", s.disconnect)

		api.GET("/stats", s.stats)
		api.GET("/health", s.healthCheck)
	}
}

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

type commandRequest struct {
	ID         string         `json:"id"`
	Type       string         `json:"type" binding:"required"`
	Parameters map[string]any `json:"parameters"`
	// Wait, in seconds, blocks the request until the result arrives.
	Wait int `json:"wait"`
}

func (r commandRequest) command() models.Command {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	return models.Command{ID: id, Type: r.Type, Parameters: r.Parameters}
}

func (s *Server) executeCommand(c *gin.Context) {
	var request commandRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
		return
	}
	cmd := request.command()

	s.tracker.Track(cmd)
	var sendErr error
	err := s.loop.Do(c.Request.Context(), func() {
		sendErr = s.bridge.SendCommandFunc(cmd, s.tracker.Resolve)
	})
	if err == nil {
		err = sendErr
	}
	if err != nil {
		s.tracker.Fail(cmd.ID, err)
		status := http.StatusInternalServerError
		if errors.Is(err, router.ErrNotConnected) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "Failed to send command", "details": err.Error(), "id": cmd.ID})
		return
	}

	if request.Wait > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(request.Wait)*time.Second)
		defer cancel()
		execution, err := s.tracker.Wait(ctx, cmd.ID)
		if err != nil {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Timed out waiting for result", "execution": execution})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": execution.Status == StatusCompleted, "execution": execution})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "id": cmd.ID, "message": "Command submitted successfully"})
}

func (s *Server) getCommandStatus(c *gin.Context) {
	execution, ok := s.tracker.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Command execution not found"})
		return
	}
	c.JSON(http.StatusOK, execution)
}

func (s *Server) listCommands(c *gin.Context) {
	executions := s.tracker.List()
	c.JSON(http.StatusOK, gin.H{"commands": executions, "total": len(executions)})
}

func (s *Server) cleanupCommands(c *gin.Context) {
	var request struct {
		MaxAgeMinutes int `json:"max_age_minutes"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || request.MaxAgeMinutes <= 0 {
		request.MaxAgeMinutes = 60
	}

	cleaned := s.tracker.Cleanup(time.Duration(request.MaxAgeMinutes) * time.Minute)
	c.JSON(http.StatusOK, gin.H{"message": "Cleanup completed", "cleaned": cleaned, "max_age": request.MaxAgeMinutes})
}

func (s *Server) routeCommand(c *gin.Context) {
	var request commandRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
		return
	}
	cmd := request.command()

	var out validator.Outcome
	if err := s.loop.Do(c.Request.Context(), func() { out = s.bridge.RouteCommand(cmd) }); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if !out.Valid {
		body := gin.H{"valid": false, "id": cmd.ID, "code": out.Code, "reason": out.Reason}
		if out.RetryAfter > 0 {
			body["retry_after_ms"] = out.RetryAfter.Milliseconds()
			c.JSON(http.StatusTooManyRequests, body)
			return
		}
		c.JSON(http.StatusUnprocessableEntity, body)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"valid": true, "id": cmd.ID})
}

func (s *Server) listCapabilities(c *gin.Context) {
	allowed, executable := s.capabilities()
	c.JSON(http.StatusOK, gin.H{"allowed": allowed, "executable": executable})
}

func (s *Server) connect(c *gin.Context) {
	var started bool
	if err := s.loop.Do(c.Request.Context(), func() { started = s.bridge.Connect() }); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": started, "connected": s.bridge.IsConnected()})
}

func (s *Server) disconnect(c *gin.Context) {
	if err := s.loop.Do(c.Request.Context(), s.bridge.Disconnect); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": s.bridge.IsConnected()})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.bridge.GetStats())
}

func (s *Server) healthCheck(c *gin.Context) {
	total, pending := s.tracker.Counts()
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"connected":        s.bridge.IsConnected(),
		"uptime_seconds":   int64(time.Since(s.started).Seconds()),
		"total_commands":   total,
		"pending_commands": pending,
		"timestamp":        time.Now(),
	})
}

// Run 启动服务器，ctx 取消时退出
func (s *Server) Run(ctx context.Context, addr string) error {
	return serve(ctx, addr, s.engine, s.log)
}

func serve(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}
