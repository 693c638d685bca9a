package controlplane

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/hive/internal/models"
	"github.com/fentz26/hive/internal/tools"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0"

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// Server provides the HTTP API for hive.
type Server struct {
	service *Service
	addr    string
	log     logrus.FieldLogger
	engine  *gin.Engine
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string, log logrus.FieldLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log))

	s := &Server{
		service: service,
		addr:    addr,
		log:     log,
		engine:  engine,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/stats", s.handleStats)

	tasks := s.engine.Group("/tasks")
	{
		tasks.GET("", s.listTasks)
		tasks.POST("", s.createTask)
		tasks.GET("/next", s.nextTasks)
		tasks.GET("/:id", s.getTask)
		tasks.DELETE("/:id", s.deleteTask)
		tasks.POST("/:id/state", s.changeState)
		tasks.GET("/:id/runs", s.taskRuns)
		tasks.GET("/:id/audit", s.taskAudit)
	}

	topics := s.engine.Group("/topics")
	{
		topics.GET("", s.listTopics)
		topics.POST("", s.createTopic)
		topics.DELETE("/:name", s.removeTopic)
		topics.POST("/:name/publish", s.publish)
	}

	nodes := s.engine.Group("/nodes")
	{
		nodes.GET("", s.listNodes)
		nodes.GET("/:id", s.getNode)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.WithField("addr", s.addr).Info("starting API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func taskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, fmt.Errorf("%w: invalid task id %q", ErrBadRequest, c.Param("id")))
		return 0, false
	}
	return id, true
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.service.Ping(c.Request.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (s *Server) handleStats(c *gin.Context) {
	counts, err := s.service.CountByState(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks": counts,
		"bus":   s.service.bus.Stats(),
		"nodes": len(s.service.Nodes()),
	})
}

// --- Task Handlers ---

func (s *Server) listTasks(c *gin.Context) {
	f := ListFilter{Agent: c.Query("agent")}
	if raw := c.Query("state"); raw != "" {
		f.States = strings.Split(raw, ",")
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fail(c, fmt.Errorf("%w: invalid limit %q", ErrBadRequest, raw))
			return
		}
		f.Limit = n
	}

	tasks, err := s.service.ListTasks(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) createTask(c *gin.Context) {
	var req tools.CreateTaskInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}

	task, err := s.service.CreateTask(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) nextTasks(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("count", "1"))
	if err != nil {
		fail(c, fmt.Errorf("%w: invalid count", ErrBadRequest))
		return
	}
	tasks, err := s.service.NextAvailable(c.Request.Context(), n)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) getTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	task, err := s.service.GetTask(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	if err := s.service.DeleteTask(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type stateRequest struct {
	State string `json:"state" binding:"required"`
}

func (s *Server) changeState(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	var req stateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	state, err := models.ParseState(req.State)
	if err != nil {
		fail(c, err)
		return
	}

	task, err := s.service.ChangeState(c.Request.Context(), id, state)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) taskRuns(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	runs, err := s.service.TaskRuns(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) taskAudit(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	entries, err := s.service.TaskAudit(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// --- Topic Handlers ---

func (s *Server) listTopics(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Topics())
}

type createTopicRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (s *Server) createTopic(c *gin.Context) {
	var req createTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	info, err := s.service.CreateTopic(req.Name, req.Description)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (s *Server) removeTopic(c *gin.Context) {
	if err := s.service.RemoveTopic(c.Param("name")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

type publishRequest struct {
	From    string         `json:"from"`
	Payload map[string]any `json:"payload"`
}

func (s *Server) publish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	if err := s.service.Publish(c.Request.Context(), c.Param("name"), req.From, req.Payload); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "published"})
}

// --- Node Handlers ---

func (s *Server) listNodes(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Nodes())
}

func (s *Server) getNode(c *gin.Context) {
	info, err := s.service.Node(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
