package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/events"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/log"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/metrics"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/orchestrator"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/runbook"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/storage"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

// Server is the HTTP control surface: triggers in, episode inspection and
// approval decisions out.
type Server struct {
	orch     *orchestrator.Orchestrator
	store    storage.Store
	runbooks *runbook.Library
	broker   *events.Broker

	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer wires the router. addr is host:port.
func NewServer(addr string, orch *orchestrator.Orchestrator, store storage.Store, runbooks *runbook.Library, broker *events.Broker) *Server {
	s := &Server{
		orch:     orch,
		store:    store,
		runbooks: runbooks,
		broker:   broker,
		logger:   log.WithComponent("api"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.instrument())

	router.GET("/healthz", gin.WrapF(metrics.HealthHandler()))
	router.GET("/readyz", gin.WrapF(metrics.ReadyHandler()))
	router.GET("/livez", gin.WrapF(metrics.LivenessHandler()))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/triggers", s.handleTrigger)

		episodes := v1.Group("/episodes")
		{
			episodes.GET("", s.handleListEpisodes)
			episodes.GET("/:id", s.handleGetEpisode)
			episodes.POST("/:id/approve", s.handleApprove)
			episodes.POST("/:id/reject", s.handleReject)
			episodes.POST("/:id/cancel", s.handleCancel)
		}

		runbooks := v1.Group("/runbooks")
		{
			runbooks.GET("", s.handleListRunbooks)
			runbooks.GET("/:id", s.handleGetRunbook)
		}

		v1.GET("/events", s.handleWatchEvents)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("api listening")
	metrics.RegisterComponent("api", true, "")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// instrument records request counts and latency per method.
func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()
		method := c.Request.Method + " " + c.FullPath()
		metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(c.Writer.Status())).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
	}
}

func (s *Server) handleTrigger(c *gin.Context) {
	var req orchestrator.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ep, created, err := s.orch.Trigger(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusCreated
	if !created {
		// Joined an already-active episode.
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"episode": ep, "created": created})
}

func (s *Server) handleListEpisodes(c *gin.Context) {
	var (
		eps []*types.Episode
		err error
	)
	if state := c.Query("state"); state != "" {
		eps, err = s.store.ListEpisodesByState(types.EpisodeState(state))
	} else {
		eps, err = s.store.ListEpisodes()
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"episodes": eps})
}

func (s *Server) handleGetEpisode(c *gin.Context) {
	ep, err := s.store.GetEpisode(c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "episode not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ep)
}

type decisionRequest struct {
	Approver string `json:"approver" binding:"required"`
}

func (s *Server) handleApprove(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.orch.Approve(c.Param("id"), req.Approver); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}

func (s *Server) handleReject(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.orch.Reject(c.Param("id"), req.Approver); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.orch.Cancel(c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}

func (s *Server) handleListRunbooks(c *gin.Context) {
	rbs, err := s.runbooks.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runbooks": rbs})
}

func (s *Server) handleGetRunbook(c *gin.Context) {
	rb, err := s.runbooks.Get(c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "runbook not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rb)
}

// handleWatchEvents streams the episode audit feed as server-sent
// events until the client disconnects.
func (s *Server) handleWatchEvents(c *gin.Context) {
	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
