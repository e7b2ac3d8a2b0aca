package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/idverify/internal/auth"
	"github.com/example/idverify/internal/logging"
	"github.com/example/idverify/internal/ports"
	"github.com/example/idverify/internal/repository"
	"github.com/example/idverify/internal/session"
	"github.com/example/idverify/internal/usecase"
)

// Service is the use case surface exposed over HTTP.
type Service interface {
	StartSession(ctx context.Context, profileID string) (*usecase.StartedSession, error)
	GetSession(ctx context.Context, id string) (*usecase.SessionView, error)
	WatchSession(ctx context.Context, id string) (<-chan ports.StatusEvent, error)
	SetSessionStatus(ctx context.Context, id string, status session.Status, reason string) (*usecase.SessionView, error)
	PresignArtifactUpload(ctx context.Context, id string, kind session.ArtifactKind, contentType string) (*usecase.PresignedUpload, error)
	CreateLivenessSession(ctx context.Context, id string) (string, error)
	RunPipeline(ctx context.Context, req usecase.PipelineRequest) (*usecase.Outcome, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type startSessionRequest struct {
	ProfileID string `json:"profile_id"`
}

type setStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

type uploadRequest struct {
	Kind        string `json:"kind" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

type verifyRequest struct {
	LivenessSessionID string `json:"liveness_session_id"`
	ProfileID         string `json:"profile_id"`
	IDFrontKey        string `json:"id_front_key"`
	IDBackKey         string `json:"id_back_key"`
}

type varianceRequest struct {
	Variance  float64 `json:"variance"`
	Side      string  `json:"side" binding:"required"`
	Timestamp int64   `json:"timestamp"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. operator guards
// operator-only routes; capture tokens guard the capture device routes.
func RegisterRoutes(router *gin.Engine, svc Service, operator gin.HandlerFunc, tokens *auth.CaptureTokens, logger *zap.Logger, opts ...RouteOption) {
	h := &handler{svc: svc, logger: logger.Named("http")}
	for _, opt := range opts {
		opt(h)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	operatorRoutes := router.Group("/", operator)
	operatorRoutes.POST("/sessions", h.startSession)
	operatorRoutes.GET("/metrics/summary", h.metricsSummary)

	access := router.Group("/sessions/:id", auth.SessionAccess(tokens, operator))
	access.GET("", h.getSession)
	access.GET("/events", h.streamEvents)

	capture := router.Group("/sessions/:id", auth.CaptureMiddleware(tokens))
	capture.POST("/status", h.setStatus)
	capture.POST("/uploads", h.presignUpload)
	capture.POST("/liveness", h.createLiveness)
	capture.POST("/verify", h.verify)
	capture.POST("/debug/variance", h.logVariance)
}

// RouteOption configures RegisterRoutes.
type RouteOption func(*handler)

// WithShutdown ends open status streams once done is closed. Other requests
// are left to finish.
func WithShutdown(done <-chan struct{}) RouteOption {
	return func(h *handler) {
		h.shutdown = done
	}
}

type handler struct {
	svc      Service
	logger   *zap.Logger
	shutdown <-chan struct{}
}

func (h *handler) startSession(c *gin.Context) {
	var req startSessionRequest
	// The body is optional; a session may be started without a profile.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	started, err := h.svc.StartSession(c.Request.Context(), req.ProfileID)
	if err != nil {
		h.writeError(c, "http.start_session", "", err)
		return
	}
	c.JSON(http.StatusCreated, started)
}

func (h *handler) metricsSummary(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.writeError(c, "http.metrics_summary", "", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) getSession(c *gin.Context) {
	id := c.Param("id")
	view, err := h.svc.GetSession(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "http.get_session", id, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// streamEvents serves the session's status as server-sent events: the
// current snapshot first, then each transition until a terminal status.
func (h *handler) streamEvents(c *gin.Context) {
	id := c.Param("id")
	events, err := h.svc.WatchSession(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "http.stream_events", id, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent("status", ev)
			c.Writer.Flush()
		}
	}
}

func (h *handler) setStatus(c *gin.Context) {
	id := c.Param("id")
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	status, err := session.ParseStatus(req.Status)
	if err != nil {
		h.writeError(c, "http.set_status", id, err)
		return
	}

	view, err := h.svc.SetSessionStatus(c.Request.Context(), id, status, req.Reason)
	if err != nil {
		h.writeError(c, "http.set_status", id, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) presignUpload(c *gin.Context) {
	id := c.Param("id")
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind and content_type are required"})
		return
	}
	kind, err := session.ParseArtifactKind(req.Kind)
	if err != nil {
		h.writeError(c, "http.presign_upload", id, err)
		return
	}

	upload, err := h.svc.PresignArtifactUpload(c.Request.Context(), id, kind, req.ContentType)
	if err != nil {
		h.writeError(c, "http.presign_upload", id, err)
		return
	}
	c.JSON(http.StatusOK, upload)
}

func (h *handler) createLiveness(c *gin.Context) {
	id := c.Param("id")
	handle, err := h.svc.CreateLivenessSession(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "http.create_liveness", id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liveness_session_id": handle})
}

func (h *handler) verify(c *gin.Context) {
	id := c.Param("id")
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	outcome, err := h.svc.RunPipeline(c.Request.Context(), usecase.PipelineRequest{
		SessionID:         id,
		LivenessSessionID: req.LivenessSessionID,
		ProfileID:         req.ProfileID,
		IDFrontKey:        req.IDFrontKey,
		IDBackKey:         req.IDBackKey,
	})
	if err != nil {
		h.writeError(c, "http.verify", id, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *handler) logVariance(c *gin.Context) {
	id := c.Param("id")
	var req varianceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side is required"})
		return
	}
	side, err := session.ParseSide(req.Side)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logging.WithOperation(h.logger, "http.debug_variance", id).Info("frame variance",
		zap.Float64("variance", req.Variance),
		zap.String("side", string(side)),
		zap.Int64("timestamp", req.Timestamp),
	)
	c.Status(http.StatusNoContent)
}

// writeError maps domain errors onto HTTP statuses. Anything unrecognised is
// an internal error and its detail is only logged.
func (h *handler) writeError(c *gin.Context, operation, sessionID string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logging.WithOperation(h.logger, operation, sessionID).Error("request failed", zap.Error(err))
		if operation == "http.verify" {
			c.JSON(code, usecase.Outcome{Status: session.StatusError, Reason: usecase.ReasonInternalError})
			return
		}
		c.JSON(code, gin.H{"error": "internal error"})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrPipelineInProgress),
		errors.Is(err, repository.ErrSessionNotWaiting),
		errors.Is(err, repository.ErrFieldsAlreadyWritten):
		return http.StatusConflict
	case errors.Is(err, session.ErrStatusNotClientSettable):
		return http.StatusForbidden
	case errors.Is(err, session.ErrUnsupportedContentType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, usecase.ErrInvalidRequest),
		errors.Is(err, session.ErrUnknownArtifactKind),
		errors.Is(err, session.ErrUnknownStatus):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
