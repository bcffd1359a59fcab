package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"loadboard-activation-go/internal/models"
	"loadboard-activation-go/internal/poller"
	"loadboard-activation-go/internal/service"
	"loadboard-activation-go/internal/store"
)

// companyHeader carries the authenticated caller's company id, injected by
// the external auth layer in front of this service. Trusted as given.
const companyHeader = "X-Company-ID"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ActivationRequest is the POST body for requesting a vendor integration.
type ActivationRequest struct {
	VendorID             uint   `json:"vendor_id" binding:"required"`
	IsNew                bool   `json:"is_new"`
	ExistingServiceEmail string `json:"existing_service_email" binding:"omitempty,email"`
}

// IntegrationResponse is the API projection of an integration row. The
// credential map is never exposed; only which credential names exist.
type IntegrationResponse struct {
	ID              uint               `json:"id"`
	Status          string             `json:"status"`
	Vendor          *models.Vendor     `json:"vendor,omitempty"`
	ExtraConfig     models.ExtraConfig `json:"extra_config,omitempty"`
	CredentialNames []string           `json:"credential_names,omitempty"`
	LastUpdated     time.Time          `json:"last_updated"`
}

// OutboxMarkRequest is the PATCH body from the mail-dispatch worker.
type OutboxMarkRequest struct {
	Reason string `json:"reason"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Details   map[string]string `json:"details,omitempty"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	db      *gorm.DB
	service *service.ActivationService
	outbox  *store.OutboxStore
	poller  *poller.Poller
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, svc *service.ActivationService, outbox *store.OutboxStore, p *poller.Poller) *Handlers {
	return &Handlers{
		db:      db,
		service: svc,
		outbox:  outbox,
		poller:  p,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/integrations", h.ListIntegrations)
		api.POST("/integrations", h.RequestActivation)
		api.PATCH("/integrations/:id/toggle", h.ToggleIntegration)
		api.GET("/catalog", h.ListCatalog)

		// Consumed by the external mail-dispatch worker.
		api.GET("/outbox", h.ListPendingOutbox)
		api.PATCH("/outbox/:id/sent", h.MarkOutboxSent)
		api.PATCH("/outbox/:id/failed", h.MarkOutboxFailed)

		api.POST("/poller/start", h.StartPoller)
		api.POST("/poller/stop", h.StopPoller)
		api.POST("/poller/run-once", h.RunPollerOnce)
		api.GET("/poller/status", h.PollerStatus)
	}
}

// companyID extracts the authenticated company id from the request.
func companyID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.GetHeader(companyHeader), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_company",
			Message: "Missing or invalid " + companyHeader + " header",
			Code:    http.StatusBadRequest,
		})
		return 0, false
	}
	return uint(id), true
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Details:   make(map[string]string),
	}

	if err := h.db.Raw("SELECT 1").Error; err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.poller != nil && h.poller.IsRunning() {
		response.Details["poller"] = "running"
		response.Details["next_run"] = h.poller.GetNextRun().Format(time.RFC3339)
	} else {
		response.Details["poller"] = "stopped"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

// ListIntegrations returns the caller's integrations with vendor metadata.
func (h *Handlers) ListIntegrations(c *gin.Context) {
	company, ok := companyID(c)
	if !ok {
		return
	}

	rows, err := h.service.ListIntegrations(company)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch integrations",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	responses := make([]IntegrationResponse, 0, len(rows))
	for i := range rows {
		responses = append(responses, toIntegrationResponse(&rows[i]))
	}
	c.JSON(http.StatusOK, responses)
}

func toIntegrationResponse(row *models.Integration) IntegrationResponse {
	resp := IntegrationResponse{
		ID:          row.ID,
		Status:      row.Status,
		Vendor:      row.Vendor,
		ExtraConfig: row.ExtraConfig,
		LastUpdated: row.UpdatedAt,
	}
	for name := range row.Credentials {
		resp.CredentialNames = append(resp.CredentialNames, name)
	}
	return resp
}

// ListCatalog returns the supported vendor catalog.
func (h *Handlers) ListCatalog(c *gin.Context) {
	if _, ok := companyID(c); !ok {
		return
	}

	vendors, err := h.service.ListCatalog()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch vendor catalog",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, vendors)
}

// RequestActivation creates a pending integration and queues the request
// email to the vendor.
func (h *Handlers) RequestActivation(c *gin.Context) {
	company, ok := companyID(c)
	if !ok {
		return
	}

	var req ActivationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}
	if !req.IsNew && req.ExistingServiceEmail == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "existing_service_email is required when is_new is false",
			Code:    http.StatusBadRequest,
		})
		return
	}

	row, err := h.service.RequestActivation(company, req.VendorID, req.IsNew, req.ExistingServiceEmail)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateRequest) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "duplicate_request",
				Message: "An integration for this vendor already exists",
				Code:    http.StatusConflict,
			})
			return
		}
		logrus.Errorf("Failed to request activation: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to create activation request",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusCreated, toIntegrationResponse(row))
}

// ToggleIntegration flips an integration between active and disabled.
func (h *Handlers) ToggleIntegration(c *gin.Context) {
	if _, ok := companyID(c); !ok {
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid integration ID",
			Code:    http.StatusBadRequest,
		})
		return
	}

	row, err := h.service.Toggle(uint(id))
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Integration not found",
				Code:    http.StatusNotFound,
			})
		case errors.Is(err, store.ErrInvalidTransition):
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "invalid_transition",
				Message: "Only active or disabled integrations can be toggled",
				Code:    http.StatusConflict,
			})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "database_error",
				Message: "Failed to toggle integration",
				Code:    http.StatusInternalServerError,
			})
		}
		return
	}

	c.JSON(http.StatusOK, toIntegrationResponse(row))
}

// ListPendingOutbox returns pending outbox emails for the dispatch worker.
func (h *Handlers) ListPendingOutbox(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 100 {
		limit = 50
	}

	rows, err := h.outbox.ListPending(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to list outbox",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// MarkOutboxSent records a delivery by the dispatch worker.
func (h *Handlers) MarkOutboxSent(c *gin.Context) {
	if err := h.outbox.MarkSent(c.Param("id"), time.Now()); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to mark outbox email sent",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkOutboxFailed records a delivery failure by the dispatch worker.
func (h *Handlers) MarkOutboxFailed(c *gin.Context) {
	var req OutboxMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if err := h.outbox.MarkFailed(c.Param("id"), req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to mark outbox email failed",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// StartPoller starts the mailbox poller
func (h *Handlers) StartPoller(c *gin.Context) {
	if err := h.poller.Start(); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "poller_error",
			Message: err.Error(),
			Code:    http.StatusConflict,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

// StopPoller stops the mailbox poller
func (h *Handlers) StopPoller(c *gin.Context) {
	if err := h.poller.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "poller_error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// RunPollerOnce triggers one processing cycle immediately.
func (h *Handlers) RunPollerOnce(c *gin.Context) {
	go h.poller.RunOnce()
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}

// PollerStatus reports the poller's schedule state.
func (h *Handlers) PollerStatus(c *gin.Context) {
	status := gin.H{"running": h.poller.IsRunning()}
	if h.poller.IsRunning() {
		status["next_run"] = h.poller.GetNextRun().Format(time.RFC3339)
		status["last_run"] = h.poller.GetLastRun().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, status)
}
