package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/timeplus-io/tp-watchdog/pkg/models"
	"github.com/timeplus-io/tp-watchdog/pkg/services"
)

// APIKeyHeader carries the ingestion credential when the body has none
const APIKeyHeader = "X-API-Key"

// APIHandler handles HTTP API requests
type APIHandler struct {
	watchdog *services.WatchdogService
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(watchdog *services.WatchdogService) *APIHandler {
	return &APIHandler{
		watchdog: watchdog,
	}
}

// UpdateStatus records a heartbeat
// @Summary Record a heartbeat
// @Accept json
// @Produce json
// @Param heartbeat body models.HeartbeatRequest true "parent and child names"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /heartbeat [post]
func (h *APIHandler) UpdateStatus(c echo.Context) error {
	var req models.HeartbeatRequest
	if err := c.Bind(&req); err != nil {
		logrus.Errorf("Error binding heartbeat request: %v", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}

	key := c.Request().Header.Get(APIKeyHeader)
	if key == "" {
		key = req.APIKey
	}
	if err := h.watchdog.Authorize(key); err != nil {
		return h.fail(c, err)
	}

	if err := h.watchdog.RecordHeartbeat(c.Request().Context(), &req); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "updated"})
}

// GetStatusTree returns every entity with its children
// @Summary Status of all monitored entities
// @Produce json
// @Success 200 {array} models.EntityView
// @Router /status [get]
func (h *APIHandler) GetStatusTree(c echo.Context) error {
	tree, err := h.watchdog.StatusTree(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, tree)
}

// GetStatus returns one entity
func (h *APIHandler) GetStatus(c echo.Context) error {
	view, err := h.watchdog.GetStatus(c.Request().Context(), c.Param("object"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// Pause pauses an entity or one of its children
func (h *APIHandler) Pause(c echo.Context) error {
	parent, child := target(c)
	if err := h.watchdog.Pause(c.Request().Context(), parent, child); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "paused"})
}

// Resume resumes an entity or one of its children
func (h *APIHandler) Resume(c echo.Context) error {
	parent, child := target(c)
	if err := h.watchdog.Resume(c.Request().Context(), parent, child); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "resumed"})
}

// Delete removes an entity with its children, or a single child
func (h *APIHandler) Delete(c echo.Context) error {
	parent, child := target(c)
	if err := h.watchdog.Delete(c.Request().Context(), parent, child); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

// ToggleNotification flips alert delivery for an entity or child
func (h *APIHandler) ToggleNotification(c echo.Context) error {
	parent, child := target(c)
	enabled, err := h.watchdog.ToggleNotification(c.Request().Context(), parent, child)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"notification_enabled": enabled})
}

// GetAlerts returns recently dispatched alerts
// @Summary Recent alerts from the journal
// @Produce json
// @Param limit query int false "maximum number of alerts"
// @Success 200 {array} models.Alert
// @Failure 501 {object} map[string]string
// @Router /alerts [get]
func (h *APIHandler) GetAlerts(c echo.Context) error {
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = n
	}

	alerts, err := h.watchdog.RecentAlerts(c.Request().Context(), limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, alerts)
}

// Health reports liveness of the HTTP server
func (h *APIHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// fail maps service errors onto HTTP responses
func (h *APIHandler) fail(c echo.Context, err error) error {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": verr.Error()})
	case services.IsNotFound(err):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	case errors.Is(err, services.ErrJournalDisabled):
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": err.Error()})
	default:
		logrus.Errorf("Error handling %s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
}

// target reads object_name and sub_object_name from the query string or form
func target(c echo.Context) (parent, child string) {
	parent = c.QueryParam("object_name")
	if parent == "" {
		parent = c.FormValue("object_name")
	}
	child = c.QueryParam("sub_object_name")
	if child == "" {
		child = c.FormValue("sub_object_name")
	}
	return parent, child
}

// SetupRoutes sets up the API routes
func (h *APIHandler) SetupRoutes(e *echo.Echo) {
	// Legacy paths used by deployed agents and dashboards
	e.POST("/update_status", h.UpdateStatus)
	e.GET("/status_tree", h.GetStatusTree)
	e.POST("/pause", h.Pause)
	e.POST("/resume", h.Resume)
	e.POST("/delete", h.Delete)
	e.POST("/toggle_notification", h.ToggleNotification)

	api := e.Group("/api")
	api.POST("/heartbeat", h.UpdateStatus)
	api.GET("/status", h.GetStatusTree)
	api.GET("/status/:object", h.GetStatus)
	api.POST("/pause", h.Pause)
	api.POST("/resume", h.Resume)
	api.POST("/delete", h.Delete)
	api.POST("/toggle_notification", h.ToggleNotification)
	api.GET("/alerts", h.GetAlerts)

	e.GET("/healthz", h.Health)
}
