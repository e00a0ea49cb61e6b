package assignment

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/quickassign/internal/platform/auth"
	"github.com/ehr/quickassign/pkg/pagination"
)

type Handler struct {
	events  EventRepository
	trigger *Trigger
}

func NewHandler(events EventRepository, trigger *Trigger) *Handler {
	return &Handler{events: events, trigger: trigger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/auto-assignment-events", auth.RequireRole("admin", "staff", "auditor"))
	g.GET("", h.ListEvents)
	g.GET("/:id", h.GetEvent)
	g.POST("/trigger", h.TriggerAssignment, auth.RequireRole("admin", "staff"))
}

func (h *Handler) ListEvents(c echo.Context) error {
	pg := pagination.FromContext(c)

	var filter ListFilter
	if v := c.QueryParam("status"); v != "" {
		s, err := ParseStatus(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filter.Status = s
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		filter.PatientID = id
	}

	items, total, err := h.events.List(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Event{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) GetEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ev, err := h.events.GetByID(c.Request().Context(), id)
	if errors.Is(err, ErrEventNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "auto-assignment event not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ev)
}

type triggerRequest struct {
	PatientID string `json:"patient_id"`
}

func (h *Handler) TriggerAssignment(c echo.Context) error {
	var req triggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id must be a UUID")
	}
	if err := h.trigger.Enqueue(c.Request().Context(), patientID); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"status":     "queued",
		"patient_id": patientID.String(),
	})
}
