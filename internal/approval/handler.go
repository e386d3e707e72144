package approval

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rulehub/internal/logger"
	"rulehub/pkg/errors"
)

type Handler struct {
	service *Service
	logger  logger.Logger
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		approvals := v1.Group("/approvals")
		{
			approvals.GET("", h.List)
			approvals.POST("", h.Create)
			approvals.GET("/:id", h.Get)
			approvals.POST("/:id/approve", h.Approve)
			approvals.POST("/:id/reject", h.Reject)
			approvals.GET("/:id/timeline", h.Timeline)
		}

		v1.GET("/rules/:id/timeline", h.RuleTimeline)
	}
}

// Create godoc
// @Summary      Request promotion of a rule
// @Tags         approvals
// @Accept       json
// @Produce      json
// @Param        request  body      CreateRequestInput  true  "Promotion request"
// @Success      201      {object}  Request
// @Failure      409      {object}  errors.ErrorResponse
// @Router       /approvals [post]
func (h *Handler) Create(c *gin.Context) {
	var input CreateRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.handleError(c, errors.ErrValidation.WithDetail("message", err.Error()))
		return
	}

	req, err := h.service.CreateRequest(c.Request.Context(), input, requester(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// List godoc
// @Summary      List approval requests
// @Tags         approvals
// @Produce      json
// @Param        status  query     string  false  "Status filter (pending, approved, rejected)"
// @Success      200     {array}   Request
// @Router       /approvals [get]
func (h *Handler) List(c *gin.Context) {
	requests, err := h.service.List(c.Request.Context(), Status(c.Query("status")))
	if err != nil {
		h.handleError(c, err)
		return
	}
	if requests == nil {
		requests = []Request{}
	}
	c.JSON(http.StatusOK, requests)
}

// Get godoc
// @Summary      Get an approval request
// @Tags         approvals
// @Produce      json
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  Request
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /approvals/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	req, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// Approve godoc
// @Summary      Record an approval
// @Description  When the approval threshold is reached the rule is promoted
// @Description  to prod as part of this call.
// @Tags         approvals
// @Accept       json
// @Produce      json
// @Param        id        path      string         true  "Request ID"
// @Param        decision  body      DecisionInput  true  "Approver, role and optional comment"
// @Success      200       {object}  Request
// @Failure      409       {object}  errors.ErrorResponse
// @Router       /approvals/{id}/approve [post]
func (h *Handler) Approve(c *gin.Context) {
	var decision DecisionInput
	if err := c.ShouldBindJSON(&decision); err != nil {
		h.handleError(c, errors.ErrValidation.WithDetail("message", err.Error()))
		return
	}

	req, err := h.service.Approve(c.Request.Context(), c.Param("id"), decision)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// Reject godoc
// @Summary      Reject an approval request
// @Description  Rejection is terminal. A new request is needed to retry.
// @Tags         approvals
// @Accept       json
// @Produce      json
// @Param        id        path      string         true  "Request ID"
// @Param        decision  body      DecisionInput  true  "Rejecter and reason"
// @Success      200       {object}  Request
// @Failure      409       {object}  errors.ErrorResponse
// @Router       /approvals/{id}/reject [post]
func (h *Handler) Reject(c *gin.Context) {
	var decision DecisionInput
	if err := c.ShouldBindJSON(&decision); err != nil {
		h.handleError(c, errors.ErrValidation.WithDetail("message", err.Error()))
		return
	}

	req, err := h.service.Reject(c.Request.Context(), c.Param("id"), decision)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// Timeline godoc
// @Summary      Get the event timeline of an approval request
// @Tags         approvals
// @Produce      json
// @Param        id   path      string  true  "Request ID"
// @Success      200  {array}   TimelineEvent
// @Router       /approvals/{id}/timeline [get]
func (h *Handler) Timeline(c *gin.Context) {
	events, err := h.service.Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	if events == nil {
		events = []TimelineEvent{}
	}
	c.JSON(http.StatusOK, events)
}

// RuleTimeline godoc
// @Summary      Get the full workflow timeline of a rule
// @Tags         approvals
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {array}   TimelineEvent
// @Router       /rules/{id}/timeline [get]
func (h *Handler) RuleTimeline(c *gin.Context) {
	events, err := h.service.RuleTimeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	if events == nil {
		events = []TimelineEvent{}
	}
	c.JSON(http.StatusOK, events)
}

func requester(c *gin.Context) string {
	if userID := c.Request.Context().Value("user_id"); userID != nil {
		if id, ok := userID.(string); ok {
			return id
		}
	}
	return "system"
}
