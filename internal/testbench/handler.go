package testbench

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
		perRule := v1.Group("/rules/:id/tests")
		{
			perRule.GET("", h.ListCases)
			perRule.POST("", h.CreateCase)
			perRule.POST("/run", h.RunAll)
		}

		cases := v1.Group("/tests")
		{
			cases.GET("/:caseId", h.GetCase)
			cases.PUT("/:caseId", h.UpdateCase)
			cases.DELETE("/:caseId", h.DeleteCase)
			cases.POST("/:caseId/run", h.RunCase)
		}
	}
}

// ListCases godoc
// @Summary      List the test cases of a rule
// @Tags         test-bench
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {array}   TestCase
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id}/tests [get]
func (h *Handler) ListCases(c *gin.Context) {
	cases, err := h.service.ListCases(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	if cases == nil {
		cases = []TestCase{}
	}
	c.JSON(http.StatusOK, cases)
}

// CreateCase godoc
// @Summary      Add a test case to a rule
// @Tags         test-bench
// @Accept       json
// @Produce      json
// @Param        id    path      string             true  "Rule ID"
// @Param        case  body      CreateCaseRequest  true  "Test case"
// @Success      201   {object}  TestCase
// @Failure      404   {object}  errors.ErrorResponse
// @Router       /rules/{id}/tests [post]
func (h *Handler) CreateCase(c *gin.Context) {
	var req CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, errors.ErrValidation.WithDetail("message", err.Error()))
		return
	}

	tc, err := h.service.CreateCase(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tc)
}

// GetCase godoc
// @Summary      Get a test case
// @Tags         test-bench
// @Produce      json
// @Param        caseId  path      string  true  "Test case ID"
// @Success      200     {object}  TestCase
// @Failure      404     {object}  errors.ErrorResponse
// @Router       /tests/{caseId} [get]
func (h *Handler) GetCase(c *gin.Context) {
	tc, err := h.service.GetCase(c.Request.Context(), c.Param("caseId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, tc)
}

// UpdateCase godoc
// @Summary      Update a test case
// @Tags         test-bench
// @Accept       json
// @Produce      json
// @Param        caseId  path      string             true  "Test case ID"
// @Param        case    body      CreateCaseRequest  true  "New content"
// @Success      200     {object}  TestCase
// @Failure      404     {object}  errors.ErrorResponse
// @Router       /tests/{caseId} [put]
func (h *Handler) UpdateCase(c *gin.Context) {
	var req CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, errors.ErrValidation.WithDetail("message", err.Error()))
		return
	}

	tc, err := h.service.UpdateCase(c.Request.Context(), c.Param("caseId"), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, tc)
}

// DeleteCase godoc
// @Summary      Delete a test case
// @Tags         test-bench
// @Param        caseId  path  string  true  "Test case ID"
// @Success      204
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /tests/{caseId} [delete]
func (h *Handler) DeleteCase(c *gin.Context) {
	if err := h.service.DeleteCase(c.Request.Context(), c.Param("caseId")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RunCase godoc
// @Summary      Replay one test case
// @Tags         test-bench
// @Produce      json
// @Param        caseId  path      string  true  "Test case ID"
// @Success      200     {object}  CaseResult
// @Failure      404     {object}  errors.ErrorResponse
// @Router       /tests/{caseId}/run [post]
func (h *Handler) RunCase(c *gin.Context) {
	result, err := h.service.RunCase(c.Request.Context(), c.Param("caseId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RunAll godoc
// @Summary      Replay every test case of a rule
// @Tags         test-bench
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  Report
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id}/tests/run [post]
func (h *Handler) RunAll(c *gin.Context) {
	report, err := h.service.RunAll(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
