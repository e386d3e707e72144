package registry

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rulehub/internal/conflict"
	"rulehub/internal/history"
	"rulehub/internal/logger"
	"rulehub/internal/rules"
	"rulehub/pkg/errors"
)

type BaseHandler struct {
	Service *Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		ruleRoutes := v1.Group("/rules")
		{
			ruleRoutes.GET("", h.ListRules)
			ruleRoutes.POST("", h.CreateRule)
			ruleRoutes.POST("/bulk-state", h.BulkChangeState)
			ruleRoutes.GET("/export", h.ExportRules)
			ruleRoutes.POST("/import", h.ImportRules)
			ruleRoutes.GET("/:id", h.GetRule)
			ruleRoutes.PUT("/:id", h.UpdateRule)
			ruleRoutes.DELETE("/:id", h.DeleteRule)
			ruleRoutes.POST("/:id/evaluate", h.EvaluateRule)
			ruleRoutes.POST("/:id/state", h.ChangeState)
			ruleRoutes.GET("/:id/conflicts", h.RuleConflicts)
			ruleRoutes.GET("/:id/versions", h.ListVersions)
			ruleRoutes.GET("/:id/versions/:number", h.GetVersion)
			ruleRoutes.GET("/:id/diff", h.DiffVersions)
			ruleRoutes.POST("/:id/rollback", h.Rollback)
		}

		conflictRoutes := v1.Group("/conflicts")
		{
			conflictRoutes.GET("", h.ConflictReport)
			conflictRoutes.POST("/scan", h.TriggerScan)
			conflictRoutes.POST("/:conflictId/preview", h.PreviewResolution)
			conflictRoutes.POST("/:conflictId/resolve", h.ApplyResolution)
		}
	}
}

// ListRules godoc
// @Summary      List rules
// @Description  Get all rules, optionally filtered by lifecycle state
// @Tags         rules
// @Produce      json
// @Param        state  query     string  false  "Lifecycle state filter"
// @Success      200    {array}   rules.Rule
// @Failure      400    {object}  errors.ErrorResponse
// @Router       /rules [get]
func (h *Handler) ListRules(c *gin.Context) {
	out, err := h.Service.List(c.Request.Context(), rules.State(c.Query("state")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CreateRule godoc
// @Summary      Create a rule
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        rule  body      rules.CreateRuleRequest  true  "Rule definition"
// @Success      201   {object}  SaveResult
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Router       /rules [post]
func (h *Handler) CreateRule(c *gin.Context) {
	var req rules.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithDetail("message", err.Error()))
		return
	}

	result, err := h.Service.Create(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// GetRule godoc
// @Summary      Get a rule by ID
// @Tags         rules
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  rules.Rule
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id} [get]
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.Service.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule godoc
// @Summary      Update a rule
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id    path      string                   true  "Rule ID"
// @Param        rule  body      rules.UpdateRuleRequest  true  "Fields to change"
// @Success      200   {object}  SaveResult
// @Failure      404   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Router       /rules/{id} [put]
func (h *Handler) UpdateRule(c *gin.Context) {
	var req rules.UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithDetail("message", err.Error()))
		return
	}

	result, err := h.Service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeleteRule godoc
// @Summary      Delete a rule
// @Tags         rules
// @Param        id  path  string  true  "Rule ID"
// @Success      204
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id} [delete]
func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.Service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// EvaluateRule godoc
// @Summary      Evaluate a rule against an input record
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id     path      string                  true  "Rule ID"
// @Param        input  body      map[string]interface{}  true  "Input record"
// @Success      200    {object}  engine.Result
// @Failure      404    {object}  errors.ErrorResponse
// @Router       /rules/{id}/evaluate [post]
func (h *Handler) EvaluateRule(c *gin.Context) {
	var input map[string]interface{}
	if err := c.ShouldBindJSON(&input); err != nil {
		h.HandleError(c, errors.ErrValidation.WithDetail("message", err.Error()))
		return
	}

	result, err := h.Service.Evaluate(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type changeStateRequest struct {
	ToState rules.State `json:"to_state" binding:"required"`
	Reason  string      `json:"reason"`
}

// ChangeState godoc
// @Summary      Change the lifecycle state of a rule
// @Tags         rules
// @Accept       json
// @Param        id       path  string              true  "Rule ID"
// @Param        request  body  changeStateRequest  true  "Target state"
// @Success      204
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id}/state [post]
func (h *Handler) ChangeState(c *gin.Context) {
	var req changeStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithDetail("message", err.Error()))
		return
	}

	ctx := c.Request.Context()
	if err := h.Service.ChangeState(ctx, c.Param("id"), req.ToState, getActor(ctx), req.Reason); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// BulkChangeState godoc
// @Summary      Change the state of many rules at once
// @Description  Admin operation. Bypasses the approval workflow but records
// @Description  an audit event for every rule it touches.
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        request  body      rules.BulkStateRequest  true  "Rule IDs and target state"
// @Success      200      {object}  rules.BulkStateResult
// @Failure      400      {object}  errors.ErrorResponse
// @Router       /rules/bulk-state [post]
func (h *Handler) BulkChangeState(c *gin.Context) {
	var req rules.BulkStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithDetail("message", err.Error()))
		return
	}

	result, err := h.Service.BulkChangeState(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RuleConflicts godoc
// @Summary      List conflicts involving one rule
// @Tags         conflicts
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {array}   conflict.Conflict
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id}/conflicts [get]
func (h *Handler) RuleConflicts(c *gin.Context) {
	conflicts, err := h.Service.FocusedConflicts(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if conflicts == nil {
		conflicts = []conflict.Conflict{}
	}
	c.JSON(http.StatusOK, conflicts)
}

// ListVersions godoc
// @Summary      List the version history of a rule
// @Tags         versions
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {array}   history.Version
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id}/versions [get]
func (h *Handler) ListVersions(c *gin.Context) {
	versions, err := h.Service.Versions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}

// GetVersion godoc
// @Summary      Get one stored version of a rule
// @Tags         versions
// @Produce      json
// @Param        id      path      string  true  "Rule ID"
// @Param        number  path      int     true  "Version number"
// @Success      200     {object}  history.Version
// @Failure      404     {object}  errors.ErrorResponse
// @Router       /rules/{id}/versions/{number} [get]
func (h *Handler) GetVersion(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		h.HandleError(c, errors.ErrValidation.WithDetail("message", "version number must be an integer"))
		return
	}

	version, err := h.Service.GetVersion(c.Request.Context(), c.Param("id"), number)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

// DiffVersions godoc
// @Summary      Diff two stored versions of a rule
// @Tags         versions
// @Produce      json
// @Param        id    path      string  true  "Rule ID"
// @Param        from  query     int     true  "Older version number"
// @Param        to    query     int     true  "Newer version number"
// @Success      200   {array}   history.DiffItem
// @Failure      400   {object}  errors.ErrorResponse
// @Router       /rules/{id}/diff [get]
func (h *Handler) DiffVersions(c *gin.Context) {
	from, err := strconv.Atoi(c.Query("from"))
	if err != nil {
		h.HandleError(c, errors.ErrValidation.WithDetail("message", "from must be an integer version number"))
		return
	}
	to, err := strconv.Atoi(c.Query("to"))
	if err != nil {
		h.HandleError(c, errors.ErrValidation.WithDetail("message", "to must be an integer version number"))
		return
	}

	items, err := h.Service.Diff(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if items == nil {
		items = []history.DiffItem{}
	}
	c.JSON(http.StatusOK, items)
}

type rollbackRequest struct {
	ToVersion int `json:"to_version" binding:"required"`
}

// Rollback godoc
// @Summary      Restore an earlier version as a new version
// @Tags         versions
// @Accept       json
// @Produce      json
// @Param        id       path      string           true  "Rule ID"
// @Param        request  body      rollbackRequest  true  "Target version"
// @Success      200      {object}  SaveResult
// @Failure      404      {object}  errors.ErrorResponse
// @Router       /rules/{id}/rollback [post]
func (h *Handler) Rollback(c *gin.Context) {
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithDetail("message", err.Error()))
		return
	}

	ctx := c.Request.Context()
	result, err := h.Service.Rollback(ctx, c.Param("id"), req.ToVersion, getActor(ctx))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ConflictReport godoc
// @Summary      Get the latest registry-wide conflict report
// @Tags         conflicts
// @Produce      json
// @Success      200  {object}  conflict.Report
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /conflicts [get]
func (h *Handler) ConflictReport(c *gin.Context) {
	report, err := h.Service.LatestConflictReport(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// TriggerScan godoc
// @Summary      Start a background conflict scan
// @Tags         conflicts
// @Success      202
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /conflicts/scan [post]
func (h *Handler) TriggerScan(c *gin.Context) {
	if err := h.Service.TriggerScan(c.Request.Context()); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type resolutionRequest struct {
	Strategy conflict.Strategy `json:"strategy" binding:"required"`
}

// PreviewResolution godoc
// @Summary      Preview a resolution strategy without persisting anything
// @Tags         conflicts
// @Accept       json
// @Produce      json
// @Param        conflictId  path      string             true  "Conflict ID from the latest report"
// @Param        request     body      resolutionRequest  true  "Strategy to preview"
// @Success      200         {object}  conflict.Preview
// @Failure      404         {object}  errors.ErrorResponse
// @Router       /conflicts/{conflictId}/preview [post]
func (h *Handler) PreviewResolution(c *gin.Context) {
	var req resolutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithDetail("message", err.Error()))
		return
	}

	preview, err := h.Service.PreviewResolution(c.Request.Context(), c.Param("conflictId"), req.Strategy)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// ApplyResolution godoc
// @Summary      Apply a resolution strategy
// @Tags         conflicts
// @Accept       json
// @Produce      json
// @Param        conflictId  path      string             true  "Conflict ID from the latest report"
// @Param        request     body      resolutionRequest  true  "Strategy to apply"
// @Success      200         {object}  conflict.Preview
// @Failure      404         {object}  errors.ErrorResponse
// @Router       /conflicts/{conflictId}/resolve [post]
func (h *Handler) ApplyResolution(c *gin.Context) {
	var req resolutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, errors.ErrValidation.WithDetail("message", err.Error()))
		return
	}

	ctx := c.Request.Context()
	preview, err := h.Service.ApplyResolution(ctx, c.Param("conflictId"), req.Strategy, getActor(ctx))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// ExportRules godoc
// @Summary      Export all rules
// @Description  Exports the full registry as a JSON array or as CSV with
// @Description  rule payloads embedded as JSON cells.
// @Tags         import-export
// @Produce      json
// @Param        format  query  string  false  "json or csv"  default(json)
// @Success      200
// @Router       /rules/export [get]
func (h *Handler) ExportRules(c *gin.Context) {
	ctx := c.Request.Context()
	switch c.DefaultQuery("format", "json") {
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="rules.csv"`)
		if err := h.Service.ExportCSV(ctx, c.Writer); err != nil {
			h.HandleError(c, err)
		}
	case "json":
		out, err := h.Service.ListRules(ctx)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		if out == nil {
			out = []*rules.Rule{}
		}
		c.JSON(http.StatusOK, out)
	default:
		h.HandleError(c, errors.ErrValidation.WithDetail("message", "format must be json or csv"))
	}
}

// ImportRules godoc
// @Summary      Import rules
// @Description  Accepts a JSON array (default) or CSV. The whole batch is
// @Description  validated first; one invalid rule rejects the import.
// @Tags         import-export
// @Accept       json
// @Produce      json
// @Param        format  query     string  false  "json or csv"  default(json)
// @Success      200     {object}  ImportResult
// @Failure      400     {object}  errors.ErrorResponse
// @Router       /rules/import [post]
func (h *Handler) ImportRules(c *gin.Context) {
	ctx := c.Request.Context()

	var result *ImportResult
	var err error
	switch c.DefaultQuery("format", "json") {
	case "csv":
		result, err = h.Service.ImportCSV(ctx, c.Request.Body, getActor(ctx))
	case "json":
		result, err = h.Service.ImportJSON(ctx, c.Request.Body, getActor(ctx))
	default:
		err = errors.ErrValidation.WithDetail("message", "format must be json or csv")
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
