package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	cbctaskdomain "github.com/smallbiznis/dealcadence/internal/cbctask/domain"
	nextcalldomain "github.com/smallbiznis/dealcadence/internal/nextcall/domain"
	opportunitydomain "github.com/smallbiznis/dealcadence/internal/opportunity/domain"
)

const maxBatchRecalculate = 500

type createOpportunityRequest struct {
	Name        string `json:"name"`
	OwnerUserID string `json:"owner_user_id"`
	Stage       string `json:"stage"`
}

type scheduleResponse struct {
	Opportunity opportunitydomain.Opportunity `json:"opportunity"`
	CBCTask     *cbctaskdomain.Task           `json:"cbc_task"`
}

type recalculateBatchRequest struct {
	OpportunityIDs []string `json:"opportunity_ids"`
}

type setNextCallDateRequest struct {
	NextCallDate *string `json:"next_call_date"`
}

type changeStageRequest struct {
	Stage string `json:"stage"`
}

func (s *Server) CreateOpportunity(c *gin.Context) {
	var req createOpportunityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.opportunitySvc.Create(c.Request.Context(), opportunitydomain.CreateOpportunityRequest{
		Name:        strings.TrimSpace(req.Name),
		OwnerUserID: strings.TrimSpace(req.OwnerUserID),
		Stage:       strings.TrimSpace(req.Stage),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetOpportunityByID(c *gin.Context) {
	item, ok := s.loadOpportunity(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) GetOpportunitySchedule(c *gin.Context) {
	item, ok := s.loadOpportunity(c)
	if !ok {
		return
	}

	task, err := s.cbcTaskSvc.FindForOpportunity(c.Request.Context(), item.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": scheduleResponse{Opportunity: item, CBCTask: task}})
}

func (s *Server) RecalculateOpportunity(c *gin.Context) {
	item, ok := s.loadOpportunity(c)
	if !ok {
		return
	}

	ctx := nextcalldomain.WithTrigger(c.Request.Context(), nextcalldomain.TriggerManual)
	state, err := s.nextCallSvc.Recalculate(ctx, item.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": state})
}

// RecalculateOpportunities recalculates the listed opportunities in request
// order. IDs outside the caller's organization are reported as not found
// without touching the rest of the batch.
func (s *Server) RecalculateOpportunities(c *gin.Context) {
	var req recalculateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.OpportunityIDs) == 0 {
		AbortWithError(c, newValidationError("opportunity_ids", "required", "opportunity_ids is required"))
		return
	}
	if len(req.OpportunityIDs) > maxBatchRecalculate {
		AbortWithError(c, newValidationError("opportunity_ids", "too_many", "too many opportunity ids"))
		return
	}

	ctx := c.Request.Context()
	results := make([]nextcalldomain.BatchResult, len(req.OpportunityIDs))
	visible := make([]snowflake.ID, 0, len(req.OpportunityIDs))
	positions := make([]int, 0, len(req.OpportunityIDs))
	for i, raw := range req.OpportunityIDs {
		item, err := s.opportunitySvc.GetByID(ctx, raw)
		if err != nil {
			id, _ := snowflake.ParseString(strings.TrimSpace(raw))
			results[i] = nextcalldomain.BatchResult{OpportunityID: id, Error: err.Error(), Err: err}
			continue
		}
		visible = append(visible, item.ID)
		positions = append(positions, i)
	}

	ctx = nextcalldomain.WithTrigger(ctx, nextcalldomain.TriggerManual)
	for j, result := range s.nextCallSvc.RecalculateBatch(ctx, visible) {
		results[positions[j]] = result
	}

	failed := 0
	for _, result := range results {
		if !result.OK() {
			failed++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": results,
		"summary": gin.H{
			"total":     len(results),
			"succeeded": len(results) - failed,
			"failed":    failed,
		},
	})
}

func (s *Server) SetNextCallDate(c *gin.Context) {
	var req setNextCallDateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var raw string
	if req.NextCallDate != nil {
		raw = *req.NextCallDate
	}
	date, err := parseOptionalTime(raw, false)
	if err != nil {
		AbortWithError(c, newValidationError("next_call_date", "invalid_next_call_date", "invalid next_call_date"))
		return
	}

	item, ok := s.loadOpportunity(c)
	if !ok {
		return
	}

	updated, err := s.nextCallSvc.SetManualNextCallDate(c.Request.Context(), item.ID, date)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": updated})
}

func (s *Server) ChangeOpportunityStage(c *gin.Context) {
	var req changeStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, ok := s.loadOpportunity(c)
	if !ok {
		return
	}

	stage := opportunitydomain.Stage(strings.ToLower(strings.TrimSpace(req.Stage)))
	updated, err := s.nextCallSvc.ChangeStage(c.Request.Context(), item.ID, stage)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": updated})
}

// loadOpportunity resolves :id within the caller's organization and aborts
// the request when it cannot.
func (s *Server) loadOpportunity(c *gin.Context) (opportunitydomain.Opportunity, bool) {
	item, err := s.opportunitySvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return opportunitydomain.Opportunity{}, false
	}
	return item, true
}
