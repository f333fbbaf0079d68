package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	cbctaskdomain "github.com/smallbiznis/dealcadence/internal/cbctask/domain"
)

// SyncCBCTask converges the reminder task now instead of waiting for the
// background queue. Task API failures come back in the result body.
func (s *Server) SyncCBCTask(c *gin.Context) {
	item, ok := s.loadOpportunity(c)
	if !ok {
		return
	}

	resp, err := s.cbcTaskSvc.ProcessForOpportunity(c.Request.Context(), item.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CompleteCBCTask(c *gin.Context) {
	taskID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, cbctaskdomain.ErrNotFound)
		return
	}

	resp, err := s.cbcTaskSvc.MarkCompleted(c.Request.Context(), taskID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
