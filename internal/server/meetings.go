package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	calendarsyncdomain "github.com/smallbiznis/dealcadence/internal/calendarsync/domain"
	meetingdomain "github.com/smallbiznis/dealcadence/internal/meeting/domain"
)

const maxCalendarBytes = 5 << 20

type recordCallRecordingRequest struct {
	OpportunityID  string `json:"opportunity_id"`
	Provider       string `json:"provider"`
	ExternalCallID string `json:"external_call_id"`
	MeetingDate    string `json:"meeting_date"`
	Status         string `json:"status"`
}

type recordNotesSessionRequest struct {
	OpportunityID     string `json:"opportunity_id"`
	Provider          string `json:"provider"`
	ExternalSessionID string `json:"external_session_id"`
	MeetingDate       string `json:"meeting_date"`
	Status            string `json:"status"`
}

func (s *Server) RecordCallRecording(c *gin.Context) {
	var req recordCallRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	meetingDate, ok := bindMeetingDate(c, req.MeetingDate)
	if !ok {
		return
	}

	resp, err := s.ingestor.RecordCallRecording(c.Request.Context(), meetingdomain.RecordCallRecordingRequest{
		OpportunityID:  req.OpportunityID,
		Provider:       req.Provider,
		ExternalCallID: req.ExternalCallID,
		MeetingDate:    meetingDate,
		Status:         req.Status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RecordNotesSession(c *gin.Context) {
	var req recordNotesSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	meetingDate, ok := bindMeetingDate(c, req.MeetingDate)
	if !ok {
		return
	}

	resp, err := s.ingestor.RecordNotesSession(c.Request.Context(), meetingdomain.RecordNotesSessionRequest{
		OpportunityID:     req.OpportunityID,
		Provider:          req.Provider,
		ExternalSessionID: req.ExternalSessionID,
		MeetingDate:       meetingDate,
		Status:            req.Status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ImportCalendar stores the events of a raw text/calendar body against the
// opportunity in the path.
func (s *Server) ImportCalendar(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxCalendarBytes))
	if err != nil {
		AbortWithError(c, newValidationError("calendar", "calendar_too_large", "calendar body is too large"))
		return
	}

	resp, err := s.calendar.Import(c.Request.Context(), calendarsyncdomain.ImportRequest{
		OpportunityID: c.Param("id"),
		ICS:           body,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// bindMeetingDate leaves a missing date as the zero time for the ingestor to
// reject.
func bindMeetingDate(c *gin.Context, raw string) (time.Time, bool) {
	parsed, err := parseOptionalTime(raw, false)
	if err != nil {
		AbortWithError(c, meetingdomain.ErrInvalidDate)
		return time.Time{}, false
	}
	if parsed == nil {
		return time.Time{}, true
	}
	return *parsed, true
}
