package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	calendarsyncdomain "github.com/smallbiznis/dealcadence/internal/calendarsync/domain"
	cbctaskdomain "github.com/smallbiznis/dealcadence/internal/cbctask/domain"
	credentialdomain "github.com/smallbiznis/dealcadence/internal/credential/domain"
	meetingdomain "github.com/smallbiznis/dealcadence/internal/meeting/domain"
	nextcalldomain "github.com/smallbiznis/dealcadence/internal/nextcall/domain"
	opportunitydomain "github.com/smallbiznis/dealcadence/internal/opportunity/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// validationSentinels are domain errors reported as 400 with their own code.
var validationSentinels = []error{
	ErrInvalidRequest,
	opportunitydomain.ErrInvalidID,
	opportunitydomain.ErrInvalidOrganization,
	opportunitydomain.ErrInvalidName,
	opportunitydomain.ErrInvalidOwner,
	opportunitydomain.ErrInvalidStage,
	nextcalldomain.ErrInvalidStage,
	meetingdomain.ErrInvalidID,
	meetingdomain.ErrInvalidProvider,
	meetingdomain.ErrInvalidExternalID,
	meetingdomain.ErrInvalidDate,
	meetingdomain.ErrInvalidStatus,
	calendarsyncdomain.ErrInvalidID,
	calendarsyncdomain.ErrEmptyCalendar,
	calendarsyncdomain.ErrInvalidCalendar,
	credentialdomain.ErrInvalidOrganization,
	credentialdomain.ErrInvalidUser,
	credentialdomain.ErrInvalidProvider,
	credentialdomain.ErrInvalidToken,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, cbctaskdomain.ErrTaskExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, credentialdomain.ErrCredentialMissing):
		return http.StatusFailedDependency, errorPayload{
			Type:    "credential_missing",
			Message: "integration credential missing",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, meetingdomain.ErrSourceUnavailable),
		errors.Is(err, credentialdomain.ErrEncryptionKeyMissing):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds error_type and error_code on request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, opportunitydomain.ErrNotFound),
		errors.Is(err, cbctaskdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) (string, bool) {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "empty_calendar":
		return "calendar"
	}
	return strings.TrimPrefix(code, "invalid_")
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "empty_calendar":
		return "calendar body is empty"
	case "invalid_calendar":
		return "calendar could not be parsed"
	default:
		return "invalid value"
	}
}
