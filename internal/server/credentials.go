package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	credentialdomain "github.com/smallbiznis/dealcadence/internal/credential/domain"
	"github.com/smallbiznis/dealcadence/internal/orgcontext"
)

type storeCredentialRequest struct {
	UserID       string     `json:"user_id"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at"`
	Scopes       []string   `json:"scopes"`
}

func (s *Server) StoreCredential(c *gin.Context) {
	var req storeCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.credentialSvc.Store(c.Request.Context(), credentialdomain.StoreRequest{
		UserID:       actingUser(c, req.UserID),
		Provider:     c.Param("provider"),
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    req.ExpiresAt,
		Scopes:       req.Scopes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RevokeCredential(c *gin.Context) {
	userID := actingUser(c, c.Query("user_id"))
	if userID == "" {
		AbortWithError(c, credentialdomain.ErrInvalidUser)
		return
	}

	if err := s.credentialSvc.Revoke(c.Request.Context(), userID, c.Param("provider")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// actingUser prefers the X-User-Id header over a user named in the request.
func actingUser(c *gin.Context, fallback string) string {
	if userID, ok := orgcontext.UserIDFromContext(c.Request.Context()); ok {
		return userID
	}
	return strings.TrimSpace(fallback)
}
