package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/jury/internal/admins"
	"github.com/MarcoPoloResearchLab/jury/internal/catalog"
	"github.com/MarcoPoloResearchLab/jury/internal/judges"
	"github.com/MarcoPoloResearchLab/jury/internal/notes"
	"github.com/MarcoPoloResearchLab/jury/internal/scoring"
	"github.com/MarcoPoloResearchLab/jury/internal/serviceerr"
	"github.com/MarcoPoloResearchLab/jury/internal/status"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const reasonInternal = "internal_error"

type errorMapping struct {
	target error
	code   int
}

var errorMappings = []errorMapping{
	{target: judges.ErrSessionExpired, code: http.StatusUnauthorized},
	{target: admins.ErrInvalidIdentity, code: http.StatusUnauthorized},
	{target: status.ErrIncompleteScoring, code: http.StatusUnprocessableEntity},
	{target: status.ErrAlreadyOwned, code: http.StatusConflict},
	{target: status.ErrConcurrentUpdate, code: http.StatusConflict},
	{target: catalog.ErrDuplicateSlug, code: http.StatusConflict},
	{target: status.ErrNotOwner, code: http.StatusForbidden},
	{target: catalog.ErrInvalidGroupPassword, code: http.StatusForbidden},
	{target: judges.ErrJudgingNotOpen, code: http.StatusForbidden},
	{target: judges.ErrJudgingClosed, code: http.StatusForbidden},
	{target: scoring.ErrInvalidScore, code: http.StatusBadRequest},
	{target: scoring.ErrInvalidComment, code: http.StatusBadRequest},
	{target: notes.ErrStaleNote, code: http.StatusBadRequest},
	{target: notes.ErrInvalidContent, code: http.StatusBadRequest},
	{target: judges.ErrInvalidName, code: http.StatusBadRequest},
	{target: catalog.ErrInvalidInput, code: http.StatusBadRequest},
	{target: catalog.ErrGroupNotFound, code: http.StatusNotFound},
	{target: catalog.ErrCriterionNotFound, code: http.StatusNotFound},
	{target: catalog.ErrSubmissionNotFound, code: http.StatusNotFound},
	{target: judges.ErrJudgeNotFound, code: http.StatusNotFound},
}

// httpStatusFor maps a service error to its response status.
func httpStatusFor(err error) int {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.code
		}
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": reason, "code": code}. Rejections are logged at info, failures at error.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	statusCode := httpStatusFor(err)
	reason := serviceerr.Reason(err)
	code := serviceerr.Code(err)
	if statusCode >= http.StatusInternalServerError {
		reason = reasonInternal
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
	} else {
		h.logger.Info("request rejected",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Int("status", statusCode))
	}
	c.AbortWithStatusJSON(statusCode, gin.H{"error": reason, "code": code})
}

func (h *httpHandler) respondInvalidRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": "server.invalid_request"})
}
