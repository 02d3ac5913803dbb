package server

import (
	"fmt"
	"net/http"

	"github.com/MarcoPoloResearchLab/jury/internal/catalog"
	"github.com/MarcoPoloResearchLab/jury/internal/export"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleCreateGroup(c *gin.Context) {
	var request groupRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	group, err := h.catalog.CreateGroup(c.Request.Context(), catalog.GroupInput{
		Name:       request.Name,
		Visibility: catalog.Visibility(request.Visibility),
		Password:   request.Password,
		StartsAt:   request.StartsAt,
		EndsAt:     request.EndsAt,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("judging group created",
		zap.String("group_id", group.GroupID),
		zap.String("admin_id", c.GetString(adminContextKey)))
	c.JSON(http.StatusCreated, groupToPayload(group))
}

func (h *httpHandler) handleAddCriterion(c *gin.Context) {
	var request criterionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	criterion, err := h.catalog.AddCriterion(c.Request.Context(), catalog.CriterionInput{
		GroupID:      c.Param("groupID"),
		Question:     request.Question,
		Description:  request.Description,
		DisplayOrder: request.DisplayOrder,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, criterionToPayload(criterion))
}

func (h *httpHandler) handleArchiveCriterion(c *gin.Context) {
	criterionID := c.Param("criterionID")
	if err := h.catalog.ArchiveCriterion(c.Request.Context(), criterionID); err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("criterion archived",
		zap.String("criterion_id", criterionID),
		zap.String("admin_id", c.GetString(adminContextKey)))
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddSubmission(c *gin.Context) {
	var request submissionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	submission, err := h.catalog.AddSubmission(c.Request.Context(), catalog.SubmissionInput{
		GroupID: c.Param("groupID"),
		Title:   request.Title,
		Slug:    request.Slug,
		Hidden:  request.Hidden,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, submissionToPayload(submission))
}

func (h *httpHandler) handleListJudges(c *gin.Context) {
	groupID := c.Param("groupID")
	if _, err := h.catalog.GetGroup(c.Request.Context(), groupID); err != nil {
		h.respondError(c, err)
		return
	}
	roster, err := h.judges.ListJudges(c.Request.Context(), groupID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]judgePayload, 0, len(roster))
	for _, judge := range roster {
		payload = append(payload, judgeToPayload(judge))
	}
	c.JSON(http.StatusOK, gin.H{"judges": payload})
}

func (h *httpHandler) handleDeleteJudge(c *gin.Context) {
	groupID := c.Param("groupID")
	judgeID := c.Param("judgeID")
	if err := h.judges.DeleteJudge(c.Request.Context(), groupID, judgeID); err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("judge deleted",
		zap.String("group_id", groupID),
		zap.String("judge_id", judgeID),
		zap.String("admin_id", c.GetString(adminContextKey)))
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGroupProgress(c *gin.Context) {
	groupID := c.Param("groupID")
	if _, err := h.catalog.GetGroup(c.Request.Context(), groupID); err != nil {
		h.respondError(c, err)
		return
	}
	report, err := h.progress.GroupProgress(c.Request.Context(), groupID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *httpHandler) handleExport(c *gin.Context) {
	groupID := c.Param("groupID")
	if _, err := h.catalog.GetGroup(c.Request.Context(), groupID); err != nil {
		h.respondError(c, err)
		return
	}
	rows, err := h.exporter.Rows(c.Request.Context(), groupID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", groupID+"-scores.csv"))
	c.Status(http.StatusOK)
	if err := export.WriteCSV(c.Writer, rows); err != nil {
		h.logger.Error("export write failed", zap.String("group_id", groupID), zap.Error(err))
	}
}

func (h *httpHandler) handleListAdministrators(c *gin.Context) {
	identities, err := h.admins.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]administratorPayload, 0, len(identities))
	for _, identity := range identities {
		payload = append(payload, administratorPayload{
			AdminID:     identity.AdminID,
			Provider:    identity.Provider,
			Email:       identity.Email,
			DisplayName: identity.DisplayName,
			LastSeenAt:  identity.LastSeenAt(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"administrators": payload})
}
