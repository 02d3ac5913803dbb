package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jury/internal/judges"
	"github.com/MarcoPoloResearchLab/jury/internal/notes"
	"github.com/MarcoPoloResearchLab/jury/internal/scoring"
	"github.com/MarcoPoloResearchLab/jury/internal/serviceerr"
	"github.com/MarcoPoloResearchLab/jury/internal/status"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const opSubmitScore = "server.submit_score"

var errMissingScore = errors.New("score required")

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	registration, err := h.judges.Register(c.Request.Context(), judges.RegisterRequest{
		GroupID:  c.Param("groupID"),
		Name:     request.Name,
		Email:    strings.TrimSpace(request.Email),
		Password: request.Password,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, registerResponse{
		JudgeID:      registration.JudgeID,
		GroupID:      registration.GroupID,
		Name:         registration.Name,
		SessionToken: registration.SessionToken,
		Resumed:      registration.Resumed,
	})
}

func (h *httpHandler) handleHeartbeat(c *gin.Context) {
	var request heartbeatRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			h.respondInvalidRequest(c)
			return
		}
	}
	var clientTime time.Time
	if request.ClientTime != nil {
		clientTime = *request.ClientTime
	}
	if err := h.judges.Heartbeat(c.Request.Context(), c.GetString(sessionTokenContextKey), clientTime); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleWorkingSet(c *gin.Context) {
	judge, ok := currentJudge(c)
	if !ok {
		h.respondInvalidRequest(c)
		return
	}
	items, err := h.statuses.WorkingSet(c.Request.Context(), judge.GroupID, judge.JudgeID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]workingItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, workingItemToPayload(item))
	}
	c.JSON(http.StatusOK, gin.H{"submissions": payload})
}

func (h *httpHandler) handleListScores(c *gin.Context) {
	judge, ok := currentJudge(c)
	if !ok {
		h.respondInvalidRequest(c)
		return
	}
	scores, err := h.scores.GetJudgeScores(c.Request.Context(), judge.JudgeID, c.Param("submissionID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]scorePayload, 0, len(scores))
	for _, score := range scores {
		payload = append(payload, scoreToPayload(score))
	}
	c.JSON(http.StatusOK, gin.H{"scores": payload})
}

func (h *httpHandler) handleListCriteria(c *gin.Context) {
	judge, ok := currentJudge(c)
	if !ok {
		h.respondInvalidRequest(c)
		return
	}
	criteria, err := h.catalog.ActiveCriteria(c.Request.Context(), judge.GroupID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]criterionPayload, 0, len(criteria))
	for _, criterion := range criteria {
		payload = append(payload, criterionToPayload(criterion))
	}
	c.JSON(http.StatusOK, gin.H{"criteria": payload})
}

// handleSubmitScore refuses edits on a submission another judge has completed at the
// time of the check. The check and the upsert are separate statements, so a score can
// still land just after a concurrent completion; the stored status is unaffected.
func (h *httpHandler) handleSubmitScore(c *gin.Context) {
	judge, ok := currentJudge(c)
	if !ok {
		h.respondInvalidRequest(c)
		return
	}
	var request scoreRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	if request.Score == nil {
		h.respondError(c, serviceerr.New(opSubmitScore, "invalid_score", errors.Join(scoring.ErrInvalidScore, errMissingScore)))
		return
	}

	submissionID := c.Param("submissionID")
	record, err := h.statuses.GetStatus(c.Request.Context(), judge.GroupID, submissionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !status.IsEditable(record, judge.JudgeID) {
		h.respondError(c, serviceerr.New(opSubmitScore, "already_owned", status.ErrAlreadyOwned))
		return
	}

	err = h.scores.SubmitScore(c.Request.Context(), scoring.ScoreInput{
		JudgeID:      judge.JudgeID,
		GroupID:      judge.GroupID,
		SubmissionID: submissionID,
		CriterionID:  c.Param("criterionID"),
		Score:        *request.Score,
		Comment:      request.Comment,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleTransition(action status.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		judge, ok := currentJudge(c)
		if !ok {
			h.respondInvalidRequest(c)
			return
		}
		ctx := c.Request.Context()
		submissionID := c.Param("submissionID")

		var (
			transition status.Transition
			err        error
		)
		switch action {
		case status.ActionMarkComplete:
			transition, err = h.statuses.MarkComplete(ctx, judge.GroupID, submissionID, judge.JudgeID)
		case status.ActionReopen:
			transition, err = h.statuses.Reopen(ctx, judge.GroupID, submissionID, judge.JudgeID)
		case status.ActionSkip:
			transition, err = h.statuses.SetSkip(ctx, judge.GroupID, submissionID, judge.JudgeID)
		case status.ActionResume:
			transition, err = h.statuses.Resume(ctx, judge.GroupID, submissionID, judge.JudgeID)
		default:
			h.respondInvalidRequest(c)
			return
		}
		if err != nil {
			h.respondError(c, err)
			return
		}

		payload := transitionResponse{
			Status:   statusToPayload(transition.Status),
			Previous: string(transition.Previous),
			Changed:  transition.Changed,
		}
		if transition.Changed {
			h.realtime.Publish(RealtimeMessage{
				GroupID:   judge.GroupID,
				EventType: RealtimeEventStatusChanged,
				Data:      payload.Status,
			})
			h.logger.Info("submission status changed",
				zap.String("group_id", judge.GroupID),
				zap.String("submission_id", submissionID),
				zap.String("judge_id", judge.JudgeID),
				zap.String("action", string(action)),
				zap.String("state", string(transition.Status.State)))
		}
		c.JSON(http.StatusOK, payload)
	}
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	judge, ok := currentJudge(c)
	if !ok {
		h.respondInvalidRequest(c)
		return
	}
	changes, err := h.statuses.History(c.Request.Context(), judge.GroupID, c.Param("submissionID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]statusChangePayload, 0, len(changes))
	for _, change := range changes {
		payload = append(payload, changeToPayload(change))
	}
	c.JSON(http.StatusOK, gin.H{"changes": payload})
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	judge, ok := currentJudge(c)
	if !ok {
		h.respondInvalidRequest(c)
		return
	}
	threads, err := h.notes.ListNotes(c.Request.Context(), judge.GroupID, c.Param("submissionID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]threadPayload, 0, len(threads))
	for _, thread := range threads {
		payload = append(payload, threadToPayload(thread))
	}
	c.JSON(http.StatusOK, gin.H{"threads": payload})
}

func (h *httpHandler) handleAddNote(c *gin.Context) {
	judge, ok := currentJudge(c)
	if !ok {
		h.respondInvalidRequest(c)
		return
	}
	var request noteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	note, err := h.notes.AddNote(c.Request.Context(), notes.NoteInput{
		GroupID:      judge.GroupID,
		SubmissionID: c.Param("submissionID"),
		JudgeID:      judge.JudgeID,
		Content:      request.Content,
		ReplyToID:    strings.TrimSpace(request.ReplyToID),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	payload := noteToPayload(note)
	h.realtime.Publish(RealtimeMessage{
		GroupID:   judge.GroupID,
		EventType: RealtimeEventNoteAdded,
		Data:      payload,
	})
	if len(payload.Mentions) > 0 {
		h.realtime.Publish(RealtimeMessage{
			GroupID:   judge.GroupID,
			EventType: RealtimeEventMention,
			Data: mentionPayload{
				NoteID:       note.NoteID,
				SubmissionID: note.SubmissionID,
				AuthorID:     note.JudgeID,
				Names:        payload.Mentions,
			},
		})
	}
	c.JSON(http.StatusCreated, payload)
}

// handlePoolProgress reports the judge's whole group so clients can show pool movement.
func (h *httpHandler) handlePoolProgress(c *gin.Context) {
	judge, ok := currentJudge(c)
	if !ok {
		h.respondInvalidRequest(c)
		return
	}
	report, err := h.progress.GroupProgress(c.Request.Context(), judge.GroupID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *httpHandler) handleJudgeProgress(c *gin.Context) {
	judge, ok := currentJudge(c)
	if !ok {
		h.respondInvalidRequest(c)
		return
	}
	report, err := h.progress.JudgeProgress(c.Request.Context(), judge.JudgeID, judge.GroupID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
