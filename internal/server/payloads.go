package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/jury/internal/catalog"
	"github.com/MarcoPoloResearchLab/jury/internal/judges"
	"github.com/MarcoPoloResearchLab/jury/internal/notes"
	"github.com/MarcoPoloResearchLab/jury/internal/scoring"
	"github.com/MarcoPoloResearchLab/jury/internal/status"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	JudgeID      string `json:"judge_id"`
	GroupID      string `json:"group_id"`
	Name         string `json:"name"`
	SessionToken string `json:"session_token"`
	Resumed      bool   `json:"resumed"`
}

type heartbeatRequest struct {
	ClientTime *time.Time `json:"client_time"`
}

type scoreRequest struct {
	Score   *int    `json:"score"`
	Comment *string `json:"comment"`
}

type scorePayload struct {
	CriterionID string    `json:"criterion_id"`
	Score       int       `json:"score"`
	Comment     string    `json:"comment"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type statusPayload struct {
	GroupID        string    `json:"group_id"`
	SubmissionID   string    `json:"submission_id"`
	State          string    `json:"state"`
	OwnerJudgeID   string    `json:"owner_judge_id,omitempty"`
	Version        int64     `json:"version"`
	LastModifiedAt time.Time `json:"last_modified_at"`
}

type transitionResponse struct {
	Status   statusPayload `json:"status"`
	Previous string        `json:"previous_state"`
	Changed  bool          `json:"changed"`
}

type workingItemPayload struct {
	SubmissionID string `json:"submission_id"`
	Title        string `json:"title"`
	Slug         string `json:"slug"`
	Hidden       bool   `json:"hidden"`
	State        string `json:"state"`
	OwnerJudgeID string `json:"owner_judge_id,omitempty"`
	Version      int64  `json:"version"`
	Editable     bool   `json:"editable"`
}

type statusChangePayload struct {
	ChangeID  string    `json:"change_id"`
	JudgeID   string    `json:"judge_id"`
	Action    string    `json:"action"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Version   int64     `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

type noteRequest struct {
	Content   string `json:"content"`
	ReplyToID string `json:"reply_to_id"`
}

type notePayload struct {
	NoteID       string    `json:"note_id"`
	SubmissionID string    `json:"submission_id"`
	JudgeID      string    `json:"judge_id"`
	Content      string    `json:"content"`
	ReplyToID    string    `json:"reply_to_id,omitempty"`
	Mentions     []string  `json:"mentions"`
	CreatedAt    time.Time `json:"created_at"`
}

type threadPayload struct {
	Note    notePayload   `json:"note"`
	Replies []notePayload `json:"replies"`
}

type mentionPayload struct {
	NoteID       string   `json:"note_id"`
	SubmissionID string   `json:"submission_id"`
	AuthorID     string   `json:"author_judge_id"`
	Names        []string `json:"names"`
}

type groupRequest struct {
	Name       string     `json:"name"`
	Visibility string     `json:"visibility"`
	Password   string     `json:"password"`
	StartsAt   *time.Time `json:"starts_at"`
	EndsAt     *time.Time `json:"ends_at"`
}

type groupPayload struct {
	GroupID    string     `json:"group_id"`
	Name       string     `json:"name"`
	Visibility string     `json:"visibility"`
	StartsAt   *time.Time `json:"starts_at,omitempty"`
	EndsAt     *time.Time `json:"ends_at,omitempty"`
}

type criterionRequest struct {
	Question     string `json:"question"`
	Description  string `json:"description"`
	DisplayOrder int    `json:"display_order"`
}

type criterionPayload struct {
	CriterionID  string `json:"criterion_id"`
	GroupID      string `json:"group_id"`
	Question     string `json:"question"`
	Description  string `json:"description"`
	DisplayOrder int    `json:"display_order"`
}

type submissionRequest struct {
	Title  string `json:"title"`
	Slug   string `json:"slug"`
	Hidden bool   `json:"hidden"`
}

type submissionPayload struct {
	SubmissionID string `json:"submission_id"`
	GroupID      string `json:"group_id"`
	Title        string `json:"title"`
	Slug         string `json:"slug"`
	Hidden       bool   `json:"hidden"`
}

type judgePayload struct {
	JudgeID      string    `json:"judge_id"`
	Name         string    `json:"name"`
	EnteredName  string    `json:"entered_name"`
	Email        string    `json:"email,omitempty"`
	LastActiveAt time.Time `json:"last_active_at"`
	RegisteredAt time.Time `json:"registered_at"`
}

type administratorPayload struct {
	AdminID     string    `json:"admin_id"`
	Provider    string    `json:"provider"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

func scoreToPayload(score scoring.JudgeScore) scorePayload {
	return scorePayload{
		CriterionID: score.CriterionID,
		Score:       score.Score,
		Comment:     score.Comment,
		UpdatedAt:   time.Unix(score.UpdatedAtSeconds, 0).UTC(),
	}
}

func statusToPayload(record status.SubmissionStatus) statusPayload {
	return statusPayload{
		GroupID:        record.GroupID,
		SubmissionID:   record.SubmissionID,
		State:          string(record.State),
		OwnerJudgeID:   record.Owner(),
		Version:        record.Version,
		LastModifiedAt: record.LastModifiedAt(),
	}
}

func workingItemToPayload(item status.WorkingItem) workingItemPayload {
	return workingItemPayload{
		SubmissionID: item.SubmissionID,
		Title:        item.Title,
		Slug:         item.Slug,
		Hidden:       item.Hidden,
		State:        string(item.Status.State),
		OwnerJudgeID: item.Status.Owner(),
		Version:      item.Status.Version,
		Editable:     item.Editable,
	}
}

func changeToPayload(change status.SubmissionStatusChange) statusChangePayload {
	return statusChangePayload{
		ChangeID:  change.ChangeID,
		JudgeID:   change.JudgeID,
		Action:    string(change.Action),
		FromState: string(change.FromState),
		ToState:   string(change.ToState),
		Version:   change.Version,
		AppliedAt: time.Unix(change.AppliedAtSeconds, 0).UTC(),
	}
}

func noteToPayload(note notes.SubmissionNote) notePayload {
	payload := notePayload{
		NoteID:       note.NoteID,
		SubmissionID: note.SubmissionID,
		JudgeID:      note.JudgeID,
		Content:      note.Content,
		Mentions:     note.Mentions(),
		CreatedAt:    time.UnixMilli(note.CreatedAtMillis).UTC(),
	}
	if note.IsReply() {
		payload.ReplyToID = *note.ReplyToID
	}
	if payload.Mentions == nil {
		payload.Mentions = []string{}
	}
	return payload
}

func threadToPayload(thread notes.Thread) threadPayload {
	replies := make([]notePayload, 0, len(thread.Replies))
	for _, reply := range thread.Replies {
		replies = append(replies, noteToPayload(reply))
	}
	return threadPayload{Note: noteToPayload(thread.Note), Replies: replies}
}

func groupToPayload(group catalog.JudgingGroup) groupPayload {
	payload := groupPayload{
		GroupID:    group.GroupID,
		Name:       group.Name,
		Visibility: string(group.Visibility),
	}
	if startsAt, ok := group.StartsAt(); ok {
		payload.StartsAt = &startsAt
	}
	if endsAt, ok := group.EndsAt(); ok {
		payload.EndsAt = &endsAt
	}
	return payload
}

func criterionToPayload(criterion catalog.JudgingCriterion) criterionPayload {
	return criterionPayload{
		CriterionID:  criterion.CriterionID,
		GroupID:      criterion.GroupID,
		Question:     criterion.Question,
		Description:  criterion.Description,
		DisplayOrder: criterion.DisplayOrder,
	}
}

func submissionToPayload(submission catalog.Submission) submissionPayload {
	return submissionPayload{
		SubmissionID: submission.SubmissionID,
		GroupID:      submission.GroupID,
		Title:        submission.Title,
		Slug:         submission.Slug,
		Hidden:       submission.Hidden,
	}
}

func judgeToPayload(judge judges.Judge) judgePayload {
	return judgePayload{
		JudgeID:      judge.JudgeID,
		Name:         judge.Name,
		EnteredName:  judge.EnteredName,
		Email:        judge.Email,
		LastActiveAt: time.Unix(judge.LastActiveAtSeconds, 0).UTC(),
		RegisteredAt: time.Unix(judge.CreatedAtSeconds, 0).UTC(),
	}
}
