package notes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/datatypes"
)

const maxContentLength = 4000

var (
	// ErrStaleNote indicates replyToId references a missing note or one on another submission.
	ErrStaleNote = errors.New("notes: stale reply target")
	// ErrInvalidContent indicates empty or oversized note content.
	ErrInvalidContent = errors.New("notes: invalid content")
	// ErrMissingJudge indicates a note without an author.
	ErrMissingJudge = errors.New("notes: judge id required")
)

// Content is validated, trimmed note text.
type Content string

// NewContent trims raw input and enforces the length bounds.
func NewContent(raw string) (Content, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidContent)
	}
	if utf8.RuneCountInString(trimmed) > maxContentLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidContent, maxContentLength)
	}
	return Content(trimmed), nil
}

// String returns the underlying text.
func (c Content) String() string {
	return string(c)
}

// SubmissionNote is one persisted note. Replies point at a top-level note of the same submission.
type SubmissionNote struct {
	NoteID          string         `gorm:"column:note_id;primaryKey;size:190;not null"`
	GroupID         string         `gorm:"column:group_id;size:190;not null;index:idx_submission_notes_thread,priority:1"`
	SubmissionID    string         `gorm:"column:submission_id;size:190;not null;index:idx_submission_notes_thread,priority:2"`
	JudgeID         string         `gorm:"column:judge_id;size:190;not null"`
	Content         string         `gorm:"column:content;type:text;not null"`
	ReplyToID       *string        `gorm:"column:reply_to_id;size:190;index"`
	MentionsJSON    datatypes.JSON `gorm:"column:mentions"`
	CreatedAtMillis int64          `gorm:"column:created_at_ms;not null;index:idx_submission_notes_thread,priority:3"`
}

// TableName provides the explicit table binding for GORM.
func (SubmissionNote) TableName() string {
	return "submission_notes"
}

// Mentions decodes the stored mention list.
func (n SubmissionNote) Mentions() []string {
	if len(n.MentionsJSON) == 0 {
		return nil
	}
	var mentions []string
	if err := json.Unmarshal(n.MentionsJSON, &mentions); err != nil {
		return nil
	}
	return mentions
}

// IsReply reports whether the note belongs to another note's thread.
func (n SubmissionNote) IsReply() bool {
	return n.ReplyToID != nil && *n.ReplyToID != ""
}

// NoteInput describes a note being added.
type NoteInput struct {
	GroupID      string
	SubmissionID string
	JudgeID      string
	Content      string
	ReplyToID    string
}

// Thread is a top-level note with its direct replies in creation order.
type Thread struct {
	Note    SubmissionNote   `json:"note"`
	Replies []SubmissionNote `json:"replies"`
}
