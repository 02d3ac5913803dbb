package status

import (
	"errors"
	"time"
)

// State enumerates the shared states of a submission within a group.
type State string

const (
	// StatePending is the initial state and the state reopened submissions return to.
	StatePending State = "pending"
	// StateCompleted marks a submission committed by its owner.
	StateCompleted State = "completed"
	// StateSkip is a shared triage flag.
	StateSkip State = "skip"
)

// Action enumerates the transitions judges may request.
type Action string

const (
	// ActionMarkComplete moves pending or skip to completed and records the owner.
	ActionMarkComplete Action = "mark_complete"
	// ActionReopen returns the owner's completed submission to pending.
	ActionReopen Action = "reopen"
	// ActionSkip flags a pending submission as skipped.
	ActionSkip Action = "skip"
	// ActionResume returns a skipped submission to pending.
	ActionResume Action = "resume"
)

var (
	// ErrIncompleteScoring indicates the judge has not scored every active criterion.
	ErrIncompleteScoring = errors.New("status: incomplete scoring")
	// ErrAlreadyOwned indicates the submission is completed, by another judge when completing.
	ErrAlreadyOwned = errors.New("status: already owned")
	// ErrNotOwner indicates a reopen by a judge that does not own the completed submission.
	ErrNotOwner = errors.New("status: not owner")
	// ErrConcurrentUpdate indicates the record kept changing under the caller; refetch and retry.
	ErrConcurrentUpdate = errors.New("status: concurrent update")
	// ErrMissingJudge indicates a transition without a judge identifier.
	ErrMissingJudge = errors.New("status: judge id required")
)

// SubmissionStatus is the single shared record per (group, submission).
// A submission without a row reads as pending with no owner at version 0.
type SubmissionStatus struct {
	GroupID               string  `gorm:"column:group_id;primaryKey;size:190;not null"`
	SubmissionID          string  `gorm:"column:submission_id;primaryKey;size:190;not null"`
	State                 State   `gorm:"column:state;size:16;not null;default:'pending'"`
	OwnerJudgeID          *string `gorm:"column:owner_judge_id;size:190;index"`
	Version               int64   `gorm:"column:version;not null;default:0"`
	LastModifiedAtSeconds int64   `gorm:"column:last_modified_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SubmissionStatus) TableName() string {
	return "submission_statuses"
}

// Owner returns the owning judge or "" when the record has none.
func (s SubmissionStatus) Owner() string {
	if s.OwnerJudgeID == nil {
		return ""
	}
	return *s.OwnerJudgeID
}

// LastModifiedAt exposes the modification time.
func (s SubmissionStatus) LastModifiedAt() time.Time {
	return time.Unix(s.LastModifiedAtSeconds, 0).UTC()
}

// SubmissionStatusChange is the append-only audit trail of accepted transitions.
type SubmissionStatusChange struct {
	ChangeID         string `gorm:"column:change_id;primaryKey;size:190;not null"`
	GroupID          string `gorm:"column:group_id;size:190;not null;index:idx_status_changes_submission,priority:1"`
	SubmissionID     string `gorm:"column:submission_id;size:190;not null;index:idx_status_changes_submission,priority:2"`
	JudgeID          string `gorm:"column:judge_id;size:190;not null"`
	Action           Action `gorm:"column:action;size:32;not null"`
	FromState        State  `gorm:"column:from_state;size:16;not null"`
	ToState          State  `gorm:"column:to_state;size:16;not null"`
	Version          int64  `gorm:"column:version;not null;index:idx_status_changes_submission,priority:3"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SubmissionStatusChange) TableName() string {
	return "submission_status_changes"
}

// Transition reports the outcome of an accepted request.
// Changed is false when the record already matched the requested state.
type Transition struct {
	Status   SubmissionStatus
	Previous State
	Changed  bool
}

// WorkingItem is one submission visible to a judge.
type WorkingItem struct {
	SubmissionID string
	Title        string
	Slug         string
	Hidden       bool
	Status       SubmissionStatus
	Editable     bool
}

func pendingStatus(groupID, submissionID string) SubmissionStatus {
	return SubmissionStatus{GroupID: groupID, SubmissionID: submissionID, State: StatePending}
}
