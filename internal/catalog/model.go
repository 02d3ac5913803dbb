package catalog

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Visibility controls who may register against a judging group.
type Visibility string

const (
	// VisibilityPublic groups accept any judge name.
	VisibilityPublic Visibility = "public"
	// VisibilityPassword groups require the shared group password at registration.
	VisibilityPassword Visibility = "password"
)

var (
	// ErrGroupNotFound indicates the judging group does not exist.
	ErrGroupNotFound = errors.New("catalog: group not found")
	// ErrCriterionNotFound indicates the criterion does not exist or is archived.
	ErrCriterionNotFound = errors.New("catalog: criterion not found")
	// ErrSubmissionNotFound indicates the submission is not part of the group's pool.
	ErrSubmissionNotFound = errors.New("catalog: submission not found")
	// ErrInvalidGroupPassword indicates a password-gated group rejected the supplied password.
	ErrInvalidGroupPassword = errors.New("catalog: invalid group password")
	// ErrInvalidInput indicates administrator input failed validation.
	ErrInvalidInput = errors.New("catalog: invalid input")
	// ErrDuplicateSlug indicates the submission slug is already used within the group.
	ErrDuplicateSlug = errors.New("catalog: duplicate submission slug")
)

// JudgingGroup is an administrator-defined pool of submissions judged against shared criteria.
type JudgingGroup struct {
	GroupID          string     `gorm:"column:group_id;primaryKey;size:190;not null"`
	Name             string     `gorm:"column:name;size:190;not null"`
	Visibility       Visibility `gorm:"column:visibility;size:16;not null"`
	PasswordHash     string     `gorm:"column:password_hash;size:100;not null;default:''"`
	StartsAtSeconds  *int64     `gorm:"column:starts_at_s"`
	EndsAtSeconds    *int64     `gorm:"column:ends_at_s"`
	CreatedAtSeconds int64      `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (JudgingGroup) TableName() string {
	return "judging_groups"
}

// StartsAt reports the start of the active window when one is defined.
func (g JudgingGroup) StartsAt() (time.Time, bool) {
	if g.StartsAtSeconds == nil {
		return time.Time{}, false
	}
	return time.Unix(*g.StartsAtSeconds, 0).UTC(), true
}

// EndsAt reports the end of the active window when one is defined.
func (g JudgingGroup) EndsAt() (time.Time, bool) {
	if g.EndsAtSeconds == nil {
		return time.Time{}, false
	}
	return time.Unix(*g.EndsAtSeconds, 0).UTC(), true
}

// HasStarted reports whether now is at or after the window start, or no start is defined.
func (g JudgingGroup) HasStarted(now time.Time) bool {
	startsAt, ok := g.StartsAt()
	return !ok || !now.Before(startsAt)
}

// HasEnded reports whether a defined window end has passed.
func (g JudgingGroup) HasEnded(now time.Time) bool {
	endsAt, ok := g.EndsAt()
	return ok && now.After(endsAt)
}

// JudgingCriterion is one scoring dimension of a group. Archived criteria are soft deleted.
type JudgingCriterion struct {
	CriterionID      string         `gorm:"column:criterion_id;primaryKey;size:190;not null"`
	GroupID          string         `gorm:"column:group_id;size:190;not null;index:idx_criteria_group_order,priority:1"`
	Question         string         `gorm:"column:question;size:500;not null"`
	Description      string         `gorm:"column:description;type:text;not null"`
	DisplayOrder     int            `gorm:"column:display_order;not null;default:0;index:idx_criteria_group_order,priority:2"`
	CreatedAtSeconds int64          `gorm:"column:created_at_s;not null"`
	DeletedAt        gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (JudgingCriterion) TableName() string {
	return "judging_criteria"
}

// Submission is pool membership of a judged entry within a group.
type Submission struct {
	SubmissionID     string `gorm:"column:submission_id;primaryKey;size:190;not null"`
	GroupID          string `gorm:"column:group_id;size:190;not null;uniqueIndex:idx_submissions_group_slug,priority:1"`
	Title            string `gorm:"column:title;size:300;not null"`
	Slug             string `gorm:"column:slug;size:190;not null;uniqueIndex:idx_submissions_group_slug,priority:2"`
	Hidden           bool   `gorm:"column:hidden;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Submission) TableName() string {
	return "judging_submissions"
}

// GroupInput describes a new judging group.
type GroupInput struct {
	Name       string     `validate:"required,max=190"`
	Visibility Visibility `validate:"required,oneof=public password"`
	Password   string     `validate:"max=72"`
	StartsAt   *time.Time
	EndsAt     *time.Time
}

// CriterionInput describes a new criterion within a group.
type CriterionInput struct {
	GroupID      string `validate:"required,max=190"`
	Question     string `validate:"required,max=500"`
	Description  string `validate:"max=4000"`
	DisplayOrder int    `validate:"min=0"`
}

// SubmissionInput describes a submission joining a group's pool.
type SubmissionInput struct {
	GroupID string `validate:"required,max=190"`
	Title   string `validate:"required,max=300"`
	Slug    string `validate:"required,max=190"`
	Hidden  bool
}
