package scoring

import "errors"

const (
	// MinScore is the lowest accepted score.
	MinScore = 1
	// MaxScore is the highest accepted score.
	MaxScore = 10
	// maxCommentLength bounds free-text comments in bytes.
	maxCommentLength = 8000
)

var (
	// ErrInvalidScore indicates a score outside [MinScore, MaxScore].
	ErrInvalidScore = errors.New("scoring: invalid score")
	// ErrInvalidComment indicates a comment exceeding the storage bound.
	ErrInvalidComment = errors.New("scoring: comment too long")
	// ErrMissingJudge indicates the score was submitted without a judge identifier.
	ErrMissingJudge = errors.New("scoring: judge id required")
)

// JudgeScore is one judge's score for one criterion of one submission.
type JudgeScore struct {
	JudgeID          string `gorm:"column:judge_id;primaryKey;size:190;not null"`
	SubmissionID     string `gorm:"column:submission_id;primaryKey;size:190;not null;index:idx_scores_submission"`
	CriterionID      string `gorm:"column:criterion_id;primaryKey;size:190;not null"`
	GroupID          string `gorm:"column:group_id;size:190;not null;index:idx_scores_group_judge,priority:1"`
	Score            int    `gorm:"column:score;not null"`
	Comment          string `gorm:"column:comment;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (JudgeScore) TableName() string {
	return "judge_scores"
}

// ScoreInput is a single score upsert.
type ScoreInput struct {
	JudgeID      string
	GroupID      string
	SubmissionID string
	CriterionID  string
	Score        int
	// Comment replaces the stored comment when set; nil keeps the existing one.
	Comment *string
}

// ValidateScore reports whether score is an accepted integer score.
func ValidateScore(score int) error {
	if score < MinScore || score > MaxScore {
		return ErrInvalidScore
	}
	return nil
}
