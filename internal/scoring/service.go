// Package scoring stores per-judge criterion scores. Scores never depend on submission status.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jury/internal/catalog"
	"github.com/MarcoPoloResearchLab/jury/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew          = "scoring.service.new"
	opSubmitScore         = "scoring.submit_score"
	opGetJudgeScores      = "scoring.get_judge_scores"
	opIsFullyScored       = "scoring.is_fully_scored"
	opScoredCounts        = "scoring.scored_criteria_counts"
	reasonMissingDatabase = "missing_database"
	reasonMissingCatalog  = "missing_catalog"
	reasonInvalidScore    = "invalid_score"
	reasonInvalidComment  = "invalid_comment"
	reasonMissingJudge    = "missing_judge"
	reasonForeignCrit     = "criterion_not_in_group"
	reasonUpsertFailed    = "upsert_failed"
	reasonQueryFailed     = "query_failed"
	fieldJudgeID          = "judge_id"
	fieldSubmissionID     = "submission_id"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingCatalog  = errors.New("catalog is required")
	noOpLogger         = zap.NewNop()
)

// Catalog resolves the criteria and submissions a score refers to.
type Catalog interface {
	GetCriterion(ctx context.Context, criterionID string) (catalog.JudgingCriterion, error)
	GetSubmission(ctx context.Context, groupID, submissionID string) (catalog.Submission, error)
}

// ServiceConfig describes the dependencies of the scoring store.
type ServiceConfig struct {
	Database *gorm.DB
	Catalog  Catalog
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service is the scoring store.
type Service struct {
	db      *gorm.DB
	catalog Catalog
	clock   func() time.Time
	logger  *zap.Logger
}

// NewService validates the configuration and constructs the scoring store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Catalog == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingCatalog, errMissingCatalog)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, catalog: cfg.Catalog, clock: clock, logger: logger}, nil
}

// SubmitScore upserts the judge's score for one criterion of a submission.
func (s *Service) SubmitScore(ctx context.Context, input ScoreInput) error {
	if err := ValidateScore(input.Score); err != nil {
		return serviceerr.New(opSubmitScore, reasonInvalidScore, fmt.Errorf("%w: %d", err, input.Score))
	}
	if strings.TrimSpace(input.JudgeID) == "" {
		return serviceerr.New(opSubmitScore, reasonMissingJudge, ErrMissingJudge)
	}
	if input.Comment != nil && len(*input.Comment) > maxCommentLength {
		return serviceerr.New(opSubmitScore, reasonInvalidComment, ErrInvalidComment)
	}

	if _, err := s.catalog.GetSubmission(ctx, input.GroupID, input.SubmissionID); err != nil {
		return err
	}
	criterion, err := s.catalog.GetCriterion(ctx, input.CriterionID)
	if err != nil {
		return err
	}
	if criterion.GroupID != input.GroupID {
		return serviceerr.New(opSubmitScore, reasonForeignCrit, catalog.ErrCriterionNotFound)
	}

	now := s.clock().UTC().Unix()
	record := JudgeScore{
		JudgeID:          input.JudgeID,
		SubmissionID:     input.SubmissionID,
		CriterionID:      input.CriterionID,
		GroupID:          input.GroupID,
		Score:            input.Score,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	updatedColumns := []string{"score", "updated_at_s"}
	if input.Comment != nil {
		record.Comment = strings.TrimSpace(*input.Comment)
		updatedColumns = append(updatedColumns, "comment")
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "judge_id"}, {Name: "submission_id"}, {Name: "criterion_id"}},
		DoUpdates: clause.AssignmentColumns(updatedColumns),
	}).Create(&record).Error
	if err != nil {
		s.logError(opSubmitScore, reasonUpsertFailed, err,
			zap.String(fieldJudgeID, input.JudgeID),
			zap.String(fieldSubmissionID, input.SubmissionID))
		return serviceerr.New(opSubmitScore, reasonUpsertFailed, err)
	}
	return nil
}

// GetJudgeScores lists the judge's scores for a submission ordered by criterion id.
func (s *Service) GetJudgeScores(ctx context.Context, judgeID, submissionID string) ([]JudgeScore, error) {
	var scores []JudgeScore
	if err := s.db.WithContext(ctx).
		Where("judge_id = ? AND submission_id = ?", judgeID, submissionID).
		Order("criterion_id ASC").
		Find(&scores).Error; err != nil {
		s.logError(opGetJudgeScores, reasonQueryFailed, err,
			zap.String(fieldJudgeID, judgeID),
			zap.String(fieldSubmissionID, submissionID))
		return nil, serviceerr.New(opGetJudgeScores, reasonQueryFailed, err)
	}
	return scores, nil
}

// IsFullyScored reports whether the judge holds a score for every criterion in criteria.
func (s *Service) IsFullyScored(ctx context.Context, judgeID, submissionID string, criteria []string) (bool, error) {
	required := uniqueValues(criteria)
	if len(required) == 0 {
		return true, nil
	}
	var scored int64
	if err := s.db.WithContext(ctx).Model(&JudgeScore{}).
		Where("judge_id = ? AND submission_id = ? AND criterion_id IN ?", judgeID, submissionID, required).
		Count(&scored).Error; err != nil {
		s.logError(opIsFullyScored, reasonQueryFailed, err,
			zap.String(fieldJudgeID, judgeID),
			zap.String(fieldSubmissionID, submissionID))
		return false, serviceerr.New(opIsFullyScored, reasonQueryFailed, err)
	}
	return int(scored) == len(required), nil
}

type scoredCount struct {
	SubmissionID string
	Scored       int
}

// ScoredCriteriaCounts returns, per submission in the group, how many of criteria the judge has scored.
// Submissions without any matching score are absent from the map.
func (s *Service) ScoredCriteriaCounts(ctx context.Context, judgeID, groupID string, criteria []string) (map[string]int, error) {
	counts := make(map[string]int)
	required := uniqueValues(criteria)
	if len(required) == 0 {
		return counts, nil
	}
	var rows []scoredCount
	if err := s.db.WithContext(ctx).Model(&JudgeScore{}).
		Select("submission_id, COUNT(*) AS scored").
		Where("judge_id = ? AND group_id = ? AND criterion_id IN ?", judgeID, groupID, required).
		Group("submission_id").
		Scan(&rows).Error; err != nil {
		s.logError(opScoredCounts, reasonQueryFailed, err, zap.String(fieldJudgeID, judgeID))
		return nil, serviceerr.New(opScoredCounts, reasonQueryFailed, err)
	}
	for _, row := range rows {
		counts[row.SubmissionID] = row.Scored
	}
	return counts, nil
}

func uniqueValues(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	unique := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		unique = append(unique, value)
	}
	return unique
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("scoring service error", attrs...)
}
