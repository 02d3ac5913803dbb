// Package status coordinates the shared pending/completed/skip state of submissions.
// Every transition is a conditional write against a versioned row so concurrent judges
// racing on one submission produce exactly one winner.
package status

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jury/internal/catalog"
	"github.com/MarcoPoloResearchLab/jury/internal/ids"
	"github.com/MarcoPoloResearchLab/jury/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew          = "status.service.new"
	opMarkComplete        = "status.mark_complete"
	opReopen              = "status.reopen"
	opSetSkip             = "status.set_skip"
	opResume              = "status.resume"
	opGetStatus           = "status.get_status"
	opListStatuses        = "status.list_statuses"
	opWorkingSet          = "status.working_set"
	opHistory             = "status.history"
	reasonMissingDatabase = "missing_database"
	reasonMissingCatalog  = "missing_catalog"
	reasonMissingScores   = "missing_scores"
	reasonMissingIDs      = "missing_id_provider"
	reasonMissingJudge    = "missing_judge"
	reasonIncomplete      = "incomplete_scoring"
	reasonAlreadyOwned    = "already_owned"
	reasonNotOwner        = "not_owner"
	reasonConcurrent      = "concurrent_update"
	reasonSeedFailed      = "seed_failed"
	reasonSelectFailed    = "select_failed"
	reasonUpdateFailed    = "update_failed"
	reasonAuditFailed     = "audit_insert_failed"
	reasonIDFailed        = "id_generation_failed"
	reasonQueryFailed     = "query_failed"
	reasonGateFailed      = "gate_query_failed"
	tableJudgeScores      = "judge_scores"
	defaultMaxAttempts    = 3
	queryRecord           = "group_id = ? AND submission_id = ?"
	fieldGroupID          = "group_id"
	fieldSubmissionID     = "submission_id"
	fieldJudgeID          = "judge_id"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingCatalog    = errors.New("catalog is required")
	errMissingScores     = errors.New("score checker is required")
	errMissingIDProvider = errors.New("id provider is required")
	errUnknownAction     = errors.New("unknown status action")
	noOpLogger           = zap.NewNop()
)

// Catalog exposes the pool and criteria the coordinator gates on.
type Catalog interface {
	GetSubmission(ctx context.Context, groupID, submissionID string) (catalog.Submission, error)
	ListSubmissions(ctx context.Context, groupID string) ([]catalog.Submission, error)
	ActiveCriterionIDs(ctx context.Context, groupID string) ([]string, error)
}

// ScoreChecker answers the completion gate.
type ScoreChecker interface {
	IsFullyScored(ctx context.Context, judgeID, submissionID string, criteria []string) (bool, error)
}

// ServiceConfig describes the dependencies of the status coordinator.
type ServiceConfig struct {
	Database    *gorm.DB
	Catalog     Catalog
	Scores      ScoreChecker
	IDProvider  ids.Provider
	Clock       func() time.Time
	Logger      *zap.Logger
	MaxAttempts int
}

// Service is the submission status coordinator.
type Service struct {
	db          *gorm.DB
	catalog     Catalog
	scores      ScoreChecker
	idProvider  ids.Provider
	clock       func() time.Time
	logger      *zap.Logger
	maxAttempts int
}

// NewService validates the configuration and constructs the coordinator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Catalog == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingCatalog, errMissingCatalog)
	}
	if cfg.Scores == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingScores, errMissingScores)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingIDs, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Service{
		db:          cfg.Database,
		catalog:     cfg.Catalog,
		scores:      cfg.Scores,
		idProvider:  cfg.IDProvider,
		clock:       clock,
		logger:      logger,
		maxAttempts: attempts,
	}, nil
}

// MarkComplete commits the submission to judgeID. The judge must hold a score for every
// active criterion; a submission already completed by someone else yields ErrAlreadyOwned.
func (s *Service) MarkComplete(ctx context.Context, groupID, submissionID, judgeID string) (Transition, error) {
	if err := s.checkRequest(ctx, opMarkComplete, groupID, submissionID, judgeID); err != nil {
		return Transition{}, err
	}

	current, err := s.GetStatus(ctx, groupID, submissionID)
	if err != nil {
		return Transition{}, err
	}
	resolved, err := decide(ActionMarkComplete, current, judgeID)
	if err != nil {
		return Transition{}, s.rejection(opMarkComplete, err)
	}
	if resolved.noop {
		return Transition{Status: current, Previous: current.State}, nil
	}

	criteria, err := s.catalog.ActiveCriterionIDs(ctx, groupID)
	if err != nil {
		return Transition{}, err
	}
	complete, err := s.scores.IsFullyScored(ctx, judgeID, submissionID, criteria)
	if err != nil {
		return Transition{}, err
	}
	if !complete {
		return Transition{}, serviceerr.New(opMarkComplete, reasonIncomplete, ErrIncompleteScoring)
	}

	return s.apply(ctx, opMarkComplete, ActionMarkComplete, groupID, submissionID, judgeID)
}

// Reopen returns the owner's completed submission to pending and clears the owner.
func (s *Service) Reopen(ctx context.Context, groupID, submissionID, judgeID string) (Transition, error) {
	if err := s.checkRequest(ctx, opReopen, groupID, submissionID, judgeID); err != nil {
		return Transition{}, err
	}
	return s.apply(ctx, opReopen, ActionReopen, groupID, submissionID, judgeID)
}

// SetSkip flags a submission that is not completed as skipped. Any judge may do so.
func (s *Service) SetSkip(ctx context.Context, groupID, submissionID, judgeID string) (Transition, error) {
	if err := s.checkRequest(ctx, opSetSkip, groupID, submissionID, judgeID); err != nil {
		return Transition{}, err
	}
	return s.apply(ctx, opSetSkip, ActionSkip, groupID, submissionID, judgeID)
}

// Resume clears the skip flag of a submission that is not completed.
func (s *Service) Resume(ctx context.Context, groupID, submissionID, judgeID string) (Transition, error) {
	if err := s.checkRequest(ctx, opResume, groupID, submissionID, judgeID); err != nil {
		return Transition{}, err
	}
	return s.apply(ctx, opResume, ActionResume, groupID, submissionID, judgeID)
}

func (s *Service) checkRequest(ctx context.Context, operation, groupID, submissionID, judgeID string) error {
	if strings.TrimSpace(judgeID) == "" {
		return serviceerr.New(operation, reasonMissingJudge, ErrMissingJudge)
	}
	_, err := s.catalog.GetSubmission(ctx, groupID, submissionID)
	return err
}

// apply re-evaluates the request against a freshly read record until the conditional
// update lands or the attempt budget is spent.
func (s *Service) apply(ctx context.Context, operation string, action Action, groupID, submissionID, judgeID string) (Transition, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		transition, landed, err := s.attempt(ctx, operation, action, groupID, submissionID, judgeID)
		if err != nil {
			return Transition{}, err
		}
		if landed {
			return transition, nil
		}
	}
	return Transition{}, serviceerr.New(operation, reasonConcurrent, ErrConcurrentUpdate)
}

func (s *Service) attempt(ctx context.Context, operation string, action Action, groupID, submissionID, judgeID string) (Transition, bool, error) {
	var transition Transition
	landed := false
	now := s.clock().UTC().Unix()
	fields := []zap.Field{
		zap.String(fieldGroupID, groupID),
		zap.String(fieldSubmissionID, submissionID),
		zap.String(fieldJudgeID, judgeID),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := pendingStatus(groupID, submissionID)
		seed.LastModifiedAtSeconds = now
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "group_id"}, {Name: "submission_id"}},
			DoNothing: true,
		}).Create(&seed).Error; err != nil {
			s.logError(operation, reasonSeedFailed, err, fields...)
			return serviceerr.New(operation, reasonSeedFailed, err)
		}

		var current SubmissionStatus
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryRecord, groupID, submissionID).
			Take(&current).Error; err != nil {
			s.logError(operation, reasonSelectFailed, err, fields...)
			return serviceerr.New(operation, reasonSelectFailed, err)
		}

		resolved, err := decide(action, current, judgeID)
		if err != nil {
			return s.rejection(operation, err)
		}
		if resolved.noop {
			transition = Transition{Status: current, Previous: current.State}
			landed = true
			return nil
		}
		if action == ActionMarkComplete {
			if err := s.checkGate(tx, operation, groupID, submissionID, judgeID, fields); err != nil {
				return err
			}
		}

		updates := map[string]interface{}{
			"state":              resolved.next,
			"owner_judge_id":     nil,
			"version":            current.Version + 1,
			"last_modified_at_s": now,
		}
		if resolved.owner != "" {
			updates["owner_judge_id"] = resolved.owner
		}
		guarded := tx.Model(&SubmissionStatus{}).
			Where(queryRecord+" AND version = ?", groupID, submissionID, current.Version)
		switch action {
		case ActionMarkComplete:
			guarded = guarded.Where("state <> ?", StateCompleted)
		case ActionReopen:
			guarded = guarded.Where("state = ? AND owner_judge_id = ?", StateCompleted, judgeID)
		default:
			guarded = guarded.Where("state <> ?", StateCompleted)
		}
		result := guarded.Updates(updates)
		if result.Error != nil {
			s.logError(operation, reasonUpdateFailed, result.Error, fields...)
			return serviceerr.New(operation, reasonUpdateFailed, result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}

		changeID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(operation, reasonIDFailed, err, fields...)
			return serviceerr.New(operation, reasonIDFailed, err)
		}
		audit := SubmissionStatusChange{
			ChangeID:         changeID,
			GroupID:          groupID,
			SubmissionID:     submissionID,
			JudgeID:          judgeID,
			Action:           action,
			FromState:        current.State,
			ToState:          resolved.next,
			Version:          current.Version + 1,
			AppliedAtSeconds: now,
		}
		if err := tx.Create(&audit).Error; err != nil {
			s.logError(operation, reasonAuditFailed, err, fields...)
			return serviceerr.New(operation, reasonAuditFailed, err)
		}

		next := current
		next.State = resolved.next
		next.OwnerJudgeID = nil
		if resolved.owner != "" {
			owner := resolved.owner
			next.OwnerJudgeID = &owner
		}
		next.Version = current.Version + 1
		next.LastModifiedAtSeconds = now
		transition = Transition{Status: next, Previous: current.State, Changed: true}
		landed = true
		return nil
	})
	if txErr != nil {
		return Transition{}, false, txErr
	}
	return transition, landed, nil
}

// checkGate repeats the completion gate on tx so a criterion added after the
// caller's earlier check still blocks the write.
func (s *Service) checkGate(tx *gorm.DB, operation, groupID, submissionID, judgeID string, fields []zap.Field) error {
	scored := tx.Table(tableJudgeScores).
		Select("criterion_id").
		Where("judge_id = ? AND submission_id = ?", judgeID, submissionID)
	var missing int64
	if err := tx.Model(&catalog.JudgingCriterion{}).
		Where("group_id = ? AND criterion_id NOT IN (?)", groupID, scored).
		Count(&missing).Error; err != nil {
		s.logError(operation, reasonGateFailed, err, fields...)
		return serviceerr.New(operation, reasonGateFailed, err)
	}
	if missing > 0 {
		return serviceerr.New(operation, reasonIncomplete, ErrIncompleteScoring)
	}
	return nil
}

func (s *Service) rejection(operation string, err error) error {
	switch {
	case errors.Is(err, ErrAlreadyOwned):
		return serviceerr.New(operation, reasonAlreadyOwned, err)
	case errors.Is(err, ErrNotOwner):
		return serviceerr.New(operation, reasonNotOwner, err)
	default:
		return serviceerr.New(operation, "invalid_action", err)
	}
}

// GetStatus loads the record for a submission. An absent record reads as pending.
func (s *Service) GetStatus(ctx context.Context, groupID, submissionID string) (SubmissionStatus, error) {
	var record SubmissionStatus
	err := s.db.WithContext(ctx).Where(queryRecord, groupID, submissionID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pendingStatus(groupID, submissionID), nil
	}
	if err != nil {
		s.logError(opGetStatus, reasonQueryFailed, err,
			zap.String(fieldGroupID, groupID),
			zap.String(fieldSubmissionID, submissionID))
		return SubmissionStatus{}, serviceerr.New(opGetStatus, reasonQueryFailed, err)
	}
	return record, nil
}

// ListStatuses returns the record of every submission in the group's pool, in pool order.
func (s *Service) ListStatuses(ctx context.Context, groupID string) ([]SubmissionStatus, error) {
	submissions, err := s.catalog.ListSubmissions(ctx, groupID)
	if err != nil {
		return nil, err
	}
	stored, err := s.storedStatuses(ctx, opListStatuses, groupID)
	if err != nil {
		return nil, err
	}
	records := make([]SubmissionStatus, 0, len(submissions))
	for _, submission := range submissions {
		record, ok := stored[submission.SubmissionID]
		if !ok {
			record = pendingStatus(groupID, submission.SubmissionID)
		}
		records = append(records, record)
	}
	return records, nil
}

// WorkingSet lists the submissions visible to judgeID, in pool order, with their edit rights.
func (s *Service) WorkingSet(ctx context.Context, groupID, judgeID string) ([]WorkingItem, error) {
	submissions, err := s.catalog.ListSubmissions(ctx, groupID)
	if err != nil {
		return nil, err
	}
	stored, err := s.storedStatuses(ctx, opWorkingSet, groupID)
	if err != nil {
		return nil, err
	}
	items := make([]WorkingItem, 0, len(submissions))
	for _, submission := range submissions {
		record, ok := stored[submission.SubmissionID]
		if !ok {
			record = pendingStatus(groupID, submission.SubmissionID)
		}
		if !IsVisible(record, judgeID) {
			continue
		}
		items = append(items, WorkingItem{
			SubmissionID: submission.SubmissionID,
			Title:        submission.Title,
			Slug:         submission.Slug,
			Hidden:       submission.Hidden,
			Status:       record,
			Editable:     IsEditable(record, judgeID),
		})
	}
	return items, nil
}

// History returns the accepted transitions of a submission, oldest first.
func (s *Service) History(ctx context.Context, groupID, submissionID string) ([]SubmissionStatusChange, error) {
	var changes []SubmissionStatusChange
	if err := s.db.WithContext(ctx).
		Where(queryRecord, groupID, submissionID).
		Order("version ASC").
		Find(&changes).Error; err != nil {
		s.logError(opHistory, reasonQueryFailed, err,
			zap.String(fieldGroupID, groupID),
			zap.String(fieldSubmissionID, submissionID))
		return nil, serviceerr.New(opHistory, reasonQueryFailed, err)
	}
	return changes, nil
}

func (s *Service) storedStatuses(ctx context.Context, operation, groupID string) (map[string]SubmissionStatus, error) {
	var records []SubmissionStatus
	if err := s.db.WithContext(ctx).Where("group_id = ?", groupID).Find(&records).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String(fieldGroupID, groupID))
		return nil, serviceerr.New(operation, reasonQueryFailed, err)
	}
	byID := make(map[string]SubmissionStatus, len(records))
	for _, record := range records {
		byID[record.SubmissionID] = record
	}
	return byID, nil
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
	s.logger.Error("status service error", attrs...)
}
