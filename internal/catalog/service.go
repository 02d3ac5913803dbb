// Package catalog holds judging groups, their ordered criteria and their submission pools.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jury/internal/ids"
	"github.com/MarcoPoloResearchLab/jury/internal/serviceerr"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	opServiceNew        = "catalog.service.new"
	opCreateGroup       = "catalog.create_group"
	opGetGroup          = "catalog.get_group"
	opCheckPassword     = "catalog.check_password"
	opAddCriterion      = "catalog.add_criterion"
	opArchiveCriterion  = "catalog.archive_criterion"
	opGetCriterion      = "catalog.get_criterion"
	opActiveCriteria    = "catalog.active_criteria"
	opAddSubmission     = "catalog.add_submission"
	opGetSubmission     = "catalog.get_submission"
	opListSubmissions   = "catalog.list_submissions"
	opCountSubmissions  = "catalog.count_submissions"
	reasonMissingDB     = "missing_database"
	reasonMissingIDs    = "missing_id_provider"
	reasonInvalidInput  = "invalid_input"
	reasonNotFound      = "not_found"
	reasonQueryFailed   = "query_failed"
	reasonInsertFailed  = "insert_failed"
	reasonHashFailed    = "hash_failed"
	reasonIDFailed      = "id_generation_failed"
	reasonDuplicateSlug = "duplicate_slug"
	reasonBadPassword   = "invalid_password"
	queryGroupID        = "group_id = ?"
	orderCriteria       = "display_order ASC, criterion_id ASC"
	orderSubmissions    = "created_at_s ASC, submission_id ASC"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	validate             = validator.New(validator.WithRequiredStructEnabled())
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies of the catalog service.
type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	IDProvider   ids.Provider
	Logger       *zap.Logger
	PasswordCost int
}

// Service manages groups, criteria and submission pools.
type Service struct {
	db           *gorm.DB
	clock        func() time.Time
	idProvider   ids.Provider
	logger       *zap.Logger
	passwordCost int
}

// NewService validates the configuration and constructs the catalog service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingDB, errMissingDatabase)
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
	cost := cfg.PasswordCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		db:           cfg.Database,
		clock:        clock,
		idProvider:   cfg.IDProvider,
		logger:       logger,
		passwordCost: cost,
	}, nil
}

// CreateGroup persists a new judging group.
func (s *Service) CreateGroup(ctx context.Context, input GroupInput) (JudgingGroup, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validate.Struct(input); err != nil {
		return JudgingGroup{}, serviceerr.New(opCreateGroup, reasonInvalidInput, fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	if input.Visibility == VisibilityPassword && input.Password == "" {
		return JudgingGroup{}, serviceerr.New(opCreateGroup, reasonInvalidInput, fmt.Errorf("%w: password required for gated group", ErrInvalidInput))
	}
	if input.StartsAt != nil && input.EndsAt != nil && !input.EndsAt.After(*input.StartsAt) {
		return JudgingGroup{}, serviceerr.New(opCreateGroup, reasonInvalidInput, fmt.Errorf("%w: window end must follow start", ErrInvalidInput))
	}

	groupID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateGroup, reasonIDFailed, err)
		return JudgingGroup{}, serviceerr.New(opCreateGroup, reasonIDFailed, err)
	}

	group := JudgingGroup{
		GroupID:          groupID,
		Name:             input.Name,
		Visibility:       input.Visibility,
		StartsAtSeconds:  unixPointer(input.StartsAt),
		EndsAtSeconds:    unixPointer(input.EndsAt),
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if input.Visibility == VisibilityPassword {
		hash, hashErr := bcrypt.GenerateFromPassword([]byte(input.Password), s.passwordCost)
		if hashErr != nil {
			s.logError(opCreateGroup, reasonHashFailed, hashErr)
			return JudgingGroup{}, serviceerr.New(opCreateGroup, reasonHashFailed, hashErr)
		}
		group.PasswordHash = string(hash)
	}

	if err := s.db.WithContext(ctx).Create(&group).Error; err != nil {
		s.logError(opCreateGroup, reasonInsertFailed, err, zap.String("group_id", groupID))
		return JudgingGroup{}, serviceerr.New(opCreateGroup, reasonInsertFailed, err)
	}
	return group, nil
}

// GetGroup loads a judging group by id.
func (s *Service) GetGroup(ctx context.Context, groupID string) (JudgingGroup, error) {
	var group JudgingGroup
	err := s.db.WithContext(ctx).Where(queryGroupID, groupID).Take(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return JudgingGroup{}, serviceerr.New(opGetGroup, reasonNotFound, ErrGroupNotFound)
	}
	if err != nil {
		s.logError(opGetGroup, reasonQueryFailed, err, zap.String("group_id", groupID))
		return JudgingGroup{}, serviceerr.New(opGetGroup, reasonQueryFailed, err)
	}
	return group, nil
}

// CheckGroupPassword verifies password against a gated group. Public groups accept anything.
func (s *Service) CheckGroupPassword(group JudgingGroup, password string) error {
	if group.Visibility != VisibilityPassword {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(group.PasswordHash), []byte(password)); err != nil {
		return serviceerr.New(opCheckPassword, reasonBadPassword, ErrInvalidGroupPassword)
	}
	return nil
}

// AddCriterion appends a scoring dimension to a group.
func (s *Service) AddCriterion(ctx context.Context, input CriterionInput) (JudgingCriterion, error) {
	input.Question = strings.TrimSpace(input.Question)
	input.Description = strings.TrimSpace(input.Description)
	if err := validate.Struct(input); err != nil {
		return JudgingCriterion{}, serviceerr.New(opAddCriterion, reasonInvalidInput, fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	if _, err := s.GetGroup(ctx, input.GroupID); err != nil {
		return JudgingCriterion{}, err
	}

	criterionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddCriterion, reasonIDFailed, err)
		return JudgingCriterion{}, serviceerr.New(opAddCriterion, reasonIDFailed, err)
	}
	criterion := JudgingCriterion{
		CriterionID:      criterionID,
		GroupID:          input.GroupID,
		Question:         input.Question,
		Description:      input.Description,
		DisplayOrder:     input.DisplayOrder,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&criterion).Error; err != nil {
		s.logError(opAddCriterion, reasonInsertFailed, err, zap.String("group_id", input.GroupID))
		return JudgingCriterion{}, serviceerr.New(opAddCriterion, reasonInsertFailed, err)
	}
	return criterion, nil
}

// ArchiveCriterion removes a criterion from the active set. Existing scores are kept.
func (s *Service) ArchiveCriterion(ctx context.Context, criterionID string) error {
	result := s.db.WithContext(ctx).Where("criterion_id = ?", criterionID).Delete(&JudgingCriterion{})
	if result.Error != nil {
		s.logError(opArchiveCriterion, reasonQueryFailed, result.Error, zap.String("criterion_id", criterionID))
		return serviceerr.New(opArchiveCriterion, reasonQueryFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return serviceerr.New(opArchiveCriterion, reasonNotFound, ErrCriterionNotFound)
	}
	return nil
}

// GetCriterion loads an active criterion.
func (s *Service) GetCriterion(ctx context.Context, criterionID string) (JudgingCriterion, error) {
	var criterion JudgingCriterion
	err := s.db.WithContext(ctx).Where("criterion_id = ?", criterionID).Take(&criterion).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return JudgingCriterion{}, serviceerr.New(opGetCriterion, reasonNotFound, ErrCriterionNotFound)
	}
	if err != nil {
		s.logError(opGetCriterion, reasonQueryFailed, err, zap.String("criterion_id", criterionID))
		return JudgingCriterion{}, serviceerr.New(opGetCriterion, reasonQueryFailed, err)
	}
	return criterion, nil
}

// ActiveCriteria returns the group's active criteria in display order.
func (s *Service) ActiveCriteria(ctx context.Context, groupID string) ([]JudgingCriterion, error) {
	var criteria []JudgingCriterion
	if err := s.db.WithContext(ctx).Where(queryGroupID, groupID).Order(orderCriteria).Find(&criteria).Error; err != nil {
		s.logError(opActiveCriteria, reasonQueryFailed, err, zap.String("group_id", groupID))
		return nil, serviceerr.New(opActiveCriteria, reasonQueryFailed, err)
	}
	return criteria, nil
}

// ActiveCriterionIDs returns the identifiers of the group's active criteria in display order.
func (s *Service) ActiveCriterionIDs(ctx context.Context, groupID string) ([]string, error) {
	criteria, err := s.ActiveCriteria(ctx, groupID)
	if err != nil {
		return nil, err
	}
	identifiers := make([]string, 0, len(criteria))
	for _, criterion := range criteria {
		identifiers = append(identifiers, criterion.CriterionID)
	}
	return identifiers, nil
}

// AddSubmission adds an entry to the group's pool.
func (s *Service) AddSubmission(ctx context.Context, input SubmissionInput) (Submission, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Slug = strings.ToLower(strings.TrimSpace(input.Slug))
	if err := validate.Struct(input); err != nil {
		return Submission{}, serviceerr.New(opAddSubmission, reasonInvalidInput, fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	if _, err := s.GetGroup(ctx, input.GroupID); err != nil {
		return Submission{}, err
	}

	submissionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddSubmission, reasonIDFailed, err)
		return Submission{}, serviceerr.New(opAddSubmission, reasonIDFailed, err)
	}
	submission := Submission{
		SubmissionID:     submissionID,
		GroupID:          input.GroupID,
		Title:            input.Title,
		Slug:             input.Slug,
		Hidden:           input.Hidden,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Submission{}).Where("group_id = ? AND slug = ?", input.GroupID, input.Slug).Count(&existing).Error; err != nil {
			s.logError(opAddSubmission, reasonQueryFailed, err, zap.String("group_id", input.GroupID))
			return serviceerr.New(opAddSubmission, reasonQueryFailed, err)
		}
		if existing > 0 {
			return serviceerr.New(opAddSubmission, reasonDuplicateSlug, ErrDuplicateSlug)
		}
		if err := tx.Create(&submission).Error; err != nil {
			s.logError(opAddSubmission, reasonInsertFailed, err, zap.String("group_id", input.GroupID))
			return serviceerr.New(opAddSubmission, reasonInsertFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return Submission{}, txErr
	}
	return submission, nil
}

// GetSubmission loads a submission that belongs to the group.
func (s *Service) GetSubmission(ctx context.Context, groupID, submissionID string) (Submission, error) {
	var submission Submission
	err := s.db.WithContext(ctx).
		Where("group_id = ? AND submission_id = ?", groupID, submissionID).
		Take(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Submission{}, serviceerr.New(opGetSubmission, reasonNotFound, ErrSubmissionNotFound)
	}
	if err != nil {
		s.logError(opGetSubmission, reasonQueryFailed, err,
			zap.String("group_id", groupID),
			zap.String("submission_id", submissionID))
		return Submission{}, serviceerr.New(opGetSubmission, reasonQueryFailed, err)
	}
	return submission, nil
}

// ListSubmissions returns the group's pool in creation order.
func (s *Service) ListSubmissions(ctx context.Context, groupID string) ([]Submission, error) {
	var submissions []Submission
	if err := s.db.WithContext(ctx).Where(queryGroupID, groupID).Order(orderSubmissions).Find(&submissions).Error; err != nil {
		s.logError(opListSubmissions, reasonQueryFailed, err, zap.String("group_id", groupID))
		return nil, serviceerr.New(opListSubmissions, reasonQueryFailed, err)
	}
	return submissions, nil
}

// CountSubmissions returns the size of the group's pool.
func (s *Service) CountSubmissions(ctx context.Context, groupID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Submission{}).Where(queryGroupID, groupID).Count(&count).Error; err != nil {
		s.logError(opCountSubmissions, reasonQueryFailed, err, zap.String("group_id", groupID))
		return 0, serviceerr.New(opCountSubmissions, reasonQueryFailed, err)
	}
	return count, nil
}

func unixPointer(value *time.Time) *int64 {
	if value == nil {
		return nil
	}
	seconds := value.UTC().Unix()
	return &seconds
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
	s.logger.Error("catalog service error", attrs...)
}
