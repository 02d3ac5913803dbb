// Package judges registers judges, issues their session tokens and tracks liveness.
package judges

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/jury/internal/auth"
	"github.com/MarcoPoloResearchLab/jury/internal/catalog"
	"github.com/MarcoPoloResearchLab/jury/internal/ids"
	"github.com/MarcoPoloResearchLab/jury/internal/serviceerr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew          = "judges.service.new"
	opRegister            = "judges.register"
	opValidateSession     = "judges.validate_session"
	opHeartbeat           = "judges.heartbeat"
	opGetJudge            = "judges.get_judge"
	opListJudges          = "judges.list_judges"
	opDeleteJudge         = "judges.delete_judge"
	reasonMissingDatabase = "missing_database"
	reasonMissingGroups   = "missing_group_source"
	reasonMissingTokens   = "missing_token_manager"
	reasonMissingIDs      = "missing_id_provider"
	reasonInvalidName     = "invalid_name"
	reasonNotOpen         = "not_open"
	reasonClosed          = "closed"
	reasonSessionExpired  = "session_expired"
	reasonNotFound        = "not_found"
	reasonQueryFailed     = "query_failed"
	reasonUpsertFailed    = "upsert_failed"
	reasonUpdateFailed    = "update_failed"
	reasonDeleteFailed    = "delete_failed"
	reasonIDFailed        = "id_generation_failed"
	reasonTokenFailed     = "token_issue_failed"
	fieldJudgeID          = "judge_id"
	fieldGroupID          = "group_id"
)

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingGroupSource  = errors.New("group source is required")
	errMissingTokenManager = errors.New("token manager is required")
	errMissingIDProvider   = errors.New("id provider is required")
	noOpLogger             = zap.NewNop()
)

// GroupSource resolves judging groups and their registration password.
type GroupSource interface {
	GetGroup(ctx context.Context, groupID string) (catalog.JudgingGroup, error)
	CheckGroupPassword(group catalog.JudgingGroup, password string) error
}

// TokenManager mints and parses opaque session tokens.
type TokenManager interface {
	Issue(session auth.SessionToken) (string, error)
	Parse(token string) (auth.SessionToken, error)
}

// ServiceConfig describes the dependencies of the session manager.
type ServiceConfig struct {
	Database   *gorm.DB
	Groups     GroupSource
	Tokens     TokenManager
	IDProvider ids.Provider
	Clock      func() time.Time
	// HeartbeatInterval is the minimum spacing between persisted heartbeats per judge.
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// Service is the judge session manager.
type Service struct {
	db                *gorm.DB
	groups            GroupSource
	tokens            TokenManager
	idProvider        ids.Provider
	clock             func() time.Time
	heartbeatInterval time.Duration
	logger            *zap.Logger

	limiterMu sync.Mutex
	// limiters holds one entry per judge that has sent a heartbeat; DeleteJudge evicts.
	limiters  map[string]*rate.Limiter
}

// NewService validates the configuration and constructs the session manager.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Groups == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingGroups, errMissingGroupSource)
	}
	if cfg.Tokens == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingTokens, errMissingTokenManager)
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
	return &Service{
		db:                cfg.Database,
		groups:            cfg.Groups,
		tokens:            cfg.Tokens,
		idProvider:        cfg.IDProvider,
		clock:             clock,
		heartbeatInterval: cfg.HeartbeatInterval,
		logger:            logger,
		limiters:          make(map[string]*rate.Limiter),
	}, nil
}

// Register creates the judge or resumes the existing one with the same normalized name, and
// issues a fresh session token. Tokens issued by earlier registrations stop validating.
func (s *Service) Register(ctx context.Context, request RegisterRequest) (Registration, error) {
	name := NormalizeName(request.Name)
	if name == "" {
		return Registration{}, serviceerr.New(opRegister, reasonInvalidName, ErrInvalidName)
	}

	group, err := s.groups.GetGroup(ctx, request.GroupID)
	if err != nil {
		return Registration{}, err
	}
	now := s.clock().UTC()
	if !group.HasStarted(now) {
		return Registration{}, serviceerr.New(opRegister, reasonNotOpen, ErrJudgingNotOpen)
	}
	if group.HasEnded(now) {
		return Registration{}, serviceerr.New(opRegister, reasonClosed, ErrJudgingClosed)
	}
	if err := s.groups.CheckGroupPassword(group, request.Password); err != nil {
		return Registration{}, err
	}

	sessionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRegister, reasonIDFailed, err, zap.String(fieldGroupID, group.GroupID))
		return Registration{}, serviceerr.New(opRegister, reasonIDFailed, err)
	}

	judgeID := DeriveJudgeID(group.GroupID, name)
	email := strings.TrimSpace(request.Email)
	judge := Judge{
		JudgeID:             judgeID,
		GroupID:             group.GroupID,
		Name:                name,
		EnteredName:         strings.TrimSpace(request.Name),
		Email:               email,
		SessionID:           sessionID,
		LastActiveAtSeconds: now.Unix(),
		CreatedAtSeconds:    now.Unix(),
	}
	updatedColumns := []string{"session_id", "entered_name", "last_active_at_s"}
	if email != "" {
		updatedColumns = append(updatedColumns, "email")
	}

	resumed := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Judge{}).Where("judge_id = ?", judgeID).Count(&existing).Error; err != nil {
			s.logError(opRegister, reasonQueryFailed, err, zap.String(fieldJudgeID, judgeID))
			return serviceerr.New(opRegister, reasonQueryFailed, err)
		}
		resumed = existing > 0
		upsert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "judge_id"}},
			DoUpdates: clause.AssignmentColumns(updatedColumns),
		}).Create(&judge)
		if upsert.Error != nil {
			s.logError(opRegister, reasonUpsertFailed, upsert.Error, zap.String(fieldJudgeID, judgeID))
			return serviceerr.New(opRegister, reasonUpsertFailed, upsert.Error)
		}
		return nil
	})
	if txErr != nil {
		return Registration{}, txErr
	}

	token, err := s.tokens.Issue(auth.SessionToken{JudgeID: judgeID, SessionID: sessionID})
	if err != nil {
		s.logError(opRegister, reasonTokenFailed, err, zap.String(fieldJudgeID, judgeID))
		return Registration{}, serviceerr.New(opRegister, reasonTokenFailed, err)
	}

	return Registration{
		JudgeID:      judgeID,
		GroupID:      group.GroupID,
		Name:         name,
		SessionToken: token,
		Resumed:      resumed,
	}, nil
}

// ValidateSession resolves a bearer token to its judge.
func (s *Service) ValidateSession(ctx context.Context, token string) (Judge, error) {
	session, err := s.tokens.Parse(token)
	if err != nil {
		return Judge{}, serviceerr.New(opValidateSession, reasonSessionExpired, errors.Join(ErrSessionExpired, err))
	}

	var judge Judge
	err = s.db.WithContext(ctx).Where("judge_id = ?", session.JudgeID).Take(&judge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Judge{}, serviceerr.New(opValidateSession, reasonSessionExpired, ErrSessionExpired)
	}
	if err != nil {
		s.logError(opValidateSession, reasonQueryFailed, err, zap.String(fieldJudgeID, session.JudgeID))
		return Judge{}, serviceerr.New(opValidateSession, reasonQueryFailed, err)
	}
	if judge.SessionID != session.SessionID {
		return Judge{}, serviceerr.New(opValidateSession, reasonSessionExpired, ErrSessionExpired)
	}

	group, err := s.groups.GetGroup(ctx, judge.GroupID)
	if errors.Is(err, catalog.ErrGroupNotFound) {
		return Judge{}, serviceerr.New(opValidateSession, reasonSessionExpired, ErrSessionExpired)
	}
	if err != nil {
		return Judge{}, err
	}
	if group.HasEnded(s.clock().UTC()) {
		return Judge{}, serviceerr.New(opValidateSession, reasonSessionExpired, ErrSessionExpired)
	}
	return judge, nil
}

// Heartbeat records liveness for the session's judge. Writes are throttled per judge, and a
// throttled heartbeat is dropped without error.
func (s *Service) Heartbeat(ctx context.Context, token string, clientTime time.Time) error {
	judge, err := s.ValidateSession(ctx, token)
	if err != nil {
		return err
	}
	if !s.allowHeartbeat(judge.JudgeID) {
		return nil
	}

	updates := map[string]interface{}{
		"last_active_at_s": s.clock().UTC().Unix(),
	}
	if !clientTime.IsZero() {
		updates["last_client_time_s"] = clientTime.UTC().Unix()
	}
	if err := s.db.WithContext(ctx).Model(&Judge{}).
		Where("judge_id = ? AND session_id = ?", judge.JudgeID, judge.SessionID).
		Updates(updates).Error; err != nil {
		s.logError(opHeartbeat, reasonUpdateFailed, err, zap.String(fieldJudgeID, judge.JudgeID))
		return serviceerr.New(opHeartbeat, reasonUpdateFailed, err)
	}
	return nil
}

// GetJudge loads a judge by id.
func (s *Service) GetJudge(ctx context.Context, judgeID string) (Judge, error) {
	var judge Judge
	err := s.db.WithContext(ctx).Where("judge_id = ?", judgeID).Take(&judge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Judge{}, serviceerr.New(opGetJudge, reasonNotFound, ErrJudgeNotFound)
	}
	if err != nil {
		s.logError(opGetJudge, reasonQueryFailed, err, zap.String(fieldJudgeID, judgeID))
		return Judge{}, serviceerr.New(opGetJudge, reasonQueryFailed, err)
	}
	return judge, nil
}

// ListJudges returns the group's judges ordered by name.
func (s *Service) ListJudges(ctx context.Context, groupID string) ([]Judge, error) {
	var judges []Judge
	if err := s.db.WithContext(ctx).Where("group_id = ?", groupID).Order("name ASC").Find(&judges).Error; err != nil {
		s.logError(opListJudges, reasonQueryFailed, err, zap.String(fieldGroupID, groupID))
		return nil, serviceerr.New(opListJudges, reasonQueryFailed, err)
	}
	return judges, nil
}

// DeleteJudge removes a judge from the group, revoking every session it holds. Scores and
// ownership stay keyed by the derived judge id, so re-registering the same name reclaims them.
func (s *Service) DeleteJudge(ctx context.Context, groupID, judgeID string) error {
	result := s.db.WithContext(ctx).Where("group_id = ? AND judge_id = ?", groupID, judgeID).Delete(&Judge{})
	if result.Error != nil {
		s.logError(opDeleteJudge, reasonDeleteFailed, result.Error,
			zap.String(fieldGroupID, groupID),
			zap.String(fieldJudgeID, judgeID))
		return serviceerr.New(opDeleteJudge, reasonDeleteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return serviceerr.New(opDeleteJudge, reasonNotFound, ErrJudgeNotFound)
	}
	s.limiterMu.Lock()
	delete(s.limiters, judgeID)
	s.limiterMu.Unlock()
	return nil
}

func (s *Service) allowHeartbeat(judgeID string) bool {
	if s.heartbeatInterval <= 0 {
		return true
	}
	s.limiterMu.Lock()
	limiter, ok := s.limiters[judgeID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.heartbeatInterval), 1)
		s.limiters[judgeID] = limiter
	}
	s.limiterMu.Unlock()
	return limiter.AllowN(s.clock(), 1)
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
	s.logger.Error("judges service error", attrs...)
}
