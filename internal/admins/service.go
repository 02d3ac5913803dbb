package admins

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/jury/internal/auth"
	"github.com/MarcoPoloResearchLab/jury/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew       = "admins.service.new"
	opResolve          = "admins.resolve"
	opList             = "admins.list"
	reasonMissingDB    = "missing_database"
	reasonInvalid      = "invalid_identity"
	reasonUpsertFailed = "upsert_failed"
	reasonQueryFailed  = "query_failed"
)

var errMissingDatabase = errors.New("database handle is required")

// ServiceConfig describes the dependencies required for administrator identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service resolves administrator identities and keeps their last-seen time.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingDB, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// Resolve returns the administrator id for the claims, creating the identity on first sight.
// Profile fields and last-seen are refreshed on every call.
func (s *Service) Resolve(ctx context.Context, claims auth.AdminClaims) (string, error) {
	provider, subject := splitSubject(claims.UserID, claims.Subject, claims.UserEmail)
	if subject == "" {
		return "", serviceerr.New(opResolve, reasonInvalid, ErrInvalidIdentity)
	}

	now := s.now().UTC().Unix()
	identity := Identity{
		Provider:          provider,
		Subject:           subject,
		AdminID:           subject,
		Email:             normalize(claims.UserEmail),
		DisplayName:       normalize(claims.UserDisplayName),
		LastSeenAtSeconds: now,
		CreatedAtSeconds:  now,
	}
	updated := []string{"last_seen_at_s"}
	if identity.Email != "" {
		updated = append(updated, "email")
	}
	if identity.DisplayName != "" {
		updated = append(updated, "display_name")
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "subject"}},
		DoUpdates: clause.AssignmentColumns(updated),
	}).Create(&identity).Error
	if err != nil {
		s.logger.Error("admin identity upsert failed",
			zap.String("operation", opResolve),
			zap.String("reason", reasonUpsertFailed),
			zap.String("provider", provider),
			zap.Error(err))
		return "", serviceerr.New(opResolve, reasonUpsertFailed, err)
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if adminID, ok := cached.(string); ok {
			return adminID, nil
		}
	}
	var stored Identity
	if err := s.db.WithContext(ctx).Where("provider = ? AND subject = ?", provider, subject).Take(&stored).Error; err != nil {
		return "", serviceerr.New(opResolve, reasonQueryFailed, err)
	}
	s.cache.Store(cacheKey, stored.AdminID)
	return stored.AdminID, nil
}

// List returns every known administrator, most recently seen first.
func (s *Service) List(ctx context.Context) ([]Identity, error) {
	var identities []Identity
	err := s.db.WithContext(ctx).Order("last_seen_at_s DESC, admin_id ASC").Find(&identities).Error
	if err != nil {
		s.logger.Error("admin identity query failed",
			zap.String("operation", opList),
			zap.String("reason", reasonQueryFailed),
			zap.Error(err))
		return nil, serviceerr.New(opList, reasonQueryFailed, err)
	}
	return identities, nil
}
