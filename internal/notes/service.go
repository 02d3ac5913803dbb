// Package notes stores the per-submission discussion thread shared by a group's judges.
package notes

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jury/internal/catalog"
	"github.com/MarcoPoloResearchLab/jury/internal/ids"
	"github.com/MarcoPoloResearchLab/jury/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	opServiceNew          = "notes.service.new"
	opAddNote             = "notes.add_note"
	opListNotes           = "notes.list_notes"
	reasonMissingDatabase = "missing_database"
	reasonMissingCatalog  = "missing_catalog"
	reasonMissingIDs      = "missing_id_provider"
	reasonMissingJudge    = "missing_judge"
	reasonInvalidContent  = "invalid_content"
	reasonStaleNote       = "stale_note"
	reasonQueryFailed     = "query_failed"
	reasonInsertFailed    = "insert_failed"
	reasonIDFailed        = "id_generation_failed"
	reasonEncodeFailed    = "encode_failed"
	orderThread           = "created_at_ms ASC, note_id ASC"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingCatalog    = errors.New("catalog is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// SubmissionSource confirms a submission belongs to a group.
type SubmissionSource interface {
	GetSubmission(ctx context.Context, groupID, submissionID string) (catalog.Submission, error)
}

// ServiceConfig describes the dependencies of the notes service.
type ServiceConfig struct {
	Database   *gorm.DB
	Catalog    SubmissionSource
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service persists and lists submission notes.
type Service struct {
	db         *gorm.DB
	catalog    SubmissionSource
	idProvider ids.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the notes service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Catalog == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingCatalog, errMissingCatalog)
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
		db:         cfg.Database,
		catalog:    cfg.Catalog,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// AddNote stores a note. A reply to a reply joins the top-level note's thread.
func (s *Service) AddNote(ctx context.Context, input NoteInput) (SubmissionNote, error) {
	if strings.TrimSpace(input.JudgeID) == "" {
		return SubmissionNote{}, serviceerr.New(opAddNote, reasonMissingJudge, ErrMissingJudge)
	}
	content, err := NewContent(input.Content)
	if err != nil {
		return SubmissionNote{}, serviceerr.New(opAddNote, reasonInvalidContent, err)
	}
	if _, err := s.catalog.GetSubmission(ctx, input.GroupID, input.SubmissionID); err != nil {
		return SubmissionNote{}, err
	}

	var replyTo *string
	if target := strings.TrimSpace(input.ReplyToID); target != "" {
		parentID, err := s.resolveThread(ctx, input.GroupID, input.SubmissionID, target)
		if err != nil {
			return SubmissionNote{}, err
		}
		replyTo = &parentID
	}

	mentions := ExtractMentions(content.String())
	encoded, err := json.Marshal(mentions)
	if err != nil {
		return SubmissionNote{}, serviceerr.New(opAddNote, reasonEncodeFailed, err)
	}

	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddNote, reasonIDFailed, err)
		return SubmissionNote{}, serviceerr.New(opAddNote, reasonIDFailed, err)
	}
	note := SubmissionNote{
		NoteID:          noteID,
		GroupID:         input.GroupID,
		SubmissionID:    input.SubmissionID,
		JudgeID:         input.JudgeID,
		Content:         content.String(),
		ReplyToID:       replyTo,
		MentionsJSON:    datatypes.JSON(encoded),
		CreatedAtMillis: s.clock().UTC().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opAddNote, reasonInsertFailed, err,
			zap.String("group_id", input.GroupID),
			zap.String("submission_id", input.SubmissionID))
		return SubmissionNote{}, serviceerr.New(opAddNote, reasonInsertFailed, err)
	}
	return note, nil
}

// resolveThread returns the top-level note id that a reply to target belongs under.
func (s *Service) resolveThread(ctx context.Context, groupID, submissionID, target string) (string, error) {
	var parent SubmissionNote
	err := s.db.WithContext(ctx).Where("note_id = ?", target).Take(&parent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", serviceerr.New(opAddNote, reasonStaleNote, ErrStaleNote)
	}
	if err != nil {
		s.logError(opAddNote, reasonQueryFailed, err, zap.String("note_id", target))
		return "", serviceerr.New(opAddNote, reasonQueryFailed, err)
	}
	if parent.GroupID != groupID || parent.SubmissionID != submissionID {
		return "", serviceerr.New(opAddNote, reasonStaleNote, ErrStaleNote)
	}
	if parent.IsReply() {
		return *parent.ReplyToID, nil
	}
	return parent.NoteID, nil
}

// ListNotes returns the submission's threads ordered by creation time.
func (s *Service) ListNotes(ctx context.Context, groupID, submissionID string) ([]Thread, error) {
	var stored []SubmissionNote
	if err := s.db.WithContext(ctx).
		Where("group_id = ? AND submission_id = ?", groupID, submissionID).
		Order(orderThread).
		Find(&stored).Error; err != nil {
		s.logError(opListNotes, reasonQueryFailed, err,
			zap.String("group_id", groupID),
			zap.String("submission_id", submissionID))
		return nil, serviceerr.New(opListNotes, reasonQueryFailed, err)
	}

	threads := make([]Thread, 0, len(stored))
	positions := make(map[string]int, len(stored))
	for _, note := range stored {
		if note.IsReply() {
			continue
		}
		positions[note.NoteID] = len(threads)
		threads = append(threads, Thread{Note: note, Replies: []SubmissionNote{}})
	}
	for _, note := range stored {
		if !note.IsReply() {
			continue
		}
		position, ok := positions[*note.ReplyToID]
		if !ok {
			continue
		}
		threads[position].Replies = append(threads[position].Replies, note)
	}
	return threads, nil
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
	s.logger.Error("notes service error", attrs...)
}
