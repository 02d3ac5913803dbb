// Package server exposes the judging services over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jury/internal/admins"
	"github.com/MarcoPoloResearchLab/jury/internal/auth"
	"github.com/MarcoPoloResearchLab/jury/internal/catalog"
	"github.com/MarcoPoloResearchLab/jury/internal/export"
	"github.com/MarcoPoloResearchLab/jury/internal/judges"
	"github.com/MarcoPoloResearchLab/jury/internal/notes"
	"github.com/MarcoPoloResearchLab/jury/internal/progress"
	"github.com/MarcoPoloResearchLab/jury/internal/scoring"
	"github.com/MarcoPoloResearchLab/jury/internal/status"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	judgeContextKey         = "jury_judge"
	adminContextKey         = "jury_admin"
	sessionTokenContextKey  = "jury_session_token"
	bearerPrefix            = "Bearer "
	streamTokenQueryParam   = "access_token"
	defaultStreamKeepAlive  = 25 * time.Second
	reasonUnauthorized      = "unauthorized"
	reasonForbidden         = "forbidden"
	codeMissingSession      = "server.authorize_judge.missing_token"
	codeAdminUnauthorized   = "server.authorize_admin.unauthorized"
	codeAdminRoleRequired   = "server.authorize_admin.role_required"
	messageSessionRejected  = "session validation failed"
	messageAdminRejected    = "admin validation failed"
	defaultAllowedOriginAll = "*"
)

var (
	errMissingJudges   = errors.New("judge session dependency required")
	errMissingCatalog  = errors.New("catalog dependency required")
	errMissingScores   = errors.New("scoring dependency required")
	errMissingStatuses = errors.New("status dependency required")
	errMissingProgress = errors.New("progress dependency required")
	errMissingNotes    = errors.New("notes dependency required")
	errMissingExporter = errors.New("exporter dependency required")
	errMissingAdmin    = errors.New("admin authenticator dependency required")
	errMissingAdmins   = errors.New("admin directory dependency required")
)

// JudgeSessions registers judges and resolves their bearer tokens.
type JudgeSessions interface {
	Register(ctx context.Context, request judges.RegisterRequest) (judges.Registration, error)
	ValidateSession(ctx context.Context, token string) (judges.Judge, error)
	Heartbeat(ctx context.Context, token string, clientTime time.Time) error
	ListJudges(ctx context.Context, groupID string) ([]judges.Judge, error)
	DeleteJudge(ctx context.Context, groupID, judgeID string) error
}

// Catalog manages groups, criteria and submission pools.
type Catalog interface {
	CreateGroup(ctx context.Context, input catalog.GroupInput) (catalog.JudgingGroup, error)
	GetGroup(ctx context.Context, groupID string) (catalog.JudgingGroup, error)
	AddCriterion(ctx context.Context, input catalog.CriterionInput) (catalog.JudgingCriterion, error)
	ArchiveCriterion(ctx context.Context, criterionID string) error
	ActiveCriteria(ctx context.Context, groupID string) ([]catalog.JudgingCriterion, error)
	AddSubmission(ctx context.Context, input catalog.SubmissionInput) (catalog.Submission, error)
}

// Scores stores criterion scores.
type Scores interface {
	SubmitScore(ctx context.Context, input scoring.ScoreInput) error
	GetJudgeScores(ctx context.Context, judgeID, submissionID string) ([]scoring.JudgeScore, error)
}

// StatusCoordinator owns the shared submission states.
type StatusCoordinator interface {
	MarkComplete(ctx context.Context, groupID, submissionID, judgeID string) (status.Transition, error)
	Reopen(ctx context.Context, groupID, submissionID, judgeID string) (status.Transition, error)
	SetSkip(ctx context.Context, groupID, submissionID, judgeID string) (status.Transition, error)
	Resume(ctx context.Context, groupID, submissionID, judgeID string) (status.Transition, error)
	GetStatus(ctx context.Context, groupID, submissionID string) (status.SubmissionStatus, error)
	WorkingSet(ctx context.Context, groupID, judgeID string) ([]status.WorkingItem, error)
	History(ctx context.Context, groupID, submissionID string) ([]status.SubmissionStatusChange, error)
}

// ProgressReporter computes completion summaries.
type ProgressReporter interface {
	JudgeProgress(ctx context.Context, judgeID, groupID string) (progress.JudgeProgress, error)
	GroupProgress(ctx context.Context, groupID string) (progress.GroupProgress, error)
}

// NotesThread stores submission notes.
type NotesThread interface {
	AddNote(ctx context.Context, input notes.NoteInput) (notes.SubmissionNote, error)
	ListNotes(ctx context.Context, groupID, submissionID string) ([]notes.Thread, error)
}

// ScoreExporter produces the administrator score table.
type ScoreExporter interface {
	Rows(ctx context.Context, groupID string) ([]export.Row, error)
}

// AdminAuthenticator validates administrator sessions.
type AdminAuthenticator interface {
	ValidateRequest(r *http.Request) (auth.AdminClaims, error)
}

// AdminDirectory records authenticated administrators.
type AdminDirectory interface {
	Resolve(ctx context.Context, claims auth.AdminClaims) (string, error)
	List(ctx context.Context) ([]admins.Identity, error)
}

type Dependencies struct {
	Judges          JudgeSessions
	Catalog         Catalog
	Scores          Scores
	Statuses        StatusCoordinator
	Progress        ProgressReporter
	Notes           NotesThread
	Exporter        ScoreExporter
	Admin           AdminAuthenticator
	Admins          AdminDirectory
	Realtime        *RealtimeDispatcher
	AllowedOrigins  []string
	StreamKeepAlive time.Duration
	Logger          *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Judges == nil:
		return nil, errMissingJudges
	case deps.Catalog == nil:
		return nil, errMissingCatalog
	case deps.Scores == nil:
		return nil, errMissingScores
	case deps.Statuses == nil:
		return nil, errMissingStatuses
	case deps.Progress == nil:
		return nil, errMissingProgress
	case deps.Notes == nil:
		return nil, errMissingNotes
	case deps.Exporter == nil:
		return nil, errMissingExporter
	case deps.Admin == nil:
		return nil, errMissingAdmin
	case deps.Admins == nil:
		return nil, errMissingAdmins
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	keepAlive := deps.StreamKeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultStreamKeepAlive
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		judges:    deps.Judges,
		catalog:   deps.Catalog,
		scores:    deps.Scores,
		statuses:  deps.Statuses,
		progress:  deps.Progress,
		notes:     deps.Notes,
		exporter:  deps.Exporter,
		admin:     deps.Admin,
		admins:    deps.Admins,
		realtime:  realtime,
		keepAlive: keepAlive,
		logger:    logger,
	}

	router.POST("/groups/:groupID/judges", handler.handleRegister)

	judge := router.Group("/")
	judge.Use(handler.authorizeJudge)
	judge.POST("/session/heartbeat", handler.handleHeartbeat)
	judge.GET("/criteria", handler.handleListCriteria)
	judge.GET("/submissions", handler.handleWorkingSet)
	judge.GET("/submissions/:submissionID/scores", handler.handleListScores)
	judge.PUT("/submissions/:submissionID/scores/:criterionID", handler.handleSubmitScore)
	judge.POST("/submissions/:submissionID/complete", handler.handleTransition(status.ActionMarkComplete))
	judge.POST("/submissions/:submissionID/reopen", handler.handleTransition(status.ActionReopen))
	judge.POST("/submissions/:submissionID/skip", handler.handleTransition(status.ActionSkip))
	judge.POST("/submissions/:submissionID/resume", handler.handleTransition(status.ActionResume))
	judge.GET("/submissions/:submissionID/history", handler.handleHistory)
	judge.GET("/submissions/:submissionID/notes", handler.handleListNotes)
	judge.POST("/submissions/:submissionID/notes", handler.handleAddNote)
	judge.GET("/progress", handler.handleJudgeProgress)
	judge.GET("/progress/group", handler.handlePoolProgress)
	judge.GET("/stream", handler.handleStream)

	admin := router.Group("/admin")
	admin.Use(handler.authorizeAdmin)
	admin.POST("/groups", handler.handleCreateGroup)
	admin.POST("/groups/:groupID/criteria", handler.handleAddCriterion)
	admin.DELETE("/criteria/:criterionID", handler.handleArchiveCriterion)
	admin.POST("/groups/:groupID/submissions", handler.handleAddSubmission)
	admin.GET("/groups/:groupID/judges", handler.handleListJudges)
	admin.DELETE("/groups/:groupID/judges/:judgeID", handler.handleDeleteJudge)
	admin.GET("/groups/:groupID/progress", handler.handleGroupProgress)
	admin.GET("/groups/:groupID/export.csv", handler.handleExport)
	admin.GET("/administrators", handler.handleListAdministrators)

	return router, nil
}

type httpHandler struct {
	judges    JudgeSessions
	catalog   Catalog
	scores    Scores
	statuses  StatusCoordinator
	progress  ProgressReporter
	notes     NotesThread
	exporter  ScoreExporter
	admin     AdminAuthenticator
	admins    AdminDirectory
	realtime  *RealtimeDispatcher
	keepAlive time.Duration
	logger    *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 || slices.Contains(origins, defaultAllowedOriginAll) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func (h *httpHandler) authorizeJudge(c *gin.Context) {
	token := bearerToken(c.Request)
	if token == "" && c.FullPath() == "/stream" {
		token = strings.TrimSpace(c.Query(streamTokenQueryParam))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reasonUnauthorized, "code": codeMissingSession})
		return
	}

	judge, err := h.judges.ValidateSession(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			h.logger.Warn(messageSessionRejected, zap.Error(err))
		} else {
			h.logger.Info(messageSessionRejected, zap.Error(err))
		}
		h.respondError(c, err)
		return
	}
	c.Set(judgeContextKey, judge)
	c.Set(sessionTokenContextKey, token)
	c.Next()
}

func (h *httpHandler) authorizeAdmin(c *gin.Context) {
	claims, err := h.admin.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredAdminToken) || errors.Is(err, auth.ErrMissingAdminToken) {
			h.logger.Info(messageAdminRejected, zap.Error(err))
		} else {
			h.logger.Warn(messageAdminRejected, zap.Error(err))
		}
		if errors.Is(err, auth.ErrAdminRoleRequired) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": reasonForbidden, "code": codeAdminRoleRequired})
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reasonUnauthorized, "code": codeAdminUnauthorized})
		return
	}
	adminID, err := h.admins.Resolve(c.Request.Context(), claims)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Set(adminContextKey, adminID)
	c.Next()
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
}

func currentJudge(c *gin.Context) (judges.Judge, bool) {
	value, ok := c.Get(judgeContextKey)
	if !ok {
		return judges.Judge{}, false
	}
	judge, ok := value.(judges.Judge)
	return judge, ok
}
