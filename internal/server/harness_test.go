package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/jury/internal/admins"
	"github.com/MarcoPoloResearchLab/jury/internal/auth"
	"github.com/MarcoPoloResearchLab/jury/internal/catalog"
	"github.com/MarcoPoloResearchLab/jury/internal/database"
	"github.com/MarcoPoloResearchLab/jury/internal/export"
	"github.com/MarcoPoloResearchLab/jury/internal/ids"
	"github.com/MarcoPoloResearchLab/jury/internal/judges"
	"github.com/MarcoPoloResearchLab/jury/internal/notes"
	"github.com/MarcoPoloResearchLab/jury/internal/progress"
	"github.com/MarcoPoloResearchLab/jury/internal/scoring"
	"github.com/MarcoPoloResearchLab/jury/internal/status"
	"github.com/MarcoPoloResearchLab/jury/internal/testkit"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	testSessionSecret = "test-session-secret"
	testAdminSecret   = "test-admin-secret"
	testAdminIssuer   = "tauth"
	testAdminCookie   = "app_session"
	testAdminRole     = "judging-admin"
)

type testHarness struct {
	handler    http.Handler
	catalog    *catalog.Service
	realtime   *RealtimeDispatcher
	adminToken string
}

type harnessOptions struct {
	logger       *zap.Logger
	requiredRole string
	adminRoles   []string
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHarness(t *testing.T, options harnessOptions) *testHarness {
	t.Helper()

	logger := options.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	db := testkit.OpenSQLite(t, database.Models()...)
	idProvider := ids.NewUUIDProvider()

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Database:     db,
		IDProvider:   idProvider,
		Logger:       logger,
		PasswordCost: 4,
	})
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSessionSecret),
		Issuer:        "jury-sessions",
		Audience:      "jury-api",
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	judgeService, err := judges.NewService(judges.ServiceConfig{
		Database:   db,
		Groups:     catalogService,
		Tokens:     tokenIssuer,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build judges: %v", err)
	}
	scoreService, err := scoring.NewService(scoring.ServiceConfig{
		Database: db,
		Catalog:  catalogService,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to build scoring: %v", err)
	}
	statusService, err := status.NewService(status.ServiceConfig{
		Database:   db,
		Catalog:    catalogService,
		Scores:     scoreService,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build status: %v", err)
	}
	aggregator, err := progress.NewAggregator(progress.Config{
		Statuses: statusService,
		Criteria: catalogService,
		Scores:   scoreService,
	})
	if err != nil {
		t.Fatalf("failed to build progress: %v", err)
	}
	noteService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		Catalog:    catalogService,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build notes: %v", err)
	}
	exporter, err := export.NewExporter(export.ExporterConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build exporter: %v", err)
	}
	adminValidator, err := auth.NewAdminValidator(auth.AdminValidatorConfig{
		SigningSecret: []byte(testAdminSecret),
		Issuer:        testAdminIssuer,
		CookieName:    testAdminCookie,
		RequiredRole:  options.requiredRole,
	})
	if err != nil {
		t.Fatalf("failed to build admin validator: %v", err)
	}

	adminDirectory, err := admins.NewService(admins.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build admin directory: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		Judges:          judgeService,
		Catalog:         catalogService,
		Scores:          scoreService,
		Statuses:        statusService,
		Progress:        aggregator,
		Notes:           noteService,
		Exporter:        exporter,
		Admin:           adminValidator,
		Admins:          adminDirectory,
		Realtime:        dispatcher,
		AllowedOrigins:  []string{"https://judging.example.com"},
		StreamKeepAlive: time.Hour,
		Logger:          logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &testHarness{
		handler:    handler,
		catalog:    catalogService,
		realtime:   dispatcher,
		adminToken: mintAdminToken(t, options.adminRoles...),
	}
}

func mintAdminToken(t *testing.T, roles ...string) string {
	t.Helper()
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.AdminClaims{
		UserID:    "admin-1",
		UserEmail: "admin@example.com",
		UserRoles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testAdminIssuer,
			Subject:   "admin-1",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testAdminSecret))
	if err != nil {
		t.Fatalf("failed to sign admin token: %v", err)
	}
	return signed
}

// do performs a request against the handler. A non-nil body is encoded as JSON.
func (h *testHarness) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		request.Header.Set("Authorization", "Bearer "+bearer)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func (h *testHarness) admin(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return h.do(t, method, path, h.adminToken, body)
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

type seededGroup struct {
	groupID      string
	criteria     []string
	submissionID string
}

// seedGroup creates a public group with the given criteria count and one submission through the admin API.
func (h *testHarness) seedGroup(t *testing.T, criteriaCount int) seededGroup {
	t.Helper()
	created := h.admin(t, http.MethodPost, "/admin/groups", groupRequest{Name: "Spring Showcase", Visibility: "public"})
	if created.Code != http.StatusCreated {
		t.Fatalf("create group: status %d body %s", created.Code, created.Body.String())
	}
	var group groupPayload
	decodeBody(t, created, &group)

	seeded := seededGroup{groupID: group.GroupID}
	for index := 0; index < criteriaCount; index++ {
		response := h.admin(t, http.MethodPost, "/admin/groups/"+group.GroupID+"/criteria", criterionRequest{
			Question:     "Question",
			DisplayOrder: index,
		})
		if response.Code != http.StatusCreated {
			t.Fatalf("add criterion: status %d body %s", response.Code, response.Body.String())
		}
		var criterion criterionPayload
		decodeBody(t, response, &criterion)
		seeded.criteria = append(seeded.criteria, criterion.CriterionID)
	}

	response := h.admin(t, http.MethodPost, "/admin/groups/"+group.GroupID+"/submissions", submissionRequest{
		Title: "Solar Kiln",
		Slug:  "solar-kiln",
	})
	if response.Code != http.StatusCreated {
		t.Fatalf("add submission: status %d body %s", response.Code, response.Body.String())
	}
	var submission submissionPayload
	decodeBody(t, response, &submission)
	seeded.submissionID = submission.SubmissionID
	return seeded
}

func (h *testHarness) register(t *testing.T, groupID, name string) registerResponse {
	t.Helper()
	response := h.do(t, http.MethodPost, "/groups/"+groupID+"/judges", "", registerRequest{Name: name})
	if response.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", name, response.Code, response.Body.String())
	}
	var registration registerResponse
	decodeBody(t, response, &registration)
	return registration
}

func (h *testHarness) scoreAll(t *testing.T, token string, seeded seededGroup, score int) {
	t.Helper()
	for _, criterionID := range seeded.criteria {
		response := h.do(t, http.MethodPut, "/submissions/"+seeded.submissionID+"/scores/"+criterionID, token, scoreRequest{Score: &score})
		if response.Code != http.StatusNoContent {
			t.Fatalf("score %s: status %d body %s", criterionID, response.Code, response.Body.String())
		}
	}
}
