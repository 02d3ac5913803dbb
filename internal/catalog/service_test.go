package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/jury/internal/ids"
	"github.com/MarcoPoloResearchLab/jury/internal/serviceerr"
	"github.com/MarcoPoloResearchLab/jury/internal/testkit"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, identifiers ...string) (*Service, *gorm.DB) {
	t.Helper()
	db := testkit.OpenSQLite(t, &JudgingGroup{}, &JudgingCriterion{}, &Submission{})
	service, err := NewService(ServiceConfig{
		Database:     db,
		Clock:        testkit.FixedClock(1700000000),
		IDProvider:   ids.NewSequence(identifiers...),
		PasswordCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to construct catalog service: %v", err)
	}
	return service, db
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); serviceerr.Code(err) != "catalog.service.new.missing_database" {
		t.Fatalf("unexpected error %v", err)
	}
	db := testkit.OpenSQLite(t)
	if _, err := NewService(ServiceConfig{Database: db}); serviceerr.Code(err) != "catalog.service.new.missing_id_provider" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestCreateGroupStoresWindowAndHash(t *testing.T) {
	service, _ := newTestService(t, "group-1")
	startsAt := time.Unix(1700000000, 0).UTC()
	endsAt := startsAt.Add(48 * time.Hour)

	group, err := service.CreateGroup(context.Background(), GroupInput{
		Name:       "  Finals ",
		Visibility: VisibilityPassword,
		Password:   "letmein",
		StartsAt:   &startsAt,
		EndsAt:     &endsAt,
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if group.GroupID != "group-1" || group.Name != "Finals" {
		t.Fatalf("unexpected group %#v", group)
	}
	if group.PasswordHash == "" || group.PasswordHash == "letmein" {
		t.Fatalf("expected hashed password")
	}

	loaded, err := service.GetGroup(context.Background(), "group-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if storedEnd, ok := loaded.EndsAt(); !ok || !storedEnd.Equal(endsAt) {
		t.Fatalf("unexpected stored end %v %v", storedEnd, ok)
	}
	if err := service.CheckGroupPassword(loaded, "letmein"); err != nil {
		t.Fatalf("expected password to match: %v", err)
	}
	if err := service.CheckGroupPassword(loaded, "wrong"); !errors.Is(err, ErrInvalidGroupPassword) {
		t.Fatalf("expected invalid password, got %v", err)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	startsAt := time.Unix(1700000000, 0).UTC()
	testCases := []struct {
		name  string
		input GroupInput
	}{
		{name: "missing-name", input: GroupInput{Visibility: VisibilityPublic}},
		{name: "unknown-visibility", input: GroupInput{Name: "g", Visibility: "secret"}},
		{name: "gated-without-password", input: GroupInput{Name: "g", Visibility: VisibilityPassword}},
		{name: "inverted-window", input: GroupInput{Name: "g", Visibility: VisibilityPublic, StartsAt: &startsAt, EndsAt: &startsAt}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			service, _ := newTestService(t, "group-1")
			_, err := service.CreateGroup(context.Background(), testCase.input)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestPublicGroupAcceptsAnyPassword(t *testing.T) {
	service, _ := newTestService(t, "group-1")
	group, err := service.CreateGroup(context.Background(), GroupInput{Name: "Open", Visibility: VisibilityPublic})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if err := service.CheckGroupPassword(group, "anything"); err != nil {
		t.Fatalf("public group should not check passwords: %v", err)
	}
}

func TestGetGroupNotFound(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.GetGroup(context.Background(), "missing")
	if !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if serviceerr.Code(err) != "catalog.get_group.not_found" {
		t.Fatalf("unexpected code %s", serviceerr.Code(err))
	}
}

func TestActiveCriteriaOrderedAndArchivable(t *testing.T) {
	service, _ := newTestService(t, "group-1", "crit-b", "crit-a", "crit-c")
	ctx := context.Background()
	if _, err := service.CreateGroup(ctx, GroupInput{Name: "G", Visibility: VisibilityPublic}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	for _, input := range []CriterionInput{
		{GroupID: "group-1", Question: "Design", DisplayOrder: 2},
		{GroupID: "group-1", Question: "Impact", DisplayOrder: 1},
		{GroupID: "group-1", Question: "Polish", DisplayOrder: 3},
	} {
		if _, err := service.AddCriterion(ctx, input); err != nil {
			t.Fatalf("unexpected add criterion error: %v", err)
		}
	}

	identifiers, err := service.ActiveCriterionIDs(ctx, "group-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	expected := []string{"crit-a", "crit-b", "crit-c"}
	if len(identifiers) != len(expected) {
		t.Fatalf("expected %d criteria, got %v", len(expected), identifiers)
	}
	for index := range expected {
		if identifiers[index] != expected[index] {
			t.Fatalf("unexpected order %v", identifiers)
		}
	}

	if err := service.ArchiveCriterion(ctx, "crit-b"); err != nil {
		t.Fatalf("unexpected archive error: %v", err)
	}
	identifiers, err = service.ActiveCriterionIDs(ctx, "group-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(identifiers) != 2 || identifiers[0] != "crit-a" || identifiers[1] != "crit-c" {
		t.Fatalf("expected archived criterion to drop out, got %v", identifiers)
	}
	if _, err := service.GetCriterion(ctx, "crit-b"); !errors.Is(err, ErrCriterionNotFound) {
		t.Fatalf("expected archived criterion to be hidden, got %v", err)
	}
	if err := service.ArchiveCriterion(ctx, "crit-b"); !errors.Is(err, ErrCriterionNotFound) {
		t.Fatalf("expected second archive to report not found, got %v", err)
	}
}

func TestAddCriterionRequiresGroup(t *testing.T) {
	service, _ := newTestService(t, "crit-1")
	_, err := service.AddCriterion(context.Background(), CriterionInput{GroupID: "missing", Question: "Q"})
	if !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected group not found, got %v", err)
	}
}

func TestAddSubmissionRejectsDuplicateSlug(t *testing.T) {
	service, _ := newTestService(t, "group-1", "sub-1", "sub-2")
	ctx := context.Background()
	if _, err := service.CreateGroup(ctx, GroupInput{Name: "G", Visibility: VisibilityPublic}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	submission, err := service.AddSubmission(ctx, SubmissionInput{GroupID: "group-1", Title: "Rocket", Slug: "Rocket-App"})
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if submission.Slug != "rocket-app" {
		t.Fatalf("expected lower-cased slug, got %q", submission.Slug)
	}
	_, err = service.AddSubmission(ctx, SubmissionInput{GroupID: "group-1", Title: "Other", Slug: "rocket-app"})
	if !errors.Is(err, ErrDuplicateSlug) {
		t.Fatalf("expected duplicate slug, got %v", err)
	}

	submissions, err := service.ListSubmissions(ctx, "group-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(submissions) != 1 {
		t.Fatalf("expected one submission, got %d", len(submissions))
	}
	count, err := service.CountSubmissions(ctx, "group-1")
	if err != nil || count != 1 {
		t.Fatalf("expected pool size 1, got %d (%v)", count, err)
	}
	if _, err := service.GetSubmission(ctx, "other-group", "sub-1"); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected submission scoped by group, got %v", err)
	}
}

func TestGroupWindowHelpers(t *testing.T) {
	start := int64(100)
	end := int64(200)
	group := JudgingGroup{StartsAtSeconds: &start, EndsAtSeconds: &end}
	if group.HasStarted(time.Unix(99, 0)) {
		t.Fatalf("expected window not started")
	}
	if !group.HasStarted(time.Unix(100, 0)) {
		t.Fatalf("expected window started at start instant")
	}
	if group.HasEnded(time.Unix(200, 0)) {
		t.Fatalf("window end instant is still open")
	}
	if !group.HasEnded(time.Unix(201, 0)) {
		t.Fatalf("expected window ended")
	}
	unbounded := JudgingGroup{}
	if !unbounded.HasStarted(time.Unix(0, 0)) || unbounded.HasEnded(time.Unix(1<<40, 0)) {
		t.Fatalf("unbounded group should always be open")
	}
}
