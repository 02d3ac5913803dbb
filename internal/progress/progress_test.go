package progress

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/MarcoPoloResearchLab/jury/internal/catalog"
	"github.com/MarcoPoloResearchLab/jury/internal/ids"
	"github.com/MarcoPoloResearchLab/jury/internal/scoring"
	"github.com/MarcoPoloResearchLab/jury/internal/serviceerr"
	"github.com/MarcoPoloResearchLab/jury/internal/status"
	"github.com/MarcoPoloResearchLab/jury/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const groupID = "group-g"

var (
	criteria    = []string{"crit-1", "crit-2"}
	submissions = []string{"s1", "s2", "s3", "s4"}
)

type stack struct {
	scores      *scoring.Service
	coordinator *status.Service
	aggregator  *Aggregator
}

func newStack(t *testing.T) stack {
	t.Helper()
	db := testkit.OpenSQLite(t,
		&catalog.JudgingGroup{}, &catalog.JudgingCriterion{}, &catalog.Submission{},
		&scoring.JudgeScore{}, &status.SubmissionStatus{}, &status.SubmissionStatusChange{})
	identifiers := append([]string{groupID}, criteria...)
	identifiers = append(identifiers, submissions...)
	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Database:   db,
		Clock:      testkit.FixedClock(1700000000),
		IDProvider: ids.NewSequence(identifiers...),
	})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = catalogService.CreateGroup(ctx, catalog.GroupInput{Name: "G", Visibility: catalog.VisibilityPublic})
	require.NoError(t, err)
	for index := range criteria {
		_, err = catalogService.AddCriterion(ctx, catalog.CriterionInput{GroupID: groupID, Question: "Q", DisplayOrder: index})
		require.NoError(t, err)
	}
	for _, slug := range submissions {
		_, err = catalogService.AddSubmission(ctx, catalog.SubmissionInput{GroupID: groupID, Title: "Title " + slug, Slug: slug})
		require.NoError(t, err)
	}
	scoreService, err := scoring.NewService(scoring.ServiceConfig{Database: db, Catalog: catalogService})
	require.NoError(t, err)
	coordinator, err := status.NewService(status.ServiceConfig{
		Database:   db,
		Catalog:    catalogService,
		Scores:     scoreService,
		IDProvider: ids.NewUUIDProvider(),
	})
	require.NoError(t, err)
	aggregator, err := NewAggregator(Config{Statuses: coordinator, Criteria: catalogService, Scores: scoreService})
	require.NoError(t, err)
	return stack{scores: scoreService, coordinator: coordinator, aggregator: aggregator}
}

func (s stack) score(t *testing.T, judgeID, submissionID string, criteriaIDs ...string) {
	t.Helper()
	for _, criterionID := range criteriaIDs {
		require.NoError(t, s.scores.SubmitScore(context.Background(), scoring.ScoreInput{
			JudgeID: judgeID, GroupID: groupID, SubmissionID: submissionID, CriterionID: criterionID, Score: 5,
		}))
	}
}

func TestNewAggregatorRequiresSources(t *testing.T) {
	_, err := NewAggregator(Config{})
	require.Equal(t, "progress.service.new.missing_statuses", serviceerr.Code(err))
}

func TestJudgeProgressExcludesSubmissionsCompletedByOthers(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	s.score(t, "judge-a", "s1", criteria...)
	_, err := s.coordinator.MarkComplete(ctx, groupID, "s1", "judge-a")
	require.NoError(t, err)
	s.score(t, "judge-b", "s2", criteria...)
	_, err = s.coordinator.MarkComplete(ctx, groupID, "s2", "judge-b")
	require.NoError(t, err)
	s.score(t, "judge-a", "s3", "crit-1")
	_, err = s.coordinator.SetSkip(ctx, groupID, "s4", "judge-b")
	require.NoError(t, err)

	progressA, err := s.aggregator.JudgeProgress(ctx, "judge-a", groupID)
	require.NoError(t, err)
	assert.Equal(t, 1, progressA.Completed)
	assert.Equal(t, 3, progressA.Total)
	assert.InDelta(t, 33.33, progressA.Percent, 0.001)
	require.Len(t, progressA.PerSubmission, 3)
	assert.Equal(t, "s1", progressA.PerSubmission[0].SubmissionID)
	assert.True(t, progressA.PerSubmission[0].OwnedByJudge)
	assert.Equal(t, 2, progressA.PerSubmission[0].ScoredCriteria)
	assert.Equal(t, "s3", progressA.PerSubmission[1].SubmissionID)
	assert.Equal(t, 1, progressA.PerSubmission[1].ScoredCriteria)
	assert.Equal(t, 2, progressA.PerSubmission[1].TotalCriteria)
	assert.Equal(t, status.StateSkip, progressA.PerSubmission[2].State)

	group, err := s.aggregator.GroupProgress(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, GroupProgress{GroupID: groupID, CompletedByAnyone: 2, Skipped: 1, Total: 4, Percent: 50}, group)
}

func TestEmptyPoolReportsZeroPercent(t *testing.T) {
	s := newStack(t)
	progress, err := s.aggregator.JudgeProgress(context.Background(), "judge-a", "other-group")
	require.NoError(t, err)
	assert.Equal(t, 0, progress.Total)
	assert.Zero(t, progress.Percent)
}

func TestJudgeCompletedOnlyDecreasesThroughOwnReopen(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	judges := []string{"judge-a", "judge-b"}
	for _, judgeID := range judges {
		for _, submissionID := range submissions {
			s.score(t, judgeID, submissionID, criteria...)
		}
	}

	random := rand.New(rand.NewSource(42))
	previous := map[string]int{}
	for step := 0; step < 120; step++ {
		judgeID := judges[random.Intn(len(judges))]
		submissionID := submissions[random.Intn(len(submissions))]
		var err error
		reopened := false
		switch random.Intn(4) {
		case 0:
			_, err = s.coordinator.MarkComplete(ctx, groupID, submissionID, judgeID)
		case 1:
			_, err = s.coordinator.Reopen(ctx, groupID, submissionID, judgeID)
			reopened = err == nil
		case 2:
			_, err = s.coordinator.SetSkip(ctx, groupID, submissionID, judgeID)
		default:
			_, err = s.coordinator.Resume(ctx, groupID, submissionID, judgeID)
		}
		if err != nil && !errors.Is(err, status.ErrAlreadyOwned) && !errors.Is(err, status.ErrNotOwner) {
			t.Fatalf("step %d: unexpected error %v", step, err)
		}

		for _, observed := range judges {
			progress, err := s.aggregator.JudgeProgress(ctx, observed, groupID)
			require.NoError(t, err)
			if progress.Completed < previous[observed] {
				require.True(t, reopened && observed == judgeID,
					"step %d: completed for %s fell from %d to %d without its own reopen", step, observed, previous[observed], progress.Completed)
				require.Equal(t, previous[observed]-1, progress.Completed)
			}
			previous[observed] = progress.Completed
		}
	}
}
