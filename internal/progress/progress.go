// Package progress derives judge and group completion from the shared status records.
// Nothing is cached; every call recomputes from the coordinator and the scoring store.
package progress

import (
	"context"
	"errors"
	"math"

	"github.com/MarcoPoloResearchLab/jury/internal/serviceerr"
	"github.com/MarcoPoloResearchLab/jury/internal/status"
)

const (
	opServiceNew          = "progress.service.new"
	reasonMissingStatuses = "missing_statuses"
	reasonMissingCriteria = "missing_criteria"
	reasonMissingScores   = "missing_scores"
)

var (
	errMissingStatuses = errors.New("status reader is required")
	errMissingCriteria = errors.New("criteria source is required")
	errMissingScores   = errors.New("score counter is required")
)

// StatusReader exposes the coordinator's read side.
type StatusReader interface {
	WorkingSet(ctx context.Context, groupID, judgeID string) ([]status.WorkingItem, error)
	ListStatuses(ctx context.Context, groupID string) ([]status.SubmissionStatus, error)
}

// CriteriaSource lists the criteria a submission is scored against.
type CriteriaSource interface {
	ActiveCriterionIDs(ctx context.Context, groupID string) ([]string, error)
}

// ScoreCounter counts a judge's scored criteria per submission.
type ScoreCounter interface {
	ScoredCriteriaCounts(ctx context.Context, judgeID, groupID string, criteria []string) (map[string]int, error)
}

// SubmissionProgress is one row of a judge's working set.
type SubmissionProgress struct {
	SubmissionID   string       `json:"submission_id"`
	Title          string       `json:"title"`
	State          status.State `json:"state"`
	OwnedByJudge   bool         `json:"owned_by_judge"`
	Editable       bool         `json:"editable"`
	ScoredCriteria int          `json:"scored_criteria"`
	TotalCriteria  int          `json:"total_criteria"`
}

// JudgeProgress summarizes one judge's share of the pool.
type JudgeProgress struct {
	JudgeID       string               `json:"judge_id"`
	GroupID       string               `json:"group_id"`
	Completed     int                  `json:"completed"`
	Total         int                  `json:"total"`
	Percent       float64              `json:"percent"`
	PerSubmission []SubmissionProgress `json:"per_submission"`
}

// GroupProgress summarizes pool movement across all judges.
type GroupProgress struct {
	GroupID           string  `json:"group_id"`
	CompletedByAnyone int     `json:"completed_by_anyone"`
	Skipped           int     `json:"skipped"`
	Total             int     `json:"total"`
	Percent           float64 `json:"percent"`
}

// Config wires the aggregator to its read sources.
type Config struct {
	Statuses StatusReader
	Criteria CriteriaSource
	Scores   ScoreCounter
}

// Aggregator computes progress on demand.
type Aggregator struct {
	statuses StatusReader
	criteria CriteriaSource
	scores   ScoreCounter
}

// NewAggregator validates cfg and constructs an Aggregator.
func NewAggregator(cfg Config) (*Aggregator, error) {
	if cfg.Statuses == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingStatuses, errMissingStatuses)
	}
	if cfg.Criteria == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingCriteria, errMissingCriteria)
	}
	if cfg.Scores == nil {
		return nil, serviceerr.New(opServiceNew, reasonMissingScores, errMissingScores)
	}
	return &Aggregator{statuses: cfg.Statuses, criteria: cfg.Criteria, scores: cfg.Scores}, nil
}

// JudgeProgress counts the submissions visible to judgeID and how many of them the judge owns.
func (a *Aggregator) JudgeProgress(ctx context.Context, judgeID, groupID string) (JudgeProgress, error) {
	items, err := a.statuses.WorkingSet(ctx, groupID, judgeID)
	if err != nil {
		return JudgeProgress{}, err
	}
	criteria, err := a.criteria.ActiveCriterionIDs(ctx, groupID)
	if err != nil {
		return JudgeProgress{}, err
	}
	counts, err := a.scores.ScoredCriteriaCounts(ctx, judgeID, groupID, criteria)
	if err != nil {
		return JudgeProgress{}, err
	}

	result := JudgeProgress{
		JudgeID:       judgeID,
		GroupID:       groupID,
		Total:         len(items),
		PerSubmission: make([]SubmissionProgress, 0, len(items)),
	}
	for _, item := range items {
		owned := item.Status.State == status.StateCompleted && item.Status.Owner() == judgeID
		if owned {
			result.Completed++
		}
		result.PerSubmission = append(result.PerSubmission, SubmissionProgress{
			SubmissionID:   item.SubmissionID,
			Title:          item.Title,
			State:          item.Status.State,
			OwnedByJudge:   owned,
			Editable:       item.Editable,
			ScoredCriteria: counts[item.SubmissionID],
			TotalCriteria:  len(criteria),
		})
	}
	result.Percent = percent(result.Completed, result.Total)
	return result, nil
}

// GroupProgress counts completed submissions across the whole pool.
func (a *Aggregator) GroupProgress(ctx context.Context, groupID string) (GroupProgress, error) {
	records, err := a.statuses.ListStatuses(ctx, groupID)
	if err != nil {
		return GroupProgress{}, err
	}
	result := GroupProgress{GroupID: groupID, Total: len(records)}
	for _, record := range records {
		switch record.State {
		case status.StateCompleted:
			result.CompletedByAnyone++
		case status.StateSkip:
			result.Skipped++
		}
	}
	result.Percent = percent(result.CompletedByAnyone, result.Total)
	return result, nil
}

// percent rounds to two decimals; an empty pool is 0.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)*10000/float64(total)) / 100
}
