// Package export produces the flat score table consumed by administrators.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/jury/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opExporterNew         = "export.exporter.new"
	opRows                = "export.rows"
	opWriteCSV            = "export.write_csv"
	reasonMissingDatabase = "missing_database"
	reasonQueryFailed     = "query_failed"
	reasonWriteFailed     = "write_failed"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	header = []string{
		"judge_name",
		"judge_email",
		"judge_username",
		"submission_title",
		"submission_slug",
		"criterion_question",
		"criterion_description",
		"score",
		"submission_total",
		"comment",
		"hidden",
		"scored_at",
	}
)

// Row is one criterion score joined with its judge, submission and criterion.
type Row struct {
	JudgeID              string
	JudgeName            string
	JudgeEmail           string
	JudgeUsername        string
	SubmissionID         string
	SubmissionTitle      string
	SubmissionSlug       string
	CriterionQuestion    string
	CriterionDescription string
	Score                int
	SubmissionTotal      int
	Comment              string
	Hidden               bool
	ScoredAtSeconds      int64
}

// ExporterConfig describes the dependencies of the exporter.
type ExporterConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Exporter runs the export join.
type Exporter struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewExporter validates cfg and constructs an Exporter.
func NewExporter(cfg ExporterConfig) (*Exporter, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opExporterNew, reasonMissingDatabase, errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Exporter{db: cfg.Database, logger: logger}, nil
}

// Rows returns every active-criterion score of the group ordered by judge name, submission
// title and criterion display order. SubmissionTotal sums one judge's scores on one submission.
func (e *Exporter) Rows(ctx context.Context, groupID string) ([]Row, error) {
	var rows []Row
	err := e.db.WithContext(ctx).
		Table("judge_scores AS s").
		Select(`s.judge_id AS judge_id,
			j.entered_name AS judge_name,
			j.email AS judge_email,
			j.name AS judge_username,
			s.submission_id AS submission_id,
			sub.title AS submission_title,
			sub.slug AS submission_slug,
			c.question AS criterion_question,
			c.description AS criterion_description,
			s.score AS score,
			s.comment AS comment,
			sub.hidden AS hidden,
			s.updated_at_s AS scored_at_seconds`).
		Joins("JOIN judges AS j ON j.judge_id = s.judge_id").
		Joins("JOIN judging_submissions AS sub ON sub.submission_id = s.submission_id AND sub.group_id = s.group_id").
		Joins("JOIN judging_criteria AS c ON c.criterion_id = s.criterion_id AND c.deleted_at IS NULL").
		Where("s.group_id = ?", groupID).
		Order("j.name ASC, sub.title ASC, sub.submission_id ASC, c.display_order ASC, c.criterion_id ASC").
		Scan(&rows).Error
	if err != nil {
		e.logger.Error("export query failed",
			zap.String("operation", opRows),
			zap.String("reason", reasonQueryFailed),
			zap.String("group_id", groupID),
			zap.Error(err))
		return nil, serviceerr.New(opRows, reasonQueryFailed, err)
	}

	type key struct{ judgeID, submissionID string }
	totals := make(map[key]int)
	for _, row := range rows {
		totals[key{row.JudgeID, row.SubmissionID}] += row.Score
	}
	for index := range rows {
		rows[index].SubmissionTotal = totals[key{rows[index].JudgeID, rows[index].SubmissionID}]
	}
	return rows, nil
}

// WriteCSV writes a header line followed by one line per row.
func WriteCSV(w io.Writer, rows []Row) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return serviceerr.New(opWriteCSV, reasonWriteFailed, err)
	}
	for _, row := range rows {
		record := []string{
			row.JudgeName,
			row.JudgeEmail,
			row.JudgeUsername,
			row.SubmissionTitle,
			row.SubmissionSlug,
			row.CriterionQuestion,
			row.CriterionDescription,
			strconv.Itoa(row.Score),
			strconv.Itoa(row.SubmissionTotal),
			row.Comment,
			strconv.FormatBool(row.Hidden),
			time.Unix(row.ScoredAtSeconds, 0).UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return serviceerr.New(opWriteCSV, reasonWriteFailed, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return serviceerr.New(opWriteCSV, reasonWriteFailed, err)
	}
	return nil
}
