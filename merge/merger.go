// Package merge combines the five survey extracts into one table keyed by SURVEY_ID.
package merge

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"kycrisk/dataset"
	"kycrisk/importer"
	"kycrisk/internal/config"
	apperrors "kycrisk/internal/errors"
	"kycrisk/internal/logging"
	"kycrisk/survey"
)

// DefaultDuplicateSuffix marks right-hand columns that collide with a left column
const DefaultDuplicateSuffix = "_dup"

// Sources holds the loaded extracts
type Sources struct {
	Master        *dataset.Table
	Questionnaire *dataset.Table
	Payment       *dataset.Table
	Revenue       *dataset.Table
	SoftCheck     *dataset.Table
}

func (s Sources) named() []namedTable {
	return []namedTable{
		{"master", s.Master},
		{"questionnaire", s.Questionnaire},
		{"payment", s.Payment},
		{"revenue", s.Revenue},
		{"soft_check", s.SoftCheck},
	}
}

type namedTable struct {
	name  string
	table *dataset.Table
}

// Merger left-joins the extracts onto the master extract
type Merger struct {
	suffix string
	logger *zap.Logger
}

// NewMerger creates a merger. An empty suffix means DefaultDuplicateSuffix.
func NewMerger(suffix string, logger *zap.Logger) *Merger {
	if suffix == "" {
		suffix = DefaultDuplicateSuffix
	}
	return &Merger{suffix: suffix, logger: logging.OrNop(logger)}
}

// MergeFiles loads the configured extracts from dir and merges them
func (m *Merger) MergeFiles(ctx context.Context, dir string, files config.SourceFiles) (*dataset.Table, error) {
	loaded := make(map[string]*dataset.Table, 5)
	for _, src := range files.Named() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, src.File)
		t, err := importer.ReadTable(path)
		if err != nil {
			return nil, fmt.Errorf("%s extract: %w", src.Name, err)
		}
		m.logger.Debug("extract loaded",
			zap.String("source", src.Name),
			zap.String("file", path),
			zap.Int("rows", t.Len()),
			zap.Int("columns", len(t.Columns())),
		)
		loaded[src.Name] = t
	}

	return m.Merge(ctx, Sources{
		Master:        loaded["master"],
		Questionnaire: loaded["questionnaire"],
		Payment:       loaded["payment"],
		Revenue:       loaded["revenue"],
		SoftCheck:     loaded["soft_check"],
	})
}

// Merge joins questionnaire, payment, revenue and soft_check onto master, in
// that order, and removes every column carrying the duplicate suffix.
// The questionnaire's YEAR_OF_SUBMISSION is dropped; master carries it.
func (m *Merger) Merge(ctx context.Context, src Sources) (*dataset.Table, error) {
	sources := src.named()
	for _, s := range sources {
		if s.table == nil {
			return nil, apperrors.NewSourceUnavailableError(
				fmt.Sprintf("%s extract was not loaded", s.name), nil,
			).WithContext(s.name)
		}
		if !s.table.HasColumn(survey.ColSurveyID) {
			return nil, apperrors.NewMissingKeyError(
				fmt.Sprintf("%s extract has no %s column", s.name, survey.ColSurveyID), nil,
			).WithContext(s.name)
		}
	}

	quest := src.Questionnaire.DropColumns(survey.ColYearOfSubmission)

	merged := src.Master
	rights := append([]namedTable{{"questionnaire", quest}}, sources[2:]...)
	for _, right := range rights {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		before := merged.Len()
		joined, err := merged.LeftJoin(right.table, survey.ColSurveyID, m.suffix)
		if err != nil {
			return nil, fmt.Errorf("join %s: %w", right.name, err)
		}
		// Dropping after every join keeps a second collision on the same
		// column from producing the suffixed name twice.
		joined, dropped := joined.DropColumnsWithSuffix(m.suffix)
		if len(dropped) > 0 {
			m.logger.Debug("duplicate columns removed",
				zap.String("source", right.name),
				zap.Strings("columns", dropped),
			)
		}
		if joined.Len() > before {
			m.logger.Warn("join multiplied rows; extract is not one row per survey",
				zap.String("source", right.name),
				zap.Int("rows_before", before),
				zap.Int("rows_after", joined.Len()),
			)
		}
		merged = joined
	}

	m.logger.Info("extracts merged",
		zap.Int("rows", merged.Len()),
		zap.Int("columns", len(merged.Columns())),
	)
	return merged, nil
}
