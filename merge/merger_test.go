package merge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycrisk/dataset"
	"kycrisk/internal/config"
	apperrors "kycrisk/internal/errors"
	"kycrisk/internal/surveytest"
	"kycrisk/survey"
)

func sourcesOf(e surveytest.Extracts) Sources {
	return Sources{
		Master:        e.Master,
		Questionnaire: e.Questionnaire,
		Payment:       e.Payment,
		Revenue:       e.Revenue,
		SoftCheck:     e.SoftCheck,
	}
}

func TestMerge_OneRowPerSurvey(t *testing.T) {
	e := surveytest.Build(surveytest.HighRiskClient("1"), surveytest.SafeClient("2"))

	merged, err := NewMerger("", nil).Merge(context.Background(), sourcesOf(e))
	require.NoError(t, err)

	assert.Equal(t, 2, merged.Len())
	assert.Equal(t, []string{
		survey.ColSurveyID, survey.ColYearOfSubmission, survey.ColSector,
		survey.ColRefusal, survey.ColTermination, survey.ColSuspTransSurvey,
		survey.ColClientIDStatus, survey.ColBeneficiaryID, survey.ColArchiving,
		survey.ColPaymentMethod,
		survey.ColRevenueKind, survey.ColTransactions,
		survey.ColRegion,
	}, merged.Columns())
	assert.Equal(t, "NON LU", merged.Get(0, survey.ColRegion).Str())
	assert.Equal(t, "VIREMENT", merged.Get(1, survey.ColPaymentMethod).Str())
}

func TestMerge_DuplicateColumnsKeepPrimary(t *testing.T) {
	e := surveytest.Build(surveytest.SafeClient("1"))
	payment := dataset.MustNew(survey.ColSurveyID, survey.ColSector, survey.ColPaymentMethod)
	require.NoError(t, payment.Append(dataset.String("1"), dataset.String("ECO"), dataset.String("CASH")))
	revenue := dataset.MustNew(survey.ColSurveyID, survey.ColSector, survey.ColRevenueKind)
	require.NoError(t, revenue.Append(dataset.String("1"), dataset.String("IMMO"), dataset.String("SALAIRE")))
	e.Payment = payment
	e.Revenue = revenue

	merged, err := NewMerger("_dup", nil).Merge(context.Background(), sourcesOf(e))
	require.NoError(t, err)

	assert.Equal(t, "SERVICE", merged.Get(0, survey.ColSector).Str())
	for _, col := range merged.Columns() {
		assert.NotContains(t, col, "_dup")
	}
}

func TestMerge_EmptyPaymentExtractKeepsRows(t *testing.T) {
	e := surveytest.Build(surveytest.HighRiskClient("1"), surveytest.SafeClient("2"))
	e.Payment = dataset.MustNew(surveytest.PaymentColumns...)

	merged, err := NewMerger("", nil).Merge(context.Background(), sourcesOf(e))
	require.NoError(t, err)

	require.Equal(t, 2, merged.Len())
	assert.True(t, merged.Get(0, survey.ColPaymentMethod).IsNull())
	assert.True(t, merged.Get(1, survey.ColPaymentMethod).IsNull())
}

func TestMerge_QuestionnaireWithoutYearIsNoOp(t *testing.T) {
	e := surveytest.Build(surveytest.SafeClient("1"))
	quest := e.Questionnaire.DropColumns(survey.ColYearOfSubmission)
	e.Questionnaire = quest

	merged, err := NewMerger("", nil).Merge(context.Background(), sourcesOf(e))
	require.NoError(t, err)
	assert.Equal(t, "2023", merged.Get(0, survey.ColYearOfSubmission).Str())
}

func TestMerge_OneToManyMultipliesRows(t *testing.T) {
	e := surveytest.Build(surveytest.SafeClient("1"), surveytest.SafeClient("2"))
	require.NoError(t, e.SoftCheck.Append(dataset.String("1"), dataset.String("NON LU")))

	merged, err := NewMerger("", nil).Merge(context.Background(), sourcesOf(e))
	require.NoError(t, err)

	require.Equal(t, 3, merged.Len())
	assert.Equal(t, "1", merged.Get(0, survey.ColSurveyID).Str())
	assert.Equal(t, "LU", merged.Get(0, survey.ColRegion).Str())
	assert.Equal(t, "1", merged.Get(1, survey.ColSurveyID).Str())
	assert.Equal(t, "NON LU", merged.Get(1, survey.ColRegion).Str())
	assert.Equal(t, "2", merged.Get(2, survey.ColSurveyID).Str())
}

func TestMerge_MissingKey(t *testing.T) {
	e := surveytest.Build(surveytest.SafeClient("1"))
	e.Revenue = e.Revenue.DropColumns(survey.ColSurveyID)

	_, err := NewMerger("", nil).Merge(context.Background(), sourcesOf(e))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrMissingKey)
	assert.Contains(t, err.Error(), "revenue")
}

func TestMerge_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMerger("", nil).Merge(ctx, sourcesOf(surveytest.Build(surveytest.SafeClient("1"))))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMergeFiles(t *testing.T) {
	dir := t.TempDir()
	files := config.GetDefaults().Sources
	require.NoError(t, surveytest.Build(surveytest.HighRiskClient("1")).Write(dir, files))

	merged, err := NewMerger("", nil).MergeFiles(context.Background(), dir, files)
	require.NoError(t, err)
	require.Equal(t, 1, merged.Len())
	assert.Equal(t, "70", merged.Get(0, survey.ColTransactions).Str())
	assert.Equal(t, "X", merged.Get(0, survey.ColRefusal).Str())
	assert.True(t, merged.Get(0, survey.ColTermination).IsNull())
}

func TestMergeFiles_MissingExtract(t *testing.T) {
	dir := t.TempDir()
	files := config.GetDefaults().Sources
	require.NoError(t, surveytest.Build(surveytest.SafeClient("1")).Write(dir, files))
	files.SoftCheck = "absent.xlsx"

	_, err := NewMerger("", nil).MergeFiles(context.Background(), dir, files)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "absent.xlsx")
	assert.Equal(t, filepath.Join(dir, "absent.xlsx"), contextOf(err))
}

func contextOf(err error) string {
	var pe *apperrors.PipelineError
	if errors.As(err, &pe) {
		return pe.Context
	}
	return ""
}
