package survey

import (
	"fmt"
	"strconv"

	"kycrisk/dataset"
	apperrors "kycrisk/internal/errors"
)

// NormalizedRecord is one merged row reduced to the fields the scorer reads
type NormalizedRecord struct {
	SurveyID                 dataset.Value
	Sector                   dataset.Value
	RegionRisk               string
	Refusal                  string
	Termination              string
	IdentificationCompliance IdentificationCompliance
	ArchivingCompliance      string
	PaymentMethod            dataset.Value
	RevenueKind              dataset.Value
	Transactions             *float64
}

// ScoredRecord is a NormalizedRecord with its score and tier
type ScoredRecord struct {
	NormalizedRecord
	RiskScore    int
	RiskCategory RiskCategory
	// Signals names the rules that fired, in rule order. Not stored in snapshots.
	Signals []string
}

func (r NormalizedRecord) cells() []dataset.Value {
	return []dataset.Value{
		r.SurveyID,
		r.Sector,
		dataset.String(r.RegionRisk),
		dataset.String(r.Refusal),
		dataset.String(r.Termination),
		dataset.String(string(r.IdentificationCompliance)),
		dataset.String(r.ArchivingCompliance),
		r.PaymentMethod,
		r.RevenueKind,
		FormatNumber(r.Transactions),
	}
}

// NormalizedTable renders records in the canonical column order
func NormalizedTable(records []NormalizedRecord) *dataset.Table {
	t := dataset.MustNew(NormalizedColumns...)
	for _, r := range records {
		_ = t.Append(r.cells()...)
	}
	return t
}

// ScoredTable renders scored records in the canonical column order
func ScoredTable(records []ScoredRecord) *dataset.Table {
	t := dataset.MustNew(ScoredColumns...)
	for _, r := range records {
		row := append(r.NormalizedRecord.cells(),
			dataset.String(strconv.Itoa(r.RiskScore)),
			dataset.String(string(r.RiskCategory)),
		)
		_ = t.Append(row...)
	}
	return t
}

// NormalizedFromTable reads a normalized snapshot back into records
func NormalizedFromTable(t *dataset.Table) ([]NormalizedRecord, error) {
	if err := t.RequireColumns(NormalizedColumns...); err != nil {
		return nil, err
	}
	out := make([]NormalizedRecord, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		rec, err := normalizedFromRow(t.Row(i))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ScoredFromTable reads a scored snapshot back into records
func ScoredFromTable(t *dataset.Table) ([]ScoredRecord, error) {
	if err := t.RequireColumns(ScoredColumns...); err != nil {
		return nil, err
	}
	out := make([]ScoredRecord, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		row := t.Row(i)
		rec, err := normalizedFromRow(row)
		if err != nil {
			return nil, err
		}
		score, err := strconv.Atoi(row.Get(ColRiskScore).Str())
		if err != nil {
			f, ok := row.Get(ColRiskScore).Float()
			if !ok {
				return nil, apperrors.NewSchemaMismatchError(
					fmt.Sprintf("row %d: %s is not a number", i+1, ColRiskScore), err,
				).WithContext(ColRiskScore)
			}
			score = int(f)
		}
		out = append(out, ScoredRecord{
			NormalizedRecord: rec,
			RiskScore:        score,
			RiskCategory:     RiskCategory(row.Get(ColRiskCategory).Str()),
		})
	}
	return out, nil
}

func normalizedFromRow(row dataset.Row) (NormalizedRecord, error) {
	rec := NormalizedRecord{
		SurveyID:                 row.Get(ColSurveyID),
		Sector:                   row.Get(ColSector),
		RegionRisk:               row.Get(ColRegionRisk).Str(),
		Refusal:                  row.Get(ColRefusal).Str(),
		Termination:              row.Get(ColTermination).Str(),
		IdentificationCompliance: IdentificationCompliance(row.Get(ColIdentificationCompliance).Str()),
		ArchivingCompliance:      row.Get(ColArchivingCompliance).Str(),
		PaymentMethod:            row.Get(ColPaymentMethod),
		RevenueKind:              row.Get(ColRevenueKind),
	}
	tx := row.Get(ColTransactions)
	if !tx.IsNull() {
		f, ok := tx.Float()
		if !ok {
			return rec, apperrors.NewSchemaMismatchError(
				fmt.Sprintf("row %d: %s %q is not a number", row.Index()+1, ColTransactions, tx.Str()), nil,
			).WithContext(ColTransactions)
		}
		rec.Transactions = &f
	}
	return rec, nil
}

// FormatNumber renders a nullable number without trailing zeros
func FormatNumber(f *float64) dataset.Value {
	if f == nil {
		return dataset.Null
	}
	return dataset.String(strconv.FormatFloat(*f, 'f', -1, 64))
}
