// Package reporting aggregates merged and scored survey data into per-sector tables.
//
// Each adapter returns one row per sector, sectors in ascending order. Rows
// without a sector are left out, as are clients whose row is filtered away.
// Unless stated otherwise a client is counted once, through its first row.
package reporting

import (
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"kycrisk/dataset"
	"kycrisk/export"
	"kycrisk/normalization"
	"kycrisk/survey"
)

// Report column names
const (
	ColTotalClients        = "TOTAL_CLIENTS"
	ColNonLUPct            = "NON_LU_PCT"
	ColRefusals            = "REFUSALS"
	ColRefusalsWithoutDOS  = "REFUSALS_WITHOUT_DOS"
	ColTerminations        = "TERMINATIONS"
	ColCompliant           = "CONFORME"
	ColNonCompliant        = "NON_CONFORME"
	ColCashClients         = "CASH_CLIENTS"
	ColCashPct             = "CASH_PCT"
	ColServiceRevenue      = "SERVICE_REVENUE_CLIENTS"
	ColImmoHighVolume      = "IMMO_HIGH_VOLUME_CLIENTS"
	ColTotalHighRisk       = "TOTAL_HIGH_RISK_CLIENTS"
	ColHighRiskPct         = "HIGH_RISK_PCT"
	ColImmoMin             = "MIN_TRANSACTIONS"
	ColImmoMedian          = "MEDIAN_TRANSACTIONS"
	ColImmoMax             = "MAX_TRANSACTIONS"
	ColImmoThreshold       = "P75_THRESHOLD"
	ColLowRisk             = "LOW"
	ColMediumRisk          = "MEDIUM"
	ColHighRisk            = "HIGH"
	ColLowRiskPct          = "LOW_PCT"
	ColMediumRiskPct       = "MEDIUM_PCT"
	ColHighRiskCategoryPct = "HIGH_PCT"
)

// Report is one output workbook
type Report struct {
	File   string
	Sheets []export.Sheet
}

// MergedColumns are the merged columns the merged-table adapters read
var MergedColumns = []string{
	survey.ColSurveyID,
	survey.ColSector,
	survey.ColRegion,
	survey.ColRefusal,
	survey.ColTermination,
	survey.ColSuspTransSurvey,
	survey.ColClientIDStatus,
	survey.ColBeneficiaryID,
	survey.ColArchiving,
	survey.ColPaymentMethod,
	survey.ColRevenueKind,
	survey.ColTransactions,
}

// Build runs every adapter
func Build(merged *dataset.Table, scored []survey.ScoredRecord) ([]Report, error) {
	region, err := RegionBySector(merged)
	if err != nil {
		return nil, err
	}
	suspect, err := SuspectOperationsBySector(merged)
	if err != nil {
		return nil, err
	}
	identification, err := IdentificationComplianceBySector(merged)
	if err != nil {
		return nil, err
	}
	archiving, err := ArchivingComplianceBySector(merged)
	if err != nil {
		return nil, err
	}
	cash, err := CashTransactionsBySector(merged)
	if err != nil {
		return nil, err
	}
	revenue, immoStats, err := HighRiskRevenueBySector(merged)
	if err != nil {
		return nil, err
	}

	return []Report{
		{File: "region_by_sector.xlsx", Sheets: []export.Sheet{{Name: "by_sector", Table: region}}},
		{File: "suspicious_operations_by_sector.xlsx", Sheets: []export.Sheet{{Name: "by_sector", Table: suspect}}},
		{File: "identification_compliance_by_sector.xlsx", Sheets: []export.Sheet{{Name: "by_sector", Table: identification}}},
		{File: "document_archiving_compliance_by_sector.xlsx", Sheets: []export.Sheet{{Name: "by_sector", Table: archiving}}},
		{File: "cash_transactions_by_sector_summary.xlsx", Sheets: []export.Sheet{{Name: "by_sector", Table: cash}}},
		{File: "high_risk_revenue_complete_summary.xlsx", Sheets: []export.Sheet{
			{Name: "by_sector", Table: revenue},
			{Name: "immo_statistics", Table: immoStats},
		}},
		{File: "risk_assessment_by_sector.xlsx", Sheets: []export.Sheet{{Name: "by_sector", Table: RiskAssessmentBySector(scored)}}},
	}, nil
}

// RegionBySector counts clients per region. A client is NON LU when any of
// its rows is NON LU, otherwise it takes the region of its first row.
// Clients are keyed by SURVEY_ID and sector.
func RegionBySector(merged *dataset.Table) (*dataset.Table, error) {
	if err := merged.RequireColumns(survey.ColSurveyID, survey.ColSector, survey.ColRegion); err != nil {
		return nil, err
	}

	type client struct{ id, sector string }
	region := make(map[client]dataset.Value)
	var order []client
	for i := 0; i < merged.Len(); i++ {
		sector := merged.Get(i, survey.ColSector)
		if sector.IsNull() {
			continue
		}
		c := client{merged.Get(i, survey.ColSurveyID).Key(), sector.Str()}
		r := merged.Get(i, survey.ColRegion)
		current, seen := region[c]
		switch {
		case !seen:
			region[c] = r
			order = append(order, c)
		case r.Is(survey.RegionNonLU) && !current.Is(survey.RegionNonLU):
			region[c] = r
		}
	}

	counts := newCounter()
	regionSet := make(map[string]bool)
	for _, c := range order {
		r := region[c]
		if r.IsNull() {
			continue
		}
		regionSet[r.Str()] = true
		counts.add(c.sector, r.Str())
	}
	regions := sortedKeys(regionSet)

	out := dataset.MustNew(append(append([]string{survey.ColSector}, regions...), ColTotalClients, ColNonLUPct)...)
	for _, sector := range counts.sectors() {
		row := []dataset.Value{dataset.String(sector)}
		total := 0
		for _, r := range regions {
			n := counts.get(sector, r)
			total += n
			row = append(row, count(n))
		}
		row = append(row, count(total), percent(counts.get(sector, survey.RegionNonLU), total))
		_ = out.Append(row...)
	}
	return out, nil
}

// SuspectOperationsBySector counts refusals, refusals without a suspicious
// transaction declaration and terminations
func SuspectOperationsBySector(merged *dataset.Table) (*dataset.Table, error) {
	clients, err := firstRowPerClient(merged, survey.ColRefusal, survey.ColTermination, survey.ColSuspTransSurvey)
	if err != nil {
		return nil, err
	}

	counts := newCounter()
	for i := 0; i < clients.Len(); i++ {
		row := clients.Row(i)
		sector := row.Get(survey.ColSector)
		if sector.IsNull() {
			continue
		}
		counts.touch(sector.Str())
		refusal := normalization.NormalizeFlag(row.Get(survey.ColRefusal)) == survey.FlagYes
		declared := normalization.NormalizeFlag(row.Get(survey.ColSuspTransSurvey)) == survey.FlagYes
		if refusal {
			counts.add(sector.Str(), ColRefusals)
			if !declared {
				counts.add(sector.Str(), ColRefusalsWithoutDOS)
			}
		}
		if normalization.NormalizeFlag(row.Get(survey.ColTermination)) == survey.FlagYes {
			counts.add(sector.Str(), ColTerminations)
		}
	}
	return counts.table(ColRefusals, ColRefusalsWithoutDOS, ColTerminations), nil
}

// IdentificationComplianceBySector counts clients per identification compliance value
func IdentificationComplianceBySector(merged *dataset.Table) (*dataset.Table, error) {
	clients, err := firstRowPerClient(merged, survey.ColClientIDStatus, survey.ColBeneficiaryID)
	if err != nil {
		return nil, err
	}

	counts := newCounter()
	for i := 0; i < clients.Len(); i++ {
		row := clients.Row(i)
		sector := row.Get(survey.ColSector)
		if sector.IsNull() {
			continue
		}
		counts.touch(sector.Str())
		compliance := normalization.IdentificationCompliance(row.Get(survey.ColClientIDStatus), row.Get(survey.ColBeneficiaryID))
		counts.add(sector.Str(), string(compliance))
	}
	return counts.table(
		string(survey.IdentificationAdvanced),
		string(survey.IdentificationSimple),
		string(survey.IdentificationRisk),
		string(survey.IdentificationNA),
	), nil
}

// ArchivingComplianceBySector counts compliant and non-compliant clients
func ArchivingComplianceBySector(merged *dataset.Table) (*dataset.Table, error) {
	clients, err := firstRowPerClient(merged, survey.ColArchiving)
	if err != nil {
		return nil, err
	}

	counts := newCounter()
	for i := 0; i < clients.Len(); i++ {
		row := clients.Row(i)
		sector := row.Get(survey.ColSector)
		if sector.IsNull() {
			continue
		}
		counts.touch(sector.Str())
		if normalization.ArchivingCompliance(row.Get(survey.ColArchiving)) == survey.ArchivingCompliant {
			counts.add(sector.Str(), ColCompliant)
		} else {
			counts.add(sector.Str(), ColNonCompliant)
		}
	}
	return counts.table(ColCompliant, ColNonCompliant), nil
}

// CashTransactionsBySector counts clients paying cash and their share
func CashTransactionsBySector(merged *dataset.Table) (*dataset.Table, error) {
	clients, err := firstRowPerClient(merged, survey.ColPaymentMethod)
	if err != nil {
		return nil, err
	}

	counts := newCounter()
	for i := 0; i < clients.Len(); i++ {
		row := clients.Row(i)
		sector := row.Get(survey.ColSector)
		if sector.IsNull() {
			continue
		}
		counts.add(sector.Str(), ColTotalClients)
		if row.Get(survey.ColPaymentMethod).Is(survey.PaymentCash) {
			counts.add(sector.Str(), ColCashClients)
		}
	}

	out := dataset.MustNew(survey.ColSector, ColTotalClients, ColCashClients, ColCashPct)
	for _, sector := range counts.sectors() {
		total, cash := counts.get(sector, ColTotalClients), counts.get(sector, ColCashClients)
		_ = out.Append(dataset.String(sector), count(total), count(cash), percent(cash, total))
	}
	return out, nil
}

// HighRiskRevenueBySector counts, over all rows, the distinct clients with a
// high-risk service revenue and the real-estate clients whose summed
// transaction count exceeds the 75th percentile of real-estate clients.
// The second table holds the real-estate statistics and is empty when no
// client has real-estate revenue.
func HighRiskRevenueBySector(merged *dataset.Table) (*dataset.Table, *dataset.Table, error) {
	if err := merged.RequireColumns(survey.ColSurveyID, survey.ColSector, survey.ColRevenueKind, survey.ColTransactions); err != nil {
		return nil, nil, err
	}

	immoTotals := make(map[string]float64)
	var immoOrder []string
	for i := 0; i < merged.Len(); i++ {
		if !merged.Get(i, survey.ColRevenueKind).Is(survey.RevenueRealEstate) {
			continue
		}
		id := merged.Get(i, survey.ColSurveyID).Key()
		if _, ok := immoTotals[id]; !ok {
			immoOrder = append(immoOrder, id)
			immoTotals[id] = 0
		}
		if f, ok := merged.Get(i, survey.ColTransactions).Float(); ok {
			immoTotals[id] += f
		}
	}

	stats := dataset.MustNew(ColImmoMin, ColImmoMedian, ColImmoMax, ColImmoThreshold)
	highVolume := make(map[string]bool)
	if len(immoOrder) > 0 {
		values := make([]float64, 0, len(immoOrder))
		for _, id := range immoOrder {
			values = append(values, immoTotals[id])
		}
		sort.Float64s(values)
		threshold := Quantile(values, 0.75)
		for _, id := range immoOrder {
			if immoTotals[id] > threshold {
				highVolume[id] = true
			}
		}
		_ = stats.Append(
			number(values[0]),
			number(Quantile(values, 0.5)),
			number(values[len(values)-1]),
			number(threshold),
		)
	}

	total := newDistinctCounter()
	service := newDistinctCounter()
	immo := newDistinctCounter()
	for i := 0; i < merged.Len(); i++ {
		sector := merged.Get(i, survey.ColSector)
		if sector.IsNull() {
			continue
		}
		id := merged.Get(i, survey.ColSurveyID).Key()
		total.add(sector.Str(), id)
		if merged.Get(i, survey.ColRevenueKind).In(survey.HighRiskRevenueKinds...) {
			service.add(sector.Str(), id)
		}
		if highVolume[id] {
			immo.add(sector.Str(), id)
		}
	}

	out := dataset.MustNew(survey.ColSector, ColTotalClients, ColServiceRevenue, ColImmoHighVolume, ColTotalHighRisk, ColHighRiskPct)
	for _, sector := range sortedKeys(total.sectorSet()) {
		n, s, h := total.get(sector), service.get(sector), immo.get(sector)
		_ = out.Append(dataset.String(sector), count(n), count(s), count(h), count(s+h), percent(s+h, n))
	}
	return out, stats, nil
}

// RiskAssessmentBySector counts clients per risk tier
func RiskAssessmentBySector(scored []survey.ScoredRecord) *dataset.Table {
	counts := newCounter()
	seen := make(map[string]bool, len(scored))
	for _, r := range scored {
		key := r.SurveyID.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		if r.Sector.IsNull() {
			continue
		}
		counts.add(r.Sector.Str(), string(r.RiskCategory))
	}

	out := dataset.MustNew(survey.ColSector, ColLowRisk, ColMediumRisk, ColHighRisk, ColLowRiskPct, ColMediumRiskPct, ColHighRiskCategoryPct)
	for _, sector := range counts.sectors() {
		low := counts.get(sector, string(survey.RiskLow))
		medium := counts.get(sector, string(survey.RiskMedium))
		high := counts.get(sector, string(survey.RiskHigh))
		total := low + medium + high
		_ = out.Append(dataset.String(sector),
			count(low), count(medium), count(high),
			percent(low, total), percent(medium, total), percent(high, total),
		)
	}
	return out
}

// Quantile interpolates linearly between the closest ranks of sorted values
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func firstRowPerClient(merged *dataset.Table, cols ...string) (*dataset.Table, error) {
	if err := merged.RequireColumns(append([]string{survey.ColSurveyID, survey.ColSector}, cols...)...); err != nil {
		return nil, err
	}
	return merged.DistinctBy(survey.ColSurveyID)
}

func count(n int) dataset.Value {
	return dataset.String(strconv.Itoa(n))
}

func number(f float64) dataset.Value {
	return survey.FormatNumber(&f)
}

// percent renders part/total*100 rounded to one decimal; an empty total gives 0
func percent(part, total int) dataset.Value {
	if total == 0 {
		return dataset.String(decimal.Zero.String())
	}
	pct := decimal.NewFromInt(int64(part)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total)))
	return dataset.String(pct.Round(1).String())
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
