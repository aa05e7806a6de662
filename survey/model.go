// Package survey defines the client due-diligence survey model: source column
// names, derived codes and the normalized and scored record types.
package survey

// Source column names as they appear in the extracts
const (
	ColSurveyID         = "SURVEY_ID"
	ColSector           = "SECTOR"
	ColRegion           = "REGION"
	ColRefusal          = "BU_REL_REFUSAL"
	ColTermination      = "BU_REL_TERM"
	ColSuspTransSurvey  = "SUSP_TRANS_SURVEY"
	ColClientIDStatus   = "CLIENT_ID_STATUS"
	ColBeneficiaryID    = "BENIFICIARY_ID_STATUS"
	ColArchiving        = "DOCUMENT_ARCHIVING"
	ColPaymentMethod    = "PAYMENT_METHOD"
	ColRevenueKind      = "REVENUE_KIND"
	ColTransactions     = "NB_TRANSACTIONS"
	ColYearOfSubmission = "YEAR_OF_SUBMISSION"
)

// Derived column names
const (
	ColRegionRisk               = "REGION_RISK"
	ColIdentificationCompliance = "IDENTIFICATION_COMPLIANCE"
	ColArchivingCompliance      = "ARCHIVING_COMPLIANCE"
	ColRiskScore                = "RISK_SCORE"
	ColRiskCategory             = "RISK_CATEGORY"
)

// NormalizedColumns is the canonical column order of the normalized snapshot
var NormalizedColumns = []string{
	ColSurveyID,
	ColSector,
	ColRegionRisk,
	ColRefusal,
	ColTermination,
	ColIdentificationCompliance,
	ColArchivingCompliance,
	ColPaymentMethod,
	ColRevenueKind,
	ColTransactions,
}

// ScoredColumns is NormalizedColumns followed by the score and its tier
var ScoredColumns = append(append([]string{}, NormalizedColumns...), ColRiskScore, ColRiskCategory)

// Raw and derived codes
const (
	FlagRaw = "X"
	FlagYes = "Y"
	FlagNo  = "N"

	RegionNonLU = "NON LU"
	RegionLU    = "LU"

	IDStatusAdvanced = "AVANCEE"
	IDStatusSimple   = "SIMPLE"

	ArchivingCompliant    = "Conforme"
	ArchivingNonCompliant = "Non Conforme"

	PaymentCash = "CASH"

	RevenueRealEstate = "IMMO_ACHAT_VENT"
)

// ArchivingCompliantStatuses are the DOCUMENT_ARCHIVING values meeting the retention requirement
var ArchivingCompliantStatuses = []string{"5A", "5A+"}

// HighRiskRevenueKinds are the revenue kinds that add a point to the score
var HighRiskRevenueKinds = []string{"SERV_CREATION_S", "SERV_FONCTION", "SERV_VIRTUEL"}

// IdentificationCompliance classifies how the client and beneficiary were identified
type IdentificationCompliance string

const (
	IdentificationAdvanced IdentificationCompliance = "AVANCEE"
	IdentificationSimple   IdentificationCompliance = "SIMPLE"
	IdentificationRisk     IdentificationCompliance = "RISK"
	IdentificationNA       IdentificationCompliance = "NA"
)

// RiskCategory is the tier a score falls into
type RiskCategory string

const (
	RiskLow     RiskCategory = "Low"
	RiskMedium  RiskCategory = "Medium"
	RiskHigh    RiskCategory = "High"
	RiskUnknown RiskCategory = "Unknown"
)

// RiskCategories lists the reachable tiers in ascending order
var RiskCategories = []RiskCategory{RiskLow, RiskMedium, RiskHigh}
