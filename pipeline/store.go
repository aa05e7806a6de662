package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kycrisk/dataset"
	"kycrisk/export"
	"kycrisk/importer"
	"kycrisk/internal/config"
	"kycrisk/reporting"
	"kycrisk/scoring"
	"kycrisk/survey"
)

// Artifact file names
const (
	MergedFile     = "merged_data.xlsx"
	NormalizedFile = "risk_analysis_processed_data.xlsx"
	ScoredFile     = "risk_analysis_scores.xlsx"
	WatchlistBase  = "all_high_risk_clients"
	TablesDir      = "tables"
)

// ColSignals lists the fired rules in the watchlist export
const ColSignals = "SIGNALS"

// FileStore knows where every artifact lives and how it is encoded.
// Directories are created on first write.
type FileStore struct {
	processedDir    string
	outputDir       string
	watchlistFormat export.Format
}

// NewFileStore builds the store for a configuration
func NewFileStore(cfg *config.Config) (*FileStore, error) {
	format, err := export.ParseFormat(cfg.WatchlistFormat)
	if err != nil {
		return nil, err
	}
	return &FileStore{
		processedDir:    cfg.ProcessedDataDir,
		outputDir:       cfg.OutputDir,
		watchlistFormat: format,
	}, nil
}

func (s *FileStore) MergedPath() string     { return filepath.Join(s.processedDir, MergedFile) }
func (s *FileStore) NormalizedPath() string { return filepath.Join(s.processedDir, NormalizedFile) }
func (s *FileStore) ScoredPath() string     { return filepath.Join(s.processedDir, ScoredFile) }
func (s *FileStore) TablesPath() string     { return filepath.Join(s.outputDir, TablesDir) }

// WatchlistPath carries the configured format as extension
func (s *FileStore) WatchlistPath() string {
	return filepath.Join(s.TablesPath(), WatchlistBase+"."+string(s.watchlistFormat))
}

// ReportPath places a report workbook under the tables directory
func (s *FileStore) ReportPath(file string) string {
	return filepath.Join(s.TablesPath(), file)
}

// ProcessedArtifacts lists the cache files in the order they are produced
func (s *FileStore) ProcessedArtifacts() []string {
	return []string{s.MergedPath(), s.NormalizedPath(), s.ScoredPath()}
}

// Exists reports whether an artifact is present
func (s *FileStore) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (s *FileStore) SaveMerged(t *dataset.Table) error {
	return export.Write(s.MergedPath(), t)
}

func (s *FileStore) LoadMerged() (*dataset.Table, error) {
	return importer.ReadTable(s.MergedPath())
}

func (s *FileStore) SaveNormalized(records []survey.NormalizedRecord) error {
	return export.Write(s.NormalizedPath(), survey.NormalizedTable(records))
}

func (s *FileStore) LoadNormalized() ([]survey.NormalizedRecord, error) {
	t, err := importer.ReadTable(s.NormalizedPath())
	if err != nil {
		return nil, err
	}
	return survey.NormalizedFromTable(t)
}

func (s *FileStore) SaveScored(records []survey.ScoredRecord) error {
	return export.Write(s.ScoredPath(), survey.ScoredTable(records))
}

// LoadScored reads the scored snapshot. The file has no signals column, so the
// fired rules are recomputed from the normalized fields.
func (s *FileStore) LoadScored() ([]survey.ScoredRecord, error) {
	t, err := importer.ReadTable(s.ScoredPath())
	if err != nil {
		return nil, err
	}
	records, err := survey.ScoredFromTable(t)
	if err != nil {
		return nil, err
	}
	for i := range records {
		_, records[i].Signals = scoring.Evaluate(records[i].NormalizedRecord)
	}
	return records, nil
}

// SaveWatchlist writes the watchlist with an extra SIGNALS column
func (s *FileStore) SaveWatchlist(clients []survey.ScoredRecord) error {
	return export.Write(s.WatchlistPath(), WatchlistTable(clients))
}

// SaveReport writes one report workbook
func (s *FileStore) SaveReport(r reporting.Report) error {
	return export.WriteExcel(s.ReportPath(r.File), r.Sheets...)
}

// Clear removes the processed artifacts and returns the ones that existed
func (s *FileStore) Clear() ([]string, error) {
	var removed []string
	var errs []error
	for _, path := range s.ProcessedArtifacts() {
		err := os.Remove(path)
		switch {
		case err == nil:
			removed = append(removed, path)
		case errors.Is(err, os.ErrNotExist):
		default:
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
	}
	return removed, errors.Join(errs...)
}

// WatchlistTable renders scored clients with the names of the rules that fired
func WatchlistTable(clients []survey.ScoredRecord) *dataset.Table {
	base := survey.ScoredTable(clients)
	out := dataset.MustNew(append(base.Columns(), ColSignals)...)
	for i, c := range clients {
		cells := base.Row(i).Values()
		signals := dataset.Null
		if len(c.Signals) > 0 {
			signals = dataset.String(strings.Join(c.Signals, ", "))
		}
		_ = out.Append(append(cells, signals)...)
	}
	return out
}
