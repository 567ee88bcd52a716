package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	latestScanName    = "latest.json"
	latestVerifyName  = "latest-verified.json"
	historyTimeLayout = "20060102-150405"
)

// ErrNoReport indicates no report of the requested kind exists yet.
var ErrNoReport = errors.New("no report found")

// Store persists reports under a data directory.
type Store struct {
	dir string
}

// NewStore creates a report store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// SaveScan writes the report to a timestamped history file and mirrors it
// to the latest pointer. Returns the history path.
func (s *Store) SaveScan(r *ScanReport) (string, error) {
	name := fmt.Sprintf("scan-%s.json", r.GeneratedAt.UTC().Format(historyTimeLayout))
	historyPath := filepath.Join(s.dir, name)

	if err := s.write(historyPath, r); err != nil {
		return "", err
	}
	if err := s.write(filepath.Join(s.dir, latestScanName), r); err != nil {
		return "", err
	}
	return historyPath, nil
}

// SaveVerify writes the report to a timestamped history file and mirrors
// it to the latest-verified pointer. Returns the history path.
func (s *Store) SaveVerify(r *VerifyReport) (string, error) {
	name := fmt.Sprintf("verify-%s.json", r.GeneratedAt.UTC().Format(historyTimeLayout))
	historyPath := filepath.Join(s.dir, name)

	if err := s.write(historyPath, r); err != nil {
		return "", err
	}
	if err := s.write(filepath.Join(s.dir, latestVerifyName), r); err != nil {
		return "", err
	}
	return historyPath, nil
}

// LatestScan loads the latest scan report.
func (s *Store) LatestScan() (*ScanReport, error) {
	return s.LoadScan(filepath.Join(s.dir, latestScanName))
}

// LoadScan loads a scan report from an explicit path.
func (s *Store) LoadScan(path string) (*ScanReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoReport
		}
		return nil, fmt.Errorf("reading scan report: %w", err)
	}
	var r ScanReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing scan report %s: %w", path, err)
	}
	return &r, nil
}

// LatestVerify loads the latest verification report.
func (s *Store) LatestVerify() (*VerifyReport, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, latestVerifyName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoReport
		}
		return nil, fmt.Errorf("reading verify report: %w", err)
	}
	var r VerifyReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing verify report: %w", err)
	}
	return &r, nil
}

// write marshals and writes atomically (tmp file, then rename).
func (s *Store) write(path string, v any) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming report: %w", err)
	}
	return nil
}
