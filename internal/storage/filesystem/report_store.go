// Package filesystem archives analysis reports as YAML files.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/cookielens/internal/report"
)

// ErrReportNotFound is returned for unknown report ids.
var ErrReportNotFound = errors.New("report not found")

// ReportMeta contains metadata for listing reports.
type ReportMeta struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Sources   []string  `json:"sources"`
	Tabs      int       `json:"tabs"`
	Cookies   int       `json:"cookies"`
	Blocked   int       `json:"blocked"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReportStore manages report persistence to the filesystem.
type ReportStore struct {
	basePath string
}

// NewReportStore creates a new filesystem-based report store.
func NewReportStore(basePath string) (*ReportStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create reports directory: %w", err)
	}

	return &ReportStore{
		basePath: basePath,
	}, nil
}

// Save persists a report to disk, replacing any report with the same id.
func (s *ReportStore) Save(ctx context.Context, r *report.Report) error {
	if r.ID == "" {
		return fmt.Errorf("report has no id")
	}
	content, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(s.reportPath(r.ID), content, 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}

// Get retrieves a report by ID.
func (s *ReportStore) Get(ctx context.Context, id string) (*report.Report, error) {
	r, err := s.loadFromPath(s.reportPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	return r, err
}

// List returns all reports, newest first.
func (s *ReportStore) List(ctx context.Context) ([]ReportMeta, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read reports directory: %w", err)
	}

	var reports []ReportMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		path := filepath.Join(s.basePath, entry.Name())
		r, err := s.loadFromPath(path)
		if err != nil {
			continue // Skip invalid files
		}
		reports = append(reports, metaOf(r, path))
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].CreatedAt.After(reports[j].CreatedAt)
	})
	return reports, nil
}

// Delete removes a report.
func (s *ReportStore) Delete(ctx context.Context, id string) error {
	path := s.reportPath(id)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	return nil
}

// Search finds reports whose sources or tabs match the query.
func (s *ReportStore) Search(ctx context.Context, query string) ([]ReportMeta, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var results []ReportMeta
	for _, meta := range all {
		r, err := s.loadFromPath(meta.Path)
		if err != nil {
			continue
		}
		if r.Matches(query) {
			results = append(results, meta)
		}
	}
	return results, nil
}

// Internal helpers

func (s *ReportStore) reportPath(id string) string {
	return filepath.Join(s.basePath, filepath.Base(id)+".yaml")
}

func (s *ReportStore) loadFromPath(path string) (*report.Report, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}

	var r report.Report
	if err := yaml.Unmarshal(content, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &r, nil
}

func metaOf(r *report.Report, path string) ReportMeta {
	totals := r.Totals()
	return ReportMeta{
		ID:        r.ID,
		Path:      path,
		Sources:   r.Sources,
		Tabs:      len(r.Tabs),
		Cookies:   totals.Total,
		Blocked:   totals.Blocked,
		CreatedAt: r.CreatedAt,
	}
}
