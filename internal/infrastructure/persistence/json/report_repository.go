package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/khanhnv2901/poc-cli/internal/domain/execution"
	"github.com/khanhnv2901/poc-cli/internal/domain/poc"
	"github.com/khanhnv2901/poc-cli/internal/domain/run"
	"github.com/khanhnv2901/poc-cli/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
	"github.com/khanhnv2901/poc-cli/internal/shared/security"
)

const reportFileName = "report.json"

// reportDTO is the data transfer object for JSON serialization
type reportDTO struct {
	ID         string            `json:"id"`
	Mode       string            `json:"mode"`
	StartedAt  string            `json:"started_at"`
	FinishedAt string            `json:"finished_at,omitempty"`
	Cancelled  bool              `json:"cancelled"`
	Modules    []string          `json:"modules"`
	Targets    []string          `json:"targets"`
	Units      []unitDTO         `json:"units"`
	Summary    execution.Summary `json:"summary"`
	Unloaded   []unloadedDTO     `json:"unloaded,omitempty"`
}

type unitDTO struct {
	Index      int     `json:"index"`
	Module     string  `json:"module"`
	ModuleName string  `json:"module_name,omitempty"`
	Target     string  `json:"target"`
	Status     string  `json:"status"`
	StartedAt  string  `json:"started_at,omitempty"`
	FinishedAt string  `json:"finished_at,omitempty"`
	DurationMS float64 `json:"duration_ms"`
	Reason     string  `json:"reason,omitempty"`
	Evidence   any     `json:"evidence,omitempty"`
}

type unloadedDTO struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ReportRepository implements the execution.Repository interface using JSON file storage.
// Each report lives in <reportsDir>/<id>/report.json.
type ReportRepository struct {
	reportsDir string
	mu         sync.RWMutex
}

// NewReportRepository creates a new JSON-based report repository
func NewReportRepository(reportsDir string) (*ReportRepository, error) {
	if reportsDir == "" {
		return nil, fmt.Errorf("reports directory cannot be empty")
	}

	if err := os.MkdirAll(reportsDir, constants.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create reports directory: %w", err)
	}

	return &ReportRepository{reportsDir: reportsDir}, nil
}

// Save persists a report, replacing any earlier copy with the same ID
func (r *ReportRepository) Save(ctx context.Context, report *execution.Report) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: report id", sharedErrors.ErrMissingRequired)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dir, err := security.ResolveWithin(r.reportsDir, report.ID)
	if err != nil {
		return fmt.Errorf("invalid report id %q: %w", report.ID, err)
	}
	if err := os.MkdirAll(dir, constants.DefaultDirPerm); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	return writeReport(filepath.Join(dir, reportFileName), report)
}

// FindByID retrieves a report by its run ID
func (r *ReportRepository) FindByID(ctx context.Context, id string) (*execution.Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	path, err := security.ResolveWithin(r.reportsDir, id, reportFileName)
	if err != nil {
		return nil, sharedErrors.ErrReportNotFound
	}

	report, err := ReadReport(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, sharedErrors.ErrReportNotFound
	}
	return report, err
}

// FindAll retrieves all reports, newest first. Unreadable entries are skipped.
func (r *ReportRepository) FindAll(ctx context.Context) ([]*execution.Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(r.reportsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read reports directory: %w", err)
	}

	reports := make([]*execution.Report, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		report, err := ReadReport(filepath.Join(r.reportsDir, entry.Name(), reportFileName))
		if err != nil {
			continue
		}
		reports = append(reports, report)
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].StartedAt.After(reports[j].StartedAt)
	})
	return reports, nil
}

// Delete removes a report by its run ID
func (r *ReportRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	base, _ := filepath.Abs(r.reportsDir)
	dir, err := security.ResolveWithin(r.reportsDir, id)
	if err != nil || dir == base {
		return sharedErrors.ErrReportNotFound
	}
	if _, err := os.Stat(filepath.Join(dir, reportFileName)); err != nil {
		return sharedErrors.ErrReportNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	return nil
}

// WriteReport writes report as indented JSON to an arbitrary path, creating
// parent directories.
func WriteReport(path string, report *execution.Report) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, constants.DefaultDirPerm); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	return writeReport(path, report)
}

// ReadReport loads a report written by WriteReport or Save.
func ReadReport(path string) (*execution.Report, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- callers resolve path inside the reports directory or take it from the operator.
	if err != nil {
		return nil, err
	}

	var dto reportDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("%w: %v", sharedErrors.ErrDeserializationFailed, err)
	}
	return fromDTO(dto)
}

func writeReport(path string, report *execution.Report) error {
	data, err := json.MarshalIndent(toDTO(report), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", sharedErrors.ErrSerializationFailed, err)
	}

	// Readers never observe a partially written report.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, constants.DefaultFilePerm); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// Helper methods

func toDTO(report *execution.Report) reportDTO {
	dto := reportDTO{
		ID:        report.ID,
		Mode:      report.Mode.String(),
		StartedAt: formatTime(report.StartedAt),
		Cancelled: report.Cancelled,
		Modules:   report.Modules,
		Targets:   report.Targets,
		Units:     make([]unitDTO, 0, len(report.Units)),
		Summary:   report.Summary,
	}
	dto.FinishedAt = formatTime(report.FinishedAt)

	for _, u := range report.Units {
		dto.Units = append(dto.Units, unitDTO{
			Index:      u.Index,
			Module:     u.ModuleID,
			ModuleName: u.ModuleName,
			Target:     u.Target,
			Status:     string(u.Status),
			StartedAt:  formatTime(u.StartedAt),
			FinishedAt: formatTime(u.FinishedAt),
			DurationMS: float64(u.Duration) / float64(time.Millisecond),
			Reason:     u.Reason,
			Evidence:   u.Evidence,
		})
	}
	for _, u := range report.Unloaded {
		dto.Unloaded = append(dto.Unloaded, unloadedDTO{Path: u.Path, Reason: u.Reason})
	}
	return dto
}

func fromDTO(dto reportDTO) (*execution.Report, error) {
	mode, err := run.ParseMode(dto.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sharedErrors.ErrDeserializationFailed, err)
	}
	startedAt, err := parseTime(dto.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started at time: %w", err)
	}
	finishedAt, err := parseTime(dto.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse finished at time: %w", err)
	}

	report := &execution.Report{
		ID:         dto.ID,
		Mode:       mode,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Cancelled:  dto.Cancelled,
		Modules:    dto.Modules,
		Targets:    dto.Targets,
		Units:      make([]execution.Outcome, 0, len(dto.Units)),
		Summary:    dto.Summary,
	}

	for _, u := range dto.Units {
		started, err := parseTime(u.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("unit %d: %w", u.Index, err)
		}
		finished, err := parseTime(u.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("unit %d: %w", u.Index, err)
		}
		report.Units = append(report.Units, execution.Outcome{
			Index:      u.Index,
			ModuleID:   u.Module,
			ModuleName: u.ModuleName,
			Target:     u.Target,
			Status:     execution.Status(u.Status),
			StartedAt:  started,
			FinishedAt: finished,
			Duration:   time.Duration(u.DurationMS * float64(time.Millisecond)),
			Reason:     u.Reason,
			Evidence:   u.Evidence,
		})
	}
	for _, u := range dto.Unloaded {
		report.Unloaded = append(report.Unloaded, poc.Unloaded{Path: u.Path, Reason: u.Reason})
	}
	return report, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
