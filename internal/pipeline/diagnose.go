package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dharsanguruparan/CatalogImport/internal/heartbeat"
	"github.com/dharsanguruparan/CatalogImport/internal/model"
	"github.com/dharsanguruparan/CatalogImport/internal/queue"
)

// Report is the outcome of a diagnosis.
type Report struct {
	Success         bool     `json:"success"`
	Diagnosis       []string `json:"diagnosis"`
	FixesApplied    []string `json:"fixes_applied"`
	RemainingIssues []string `json:"remaining_issues"`
	Recommendations []string `json:"recommendations"`
}

func newReport() Report {
	return Report{
		Diagnosis:       []string{},
		FixesApplied:    []string{},
		RemainingIssues: []string{},
		Recommendations: []string{},
	}
}

// ImportDatabase is the part of the import database diagnosis touches.
type ImportDatabase interface {
	Ping(ctx context.Context) error
	CountRows(ctx context.Context, table string) (exists bool, rows int64, err error)
	DropTable(ctx context.Context, table string) error
}

// ResultStore reads and repairs import results.
type ResultStore interface {
	GetResult(ctx context.Context, id string) (*model.ImportResult, error)
	UpdateResult(ctx context.Context, result *model.ImportResult) error
}

// Formats reports which file extensions can be extracted.
type Formats interface {
	Supports(name string) bool
	Extensions() []string
}

// InterruptedMessage is set on results that were stuck importing.
const InterruptedMessage = "Import was interrupted and reset"

// Diagnoser checks why an import failed or stalled and applies a fixed set
// of repairs.
type Diagnoser struct {
	queue     *queue.Service
	catalog   Catalog
	files     FileResolver
	db        ImportDatabase
	results   ResultStore
	formats   Formats
	tables    func(*model.ImportRequest) string
	heartbeat heartbeat.Monitor
	logger    *slog.Logger
}

// DiagnoserDeps lists the collaborators of a Diagnoser. Heartbeat is
// optional; without it a processing entry is always considered stuck.
type DiagnoserDeps struct {
	Queue     *queue.Service
	Catalog   Catalog
	Files     FileResolver
	Database  ImportDatabase
	Results   ResultStore
	Formats   Formats
	TableName func(*model.ImportRequest) string
	Heartbeat heartbeat.Monitor
	Logger    *slog.Logger
}

// NewDiagnoser builds a Diagnoser.
func NewDiagnoser(d DiagnoserDeps) *Diagnoser {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Diagnoser{
		queue:     d.Queue,
		catalog:   d.Catalog,
		files:     d.Files,
		db:        d.Database,
		results:   d.Results,
		formats:   d.Formats,
		tables:    d.TableName,
		heartbeat: d.Heartbeat,
		logger:    d.Logger,
	}
}

// Diagnose never fails: problems found while diagnosing end up in the report.
func (d *Diagnoser) Diagnose(ctx context.Context, req *model.ImportRequest) (report Report) {
	report = newReport()
	logger := d.logger.With(slog.String("import_id", req.ID))
	defer func() {
		if r := recover(); r != nil {
			report.Diagnosis = append(report.Diagnosis, fmt.Sprintf("Diagnosis failed: %v", r))
		}
		logger.Info("diagnosis completed",
			slog.Bool("success", report.Success),
			slog.Int("fixes", len(report.FixesApplied)),
			slog.Int("issues", len(report.RemainingIssues)),
		)
	}()
	if err := d.diagnose(ctx, req, &report); err != nil {
		logger.Error("diagnosis failed", slog.String("error", err.Error()))
		report.Diagnosis = append(report.Diagnosis, "Diagnosis failed: "+err.Error())
	}
	return report
}

func (d *Diagnoser) diagnose(ctx context.Context, req *model.ImportRequest, r *Report) error {
	if _, err := d.catalog.Dataset(ctx, req.DatasetID); err != nil {
		r.Diagnosis = append(r.Diagnosis, "Dataset not found")
		r.RemainingIssues = append(r.RemainingIssues, "Dataset reference is missing")
		return nil
	}

	version, err := d.catalog.LatestVersion(ctx, req.DatasetID)
	if err != nil {
		return err
	}
	if version == nil {
		r.Diagnosis = append(r.Diagnosis, "No dataset versions available")
		r.Recommendations = append(r.Recommendations, "Upload a dataset version before importing")
		return nil
	}

	if !version.HasFile() {
		r.Diagnosis = append(r.Diagnosis, "No file attached to dataset version")
		r.RemainingIssues = append(r.RemainingIssues, "Dataset version has no file")
		return nil
	}
	exists, err := d.files.Exists(ctx, version)
	if err != nil {
		r.Diagnosis = append(r.Diagnosis, "File access error: "+err.Error())
		r.RemainingIssues = append(r.RemainingIssues, "Cannot access file")
		return nil
	}
	if !exists {
		r.Diagnosis = append(r.Diagnosis, "File not found in storage")
		r.RemainingIssues = append(r.RemainingIssues, "File is missing from storage")
		return nil
	}

	if err := d.db.Ping(ctx); err != nil {
		r.Diagnosis = append(r.Diagnosis, "Database connection error: "+err.Error())
		r.RemainingIssues = append(r.RemainingIssues, "Import database is not accessible")
		return nil
	}

	switch {
	case req.Status == model.StatusProcessing:
		alive := false
		if d.heartbeat != nil {
			if alive, err = d.heartbeat.Alive(ctx, req.ID); err != nil {
				return fmt.Errorf("read heartbeat: %w", err)
			}
		}
		if alive {
			r.Diagnosis = append(r.Diagnosis, "Import is still running")
			r.RemainingIssues = append(r.RemainingIssues, "A worker is actively processing this import")
			return nil
		}
		if err := d.reset(ctx, req); err != nil {
			return err
		}
		r.FixesApplied = append(r.FixesApplied, "Reset status from 'processing' to 'pending'")
		r.Success = true
	case req.Status == model.StatusFailed && req.ErrorMessage != "":
		if err := d.reset(ctx, req); err != nil {
			return err
		}
		r.FixesApplied = append(r.FixesApplied, "Cleared error message and reset to pending")
		r.Success = true
	}

	name := version.FileName()
	if !d.formats.Supports(name) {
		ext := strings.ToLower(filepath.Ext(name))
		r.Diagnosis = append(r.Diagnosis, "Unsupported file format: "+ext)
		r.Recommendations = append(r.Recommendations,
			"Convert file to one of: "+strings.Join(d.formats.Extensions(), ", "))
	}

	table := ""
	if req.ImportResultID != nil {
		result, err := d.results.GetResult(ctx, *req.ImportResultID)
		if err != nil {
			r.Diagnosis = append(r.Diagnosis, "Dataset import record issue: "+err.Error())
		} else {
			if result.Status == model.ResultImporting {
				result.Status = model.ResultFailed
				result.ErrorMessage = InterruptedMessage
				if err := d.results.UpdateResult(ctx, result); err != nil {
					r.Diagnosis = append(r.Diagnosis, "Dataset import record issue: "+err.Error())
				} else {
					r.FixesApplied = append(r.FixesApplied, "Reset stuck dataset import status")
				}
			}
			if result.ImportDatabaseTable != nil {
				table = *result.ImportDatabaseTable
			}
		}
	} else if d.tables != nil {
		table = d.tables(req)
	}
	if table != "" {
		exists, rows, err := d.db.CountRows(ctx, table)
		switch {
		case err != nil:
			r.Diagnosis = append(r.Diagnosis, "Database cleanup issue: "+err.Error())
		case exists && rows == 0:
			if err := d.db.DropTable(ctx, table); err != nil {
				r.Diagnosis = append(r.Diagnosis, "Database cleanup issue: "+err.Error())
			} else {
				r.FixesApplied = append(r.FixesApplied, "Cleaned up empty orphaned table: "+table)
			}
		}
	}

	if req.StartedAt != nil && (req.Status == model.StatusPending || req.Status == model.StatusFailed) {
		from := req.Status
		next := *req
		next.StartedAt = nil
		next.CompletedAt = nil
		if err := d.queue.Save(ctx, &next, from); err != nil {
			return err
		}
		*req = next
		r.FixesApplied = append(r.FixesApplied, "Reset processing timestamps")
	}

	if len(r.RemainingIssues) == 0 && len(r.Diagnosis) == 0 {
		r.Success = true
		r.FixesApplied = append(r.FixesApplied, "Import is ready for retry")
		r.Recommendations = append(r.Recommendations, "Try running the import again")
	}
	return nil
}

func (d *Diagnoser) reset(ctx context.Context, req *model.ImportRequest) error {
	from := req.Status
	next := *req
	queue.Reset(&next)
	if err := d.queue.Save(ctx, &next, from); err != nil {
		return fmt.Errorf("reset import: %w", err)
	}
	*req = next
	return nil
}
