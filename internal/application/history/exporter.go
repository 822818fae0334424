package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/garyjia/civic-workflow/internal/application/port"
)

const (
	sheetName = "History"
	exportDir = "exports"
)

// ErrExportNotFound is returned when a stored export does not exist
var ErrExportNotFound = errors.New("export not found")

var headers = []string{"Timestamp", "Kind", "Entity ID", "From", "To", "Event", "Actor", "Event ID"}

// Exporter renders the audit trail as an XLSX workbook
type Exporter struct {
	repo    port.HistoryRepository
	storage port.FileStorage
	logger  Logger
	now     func() time.Time
}

// NewExporter creates an exporter. storage may be nil when exports are only streamed.
func NewExporter(repo port.HistoryRepository, storage port.FileStorage, logger Logger) *Exporter {
	return &Exporter{repo: repo, storage: storage, logger: logger, now: time.Now}
}

// ExportXLSX returns a workbook with one row per matching transition
func (e *Exporter) ExportXLSX(ctx context.Context, filter port.HistoryFilter) ([]byte, error) {
	rows, err := e.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, h := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []interface{}{
			h.Timestamp.UTC().Format(time.RFC3339),
			h.Kind,
			h.EntityID,
			h.OldState,
			h.NewState,
			h.EventType,
			h.ActorID,
			h.EventID,
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(sheetName, "A", "H", 20); err != nil {
		return nil, fmt.Errorf("failed to size columns: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	if e.logger != nil {
		e.logger.Info("History exported",
			"kind", filter.Kind,
			"entity_id", filter.EntityID,
			"rows", len(rows),
		)
	}
	return buf.Bytes(), nil
}

// SaveXLSX exports and stores the workbook, returning its relative path
func (e *Exporter) SaveXLSX(ctx context.Context, filter port.HistoryFilter) (string, error) {
	if e.storage == nil {
		return "", fmt.Errorf("no export storage configured")
	}

	content, err := e.ExportXLSX(ctx, filter)
	if err != nil {
		return "", err
	}

	scope := "all"
	if filter.Kind != "" {
		scope = filter.Kind.String()
	}
	path := fmt.Sprintf("%s/history_%s_%s.xlsx", exportDir, scope, e.now().UTC().Format("20060102T150405"))

	if err := e.storage.Save(ctx, path, content); err != nil {
		return "", fmt.Errorf("failed to save export: %w", err)
	}
	return path, nil
}

// ListExports returns the stored export paths, oldest first
func (e *Exporter) ListExports(ctx context.Context) ([]string, error) {
	if e.storage == nil {
		return nil, fmt.Errorf("no export storage configured")
	}
	paths, err := e.storage.List(ctx, exportDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	return paths, nil
}

// ReadExport returns a previously saved export
func (e *Exporter) ReadExport(ctx context.Context, path string) ([]byte, error) {
	if e.storage == nil {
		return nil, fmt.Errorf("no export storage configured")
	}
	if !strings.HasPrefix(path, exportDir+"/") || !e.storage.Exists(ctx, path) {
		return nil, fmt.Errorf("%w: %s", ErrExportNotFound, path)
	}
	return e.storage.Read(ctx, path)
}
