package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"

	"github.com/ternarybob/venari/internal/models"
)

// exportColumns is the fixed column order for tabular formats.
var exportColumns = []string{
	"job_id", "external_id", "platform", "title", "company", "location",
	"url", "description", "salary_min", "salary_max", "salary_currency",
	"salary_period", "job_type", "experience_level", "posted_date",
	"scraped_date", "raw",
}

// ExportStage writes the final batch to disk in the configured format
// (csv, json, excel, html, pdf), splitting output across files when a
// size cap is set. The flow passes through unchanged.
type ExportStage struct {
	Dir          string
	Format       string
	MaxFileBytes int64

	// Paths collects every file written by this stage instance.
	Paths []string
}

func (s *ExportStage) Name() models.StageName { return models.StageExport }

func (s *ExportStage) ProcessBatch(ctx context.Context, records []*models.JobRecord) ([]*models.JobRecord, error) {
	if len(records) == 0 {
		return records, nil
	}
	if s.Dir == "" {
		return nil, fmt.Errorf("%w: export stage has no output directory", models.ErrValidation)
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create export directory: %v", models.ErrStorage, err)
	}

	format := strings.ToLower(s.Format)
	if format == "" {
		format = "json"
	}

	for i, chunk := range s.splitBySize(records) {
		path, err := s.writeChunk(chunk, format, i)
		if err != nil {
			return nil, err
		}
		s.Paths = append(s.Paths, path)
	}
	return records, nil
}

// splitBySize partitions records so each chunk's serialized size stays
// under the cap. The JSON size is the estimate for every format.
func (s *ExportStage) splitBySize(records []*models.JobRecord) [][]*models.JobRecord {
	if s.MaxFileBytes <= 0 {
		return [][]*models.JobRecord{records}
	}

	var chunks [][]*models.JobRecord
	var current []*models.JobRecord
	var size int64
	for _, rec := range records {
		data, err := json.Marshal(rec)
		recSize := int64(len(data))
		if err != nil {
			recSize = 1024
		}
		if len(current) > 0 && size+recSize > s.MaxFileBytes {
			chunks = append(chunks, current)
			current = nil
			size = 0
		}
		current = append(current, rec)
		size += recSize
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func (s *ExportStage) writeChunk(records []*models.JobRecord, format string, part int) (string, error) {
	name := fmt.Sprintf("jobs_%s", time.Now().UTC().Format("20060102_150405"))
	if part > 0 {
		name = fmt.Sprintf("%s_part%d", name, part+1)
	}

	switch format {
	case "json":
		return s.writeJSON(records, name)
	case "csv":
		return s.writeCSV(records, name)
	case "excel", "xlsx":
		return s.writeExcel(records, name)
	case "html":
		return s.writeHTML(records, name)
	case "pdf":
		return s.writePDF(records, name)
	}
	return "", models.ValidationError("unsupported export format %q", format)
}

func (s *ExportStage) writeJSON(records []*models.JobRecord, name string) (string, error) {
	path := filepath.Join(s.Dir, name+".json")
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize export: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("%w: failed to write export: %v", models.ErrStorage, err)
	}
	return path, nil
}

func (s *ExportStage) writeCSV(records []*models.JobRecord, name string) (string, error) {
	path := filepath.Join(s.Dir, name+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create export: %v", models.ErrStorage, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(exportColumns); err != nil {
		return "", fmt.Errorf("%w: failed to write export header: %v", models.ErrStorage, err)
	}
	for _, rec := range records {
		if err := w.Write(recordRow(rec)); err != nil {
			return "", fmt.Errorf("%w: failed to write export row: %v", models.ErrStorage, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("%w: failed to flush export: %v", models.ErrStorage, err)
	}
	return path, nil
}

func (s *ExportStage) writeExcel(records []*models.JobRecord, name string) (string, error) {
	path := filepath.Join(s.Dir, name+".xlsx")
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Jobs"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return "", fmt.Errorf("failed to prepare worksheet: %w", err)
	}

	header := make([]interface{}, len(exportColumns))
	for i, col := range exportColumns {
		header[i] = col
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return "", fmt.Errorf("failed to write worksheet header: %w", err)
	}
	for i, rec := range records {
		row := recordRow(rec)
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", fmt.Errorf("failed to address worksheet row: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return "", fmt.Errorf("failed to write worksheet row: %w", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("%w: failed to write export: %v", models.ErrStorage, err)
	}
	return path, nil
}

// writeHTML renders a markdown report through goldmark.
func (s *ExportStage) writeHTML(records []*models.JobRecord, name string) (string, error) {
	path := filepath.Join(s.Dir, name+".html")

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Job Listings (%d)\n\n", len(records)))
	for _, rec := range records {
		sb.WriteString(fmt.Sprintf("## %s\n\n", rec.Title))
		sb.WriteString(fmt.Sprintf("**%s** — %s (%s)\n\n", rec.Company, rec.Location, rec.Platform))
		if rec.SalaryMin > 0 || rec.SalaryMax > 0 {
			sb.WriteString(fmt.Sprintf("Salary: %d–%d %s/%s\n\n", rec.SalaryMin, rec.SalaryMax, rec.SalaryCurrency, rec.SalaryPeriod))
		}
		if rec.URL != "" {
			sb.WriteString(fmt.Sprintf("[View posting](%s)\n\n", rec.URL))
		}
		if rec.Description != "" {
			sb.WriteString(rec.Description + "\n\n")
		}
		sb.WriteString("---\n\n")
	}

	var html strings.Builder
	html.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Job Listings</title></head><body>\n")
	if err := goldmark.Convert([]byte(sb.String()), &html); err != nil {
		return "", fmt.Errorf("failed to render export: %w", err)
	}
	html.WriteString("\n</body></html>\n")

	if err := os.WriteFile(path, []byte(html.String()), 0644); err != nil {
		return "", fmt.Errorf("%w: failed to write export: %v", models.ErrStorage, err)
	}
	return path, nil
}

func (s *ExportStage) writePDF(records []*models.JobRecord, name string) (string, error) {
	path := filepath.Join(s.Dir, name+".pdf")

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, fmt.Sprintf("Job Listings (%d)", len(records)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	for _, rec := range records {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.MultiCell(0, 6, rec.Title, "", "L", false)
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 5, fmt.Sprintf("%s — %s (%s)", rec.Company, rec.Location, rec.Platform), "", "L", false)
		if rec.SalaryMin > 0 || rec.SalaryMax > 0 {
			pdf.MultiCell(0, 5, fmt.Sprintf("Salary: %d-%d %s", rec.SalaryMin, rec.SalaryMax, rec.SalaryCurrency), "", "L", false)
		}
		if rec.URL != "" {
			pdf.MultiCell(0, 5, rec.URL, "", "L", false)
		}
		pdf.Ln(3)
	}

	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("%w: failed to write export: %v", models.ErrStorage, err)
	}
	return path, nil
}

func recordRow(rec *models.JobRecord) []string {
	rawJSON := ""
	if rec.Raw != nil {
		if data, err := json.Marshal(rec.Raw); err == nil {
			rawJSON = string(data)
		}
	}
	formatDate := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	}
	return []string{
		rec.JobID, rec.ExternalID, rec.Platform, rec.Title, rec.Company,
		rec.Location, rec.URL, rec.Description,
		strconv.Itoa(rec.SalaryMin), strconv.Itoa(rec.SalaryMax),
		rec.SalaryCurrency, string(rec.SalaryPeriod),
		string(rec.JobType), string(rec.ExperienceLevel),
		formatDate(rec.PostedDate), formatDate(rec.ScrapedDate),
		rawJSON,
	}
}
