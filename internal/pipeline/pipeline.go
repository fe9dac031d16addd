// Package pipeline sequences the ingest → normalize → analyze → export flow,
// records lineage for every step, and dispatches the advisory enrichment as a
// fire-and-forget task after the numeric result is durably written.
package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/concentra-hq/concentra/internal/concentration"
	"github.com/concentra-hq/concentra/internal/config"
	"github.com/concentra-hq/concentra/internal/errs"
	"github.com/concentra-hq/concentra/internal/export"
	"github.com/concentra-hq/concentra/internal/llm"
	"github.com/concentra-hq/concentra/internal/metrics"
	"github.com/concentra-hq/concentra/internal/normalize"
	"github.com/concentra-hq/concentra/internal/registry"
	"github.com/concentra-hq/concentra/internal/storage"
	"github.com/concentra-hq/concentra/internal/table"
)

// Artifact names within a dataset's analyses/ directory.
const (
	AnalysisJSON = "concentration.json"
	AnalysisCSV  = "concentration.csv"
	AnalysisXLSX = "concentration.xlsx"
)

var supportedExtensions = map[string]bool{".csv": true, ".xlsx": true, ".xls": true}

// Controller wires the registry, storage and advisory layers into the
// request-facing operations.
type Controller struct {
	cfg     config.Config
	reg     *registry.Registry
	advisor *llm.Advisor
}

// New builds a controller over the given registry and advisor.
func New(cfg config.Config, reg *registry.Registry, advisor *llm.Advisor) *Controller {
	return &Controller{cfg: cfg, reg: reg, advisor: advisor}
}

// IngestResult is the upload response payload.
type IngestResult struct {
	DatasetID        string `json:"dataset_id"`
	Status           string `json:"status"`
	Message          string `json:"message"`
	RowsProcessed    int    `json:"rows_processed"`
	ColumnsProcessed int    `json:"columns_processed"`
}

// AnalyzeRequest is the analysis request body.
type AnalyzeRequest struct {
	GroupBy    string `json:"group_by"`
	Value      string `json:"value"`
	Thresholds []int  `json:"thresholds,omitempty"`
	RunLLM     *bool  `json:"run_llm,omitempty"`
}

// Ingest stores the upload, normalizes it into the columnar artifact and
// persists the detected schema. The sheet argument selects a worksheet for
// spreadsheet uploads; empty means the first sheet.
func (c *Controller) Ingest(ctx context.Context, filename, sheet string, src io.Reader) (*IngestResult, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !supportedExtensions[ext] {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return nil, errs.Validation("Unsupported file extension '%s'; expected .csv, .xlsx or .xls", ext)
	}

	id, err := c.reg.CreateDataset(filename)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	rawPath, err := c.reg.RawPath(id, filename)
	if err != nil {
		return nil, err
	}
	size, err := copyBounded(rawPath, src, c.cfg.MaxFileSizeBytes())
	if err != nil {
		c.cleanupDataset(id)
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	metrics.UploadBytes.Observe(float64(size))

	checksum, err := storage.SHA256(rawPath)
	if err != nil {
		return nil, errs.Internal(err, "Failed to checksum upload")
	}
	if err := c.reg.RecordStep(id, "ingest", map[string]any{
		"filename": filename,
		"sheet":    sheet,
	}, map[string]any{
		"bytes":    size,
		"checksum": checksum,
	}, nil); err != nil {
		return nil, err
	}

	raw, err := c.readUpload(rawPath, ext, sheet)
	if err != nil {
		c.cleanupDataset(id)
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	res, err := normalize.Normalize(raw)
	if err != nil {
		return nil, errs.Internal(err, "Normalization failed")
	}

	normPath, err := c.reg.NormalizedPath(id)
	if err != nil {
		return nil, err
	}
	if err := storage.WriteColumnar(res.Table, normPath); err != nil {
		return nil, errs.Internal(err, "Failed to write normalized table")
	}
	res.Schema.DatasetID = id
	if err := c.reg.SaveSchema(id, res.Schema); err != nil {
		return nil, err
	}
	normChecksum, err := storage.SHA256(normPath)
	if err != nil {
		return nil, errs.Internal(err, "Failed to checksum normalized table")
	}
	if err := c.reg.RecordStep(id, "normalize", nil, map[string]any{
		"rows_in":      raw.NumRows(),
		"columns_in":   raw.NumCols(),
		"rows":         res.Table.NumRows(),
		"columns":      res.Table.NumCols(),
		"period_grain": string(res.Schema.PeriodGrain),
		"checksum":     normChecksum,
	}, res.Warnings); err != nil {
		return nil, err
	}

	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	log.Info().
		Str("dataset_id", id).
		Int("rows", res.Table.NumRows()).
		Int("columns", res.Table.NumCols()).
		Msg("ingest complete")

	return &IngestResult{
		DatasetID:        id,
		Status:           "success",
		Message:          "File processed successfully",
		RowsProcessed:    res.Table.NumRows(),
		ColumnsProcessed: res.Table.NumCols(),
	}, nil
}

// Analyze runs concentration over a normalized dataset, persists the result
// and its exports, and dispatches advisory enrichment when requested.
func (c *Controller) Analyze(ctx context.Context, datasetID string, req AnalyzeRequest) (*concentration.Result, error) {
	started := time.Now()

	var sch normalize.Schema
	if err := c.reg.LoadSchema(datasetID, &sch); err != nil {
		metrics.AnalysesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	normPath, err := c.reg.NormalizedPath(datasetID)
	if err != nil {
		return nil, err
	}
	t, err := storage.ReadColumnar(normPath)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("error").Inc()
		return nil, errs.NotFound("Normalized table not found for dataset %s", datasetID)
	}

	thresholds := req.Thresholds
	if len(thresholds) == 0 {
		thresholds = c.cfg.DefaultThresholds
	}
	res, err := concentration.Analyze(t, &sch, concentration.Options{
		GroupBy:               req.GroupBy,
		Value:                 req.Value,
		Thresholds:            thresholds,
		LargeDatasetThreshold: c.cfg.LargeDatasetThreshold,
	})
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	res.DatasetID = datasetID

	c.writeExports(datasetID, res)

	if _, err := c.reg.SaveAnalysis(datasetID, AnalysisJSON, res); err != nil {
		metrics.AnalysesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	outputs := map[string]any{"total_entities": res.Totals.TotalEntities}
	for _, pr := range res.ByPeriod {
		if pr.Error == "" {
			outputs["concentration_calculation_"+pr.Period] = "completed"
		}
	}
	if res.Totals.Error == "" {
		outputs["concentration_calculation_TOTAL"] = "completed"
	}
	if err := c.reg.RecordStep(datasetID, "analyze", map[string]any{
		"group_by":   req.GroupBy,
		"value":      req.Value,
		"thresholds": res.Thresholds,
	}, outputs, res.Warnings); err != nil {
		return nil, err
	}

	metrics.AnalysesTotal.WithLabelValues("ok").Inc()
	metrics.AnalysisDuration.Observe(time.Since(started).Seconds())

	runLLM := req.RunLLM == nil || *req.RunLLM
	if runLLM && c.cfg.UseLLM {
		// Dispatched only after the analysis artifact is durably written; the
		// response never waits for it.
		go c.runAdvisory(datasetID, res)
	}
	return res, nil
}

// writeExports renders the CSV and workbook artifacts. A failed export does
// not fail the analysis: the failure becomes a warning and the links go null.
func (c *Controller) writeExports(datasetID string, res *concentration.Result) {
	csvPath, err := c.reg.AnalysisPath(datasetID, AnalysisCSV)
	if err == nil {
		err = export.WriteCSV(res, csvPath)
	}
	if err != nil {
		log.Warn().Err(err).Str("dataset_id", datasetID).Msg("csv export failed")
		res.Warnings = append(res.Warnings, "Export failed: "+err.Error())
		res.ExportLinks = nil
		return
	}

	xlsxPath, err := c.reg.AnalysisPath(datasetID, AnalysisXLSX)
	if err == nil {
		err = export.WriteWorkbook(res, xlsxPath)
	}
	if err != nil {
		log.Warn().Err(err).Str("dataset_id", datasetID).Msg("workbook export failed")
		res.Warnings = append(res.Warnings, "Export failed: "+err.Error())
		res.ExportLinks = nil
		return
	}

	res.ExportLinks = &concentration.ExportLinks{
		CSV:  "analyses/" + AnalysisCSV,
		XLSX: "analyses/" + AnalysisXLSX,
	}
}

// runAdvisory generates and persists the advisory artifacts, recording each
// outcome in lineage. Runs on its own goroutine with its own context.
func (c *Controller) runAdvisory(datasetID string, res *concentration.Result) {
	ctx := context.Background()

	for _, gen := range []struct {
		function string
		call     func(context.Context, string, *concentration.Result) *llm.Document
	}{
		{llm.FunctionNarrative, c.advisor.Narrative},
		{llm.FunctionRisk, c.advisor.RiskAssessment},
	} {
		doc := gen.call(ctx, datasetID, res)
		path, err := c.reg.SaveLLMArtifact(datasetID, gen.function, doc)
		if err != nil {
			log.Error().Err(err).Str("dataset_id", datasetID).Str("function", gen.function).
				Msg("failed to persist advisory artifact")
			continue
		}

		status := doc.Status
		if doc.Reason != "" {
			status = doc.Reason
		}
		metrics.AdvisoryCalls.WithLabelValues(gen.function, status).Inc()

		outputs := map[string]any{
			"function": gen.function,
			"status":   doc.Status,
			"artifact": filepath.Base(path),
		}
		if doc.Reason != "" {
			outputs["reason"] = doc.Reason
		}
		if err := c.reg.RecordStep(datasetID, "advisory", nil, outputs, nil); err != nil {
			log.Error().Err(err).Str("dataset_id", datasetID).Msg("failed to record advisory step")
		}
	}
}

// Insights returns the latest advisory artifact per function, degrading to
// placeholders for functions that have none.
func (c *Controller) Insights(datasetID string) (map[string]any, error) {
	artifacts, err := c.reg.LatestLLMArtifacts(datasetID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(llm.Functions()))
	for _, function := range llm.Functions() {
		if raw, ok := artifacts[function]; ok {
			out[function] = raw
			continue
		}
		reason := llm.ReasonAPIError
		switch {
		case !c.cfg.UseLLM:
			reason = llm.ReasonDisabled
		case c.advisor != nil && c.advisor.CallsMade(datasetID) >= c.cfg.LLMMaxCallsPerDataset:
			reason = llm.ReasonUsageLimit
		}
		out[function] = llm.Placeholder(function, reason)
	}
	return out, nil
}

// Schema returns the stored schema document verbatim.
func (c *Controller) Schema(datasetID string) (json.RawMessage, error) {
	return c.reg.GetSchema(datasetID)
}

// Lineage returns the dataset's provenance log.
func (c *Controller) Lineage(datasetID string) (*registry.Lineage, error) {
	return c.reg.GetLineage(datasetID)
}

// Artifact resolves a download to its path on disk.
func (c *Controller) Artifact(datasetID, name string) (string, error) {
	path, err := c.reg.AnalysisPath(datasetID, name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", errs.NotFound("Artifact %s not found for dataset %s", name, datasetID)
	}
	return path, nil
}

// readUpload parses the raw file into a string-typed table whose column
// names are the original headers.
func (c *Controller) readUpload(path, ext, sheet string) (*table.Table, error) {
	switch ext {
	case ".csv":
		tbl, _, err := storage.ReadDelimited(path, storage.DelimitedOptions{MaxBytes: c.cfg.MaxFileSizeBytes()})
		return tbl, err
	default:
		tbl, _, err := storage.ReadSpreadsheet(path, sheet, c.cfg.MaxFileSizeBytes())
		return tbl, err
	}
}

// copyBounded writes src to path, rejecting inputs over the limit.
func copyBounded(path string, src io.Reader, limit int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, errs.Internal(err, "Failed to store upload")
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(src, limit+1))
	if err != nil {
		return n, errs.Internal(err, "Failed to store upload")
	}
	if n > limit {
		return n, errs.PayloadTooLarge("File exceeds maximum size of %d bytes", limit)
	}
	return n, nil
}

// cleanupDataset removes a dataset directory after a failed ingest.
func (c *Controller) cleanupDataset(id string) {
	dir, err := c.reg.DatasetPath(id)
	if err != nil {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Warn().Err(err).Str("dataset_id", id).Msg("failed to clean up dataset directory")
	}
}
