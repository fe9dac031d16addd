package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/concentra-hq/concentra/internal/errs"
	"github.com/concentra-hq/concentra/internal/pipeline"
)

// Upload ingests a multipart spreadsheet or CSV upload and responds with the
// new dataset's identifier and processing counts.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	// Slack over the configured limit covers multipart framing; the pipeline
	// enforces the exact byte limit on the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSizeBytes()+(1<<20))

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			WriteError(w, r, errs.PayloadTooLarge("File exceeds maximum size of %d MB", h.cfg.MaxFileSizeMB))
			return
		}
		WriteError(w, r, errs.Validation("Invalid multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, r, errs.Validation("Missing file field 'file'"))
		return
	}
	defer file.Close()

	res, err := h.ctrl.Ingest(r.Context(), header.Filename, r.FormValue("sheet"), file)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Schema returns the stored schema document verbatim.
func (h *Handlers) Schema(w http.ResponseWriter, r *http.Request) {
	raw, err := h.ctrl.Schema(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// Analyze runs a concentration analysis and returns the result document.
func (h *Handlers) Analyze(w http.ResponseWriter, r *http.Request) {
	var req pipeline.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorStatus(w, r, errs.Validation("Invalid request body: %v", err), http.StatusUnprocessableEntity)
		return
	}
	if req.GroupBy == "" {
		WriteError(w, r, errs.Validation("Missing required field 'group_by'"))
		return
	}
	if req.Value == "" {
		WriteError(w, r, errs.Validation("Missing required field 'value'"))
		return
	}

	res, err := h.ctrl.Analyze(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Download streams an export artifact.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var name, contentType string
	switch vars["format"] {
	case "csv":
		name, contentType = pipeline.AnalysisCSV, "text/csv"
	case "xlsx":
		name, contentType = pipeline.AnalysisXLSX, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		WriteError(w, r, errs.Validation("Unsupported export format '%s'", vars["format"]))
		return
	}

	path, err := h.ctrl.Artifact(id, name)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"_"+name))
	http.ServeFile(w, r, path)
}

// Insights returns the latest advisory artifacts, with placeholders for
// functions that have none.
func (h *Handlers) Insights(w http.ResponseWriter, r *http.Request) {
	out, err := h.ctrl.Insights(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Lineage returns the dataset's provenance log.
func (h *Handlers) Lineage(w http.ResponseWriter, r *http.Request) {
	lineage, err := h.ctrl.Lineage(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lineage)
}
