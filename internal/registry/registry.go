// Package registry owns the per-dataset directory: identifier allocation,
// schema persistence, the append-only lineage log, and artifact paths. All
// writes to a dataset are serialized under a per-dataset mutex; writes across
// datasets proceed in parallel.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/concentra-hq/concentra/internal/errs"
	"github.com/concentra-hq/concentra/internal/storage"
)

var datasetIDPattern = regexp.MustCompile(`^ds_[0-9a-f]{12}$`)

const createRetries = 5

// Lineage is the append-only provenance log for a dataset.
type Lineage struct {
	DatasetID        string `json:"dataset_id"`
	CreatedAt        string `json:"created_at"`
	OriginalFilename string `json:"original_filename"`
	Steps            []Step `json:"steps"`
}

// Step is one recorded operation in a dataset's lineage.
type Step struct {
	ID         string         `json:"id"`
	Timestamp  string         `json:"timestamp"`
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
}

// Registry manages dataset directories rooted at a base path.
type Registry struct {
	base string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a registry rooted at base, creating the directory if needed.
func New(base string) (*Registry, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create datasets root: %w", err)
	}
	return &Registry{base: base, locks: make(map[string]*sync.Mutex)}, nil
}

// ValidateID rejects identifiers that do not match ds_<12 lowercase hex>
// before any filesystem access.
func ValidateID(id string) error {
	if !datasetIDPattern.MatchString(id) {
		return errs.Validation("Invalid dataset id format: '%s'", id)
	}
	return nil
}

// lock returns the mutex serializing writes for one dataset.
func (r *Registry) lock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[id]
	if !ok {
		m = &sync.Mutex{}
		r.locks[id] = m
	}
	return m
}

// CreateDataset allocates a collision-checked identifier, creates the dataset
// directory tree and writes the initial lineage document.
func (r *Registry) CreateDataset(originalFilename string) (string, error) {
	var id string
	for attempt := 0; ; attempt++ {
		id = "ds_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
		if _, err := os.Stat(filepath.Join(r.base, id)); os.IsNotExist(err) {
			break
		}
		if attempt >= createRetries {
			return "", errs.New(errs.KindConflict, "Failed to allocate dataset id after %d attempts", createRetries)
		}
	}

	path := filepath.Join(r.base, id)
	for _, sub := range []string{"raw", "analyses", "llm"} {
		if err := os.MkdirAll(filepath.Join(path, sub), 0o755); err != nil {
			return "", errs.Internal(err, "Failed to create dataset directory")
		}
	}

	lineage := Lineage{
		DatasetID:        id,
		CreatedAt:        now(),
		OriginalFilename: originalFilename,
		Steps: []Step{{
			ID:         "st_0001",
			Timestamp:  now(),
			Operation:  "create",
			Parameters: map[string]any{"filename": originalFilename},
		}},
	}
	if err := storage.WriteJSONAtomic(r.lineagePath(id), lineage); err != nil {
		return "", errs.Internal(err, "Failed to initialize lineage")
	}

	log.Info().Str("dataset_id", id).Str("filename", originalFilename).Msg("dataset created")
	return id, nil
}

// DatasetPath returns the dataset directory, or NotFound when it is absent.
func (r *Registry) DatasetPath(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	path := filepath.Join(r.base, id)
	if _, err := os.Stat(path); err != nil {
		return "", errs.NotFound("Dataset %s not found", id)
	}
	return path, nil
}

// RawPath canonicalizes the raw upload location and guarantees the result
// stays inside the dataset directory, rejecting traversal.
func (r *Registry) RawPath(id, filename string) (string, error) {
	dir, err := r.DatasetPath(id)
	if err != nil {
		return "", err
	}
	raw := filepath.Join(dir, "raw", filepath.Base(filename))
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", errs.Internal(err, "Failed to resolve raw path")
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", errs.Internal(err, "Failed to resolve dataset path")
	}
	if !strings.HasPrefix(abs, absDir+string(filepath.Separator)) {
		return "", errs.Validation("Path escapes dataset directory")
	}
	return abs, nil
}

// NormalizedPath returns the canonical columnar artifact location.
func (r *Registry) NormalizedPath(id string) (string, error) {
	dir, err := r.DatasetPath(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "normalized.parquet"), nil
}

// AnalysisPath returns the location of a named analysis artifact.
func (r *Registry) AnalysisPath(id, name string) (string, error) {
	dir, err := r.DatasetPath(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "analyses", name), nil
}

// RecordStep appends a lineage step under the dataset's exclusive lock.
// Appends preserve every prior entry and step timestamps are non-decreasing.
func (r *Registry) RecordStep(id, operation string, parameters, outputs map[string]any, warnings []string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	mu := r.lock(id)
	mu.Lock()
	defer mu.Unlock()

	var lineage Lineage
	if err := storage.ReadJSON(r.lineagePath(id), &lineage); err != nil {
		return errs.NotFound("Dataset %s not found", id)
	}

	lineage.Steps = append(lineage.Steps, Step{
		ID:         fmt.Sprintf("st_%04d", len(lineage.Steps)+1),
		Timestamp:  now(),
		Operation:  operation,
		Parameters: parameters,
		Outputs:    outputs,
		Warnings:   warnings,
	})

	if err := storage.WriteJSONAtomic(r.lineagePath(id), lineage); err != nil {
		return errs.Internal(err, "Failed to append lineage step")
	}
	return nil
}

// SaveSchema atomically replaces the schema document.
func (r *Registry) SaveSchema(id string, schema any) error {
	dir, err := r.DatasetPath(id)
	if err != nil {
		return err
	}
	mu := r.lock(id)
	mu.Lock()
	defer mu.Unlock()
	if err := storage.WriteJSONAtomic(filepath.Join(dir, "schema.json"), schema); err != nil {
		return errs.Internal(err, "Failed to save schema")
	}
	return nil
}

// GetSchema returns the stored schema document verbatim.
func (r *Registry) GetSchema(id string) (json.RawMessage, error) {
	dir, err := r.DatasetPath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "schema.json"))
	if err != nil {
		return nil, errs.NotFound("Schema not found for dataset %s", id)
	}
	return data, nil
}

// LoadSchema decodes the stored schema document into v.
func (r *Registry) LoadSchema(id string, v any) error {
	data, err := r.GetSchema(id)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errs.Internal(err, "Failed to decode schema")
	}
	return nil
}

// GetLineage returns the lineage document.
func (r *Registry) GetLineage(id string) (*Lineage, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	var lineage Lineage
	if err := storage.ReadJSON(r.lineagePath(id), &lineage); err != nil {
		return nil, errs.NotFound("Dataset %s not found", id)
	}
	return &lineage, nil
}

// SaveAnalysis writes a JSON analysis artifact under analyses/.
func (r *Registry) SaveAnalysis(id, name string, payload any) (string, error) {
	path, err := r.AnalysisPath(id, name)
	if err != nil {
		return "", err
	}
	mu := r.lock(id)
	mu.Lock()
	defer mu.Unlock()
	if err := storage.WriteJSONAtomic(path, payload); err != nil {
		return "", errs.Internal(err, "Failed to save analysis artifact")
	}
	return path, nil
}

// SaveLLMArtifact writes an advisory artifact under llm/ with a
// <function>_<unix-seconds>.json name; multiple versions may coexist.
func (r *Registry) SaveLLMArtifact(id, function string, payload any) (string, error) {
	dir, err := r.DatasetPath(id)
	if err != nil {
		return "", err
	}
	mu := r.lock(id)
	mu.Lock()
	defer mu.Unlock()
	name := fmt.Sprintf("%s_%d.json", function, time.Now().Unix())
	path := filepath.Join(dir, "llm", name)
	if err := storage.WriteJSONAtomic(path, payload); err != nil {
		return "", errs.Internal(err, "Failed to save advisory artifact")
	}
	return path, nil
}

// LatestLLMArtifacts returns, per advisory function, the newest artifact
// payload found under llm/.
func (r *Registry) LatestLLMArtifacts(id string) (map[string]json.RawMessage, error) {
	dir, err := r.DatasetPath(id)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(dir, "llm"))
	if err != nil {
		return map[string]json.RawMessage{}, nil
	}

	latest := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		base := strings.TrimSuffix(name, ".json")
		i := strings.LastIndex(base, "_")
		if i <= 0 {
			continue
		}
		function := base[:i]
		// Names embed unix seconds, so lexicographic comparison of equal-width
		// suffixes picks the newest; fall back to full-name comparison.
		if prev, ok := latest[function]; !ok || name > prev {
			latest[function] = name
		}
	}

	out := make(map[string]json.RawMessage, len(latest))
	for function, name := range latest {
		data, err := os.ReadFile(filepath.Join(dir, "llm", name))
		if err != nil {
			continue
		}
		out[function] = data
	}
	return out, nil
}

func (r *Registry) lineagePath(id string) string {
	return filepath.Join(r.base, id, "lineage.json")
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
