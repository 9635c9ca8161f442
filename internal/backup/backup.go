// Package backup writes and reads the JSON artifact a run leaves on disk.
package backup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/goldrate-cli/internal/model"
)

// Artifact is the on-disk shape: every stored document plus the run summary.
type Artifact struct {
	Data    []model.PriceDocument `json:"data"`
	Summary model.RunSummary      `json:"summary"`
}

// New builds an artifact from validated records and their summary.
func New(records []model.PriceRecord, summary model.RunSummary) Artifact {
	docs := make([]model.PriceDocument, len(records))
	for i, r := range records {
		docs[i] = r.Document()
	}
	return Artifact{Data: docs, Summary: summary}
}

// Records converts the artifact's documents back into price records.
func (a Artifact) Records() ([]model.PriceRecord, error) {
	out := make([]model.PriceRecord, 0, len(a.Data))
	for _, d := range a.Data {
		rec, err := d.Record()
		if err != nil {
			return nil, eris.Wrapf(err, "backup: decode document %s", d.Key)
		}
		out = append(out, rec)
	}
	return out, nil
}

// FileName is the default artifact name inside a backup directory.
func FileName(runID string, at time.Time) string {
	name := "gold_prices_" + at.UTC().Format("20060102T150405Z")
	if runID != "" {
		name += "_" + runID[:min(8, len(runID))]
	}
	return name + ".json"
}

// Write stores the artifact at path atomically, creating parent
// directories as needed.
func Write(path string, a Artifact) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "backup: create dir %s", dir)
		}
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return eris.Wrap(err, "backup: marshal")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".backup-*.json")
	if err != nil {
		return eris.Wrap(err, "backup: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "backup: write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "backup: close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "backup: rename to %s", path)
	}
	return nil
}

// Read loads an artifact written by Write.
func Read(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, eris.Wrapf(err, "backup: read %s", path)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return Artifact{}, eris.Wrapf(err, "backup: parse %s", path)
	}
	return a, nil
}
