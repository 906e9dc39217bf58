package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrMissingArtifact reports a required artifact file that is not on disk.
var ErrMissingArtifact = errors.New("missing required artifact")

// ArtifactPaths locates the six files produced at training time.
type ArtifactPaths struct {
	Dir       string
	ModelType string
	Model     string
	Columns   string
	NumCols   string
	CatCols   string
	NumFill   string
	CatFill   string
}

func DefaultArtifactPaths() ArtifactPaths {
	return ArtifactPaths{
		Dir:       ".",
		ModelType: ModelTypeXGBoostJSON,
		Model:     "xgb_model.json",
		Columns:   "model_columns.json",
		NumCols:   "num_cols.json",
		CatCols:   "cat_cols.json",
		NumFill:   "num_fill.json",
		CatFill:   "cat_fill.json",
	}
}

func (p ArtifactPaths) resolve(name string) string {
	if filepath.IsAbs(name) || p.Dir == "" {
		return name
	}
	return filepath.Join(p.Dir, name)
}

// Files returns the resolved path of every artifact in load order.
func (p ArtifactPaths) Files() []string {
	return []string{
		p.resolve(p.Model),
		p.resolve(p.Columns),
		p.resolve(p.NumCols),
		p.resolve(p.CatCols),
		p.resolve(p.NumFill),
		p.resolve(p.CatFill),
	}
}

// Bundle is the read-only artifact set shared by every request.
type Bundle struct {
	Model   Scorer
	Columns []string
	NumCols []string
	CatCols []string
	NumFill map[string]float64
	CatFill map[string]string
}

// LoadBundle loads every artifact once. Any missing or undecodable file is
// fatal: the caller must not start serving.
func LoadBundle(paths ArtifactPaths) (*Bundle, error) {
	b := &Bundle{}

	modelPath, err := mustExist(paths.resolve(paths.Model))
	if err != nil {
		return nil, err
	}
	if b.Model, err = LoadModel(paths.ModelType, modelPath); err != nil {
		return nil, fmt.Errorf("load model %s: %w", modelPath, err)
	}

	if err := loadJSON(paths.resolve(paths.Columns), &b.Columns); err != nil {
		return nil, err
	}
	if err := loadJSON(paths.resolve(paths.NumCols), &b.NumCols); err != nil {
		return nil, err
	}
	if err := loadJSON(paths.resolve(paths.CatCols), &b.CatCols); err != nil {
		return nil, err
	}
	if err := loadJSON(paths.resolve(paths.NumFill), &b.NumFill); err != nil {
		return nil, err
	}
	if err := loadJSON(paths.resolve(paths.CatFill), &b.CatFill); err != nil {
		return nil, err
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks the artifacts agree with each other.
func (b *Bundle) Validate() error {
	if b.Model == nil {
		return errors.New("bundle has no model")
	}
	if len(b.Columns) == 0 {
		return errors.New("training schema is empty")
	}
	seen := make(map[string]struct{}, len(b.Columns))
	for _, col := range b.Columns {
		if _, dup := seen[col]; dup {
			return fmt.Errorf("training schema repeats column %q", col)
		}
		seen[col] = struct{}{}
	}

	numeric := make(map[string]struct{}, len(b.NumCols))
	for _, col := range b.NumCols {
		numeric[col] = struct{}{}
	}
	for _, col := range b.CatCols {
		if _, ok := numeric[col]; ok {
			return fmt.Errorf("column %q is declared both numeric and categorical", col)
		}
	}

	if n := b.Model.NumFeatures(); n != len(b.Columns) {
		return fmt.Errorf("model expects %d features, training schema has %d columns", n, len(b.Columns))
	}
	if namer, ok := b.Model.(FeatureNamer); ok {
		names := namer.FeatureNames()
		for i, name := range names {
			if name != b.Columns[i] {
				return fmt.Errorf("model feature %d is %q, training schema has %q", i, name, b.Columns[i])
			}
		}
	}
	return nil
}

func mustExist(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrMissingArtifact, abs)
		}
		return "", fmt.Errorf("stat artifact %s: %w", abs, err)
	}
	return abs, nil
}

func loadJSON(path string, out any) error {
	abs, err := mustExist(path)
	if err != nil {
		return err
	}
	payload, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", abs, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode artifact %s: %w", abs, err)
	}
	return nil
}
