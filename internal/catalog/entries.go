// Package catalog serves the downloadable model catalog. Models are
// distributed as OCI artifacts and pulled through the Docker engine.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/screenpilot/internal/domain"
)

// ErrUnknownModel is returned for a slug that is not in the catalog.
var ErrUnknownModel = errors.New("unknown model")

// Entry describes one catalog model.
type Entry struct {
	Slug      string `yaml:"slug"`
	Name      string `yaml:"name"`
	Reference string `yaml:"reference"`
	// Model is the name the local runtime serves the model under. Defaults
	// to Reference.
	Model     string `yaml:"model"`
	SizeBytes int64  `yaml:"size_bytes"`
}

type file struct {
	Models []Entry `yaml:"models"`
}

// LoadEntries reads a catalog definition file.
func LoadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	entries, err := ParseEntries(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return entries, nil
}

// ParseEntries decodes and validates catalog YAML.
func ParseEntries(data []byte) ([]Entry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	var errs []string
	seen := make(map[string]bool, len(f.Models))
	for i := range f.Models {
		e := &f.Models[i]
		e.Slug = strings.TrimSpace(e.Slug)
		switch {
		case e.Slug == "":
			errs = append(errs, fmt.Sprintf("models[%d]: slug is required", i))
			continue
		case seen[e.Slug]:
			errs = append(errs, fmt.Sprintf("models[%d]: duplicate slug %q", i, e.Slug))
		}
		seen[e.Slug] = true
		if e.Reference == "" {
			errs = append(errs, fmt.Sprintf("models[%d]: reference is required", i))
		}
		if e.Name == "" {
			e.Name = e.Slug
		}
		if e.Model == "" {
			e.Model = e.Reference
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid catalog: %s", strings.Join(errs, "; "))
	}
	return f.Models, nil
}

func (e Entry) info(downloaded bool) domain.ModelInfo {
	return domain.ModelInfo{
		Slug:       e.Slug,
		Name:       e.Name,
		Reference:  e.Reference,
		SizeBytes:  e.SizeBytes,
		Downloaded: downloaded,
	}
}
