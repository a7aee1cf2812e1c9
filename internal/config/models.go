package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/neulab/pr-arena/pkg/model"
)

// UnknownModelID is reported for models missing from the reference table.
const UnknownModelID = "Model ID Not Found"

//go:embed models.yaml
var defaultModels []byte

// ModelTable maps model names to their anonymous identifiers.
type ModelTable struct {
	ids map[string]string
}

type modelsFile struct {
	Models []model.ModelEntry `yaml:"models"`
}

// LoadModels reads the table from path, or the embedded default when path
// is empty.
func LoadModels(path string) (*ModelTable, error) {
	data := defaultModels
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading models file: %w", err)
		}
	}
	return ParseModels(data)
}

// ParseModels parses a YAML model table.
func ParseModels(data []byte) (*ModelTable, error) {
	var f modelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing models: %w", err)
	}
	t := &ModelTable{ids: make(map[string]string, len(f.Models))}
	for i, m := range f.Models {
		if m.Name == "" || m.ID == "" {
			return nil, fmt.Errorf("model entry %d: name and id are required", i)
		}
		t.ids[m.Name] = m.ID
	}
	return t, nil
}

// Lookup returns the identifier for name. A provider prefix such as
// "litellm_proxy/" is ignored.
func (t *ModelTable) Lookup(name string) string {
	if id, ok := t.ids[name]; ok {
		return id
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		if id, ok := t.ids[name[i+1:]]; ok {
			return id
		}
	}
	return UnknownModelID
}

// Entry returns the model entry recorded for name.
func (t *ModelTable) Entry(name string) model.ModelEntry {
	return model.ModelEntry{Name: name, ID: t.Lookup(name)}
}
