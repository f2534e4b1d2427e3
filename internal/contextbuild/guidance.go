package contextbuild

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// GuidanceMapping resolves per-type and per-subtype guidance text from files
// declared in a YAML mapping. Missing entries and missing files resolve to
// empty guidance rather than errors.
type GuidanceMapping struct {
	baseDir string
	types   map[string]guidanceRule
}

type guidanceRule struct {
	Default  string            `yaml:"default"`
	Subtypes map[string]string `yaml:"subtypes"`
}

type guidanceFile struct {
	SourceTypes map[string]guidanceRule `yaml:"source_types"`
}

// LoadGuidanceMapping parses the mapping file. Relative file paths inside the
// mapping resolve against the mapping file's directory.
func LoadGuidanceMapping(path string) (*GuidanceMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "contextbuild: read guidance mapping %s", path)
	}
	var f guidanceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "contextbuild: parse guidance mapping %s", path)
	}
	return &GuidanceMapping{baseDir: filepath.Dir(path), types: f.SourceTypes}, nil
}

// EmptyGuidance returns a mapping that resolves everything to "".
func EmptyGuidance() *GuidanceMapping {
	return &GuidanceMapping{types: map[string]guidanceRule{}}
}

// Resolve returns the type-level and subtype-level guidance text for a batch.
// The subtype text is empty for the null subtype.
func (g *GuidanceMapping) Resolve(sourceType, subtype string) (typeText, subtypeText string) {
	rule, ok := g.types[sourceType]
	if !ok {
		return "", ""
	}
	typeText = g.readGuidance(rule.Default)
	if subtype != "" {
		subtypeText = g.readGuidance(rule.Subtypes[subtype])
	}
	return typeText, subtypeText
}

func (g *GuidanceMapping) readGuidance(rel string) string {
	if rel == "" {
		return ""
	}
	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.baseDir, rel)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		zap.L().Warn("contextbuild: guidance file unreadable, using empty guidance",
			zap.String("path", path), zap.Error(err))
		return ""
	}
	return string(data)
}
