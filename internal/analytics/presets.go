package analytics

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/kpi-atlas/internal/kpi"
)

// Preset is a named combination of cluster features.
type Preset struct {
	Key         string   `yaml:"key" json:"key"`
	Label       string   `yaml:"label" json:"label"`
	Features    []string `yaml:"features" json:"features"`
	Description string   `yaml:"description" json:"description,omitempty"`
}

// DefaultPresets are the feature combinations offered when no presets file
// is configured.
func DefaultPresets() []Preset {
	return []Preset{
		{
			Key:         "jur-vs-nat",
			Label:       "Juristische vs. Natürliche Personen Steuer",
			Features:    []string{"Anteil JurPers Stuer", "Anteil NatPers Steuer"},
			Description: "Tax shares of legal versus natural persons.",
		},
		{
			Key:         "founding-vs-jobs",
			Label:       "Neugründungen vs. Beschäftigte",
			Features:    []string{"Anzahl Neugründungen Unternehmen", "Anzahl Beschäftigte"},
			Description: "Company formation against employment.",
		},
		{
			Key:         "steuerfuss-vs-jus",
			Label:       "Steuerfuss vs. Steuerfuss jur. Personen",
			Features:    []string{"Steuerfuss", "Steuerfuss JusPers"},
			Description: "Tax rate for residents against the rate for companies.",
		},
	}
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// LoadPresets reads presets from a YAML file with a top-level "presets"
// list. An empty path returns DefaultPresets.
func LoadPresets(path string) ([]Preset, error) {
	if path == "" {
		return DefaultPresets(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "analytics: read presets %s", path)
	}
	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "analytics: parse presets %s", path)
	}
	seen := make(map[string]bool, len(f.Presets))
	for _, p := range f.Presets {
		if p.Key == "" {
			return nil, eris.Errorf("analytics: preset without key in %s", path)
		}
		if seen[p.Key] {
			return nil, eris.Errorf("analytics: duplicate preset %q in %s", p.Key, path)
		}
		seen[p.Key] = true
		if err := ValidateFeatures(p.Features); err != nil {
			return nil, eris.Wrapf(err, "analytics: preset %q", p.Key)
		}
	}
	return f.Presets, nil
}

// FindPreset looks a preset up by key.
func FindPreset(presets []Preset, key string) (Preset, bool) {
	for _, p := range presets {
		if p.Key == key {
			return p, true
		}
	}
	return Preset{}, false
}

// ValidateFeatures checks that 2 or 3 distinct, non-empty feature names
// were given.
func ValidateFeatures(features []string) error {
	if len(features) < 2 || len(features) > 3 {
		return kpi.Invalidf("cluster needs 2 or 3 features, got %d", len(features))
	}
	seen := make(map[string]bool, len(features))
	for _, f := range features {
		if strings.TrimSpace(f) == "" {
			return kpi.Invalidf("empty feature name")
		}
		if seen[f] {
			return kpi.Invalidf("duplicate feature %q", f)
		}
		seen[f] = true
	}
	return nil
}
