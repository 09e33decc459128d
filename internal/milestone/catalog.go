package milestone

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ValidateTemplates checks a service type's catalogue and returns it sorted by
// ordinal. The first milestone must be anchored at process creation and every
// chained milestone must point at an earlier ordinal.
func ValidateTemplates(serviceType string, templates []Template) ([]Template, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("%w %q", ErrTemplateNotFound, serviceType)
	}

	sorted := make([]Template, len(templates))
	copy(sorted, templates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ordinal < sorted[j].Ordinal })

	seen := make(map[int]bool, len(sorted))
	for i, t := range sorted {
		if seen[t.Ordinal] {
			return nil, fmt.Errorf("%w: %s has duplicate ordinal %d", ErrInvalidTemplate, serviceType, t.Ordinal)
		}
		seen[t.Ordinal] = true

		if _, err := ParseTriggerKind(string(t.Trigger)); err != nil {
			return nil, fmt.Errorf("%w: %s #%d: %v", ErrInvalidTemplate, serviceType, t.Ordinal, err)
		}
		if t.DurationDays < 0 || t.AnticipationDays < 0 {
			return nil, fmt.Errorf("%w: %s #%d has a negative duration or window", ErrInvalidTemplate, serviceType, t.Ordinal)
		}
		if i == 0 && t.Trigger != TriggerProcessCreated {
			return nil, fmt.Errorf("%w: %s first milestone must be anchored at process creation", ErrInvalidTemplate, serviceType)
		}
		if t.Trigger == TriggerPreviousCompleted && t.PredecessorOrdinal != 0 {
			if t.PredecessorOrdinal >= t.Ordinal || !seen[t.PredecessorOrdinal] {
				return nil, fmt.Errorf("%w: %s #%d chains off unknown or later ordinal %d",
					ErrInvalidTemplate, serviceType, t.Ordinal, t.PredecessorOrdinal)
			}
		}
	}
	return sorted, nil
}

type catalogFile struct {
	ServiceTypes map[string][]Template `yaml:"service_types"`
}

// LoadCatalogFile reads a YAML seed catalogue keyed by service type code and
// validates every entry.
func LoadCatalogFile(path string) (map[string][]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog is LoadCatalogFile over an in-memory document.
func ParseCatalog(data []byte) (map[string][]Template, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	out := make(map[string][]Template, len(f.ServiceTypes))
	for code, templates := range f.ServiceTypes {
		for i := range templates {
			templates[i].ServiceTypeCode = code
		}
		sorted, err := ValidateTemplates(code, templates)
		if err != nil {
			return nil, err
		}
		out[code] = sorted
	}
	return out, nil
}
