package app

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/large-farva/compliance-console/internal/submit"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// loadCatalog reads the task to metric map from path, or the built-in one
// when path is empty. JSON files parse too.
func loadCatalog(path string) (submit.Catalog, error) {
	raw := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return submit.Catalog{}, fmt.Errorf("read catalog: %w", err)
		}
		raw = b
	}

	var cat submit.Catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return submit.Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if len(cat.TaskToMetricMap) == 0 {
		return submit.Catalog{}, errors.New("catalog has no tasks")
	}
	for task, ms := range cat.TaskToMetricMap {
		if len(ms) == 0 {
			return submit.Catalog{}, fmt.Errorf("catalog task %q has no metrics", task)
		}
	}
	return cat, nil
}

func knownMetrics(cat submit.Catalog) map[string]struct{} {
	known := map[string]struct{}{}
	for _, ms := range cat.TaskToMetricMap {
		for _, m := range ms {
			known[m] = struct{}{}
		}
	}
	return known
}
