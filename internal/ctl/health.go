package ctl

import (
	"encoding/json"
	"io"
	"sort"
	"strings"
)

// Health checks backend liveness via GET /healthz, asking for the detailed
// component checks.
func Health(w io.Writer, baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	status, body, err := getRaw(baseURL, "/healthz", "application/json")
	if err != nil {
		if jsonOutput {
			return printJSON(w, map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	var detail struct {
		Healthy bool                      `json:"healthy"`
		Checks  map[string]map[string]any `json:"checks"`
	}
	_ = json.Unmarshal(body, &detail)
	healthy := status == 200

	if jsonOutput {
		return printJSON(w, map[string]any{"healthy": healthy, "url": baseURL, "checks": detail.Checks})
	}

	p := newPrinter(w)
	p.println()
	if healthy {
		p.printf("  %s  backend is reachable at %s\n", p.style(green, "HEALTHY"), p.style(dim, baseURL))
	} else {
		p.printf("  %s  backend returned HTTP %d at %s\n", p.style(red, "UNHEALTHY"), status, p.style(dim, baseURL))
	}

	names := make([]string, 0, len(detail.Checks))
	for name := range detail.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := detail.Checks[name]
		mark := p.style(green, "ok")
		if ok, _ := check["ok"].(bool); !ok {
			mark = p.style(red, "FAIL")
		}
		p.printf("    %s %s\n", padRight(name, 14), mark)
	}
	p.println()

	return nil
}
