package ctl

import (
	"io"
	"runtime"
	"strings"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// VersionInfo fetches backend version via GET /api/version and displays both
// the CLI and backend version information.
func VersionInfo(w io.Writer, baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var backend struct {
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
		BuiltAt   string `json:"built_at"`
	}
	backendErr := getJSON(baseURL, "/api/version", &backend)

	if jsonOutput {
		resp := map[string]any{
			"cli": map[string]any{
				"version":    Version,
				"go_version": runtime.Version(),
			},
		}
		if backendErr == nil {
			resp["backend"] = backend
		} else {
			resp["backend_error"] = backendErr.Error()
		}
		return printJSON(w, resp)
	}

	p := newPrinter(w)
	p.header("COMPLIANCE CONSOLE VERSION", 38)
	p.field("CLI", Version+" ("+runtime.Version()+")")
	if backendErr != nil {
		p.field("Backend", p.style(red, "unreachable: "+backendErr.Error()))
	} else {
		p.field("Backend", backend.Version+" ("+backend.GoVersion+")")
		p.field("Built", backend.BuiltAt)
	}
	p.println()

	return nil
}
