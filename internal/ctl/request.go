package ctl

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/large-farva/compliance-console/internal/submit"
)

// LoadRequest reads a job request from a YAML (or JSON) file using the wire
// field names.
func LoadRequest(path string) (submit.JobRequest, error) {
	var req submit.JobRequest
	b, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("read request: %w", err)
	}
	if err := yaml.Unmarshal(b, &req); err != nil {
		return req, fmt.Errorf("parse request %s: %w", path, err)
	}
	return req, nil
}

// overlay returns base with every non-zero field of top applied over it.
func overlay(base, top submit.JobRequest) submit.JobRequest {
	if top.DatasetURL != "" {
		base.DatasetURL = top.DatasetURL
	}
	if top.DatasetAPIKey != "" {
		base.DatasetAPIKey = top.DatasetAPIKey
	}
	if top.ModelURL != "" {
		base.ModelURL = top.ModelURL
	}
	if top.ModelAPIKey != "" {
		base.ModelAPIKey = top.ModelAPIKey
	}
	if len(top.Metrics) > 0 {
		base.Metrics = top.Metrics
	}
	if top.NumberOfBatches != 0 {
		base.NumberOfBatches = top.NumberOfBatches
	}
	if top.BatchSize != 0 {
		base.BatchSize = top.BatchSize
	}
	if top.MaxConcurrentBatches != 0 {
		base.MaxConcurrentBatches = top.MaxConcurrentBatches
	}
	return base
}

// incomplete reports whether req lacks a field the wizard asks for.
func incomplete(req submit.JobRequest) bool {
	return req.ModelURL == "" || req.DatasetURL == "" || len(req.Metrics) == 0 ||
		req.BatchSize == 0 || req.NumberOfBatches == 0
}
