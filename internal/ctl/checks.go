package ctl

import (
	"errors"
	"fmt"
	"io"

	"github.com/large-farva/compliance-console/internal/submit"
)

// ErrCheckFailed is returned when a local check rejects its input, so the
// command exits non-zero.
var ErrCheckFailed = errors.New("check failed")

// CheckURLs reports which endpoints pass local URL validation.
func CheckURLs(w io.Writer, urls []string, jsonOutput bool) error {
	type result struct {
		URL   string `json:"url"`
		Valid bool   `json:"valid"`
	}
	results := make([]result, 0, len(urls))
	failed := false
	for _, u := range urls {
		ok := submit.CheckURL(u)
		failed = failed || !ok
		results = append(results, result{URL: u, Valid: ok})
	}

	if jsonOutput {
		if err := printJSON(w, results); err != nil {
			return err
		}
	} else {
		p := newPrinter(w)
		for _, r := range results {
			mark := p.style(green, "valid  ")
			if !r.Valid {
				mark = p.style(red, "invalid")
			}
			p.printf("  %s %q\n", mark, r.URL)
		}
	}
	if failed {
		return ErrCheckFailed
	}
	return nil
}

// CheckBatches reports whether a batch size and count are accepted.
func CheckBatches(w io.Writer, batchSize, numberOfBatches int, jsonOutput bool) error {
	ok := submit.CheckBatchConfig(batchSize, numberOfBatches)
	total := batchSize * numberOfBatches

	if jsonOutput {
		if err := printJSON(w, map[string]any{
			"batch_size":        batchSize,
			"number_of_batches": numberOfBatches,
			"total_samples":     total,
			"valid":             ok,
		}); err != nil {
			return err
		}
	} else {
		p := newPrinter(w)
		if ok {
			p.printf("  %s %d x %d = %d samples\n", p.style(green, "valid  "), batchSize, numberOfBatches, total)
		} else {
			p.printf("  %s %d x %d = %d samples (need %s)\n", p.style(red, "invalid"), batchSize, numberOfBatches, total,
				fmt.Sprintf("%d to %d, both positive", submit.MinTotalSamples, submit.MaxTotalSamples))
		}
	}
	if !ok {
		return ErrCheckFailed
	}
	return nil
}
