package ctl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/large-farva/compliance-console/internal/submit"
)

// RunWizard prompts for the fields of req, pre-filled with whatever req
// already holds. Metrics are offered from the catalog for the chosen task;
// when the catalog could not be loaded they are typed as a comma-separated
// list.
func RunWizard(in io.Reader, out io.Writer, catalog *submit.CatalogLoader, req submit.JobRequest, task string) (submit.JobRequest, error) {
	var (
		modelURL    = req.ModelURL
		modelKey    = req.ModelAPIKey
		datasetURL  = req.DatasetURL
		datasetKey  = req.DatasetAPIKey
		metrics     = append([]string(nil), req.Metrics...)
		metricsRaw  = strings.Join(req.Metrics, ", ")
		batchSize   = itoaOrEmpty(req.BatchSize)
		batchCount  = itoaOrEmpty(req.NumberOfBatches)
		concurrency = itoaOrEmpty(req.MaxConcurrentBatches)
	)

	checkURL := func(s string) error {
		if !submit.CheckURL(strings.TrimSpace(s)) {
			return errors.New("enter an absolute URL without spaces, or a mock endpoint")
		}
		return nil
	}

	endpoints := huh.NewGroup(
		huh.NewInput().
			Title("Model endpoint").
			Description("URL of the model API to evaluate").
			Placeholder("https://models.example.com/v1").
			Value(&modelURL).
			Validate(checkURL),
		huh.NewInput().
			Title("Model API key").
			Description("Optional").
			EchoMode(huh.EchoModePassword).
			Value(&modelKey),
		huh.NewInput().
			Title("Dataset endpoint").
			Description("URL of the dataset API to evaluate against").
			Placeholder("https://data.example.com/v1").
			Value(&datasetURL).
			Validate(checkURL),
		huh.NewInput().
			Title("Dataset API key").
			Description("Optional").
			EchoMode(huh.EchoModePassword).
			Value(&datasetKey),
	)

	var metricGroup *huh.Group
	cat, catErr := catalog.Catalog()
	fromCatalog := catErr == nil && len(cat.Tasks()) > 0
	if fromCatalog {
		if _, ok := cat.MetricsFor(task); !ok {
			task = cat.Tasks()[0]
		}
		metricGroup = huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model type").
				Options(huh.NewOptions(cat.Tasks()...)...).
				Value(&task),
			huh.NewMultiSelect[string]().
				Title("Metrics").
				OptionsFunc(func() []huh.Option[string] {
					ms, _ := cat.MetricsFor(task)
					return huh.NewOptions(ms...)
				}, &task).
				Value(&metrics).
				Validate(func(ms []string) error {
					if len(ms) == 0 {
						return errors.New("select at least one metric")
					}
					return nil
				}),
		)
	} else {
		metricGroup = huh.NewGroup(
			huh.NewInput().
				Title("Metrics").
				Description("Comma-separated metric names (the catalog is unavailable)").
				Value(&metricsRaw).
				Validate(func(s string) error {
					if len(splitAndTrim(s)) == 0 {
						return errors.New("enter at least one metric")
					}
					return nil
				}),
		)
	}

	batches := huh.NewGroup(
		huh.NewInput().
			Title("Batch size").
			Value(&batchSize).
			Validate(positive),
		huh.NewInput().
			Title("Number of batches").
			Description(fmt.Sprintf("Batch size times batches must be %d to %d", submit.MinTotalSamples, submit.MaxTotalSamples)).
			Value(&batchCount).
			Validate(func(s string) error {
				if err := positive(s); err != nil {
					return err
				}
				size, _ := strconv.Atoi(strings.TrimSpace(batchSize))
				n, _ := strconv.Atoi(strings.TrimSpace(s))
				if !submit.CheckBatchConfig(size, n) {
					return fmt.Errorf("%d samples is outside %d to %d", size*n, submit.MinTotalSamples, submit.MaxTotalSamples)
				}
				return nil
			}),
		huh.NewInput().
			Title("Max concurrent batches").
			Placeholder("1").
			Value(&concurrency),
	)

	form := huh.NewForm(endpoints, metricGroup, batches).
		WithInput(in).
		WithOutput(out)

	// Use accessible mode for non-TTY input (e.g., piped input).
	if f, ok := in.(*os.File); !ok || !isatty.IsTerminal(f.Fd()) {
		form = form.WithAccessible(true)
	}

	if err := form.Run(); err != nil {
		return req, fmt.Errorf("wizard failed: %w", err)
	}

	req.ModelURL = strings.TrimSpace(modelURL)
	req.ModelAPIKey = modelKey
	req.DatasetURL = strings.TrimSpace(datasetURL)
	req.DatasetAPIKey = datasetKey
	if fromCatalog {
		req.Metrics = metrics
	} else {
		req.Metrics = splitAndTrim(metricsRaw)
	}
	req.BatchSize, _ = strconv.Atoi(strings.TrimSpace(batchSize))
	req.NumberOfBatches, _ = strconv.Atoi(strings.TrimSpace(batchCount))
	req.MaxConcurrentBatches, _ = strconv.Atoi(strings.TrimSpace(concurrency))
	return req, nil
}

func positive(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return errors.New("enter a whole number of at least 1")
	}
	return nil
}

func itoaOrEmpty(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, p := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
