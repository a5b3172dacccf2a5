// Package submit starts evaluation jobs on the backend and loads the metric
// catalog the wizard offers. Requests are validated locally first; nothing
// invalid ever reaches the network.
package submit

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Batch totals accepted by the backend.
const (
	MinTotalSamples = 1000
	MaxTotalSamples = 10000
)

// MockEndpoints always pass URL validation. The reference backend serves
// synthetic results for them.
var MockEndpoints = []string{
	"mock-model",
	"mock-dataset",
	"mock-model-flaky",
}

// JobRequest is the body of an evaluation request.
type JobRequest struct {
	DatasetURL           string   `json:"dataset_url"            yaml:"dataset_url"            validate:"required,evalurl"`
	DatasetAPIKey        string   `json:"dataset_api_key"        yaml:"dataset_api_key"`
	ModelURL             string   `json:"model_url"              yaml:"model_url"              validate:"required,evalurl"`
	ModelAPIKey          string   `json:"model_api_key"          yaml:"model_api_key"`
	Metrics              []string `json:"metrics"                yaml:"metrics"                validate:"required,min=1,dive,required"`
	NumberOfBatches      int      `json:"number_of_batches"      yaml:"number_of_batches"      validate:"gte=1"`
	BatchSize            int      `json:"batch_size"             yaml:"batch_size"             validate:"gte=1"`
	MaxConcurrentBatches int      `json:"max_concurrent_batches" yaml:"max_concurrent_batches" validate:"gte=1"`
}

// CheckURL reports whether raw is acceptable as a model or dataset endpoint:
// a non-empty absolute URL with no literal %20. Mock endpoints always pass.
func CheckURL(raw string) bool {
	for _, m := range MockEndpoints {
		if raw == m {
			return true
		}
	}
	if raw == "" || strings.Contains(raw, "%20") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// CheckBatchConfig reports whether a batch size and batch count are both
// positive with a total sample count within the accepted range.
func CheckBatchConfig(batchSize, numberOfBatches int) bool {
	if batchSize < 1 || numberOfBatches < 1 {
		return false
	}
	if batchSize > MaxTotalSamples/numberOfBatches {
		return false
	}
	total := batchSize * numberOfBatches
	return total >= MinTotalSamples && total <= MaxTotalSamples
}

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New(validator.WithRequiredStructEnabled())
	requestValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = requestValidate.RegisterValidation("evalurl", func(fl validator.FieldLevel) bool {
		return CheckURL(fl.Field().String())
	})
	requestValidate.RegisterStructValidation(validateBatchTotal, JobRequest{})
}

func validateBatchTotal(sl validator.StructLevel) {
	r := sl.Current().Interface().(JobRequest)
	if r.BatchSize < 1 || r.NumberOfBatches < 1 {
		return // reported by the field rules
	}
	if !CheckBatchConfig(r.BatchSize, r.NumberOfBatches) {
		sl.ReportError(r.BatchSize, "batch_size", "BatchSize", "batchtotal", "")
	}
}

// FieldError is one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed local validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// For returns the message for field, or "" when the field passed.
func (e *ValidationError) For(field string) string {
	for _, f := range e.Fields {
		if f.Field == field {
			return f.Message
		}
	}
	return ""
}

// Validate checks the request locally. It returns a *ValidationError naming
// every offending field.
func (r JobRequest) Validate() error {
	err := requestValidate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   fe.Field(),
			Message: fieldMessage(fe),
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "evalurl":
		return "must be a valid URL without spaces"
	case "min":
		return "must contain at least " + fe.Param() + " entry"
	case "gte":
		return "must be at least " + fe.Param()
	case "batchtotal":
		return fmt.Sprintf("times number_of_batches must be between %d and %d", MinTotalSamples, MaxTotalSamples)
	default:
		return "failed " + fe.Tag()
	}
}
