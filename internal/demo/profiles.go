package demo

import (
	"math"
)

// profile describes how a simulated metric behaves and what it is judged
// against.
type profile struct {
	Property string
	Ideal    float64
	Lower    float64
	Upper    float64
	Typical  float64
	Spread   float64
}

var inf = math.Inf(1)

var profiles = map[string]profile{
	"accuracy":           {"Performance", 1, 0.8, inf, 0.87, 0.06},
	"precision":          {"Performance", 1, 0.7, inf, 0.82, 0.08},
	"recall":             {"Performance", 1, 0.7, inf, 0.79, 0.09},
	"f1_score":           {"Performance", 1, 0.7, inf, 0.8, 0.07},
	"answer_relevancy":   {"Performance", 1, 0.7, inf, 0.76, 0.1},
	"mae":                {"Performance", 0, -inf, 5, 3.2, 1.5},
	"rmse":               {"Performance", 0, -inf, 5, 4.1, 1.8},
	"r2_score":           {"Performance", 1, 0.6, 1, 0.71, 0.12},
	"demographic_parity": {"Fairness", 0, -0.1, 0.1, 0.03, 0.08},
	"equal_opportunity":  {"Fairness", 0, -0.1, 0.1, -0.02, 0.07},
	"bias_score":         {"Fairness", 0, -inf, 0.2, 0.12, 0.1},
	"toxicity":           {"Safety", 0, -inf, 0.05, 0.02, 0.03},
	"hallucination_rate": {"Robustness", 0, -inf, 0.1, 0.07, 0.05},
}

var fallback = profile{"General", 1, 0, 1, 0.75, 0.15}

func profileFor(metric string) profile {
	if p, ok := profiles[metric]; ok {
		return p
	}
	return fallback
}

type article struct {
	Number      string
	Title       string
	Description string
}

var articles = map[string]article{
	"Performance": {"15", "Accuracy, robustness and cybersecurity",
		"High-risk AI systems shall achieve an appropriate level of accuracy and perform consistently throughout their lifecycle."},
	"Robustness": {"15", "Accuracy, robustness and cybersecurity",
		"High-risk AI systems shall be resilient regarding errors, faults or inconsistencies that may occur within the system."},
	"Fairness": {"10", "Data and data governance",
		"Training, validation and testing data sets shall be examined in view of possible biases likely to lead to discrimination."},
	"Safety": {"9", "Risk management system",
		"Risks to health, safety or fundamental rights shall be identified, estimated and mitigated."},
	"General": {"13", "Transparency and provision of information to deployers",
		"High-risk AI systems shall be sufficiently transparent to enable deployers to interpret the output and use it appropriately."},
}
