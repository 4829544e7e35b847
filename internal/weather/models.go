package weather

import (
	"time"
)

// Report is the value form of a Record, kept in history after the record is released.
type Report struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"` // always UTC
	Location    string    `json:"location"`
	Condition   string    `json:"condition"`
	Wind        string    `json:"wind"`
	Temperature float64   `json:"temperatureC"`
	Humidity    int       `json:"humidityPercent"`

	// Missing lists response fields that were absent and filled by policy.
	Missing []Field `json:"missing,omitempty"`
}

// CycleResult describes the outcome of one reporting cycle.
type CycleResult struct {
	ID       string        `json:"id"`
	Trigger  string        `json:"trigger"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Step     Step          `json:"step,omitempty"` // failing step, empty on success
	Err      error         `json:"-"`
	Report   *Report       `json:"report,omitempty"`
}

// Step names a stage of the reporting cycle.
type Step string

const (
	StepFetch   Step = "fetch"
	StepExtract Step = "extract"
	StepReport  Step = "report"
	StepLED     Step = "led"
)
