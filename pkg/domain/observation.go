package domain

import "time"

// Observation is the structured post-mutation report collected on the client.
type Observation struct {
	Summary       string `json:"summary"`
	ErrorOccurred bool   `json:"error_occurred"`
	ErrorMessage  string `json:"error_message,omitempty"`

	// VisualChangeScore is bounded to [0, 1].
	VisualChangeScore  float64            `json:"visual_change_score"`
	PerformanceMetrics map[string]float64 `json:"performance_metrics,omitempty"`

	// Screenshot is a data URL, empty when the host could not capture one.
	Screenshot string    `json:"screenshot,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Clone returns a deep copy of the observation.
func (o *Observation) Clone() *Observation {
	if o == nil {
		return nil
	}
	c := *o
	if o.PerformanceMetrics != nil {
		c.PerformanceMetrics = make(map[string]float64, len(o.PerformanceMetrics))
		for k, v := range o.PerformanceMetrics {
			c.PerformanceMetrics[k] = v
		}
	}
	return &c
}

// PageReport is what the host reports about the rendered page at sampling time.
type PageReport struct {
	ErrorLog          []string           `json:"error_log,omitempty"`
	FailedImages      []string           `json:"failed_images,omitempty"`
	FailedStylesheets []string           `json:"failed_stylesheets,omitempty"`
	Metrics           map[string]float64 `json:"metrics,omitempty"`
	Screenshot        string             `json:"screenshot,omitempty"`
}

// Failed reports whether any failure signal is present.
func (p PageReport) Failed() bool {
	return len(p.ErrorLog) > 0 || len(p.FailedImages) > 0 || len(p.FailedStylesheets) > 0
}
