package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ResultArtifact is the final output of a completed job.
type ResultArtifact struct {
	Algorithm    string         `json:"algorithm"`
	Parameters   map[string]any `json:"parameters"`
	Code         string         `json:"code"`
	Metrics      Metrics        `json:"metrics"`
	DatasetTrain string         `json:"dataset_train"`
	DatasetTest  string         `json:"dataset_test,omitempty"`
	Stats        *DatasetStats  `json:"dataset_stats,omitempty"`
}

// Metrics holds the evaluation scores reported by the evaluator.
type Metrics struct {
	AUROC Metric `json:"auroc"`
	AUPRC Metric `json:"auprc"`
}

// DatasetStats describes the training dataset, when the backend reports it.
type DatasetStats struct {
	Samples   int `json:"n_samples"`
	Features  int `json:"n_features"`
	Anomalies int `json:"n_anomalies"`
}

// Metric is a score that may be explicitly unavailable.
// Unsupervised runs report -1 or null; both decode as not available.
type Metric struct {
	Value     float64
	Available bool
}

// Score returns an available metric.
func Score(v float64) Metric {
	return Metric{Value: v, Available: true}
}

// NotAvailable returns the "not available" marker.
func NotAvailable() Metric {
	return Metric{}
}

// String renders the metric for display.
func (m Metric) String() string {
	if !m.Available {
		return "n/a"
	}
	return strconv.FormatFloat(m.Value, 'f', 4, 64)
}

// MarshalJSON encodes an unavailable metric as null.
func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Available {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON accepts numbers, numeric strings, null, and placeholder strings such as "N/A".
func (m *Metric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*m = Metric{}

	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("metric: %w", err)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		m.set(f)
		return nil
	case '{', '[', 't', 'f':
		return fmt.Errorf("metric: unsupported value %s", string(data))
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("metric: %w", err)
	}
	m.set(f)
	return nil
}

func (m *Metric) set(f float64) {
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return
	}
	m.Value = f
	m.Available = true
}
