package rhst

import (
	"encoding/json"
	"fmt"
	"io"
)

// RunState is the engine's lifecycle state.
type RunState string

const (
	StateConfigured      RunState = "CONFIGURED"
	StateRunning         RunState = "RUNNING"
	StateCompleted       RunState = "COMPLETED"
	StatePartiallyFailed RunState = "PARTIALLY_FAILED"
	StateAborted         RunState = "ABORTED"
)

// Terminal reports whether no further transition can happen.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StatePartiallyFailed || s == StateAborted
}

// ExitCode maps a terminal state to a process exit status.
// PARTIALLY_FAILED is a success; callers are expected to warn.
func ExitCode(s RunState) int {
	switch s {
	case StateCompleted, StatePartiallyFailed:
		return 0
	}
	return 1
}

// FeatureSetOutcome is what one repetition measured on one feature set.
type FeatureSetOutcome struct {
	FeatureSet string `json:"feature_set" yaml:"feature_set"`
	// ConfusionMatrix rows/columns follow ResultSet.Classes (classification only).
	ConfusionMatrix ConfusionMatrix `json:"confusion_matrix,omitempty" yaml:"confusion_matrix,omitempty"`
	// Residuals are prediction - target over the test partition (regression only).
	Residuals []float64 `json:"residuals,omitempty" yaml:"residuals,omitempty"`
	// Targets are the test-partition targets aligned with Residuals.
	Targets          []float64          `json:"targets,omitempty" yaml:"targets,omitempty"`
	Importances      []float64          `json:"importances,omitempty" yaml:"importances,omitempty"`
	SelectedFeatures []int              `json:"selected_features,omitempty" yaml:"selected_features,omitempty"`
	Scores           map[string]float64 `json:"scores" yaml:"scores"`
}

// RepetitionResult is the outcome of one successful repetition.
// Immutable once returned by a worker.
type RepetitionResult struct {
	Index    int                 `json:"index" yaml:"index"`
	Split    Split               `json:"split" yaml:"split"`
	Outcomes []FeatureSetOutcome `json:"outcomes" yaml:"outcomes"`
}

// FeatureSetInfo names a feature set and its features.
type FeatureSetInfo struct {
	Name         string   `json:"name" yaml:"name"`
	FeatureNames []string `json:"feature_names" yaml:"feature_names"`
}

// ResultSet is the finalized, serializable record of a run.
type ResultSet struct {
	RunID           string              `json:"run_id" yaml:"run_id"`
	Name            string              `json:"name,omitempty" yaml:"name,omitempty"`
	State           RunState            `json:"state" yaml:"state"`
	Task            Task                `json:"task" yaml:"task"`
	Classes         []string            `json:"classes,omitempty" yaml:"classes,omitempty"`
	FeatureSets     []FeatureSetInfo    `json:"feature_sets" yaml:"feature_sets"`
	Config          Config              `json:"config" yaml:"config"`
	NumRepetitions  int                 `json:"num_repetitions" yaml:"num_repetitions"`
	Repetitions     []RepetitionResult  `json:"repetitions" yaml:"repetitions"`
	Failures        []RepetitionFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
	FailureFraction float64             `json:"failure_fraction" yaml:"failure_fraction"`
	Cancelled       bool                `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	CancelReason    string              `json:"cancel_reason,omitempty" yaml:"cancel_reason,omitempty"`
	Summary         Summary             `json:"summary" yaml:"summary"`
}

// FailedIndices returns the repetition indices that failed, ascending.
func (rs *ResultSet) FailedIndices() []int {
	out := make([]int, len(rs.Failures))
	for i, f := range rs.Failures {
		out[i] = f.Index
	}
	return out
}

// Meta returns the aggregation metadata of the run.
func (rs *ResultSet) Meta() RunMeta {
	return RunMeta{Task: rs.Task, Classes: rs.Classes, FeatureSets: rs.FeatureSets}
}

// WriteJSON encodes the result set as indented JSON.
func (rs *ResultSet) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rs); err != nil {
		return fmt.Errorf("encoding result set: %w", err)
	}
	return nil
}

// ReadResultSet decodes a result set written by WriteJSON.
func ReadResultSet(r io.Reader) (*ResultSet, error) {
	var rs ResultSet
	if err := json.NewDecoder(r).Decode(&rs); err != nil {
		return nil, fmt.Errorf("decoding result set: %w", err)
	}
	return &rs, nil
}
