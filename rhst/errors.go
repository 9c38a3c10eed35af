package rhst

import (
	"errors"
	"fmt"
)

// ErrAllRepetitionsFailed is returned by Engine.Run when no repetition produced a result.
var ErrAllRepetitionsFailed = errors.New("all repetitions failed")

// ErrCancelled marks a run stopped before every repetition was dispatched.
var ErrCancelled = errors.New("run cancelled")

// ConfigurationError reports an invalid or infeasible run configuration.
// Fatal: raised before any repetition runs, or mid-run to cancel the remainder.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += " in " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InsufficientSamplesError reports a class (or regression bin) with too few
// members to appear in both partitions of a stratified split.
type InsufficientSamplesError struct {
	Stratum string
	Count   int
	Need    int
}

func (e *InsufficientSamplesError) Error() string {
	return fmt.Sprintf("insufficient samples: stratum %q has %d member(s), need at least %d", e.Stratum, e.Count, e.Need)
}

// DataIntegrityError reports an inconsistent dataset (missing sample ids,
// misaligned labels, ragged feature vectors).
type DataIntegrityError struct {
	FeatureSet string
	SampleID   string
	Reason     string
}

func (e *DataIntegrityError) Error() string {
	switch {
	case e.FeatureSet != "" && e.SampleID != "":
		return fmt.Sprintf("data integrity: feature set %q, sample %q: %s", e.FeatureSet, e.SampleID, e.Reason)
	case e.FeatureSet != "":
		return fmt.Sprintf("data integrity: feature set %q: %s", e.FeatureSet, e.Reason)
	case e.SampleID != "":
		return fmt.Sprintf("data integrity: sample %q: %s", e.SampleID, e.Reason)
	}
	return "data integrity: " + e.Reason
}

// FailureCause tags why a single repetition failed.
type FailureCause string

const (
	CauseFit           FailureCause = "fit"
	CausePredict       FailureCause = "predict"
	CausePanic         FailureCause = "panic"
	CauseInvalidOutput FailureCause = "invalid_output"
	CauseCancelled     FailureCause = "cancelled"
)

// RepetitionFailure is the typed outcome of a repetition whose fit or predict
// step failed. It is recorded in the Result Set, never retried.
type RepetitionFailure struct {
	Index      int          `json:"index" yaml:"index"`
	Cause      FailureCause `json:"cause" yaml:"cause"`
	FeatureSet string       `json:"feature_set,omitempty" yaml:"feature_set,omitempty"`
	Message    string       `json:"message,omitempty" yaml:"message,omitempty"`
}

func (f *RepetitionFailure) Error() string {
	if f.FeatureSet != "" {
		return fmt.Sprintf("repetition %d (%s) failed at %s: %s", f.Index, f.FeatureSet, f.Cause, f.Message)
	}
	return fmt.Sprintf("repetition %d failed at %s: %s", f.Index, f.Cause, f.Message)
}

// IsFatal reports whether err must abort the run rather than be contained
// as a single repetition failure.
func IsFatal(err error) bool {
	var ce *ConfigurationError
	var ie *InsufficientSamplesError
	var de *DataIntegrityError
	return errors.As(err, &ce) || errors.As(err, &ie) || errors.As(err, &de)
}
