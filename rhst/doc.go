// Package rhst implements repeated holdout with stratified training sets:
// the evaluation engine that repeatedly splits a cohort, fits a fresh
// pipeline on each training partition, scores it on the held-out partition
// and aggregates the per-repetition results.
//
// # Reading Guide
//
// Start with these files:
//   - split.go: stratified split generation and the lazy SplitSequence
//   - worker.go: one repetition (fit, predict, confusion matrix or residuals)
//   - engine.go: the state machine, worker pool and result collection
//   - aggregate.go: reduction of repetitions into a Summary
//
// # Architecture
//
// The rhst package defines the engine and the capability interfaces it
// consumes; estimator implementations live in sub-packages:
//   - rhst/model/: pipeline builder, estimators, feature selection, grid search, imputation
//
// # Key Interfaces
//
//   - PipelineBuilder: builds a fresh, unfitted Pipeline per (repetition, feature set)
//   - Pipeline: Fit/Predict
//   - ImportanceReporter, SelectionReporter: optional outputs of a fitted pipeline
//
// # Reproducibility
//
// Every random draw derives its seed from the run seed and a subsystem name
// (see rng.go), so split i and the estimator seed of repetition i do not
// depend on scheduling or on the number of workers.
package rhst
