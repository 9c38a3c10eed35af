package rhst

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Option customizes an Engine.
type Option func(*Engine)

// WithMetrics instruments the engine.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithProgress registers a callback invoked on the collecting goroutine after
// each repetition reports.
func WithProgress(fn func(done, total int)) Option {
	return func(e *Engine) { e.progress = fn }
}

// WithDiscardOnCancel makes a cancelled run ABORTED even when some
// repetitions completed, instead of reporting a partial run.
func WithDiscardOnCancel() Option {
	return func(e *Engine) { e.discardOnCancel = true }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// WithName labels the result set (e.g. a sub-group name).
func WithName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// Engine owns one repeated-holdout run.
//
// State machine: CONFIGURED → RUNNING → {COMPLETED, PARTIALLY_FAILED, ABORTED}.
// An Engine runs at most once.
type Engine struct {
	cfg     Config
	view    *DatasetView
	splits  []Split
	builder PipelineBuilder
	key     RunKey

	metrics         *Metrics
	progress        func(done, total int)
	discardOnCancel bool
	runID           string
	name            string

	mu    sync.Mutex
	state RunState
}

// NewEngine validates the configuration and dataset, draws every split and
// preflights the pipeline on every feature set. Any error is fatal and no
// Engine is returned: *ConfigurationError, *DataIntegrityError or
// *InsufficientSamplesError.
func NewEngine(cfg Config, data *Dataset, builder PipelineBuilder, opts ...Option) (*Engine, error) {
	if builder == nil {
		return nil, NewConfigurationError("builder", "pipeline builder is nil")
	}
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	view, err := data.View()
	if err != nil {
		return nil, err
	}

	strata := ClassStrata(view)
	if view.Task == TaskRegression {
		strata = QuantileStrata(view.Targets, DefaultRegressionBins)
	}
	key := NewRunKey(cfg.Seed)
	seq, err := GenerateSplits(strata, cfg.TrainFraction, cfg.NumRepetitions, key)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		view:    view,
		splits:  seq.Collect(),
		builder: builder,
		key:     key,
		state:   StateConfigured,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}

	trainSamples := len(e.splits[0].Train)
	for _, fm := range view.Features {
		_, err := builder.Build(cfg.Pipeline, BuildSpec{
			Task:         view.Task,
			NumClasses:   len(view.Classes),
			NumFeatures:  len(fm.FeatureNames),
			TrainSamples: trainSamples,
			Seed:         key.SeedFor(SubsystemModel(-1, fm.Name)),
			Repetition:   -1,
			FeatureSet:   fm.Name,
		})
		if err != nil {
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				err = &ConfigurationError{Field: "Pipeline", Reason: fmt.Sprintf("feature set %q", fm.Name), Err: err}
			}
			return nil, err
		}
	}
	logrus.Debugf("engine %s configured: %d samples, %d feature sets, %d repetitions, train fraction %.2f",
		e.runID, view.NumSamples(), len(view.Features), len(e.splits), cfg.TrainFraction)
	return e, nil
}

// State returns the current lifecycle state. Safe for concurrent use.
func (e *Engine) State() RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s RunState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Splits returns the drawn splits in repetition order.
func (e *Engine) Splits() []Split { return e.splits }

// View returns the aligned dataset view.
func (e *Engine) View() *DatasetView { return e.view }

type repetitionOutcome struct {
	index    int
	result   *RepetitionResult
	failure  *RepetitionFailure
	duration time.Duration
}

// Run dispatches every repetition over NumProcs workers and returns the
// finalized Result Set. When the run ends ABORTED, the Result Set is nil
// and the error is ErrAllRepetitionsFailed, ErrCancelled, or the fatal cause.
func (e *Engine) Run(ctx context.Context) (*ResultSet, error) {
	e.mu.Lock()
	if e.state != StateConfigured {
		s := e.state
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is %s; a run can only start from %s", s, StateConfigured)
	}
	e.state = StateRunning
	e.mu.Unlock()

	total := len(e.splits)
	logrus.Infof("run %s: %d repetitions on %d worker(s)", e.runID, total, e.cfg.NumProcs)

	outcomes := make(chan repetitionOutcome, e.cfg.NumProcs)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.NumProcs)

	var fatal error
	go func() {
		for _, sp := range e.splits {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				start := time.Now()
				res, fail, err := RunRepetition(gctx, sp, e.view, e.cfg.Pipeline, e.builder, e.key)
				if err != nil {
					return err
				}
				outcomes <- repetitionOutcome{index: sp.Index, result: res, failure: fail, duration: time.Since(start)}
				return nil
			})
		}
		fatal = g.Wait()
		close(outcomes)
	}()

	agg := NewAggregator(e.meta())
	reported := make([]bool, total)
	done, numCancelled := 0, 0
	for o := range outcomes {
		reported[o.index] = true
		done++
		switch {
		case o.failure != nil:
			outcome := "failure"
			if o.failure.Cause == CauseCancelled {
				outcome = "cancelled"
				numCancelled++
			}
			logrus.Debugf("run %s: %v", e.runID, o.failure)
			agg.AddFailure(*o.failure)
			e.metrics.observeRepetition(outcome, o.duration)
		default:
			agg.Add(*o.result)
			e.metrics.observeRepetition("success", o.duration)
		}
		if e.progress != nil {
			e.progress(done, total)
		}
	}

	cancelReason := ""
	switch {
	case fatal != nil:
		cancelReason = fatal.Error()
	case ctx.Err() != nil:
		cancelReason = ctx.Err().Error()
	}
	for i, ok := range reported {
		if !ok {
			agg.AddFailure(RepetitionFailure{Index: i, Cause: CauseCancelled, Message: "not run: " + cancelReason})
			e.metrics.observeRepetition("cancelled", 0)
			numCancelled++
		}
	}
	cancelled := numCancelled > 0
	if !cancelled {
		cancelReason = ""
	}

	switch {
	case fatal != nil && (agg.Successful() == 0 || e.discardOnCancel):
		return e.abort(fmt.Errorf("run %s aborted: %w", e.runID, fatal))
	case cancelled && (agg.Successful() == 0 || e.discardOnCancel):
		return e.abort(fmt.Errorf("run %s: %w: %s", e.runID, ErrCancelled, cancelReason))
	case agg.Successful() == 0:
		return e.abort(fmt.Errorf("run %s: %w (%d of %d)", e.runID, ErrAllRepetitionsFailed, agg.Failed(), total))
	}

	results, failures, summary := agg.Finalize()
	state := StateCompleted
	if len(failures) > 0 {
		state = StatePartiallyFailed
		logrus.Warnf("run %s: %d of %d repetitions failed (%.1f%%)", e.runID, len(failures), total,
			100*float64(len(failures))/float64(total))
	}
	rs := &ResultSet{
		RunID:           e.runID,
		Name:            e.name,
		State:           state,
		Task:            e.view.Task,
		Classes:         append([]string(nil), e.view.Classes...),
		FeatureSets:     e.meta().FeatureSets,
		Config:          e.cfg,
		NumRepetitions:  total,
		Repetitions:     results,
		Failures:        failures,
		FailureFraction: float64(len(failures)) / float64(total),
		Cancelled:       cancelled,
		CancelReason:    cancelReason,
		Summary:         summary,
	}
	e.setState(state)
	e.metrics.observeRun(state)
	logrus.Infof("run %s finished %s: %d successful, %d failed", e.runID, state, len(results), len(failures))
	return rs, nil
}

func (e *Engine) abort(err error) (*ResultSet, error) {
	e.setState(StateAborted)
	e.metrics.observeRun(StateAborted)
	logrus.Errorf("%v", err)
	return nil, err
}

func (e *Engine) meta() RunMeta {
	infos := make([]FeatureSetInfo, len(e.view.Features))
	for i, fm := range e.view.Features {
		infos[i] = FeatureSetInfo{Name: fm.Name, FeatureNames: append([]string(nil), fm.FeatureNames...)}
	}
	return RunMeta{Task: e.view.Task, Classes: e.view.Classes, FeatureSets: infos}
}
