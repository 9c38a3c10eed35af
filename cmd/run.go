package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/neuropredict/neuropredict/rhst"
	"github.com/neuropredict/neuropredict/rhst/model"
)

const (
	resultsJSON = "results.json"
	resultsYAML = "results.yaml"
)

var (
	// inputs and outputs
	optionsPath    string   // YAML options file
	taskFlag       string   // classification or regression
	metadataPath   string   // metadata CSV
	featureSources []string // name=path per feature set
	outDir         string   // directory for result files
	writeYAML      bool     // also write results.yaml
	metricsFile    string   // Prometheus textfile written after the run
	treeWorkers    int      // concurrent trees inside one forest

	// run configuration
	trainFraction    float64
	numRepetitions   int
	numProcs         int
	seed             int64
	estimator        string
	featureSelection string
	reducedDim       string
	gridSearchLevel  string
	imputeStrategy   string
	subGroups        []string
	discardOnCancel  bool
)

// runCmd evaluates every feature set with repeated stratified holdout
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate feature sets with repeated holdout",
	Run: func(cmd *cobra.Command, args []string) {
		opts, err := resolveOptions(cmd)
		if err != nil {
			logrus.Fatalf("Invalid options: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		code, err := runAnalysis(ctx, opts)
		if err != nil {
			logrus.Errorf("%v", err)
		}
		if code != 0 {
			stop()
			os.Exit(code)
		}
	},
}

// resolveOptions merges defaults, the options file and explicit flags, then validates.
func resolveOptions(cmd *cobra.Command) (Options, error) {
	opts := defaultOptions(rhst.Task(taskFlag))
	if optionsPath != "" {
		loaded, err := loadOptions(optionsPath)
		if err != nil {
			return Options{}, err
		}
		opts = loaded
	}
	if err := applyRunFlags(cmd, &opts); err != nil {
		return Options{}, err
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// runPlan is one engine run: the cohort it sees and where its results go.
type runPlan struct {
	name string
	data *rhst.Dataset
	dir  string
}

func planRuns(opts Options, data *rhst.Dataset) []runPlan {
	if len(opts.Config.SubGroups) == 0 {
		return []runPlan{{data: data, dir: opts.OutDir}}
	}
	plans := make([]runPlan, 0, len(opts.Config.SubGroups))
	for _, group := range opts.Config.SubGroups {
		name := rhst.SubGroupName(group)
		plans = append(plans, runPlan{name: name, data: data.Subset(group), dir: filepath.Join(opts.OutDir, name)})
	}
	return plans
}

// runAnalysis loads the cohort, runs every plan and writes its results. The
// returned exit code is the worst over all runs; a fatal setup error is 1.
func runAnalysis(ctx context.Context, opts Options) (int, error) {
	data, err := loadDataset(opts.Task, opts.Metadata, opts.FeatureSets)
	if err != nil {
		return 1, err
	}

	reg := prometheus.NewRegistry()
	metrics := rhst.NewMetrics(reg)
	builder := model.NewBuilder(model.WithTreeWorkers(opts.TreeWorkers))

	code := 0
	var firstErr error
	for _, plan := range planRuns(opts, data) {
		rs, err := runOne(ctx, opts, plan, builder, metrics)
		if err != nil {
			code = 1
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		code = max(code, rhst.ExitCode(rs.State))
	}

	if opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, reg); err != nil {
			logrus.Warnf("writing metrics file: %v", err)
		}
	}
	return code, firstErr
}

func runOne(ctx context.Context, opts Options, plan runPlan, builder rhst.PipelineBuilder, metrics *rhst.Metrics) (*rhst.ResultSet, error) {
	cfg := opts.Config
	cfg.SubGroups = nil

	engineOpts := []rhst.Option{
		rhst.WithMetrics(metrics),
		rhst.WithName(plan.name),
		rhst.WithProgress(logProgress(plan.name)),
	}
	if discardOnCancel {
		engineOpts = append(engineOpts, rhst.WithDiscardOnCancel())
	}
	e, err := rhst.NewEngine(cfg, plan.data, builder, engineOpts...)
	if err != nil {
		return nil, describeRun(plan.name, err)
	}
	rs, err := e.Run(ctx)
	if err != nil {
		return nil, describeRun(plan.name, err)
	}
	if rs.State == rhst.StatePartiallyFailed {
		logrus.Warnf("%d of %d repetitions failed; results cover the rest", len(rs.Failures), rs.NumRepetitions)
	}
	paths, err := writeResults(plan.dir, rs, opts.WriteYAML)
	if err != nil {
		return nil, describeRun(plan.name, err)
	}
	for _, p := range paths {
		logrus.Infof("results written to %s", p)
	}
	return rs, nil
}

func describeRun(name string, err error) error {
	if name == "" {
		return err
	}
	return fmt.Errorf("sub-group %s: %w", name, err)
}

// logProgress reports roughly every tenth of the run.
func logProgress(name string) func(done, total int) {
	return func(done, total int) {
		step := max(total/10, 1)
		if done%step == 0 || done == total {
			logrus.Infof("%s%d/%d repetitions done", prefix(name), done, total)
		}
	}
}

func prefix(name string) string {
	if name == "" {
		return ""
	}
	return name + ": "
}

// writeResults stores rs under dir and returns the written paths.
func writeResults(dir string, rs *rhst.ResultSet, withYAML bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	jsonPath := filepath.Join(dir, resultsJSON)
	if err := writeFile(jsonPath, func(f *os.File) error { return rs.WriteJSON(f) }); err != nil {
		return nil, err
	}
	paths := []string{jsonPath}
	if withYAML {
		yamlPath := filepath.Join(dir, resultsYAML)
		err := writeFile(yamlPath, func(f *os.File) error {
			enc := yaml.NewEncoder(f)
			enc.SetIndent(2)
			if err := enc.Encode(rs); err != nil {
				return fmt.Errorf("encoding result set: %w", err)
			}
			return enc.Close()
		})
		if err != nil {
			return nil, err
		}
		paths = append(paths, yamlPath)
	}
	return paths, nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

// validateConfigCmd checks options, data and pipeline feasibility without running
var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Check options, data and pipeline feasibility without running",
	Run: func(cmd *cobra.Command, args []string) {
		opts, err := resolveOptions(cmd)
		if err != nil {
			logrus.Fatalf("Invalid options: %v", err)
		}
		if err := validateRun(opts); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
	},
}

// validateRun loads the cohort and constructs every engine, which draws the
// splits and preflights the pipeline, but runs no repetition.
func validateRun(opts Options) error {
	data, err := loadDataset(opts.Task, opts.Metadata, opts.FeatureSets)
	if err != nil {
		return err
	}
	builder := model.NewBuilder(model.WithTreeWorkers(opts.TreeWorkers))
	for _, plan := range planRuns(opts, data) {
		cfg := opts.Config
		cfg.SubGroups = nil
		e, err := rhst.NewEngine(cfg, plan.data, builder, rhst.WithName(plan.name))
		if err != nil {
			return describeRun(plan.name, err)
		}
		logrus.Infof("%s%d samples, %d feature set(s), %d repetitions of %d training samples",
			prefix(plan.name), e.View().NumSamples(), len(e.View().Features), len(e.Splits()), len(e.Splits()[0].Train))
	}
	return nil
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&optionsPath, "options", "", "YAML options file; explicit flags override it")
	cmd.Flags().StringVar(&taskFlag, "task", string(rhst.TaskClassification), "Task (classification, regression)")
	cmd.Flags().StringVar(&metadataPath, "metadata", "", "Metadata CSV: id and class (or target) per sample")
	cmd.Flags().StringArrayVar(&featureSources, "features", nil, "Feature set as name=path to a CSV; repeatable")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "Directory for result files")
	cmd.Flags().BoolVar(&writeYAML, "yaml", false, "Also write results as YAML")
	cmd.Flags().IntVar(&treeWorkers, "tree-workers", 1, "Concurrent trees inside one forest")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile after the run")

	cmd.Flags().Float64Var(&trainFraction, "train-fraction", rhst.DefaultTrainFraction, "Fraction of each class used for training")
	cmd.Flags().IntVar(&numRepetitions, "num-repetitions", rhst.DefaultNumRepetitions, "Number of holdout repetitions")
	cmd.Flags().IntVar(&numProcs, "num-procs", rhst.DefaultNumProcs, "Concurrent repetitions")
	cmd.Flags().Int64Var(&seed, "seed", rhst.DefaultSeed, "Seed for split generation and model randomness")
	cmd.Flags().StringVar(&estimator, "estimator", rhst.DefaultClassifier, "Estimator name")
	cmd.Flags().StringVar(&featureSelection, "feature-selection", rhst.DefaultFeatureSelection, "Feature selection method")
	cmd.Flags().StringVar(&reducedDim, "reduced-dim", rhst.DefaultReducedDim, "Features kept by selection (tenth, sqrt, log2, all, or a count)")
	cmd.Flags().StringVar(&gridSearchLevel, "grid-search-level", rhst.DefaultGridSearchLevel, "Hyper-parameter search (none, light, exhaustive)")
	cmd.Flags().StringVar(&imputeStrategy, "impute-strategy", rhst.DefaultImputeStrategy, "Missing value handling (raise, mean, median, most_frequent)")
	cmd.Flags().StringArrayVar(&subGroups, "sub-groups", nil, "Comma-separated classes evaluated as a separate run; repeatable")
}

func init() {
	addRunFlags(runCmd)
	runCmd.Flags().BoolVar(&discardOnCancel, "discard-on-cancel", false, "Report no results when the run is interrupted")
	addRunFlags(validateConfigCmd)
}
