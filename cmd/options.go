package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/neuropredict/neuropredict/rhst"
)

// FeatureSetSource names one features CSV.
type FeatureSetSource struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// Options is the on-disk form of a run: where the cohort lives, where
// results go, and the frozen run configuration.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type Options struct {
	Task        rhst.Task          `yaml:"task"`
	Metadata    string             `yaml:"metadata"`
	FeatureSets []FeatureSetSource `yaml:"feature_sets"`
	OutDir      string             `yaml:"out_dir"`
	WriteYAML   bool               `yaml:"write_yaml"`
	TreeWorkers int                `yaml:"tree_workers"`
	MetricsFile string             `yaml:"metrics_file"`
	Config      rhst.Config        `yaml:"config"`
}

// defaultOptions returns the options used when neither a file nor a flag sets a value.
func defaultOptions(task rhst.Task) Options {
	return Options{
		Task:        task,
		OutDir:      ".",
		TreeWorkers: 1,
		Config:      rhst.DefaultConfig(task),
	}
}

// loadOptions parses an options file with strict field checking; typos are
// errors. Fields absent from the file keep the defaults of its task.
func loadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("reading options file: %w", err)
	}
	return parseOptions(data)
}

func parseOptions(data []byte) (Options, error) {
	// the task decides the defaults, so it is read first
	var head struct {
		Task rhst.Task `yaml:"task"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return Options{}, fmt.Errorf("parsing options YAML: %w", err)
	}
	if head.Task == "" {
		head.Task = rhst.TaskClassification
	}

	opts := defaultOptions(head.Task)
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&opts); err != nil {
		return Options{}, fmt.Errorf("parsing options YAML: %w", err)
	}
	opts.Config = opts.Config.Normalized()
	return opts, nil
}

// Validate checks the inputs and the run configuration.
func (o Options) Validate() error {
	switch o.Task {
	case rhst.TaskClassification, rhst.TaskRegression:
	default:
		return rhst.NewConfigurationError("task", "must be %q or %q, got %q",
			rhst.TaskClassification, rhst.TaskRegression, o.Task)
	}
	if o.Metadata == "" {
		return rhst.NewConfigurationError("metadata", "a metadata CSV is required")
	}
	if len(o.FeatureSets) == 0 {
		return rhst.NewConfigurationError("feature_sets", "at least one feature set is required")
	}
	seen := make(map[string]bool, len(o.FeatureSets))
	for i, fs := range o.FeatureSets {
		if fs.Name == "" || fs.Path == "" {
			return rhst.NewConfigurationError(fmt.Sprintf("feature_sets[%d]", i), "name and path are required")
		}
		if seen[fs.Name] {
			return rhst.NewConfigurationError(fmt.Sprintf("feature_sets[%d]", i), "duplicate feature set %q", fs.Name)
		}
		seen[fs.Name] = true
	}
	if o.TreeWorkers < 1 {
		return rhst.NewConfigurationError("tree_workers", "must be at least 1, got %d", o.TreeWorkers)
	}
	if o.Task == rhst.TaskRegression && len(o.Config.SubGroups) > 0 {
		return rhst.NewConfigurationError("config.sub_groups", "sub-groups apply to classification only")
	}
	return o.Config.Validate()
}

// parseFeatureSource splits a "name=path" flag value. A bare path is named
// after its file.
func parseFeatureSource(s string) (FeatureSetSource, error) {
	name, path, ok := strings.Cut(s, "=")
	if !ok {
		path = s
		name = featureSetNameFromPath(s)
	}
	name, path = strings.TrimSpace(name), strings.TrimSpace(path)
	if name == "" || path == "" {
		return FeatureSetSource{}, fmt.Errorf("feature set %q: expected name=path", s)
	}
	return FeatureSetSource{Name: name, Path: path}, nil
}

// parseSubGroup splits a comma-separated class list.
func parseSubGroup(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// applyRunFlags overlays every flag the user set explicitly on opts.
// Flags left at their default never override the options file.
func applyRunFlags(cmd *cobra.Command, opts *Options) error {
	flags := cmd.Flags()
	if flags.Changed("task") {
		task := rhst.Task(taskFlag)
		if task != opts.Task {
			// a task change resets the estimator default unless one was chosen
			def := rhst.DefaultConfig(task).Pipeline.Estimator
			if opts.Config.Pipeline.Estimator == rhst.DefaultConfig(opts.Task).Pipeline.Estimator {
				opts.Config.Pipeline.Estimator = def
			}
		}
		opts.Task = task
	}
	if flags.Changed("metadata") {
		opts.Metadata = metadataPath
	}
	if flags.Changed("features") {
		opts.FeatureSets = opts.FeatureSets[:0]
		for _, s := range featureSources {
			src, err := parseFeatureSource(s)
			if err != nil {
				return err
			}
			opts.FeatureSets = append(opts.FeatureSets, src)
		}
	}
	if flags.Changed("out-dir") {
		opts.OutDir = outDir
	}
	if flags.Changed("yaml") {
		opts.WriteYAML = writeYAML
	}
	if flags.Changed("tree-workers") {
		opts.TreeWorkers = treeWorkers
	}
	if flags.Changed("metrics-file") {
		opts.MetricsFile = metricsFile
	}

	cfg := &opts.Config
	if flags.Changed("train-fraction") {
		cfg.TrainFraction = trainFraction
	}
	if flags.Changed("num-repetitions") {
		cfg.NumRepetitions = numRepetitions
	}
	if flags.Changed("num-procs") {
		cfg.NumProcs = numProcs
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("estimator") {
		cfg.Pipeline.Estimator = estimator
	}
	if flags.Changed("feature-selection") {
		cfg.Pipeline.FeatureSelection = featureSelection
	}
	if flags.Changed("reduced-dim") {
		cfg.Pipeline.ReducedDim = reducedDim
	}
	if flags.Changed("grid-search-level") {
		cfg.Pipeline.GridSearchLevel = gridSearchLevel
	}
	if flags.Changed("impute-strategy") {
		cfg.Pipeline.ImputeStrategy = imputeStrategy
	}
	if flags.Changed("sub-groups") {
		cfg.SubGroups = nil
		for _, s := range subGroups {
			cfg.SubGroups = append(cfg.SubGroups, parseSubGroup(s))
		}
	}
	*cfg = cfg.Normalized()
	return nil
}
