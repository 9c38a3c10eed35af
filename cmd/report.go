package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neuropredict/neuropredict/rhst"
)

// topFeatures is how many ranked features the report lists per feature set.
const topFeatures = 5

var recompute bool

var reportCmd = &cobra.Command{
	Use:   "report <results.json>...",
	Short: "Print the configuration and summary of saved runs",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		for _, path := range args {
			rs, err := readResultFile(path)
			if err != nil {
				logrus.Fatalf("Failed to read results: %v", err)
			}
			if recompute {
				rs.Summary = rs.Recompute()
			}
			writeReport(cmd.OutOrStdout(), rs)
		}
	},
}

func readResultFile(path string) (*rhst.ResultSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	rs, err := rhst.ReadResultSet(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

func stateColor(s rhst.RunState) *color.Color {
	switch s {
	case rhst.StateCompleted:
		return color.New(color.FgGreen, color.Bold)
	case rhst.StatePartiallyFailed:
		return color.New(color.FgYellow, color.Bold)
	}
	return color.New(color.FgRed, color.Bold)
}

// writeReport renders a human-readable summary of rs.
func writeReport(w io.Writer, rs *rhst.ResultSet) {
	cyan := color.New(color.FgCyan).SprintFunc()

	title := rs.RunID
	if rs.Name != "" {
		title = fmt.Sprintf("%s (%s)", rs.Name, rs.RunID)
	}
	fmt.Fprintf(w, "%s %s  %s\n", cyan("Run"), title, stateColor(rs.State).Sprint(rs.State))
	fmt.Fprintf(w, "task: %s", rs.Task)
	if len(rs.Classes) > 0 {
		fmt.Fprintf(w, "  classes: %s", strings.Join(rs.Classes, ", "))
	}
	fmt.Fprintln(w)

	cfg := rs.Config
	fmt.Fprintf(w, "config: train_fraction=%.2f repetitions=%d seed=%d estimator=%s feature_selection=%s reduced_dim=%s grid_search=%s impute=%s\n",
		cfg.TrainFraction, cfg.NumRepetitions, cfg.Seed, cfg.Pipeline.Estimator, cfg.Pipeline.FeatureSelection,
		cfg.Pipeline.ReducedDim, cfg.Pipeline.GridSearchLevel, cfg.Pipeline.ImputeStrategy)
	fmt.Fprintf(w, "repetitions: %d successful, %d failed (%.1f%%)\n",
		rs.Summary.Successful, rs.Summary.Failed, 100*rs.FailureFraction)
	if rs.Cancelled {
		fmt.Fprintf(w, "%s %s\n", color.YellowString("cancelled:"), rs.CancelReason)
	}

	for i, fs := range rs.Summary.FeatureSets {
		fmt.Fprintf(w, "\n%s %s\n", cyan("Feature set"), fs.FeatureSet)
		writeMetrics(w, fs)
		if rs.Task == rhst.TaskClassification && len(fs.PooledConfusion) > 0 {
			writeConfusion(w, rs.Classes, fs.PooledConfusion)
		}
		var names []string
		if i < len(rs.FeatureSets) {
			names = rs.FeatureSets[i].FeatureNames
		}
		writeImportance(w, fs, names)
	}

	if len(rs.Failures) > 0 {
		fmt.Fprintf(w, "\n%s\n", color.RedString("Failures"))
		for _, f := range rs.Failures {
			fmt.Fprintf(w, "  %v\n", &f)
		}
	}
}

func writeMetrics(w io.Writer, fs rhst.FeatureSetSummary) {
	names := make([]string, 0, len(fs.Metrics))
	for name := range fs.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range names {
		d := fs.Metrics[name]
		fmt.Fprintf(tw, "  %s\t%.4f\t± %.4f\n", name, d.Mean, d.Std)
	}
	_ = tw.Flush()
}

func writeConfusion(w io.Writer, classes []string, cm rhst.ConfusionMatrix) {
	fmt.Fprintln(w, "  pooled confusion (rows true, columns predicted):")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "  \t%s\n", strings.Join(classes, "\t"))
	for i, row := range cm {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprintf("%g", v)
		}
		label := fmt.Sprint(i)
		if i < len(classes) {
			label = classes[i]
		}
		fmt.Fprintf(tw, "  %s\t%s\n", label, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
}

func writeImportance(w io.Writer, fs rhst.FeatureSetSummary, names []string) {
	if fs.Importance == nil || len(fs.Importance.Ranking) == 0 {
		return
	}
	fmt.Fprintf(w, "  top features over %d repetitions:\n", fs.Importance.Repetitions)
	for rank, j := range fs.Importance.Ranking[:min(topFeatures, len(fs.Importance.Ranking))] {
		name := fmt.Sprintf("feature_%d", j)
		if j < len(names) {
			name = names[j]
		}
		fmt.Fprintf(w, "    %d. %s  %.4f ± %.4f\n", rank+1, name, fs.Importance.Mean[j], fs.Importance.Std[j])
	}
}

func init() {
	reportCmd.Flags().BoolVar(&recompute, "recompute", false, "Recompute the summary from the stored repetitions")
}
