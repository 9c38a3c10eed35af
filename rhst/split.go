package rhst

import (
	"fmt"
	"iter"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DefaultRegressionBins is the number of quantile bins regression targets are
// discretized into for stratification.
const DefaultRegressionBins = 5

// minStratumSize is the smallest stratum that can appear in both partitions.
const minStratumSize = 2

// Split is one repetition's partition of sample positions.
// Train and Test are disjoint and sorted ascending.
type Split struct {
	Index int   `json:"index" yaml:"index"`
	Train []int `json:"train" yaml:"train"`
	Test  []int `json:"test" yaml:"test"`
}

// Strata assigns every sample to a stratum.
type Strata struct {
	Labels []int    // stratum of sample i
	Names  []string // display name of each stratum
}

// ClassStrata stratifies by class.
func ClassStrata(v *DatasetView) Strata {
	return Strata{Labels: v.ClassIndex, Names: v.Classes}
}

// QuantileStrata discretizes continuous targets into numBins quantile bins.
// Bins holding fewer than two samples are merged into a neighbour, so the
// result may have fewer bins than requested. An undersized bin is therefore
// never an InsufficientSamplesError; only a cohort too small for a single
// bin of two is, and GenerateSplits reports that.
func QuantileStrata(targets []float64, numBins int) Strata {
	n := len(targets)
	if numBins < 1 {
		numBins = 1
	}
	sorted := append([]float64(nil), targets...)
	sort.Float64s(sorted)

	edges := make([]float64, 0, numBins-1)
	for k := 1; k < numBins; k++ {
		if n == 0 {
			break
		}
		edges = append(edges, stat.Quantile(float64(k)/float64(numBins), stat.Empirical, sorted, nil))
	}

	raw := make([]int, n)
	counts := make([]int, numBins)
	for i, t := range targets {
		b := sort.Search(len(edges), func(j int) bool { return t <= edges[j] })
		raw[i] = b
		counts[b]++
	}

	// merge undersized bins left-to-right into the next non-empty bin,
	// and a trailing undersized bin into the previous one
	remap := make([]int, numBins)
	group := 0
	acc := 0
	for b := 0; b < numBins; b++ {
		remap[b] = group
		acc += counts[b]
		if acc >= minStratumSize {
			group++
			acc = 0
		}
	}
	if acc > 0 && group > 0 {
		for b := range remap {
			if remap[b] == group {
				remap[b] = group - 1
			}
		}
	} else if acc > 0 {
		group++
	}

	s := Strata{Labels: make([]int, n)}
	used := make(map[int]int)
	for i, b := range raw {
		g := remap[b]
		id, ok := used[g]
		if !ok {
			id = len(used)
			used[g] = id
		}
		s.Labels[i] = id
	}
	s.Names = make([]string, len(used))
	for i := range s.Names {
		s.Names[i] = fmt.Sprintf("bin_%d", i)
	}
	return s
}

// TrainCount is the number of members of a stratum of size count that go to
// the training partition: round(count*trainFraction), at least 1 and at most count-1.
func TrainCount(count int, trainFraction float64) int {
	n := int(math.Round(float64(count) * trainFraction))
	n = max(n, 1)
	return min(n, count-1)
}

// SplitSequence is a lazy, restartable sequence of stratified splits.
// Split i depends only on the run key and i, never on iteration order.
type SplitSequence struct {
	groups        [][]int
	trainFraction float64
	n             int
	key           RunKey
}

// GenerateSplits validates strata and returns the sequence of numRepetitions splits.
func GenerateSplits(strata Strata, trainFraction float64, numRepetitions int, key RunKey) (*SplitSequence, error) {
	if numRepetitions < 1 {
		return nil, NewConfigurationError("NumRepetitions", "must be at least 1, got %d", numRepetitions)
	}
	if !(trainFraction > 0 && trainFraction < 1) {
		return nil, NewConfigurationError("TrainFraction", "must be in (0, 1), got %v", trainFraction)
	}
	if len(strata.Labels) < minStratumSize {
		return nil, &InsufficientSamplesError{Stratum: "all", Count: len(strata.Labels), Need: minStratumSize}
	}

	numStrata := 0
	for _, l := range strata.Labels {
		numStrata = max(numStrata, l+1)
	}
	groups := make([][]int, numStrata)
	for i, l := range strata.Labels {
		groups[l] = append(groups[l], i)
	}
	for g, members := range groups {
		if len(members) < minStratumSize {
			name := fmt.Sprintf("%d", g)
			if g < len(strata.Names) {
				name = strata.Names[g]
			}
			return nil, &InsufficientSamplesError{Stratum: name, Count: len(members), Need: minStratumSize}
		}
	}
	return &SplitSequence{groups: groups, trainFraction: trainFraction, n: numRepetitions, key: key}, nil
}

// Len returns the number of repetitions.
func (s *SplitSequence) Len() int { return s.n }

// At draws split i.
func (s *SplitSequence) At(i int) Split {
	rng := s.key.RandFor(SubsystemSplit(i))
	sp := Split{Index: i}
	for _, members := range s.groups {
		nTrain := TrainCount(len(members), s.trainFraction)
		perm := rng.Perm(len(members))
		for k, p := range perm {
			if k < nTrain {
				sp.Train = append(sp.Train, members[p])
			} else {
				sp.Test = append(sp.Test, members[p])
			}
		}
	}
	sort.Ints(sp.Train)
	sort.Ints(sp.Test)
	return sp
}

// All yields every split in repetition order. Each call restarts the sequence.
func (s *SplitSequence) All() iter.Seq2[int, Split] {
	return func(yield func(int, Split) bool) {
		for i := 0; i < s.n; i++ {
			if !yield(i, s.At(i)) {
				return
			}
		}
	}
}

// Collect materializes the whole sequence.
func (s *SplitSequence) Collect() []Split {
	out := make([]Split, 0, s.n)
	for _, sp := range s.All() {
		out = append(out, sp)
	}
	return out
}
