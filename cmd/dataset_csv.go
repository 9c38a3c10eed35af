package cmd

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/neuropredict/neuropredict/rhst"
)

// missingTokens are cell values read as a missing feature value.
var missingTokens = map[string]bool{"": true, "na": true, "nan": true, "null": true}

// loadDataset reads the metadata CSV and one features CSV per source.
//
// The metadata CSV has a header row; column 0 is the sample id and column 1
// the class label (classification) or numeric target (regression). Further
// columns are ignored. Each features CSV has a header row naming its
// features after the id column.
func loadDataset(task rhst.Task, metaPath string, sources []FeatureSetSource) (*rhst.Dataset, error) {
	f, err := os.Open(metaPath)
	if err != nil {
		return nil, fmt.Errorf("opening metadata: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := readMetadata(f, task)
	if err != nil {
		return nil, fmt.Errorf("metadata %s: %w", metaPath, err)
	}
	for _, src := range sources {
		fs, err := readFeatureFile(src)
		if err != nil {
			return nil, err
		}
		data.FeatureSets = append(data.FeatureSets, fs)
	}
	logrus.Infof("loaded %d samples and %d feature set(s) from %s", len(data.SampleIDs), len(data.FeatureSets), metaPath)
	return data, nil
}

func readFeatureFile(src FeatureSetSource) (rhst.FeatureSet, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return rhst.FeatureSet{}, fmt.Errorf("opening feature set %q: %w", src.Name, err)
	}
	defer func() { _ = f.Close() }()

	fs, err := readFeatures(f, src.Name)
	if err != nil {
		return rhst.FeatureSet{}, fmt.Errorf("feature set %q (%s): %w", src.Name, src.Path, err)
	}
	return fs, nil
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	return cr
}

func readMetadata(r io.Reader, task rhst.Task) (*rhst.Dataset, error) {
	cr := newCSVReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("header has %d columns, need an id and a %s column", len(header), responseColumn(task))
	}

	data := &rhst.Dataset{Task: task}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading record: %w", err)
		}
		line, _ := cr.FieldPos(0)
		id, value := strings.TrimSpace(record[0]), strings.TrimSpace(record[1])
		if id == "" {
			return nil, fmt.Errorf("line %d: empty sample id", line)
		}
		data.SampleIDs = append(data.SampleIDs, id)
		if task == rhst.TaskRegression {
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: target of %s: %w", line, id, err)
			}
			data.Targets = append(data.Targets, v)
			continue
		}
		data.Labels = append(data.Labels, value)
	}
	if len(data.SampleIDs) == 0 {
		return nil, errors.New("no samples")
	}
	return data, nil
}

func responseColumn(task rhst.Task) string {
	if task == rhst.TaskRegression {
		return "target"
	}
	return "class"
}

func readFeatures(r io.Reader, name string) (rhst.FeatureSet, error) {
	cr := newCSVReader(r)
	header, err := cr.Read()
	if err != nil {
		return rhst.FeatureSet{}, fmt.Errorf("reading header: %w", err)
	}
	if len(header) < 2 {
		return rhst.FeatureSet{}, errors.New("header needs an id column and at least one feature")
	}
	fs := rhst.FeatureSet{
		Name:         name,
		FeatureNames: make([]string, len(header)-1),
		Rows:         make(map[string][]float64),
	}
	for j, h := range header[1:] {
		fs.FeatureNames[j] = strings.TrimSpace(h)
	}

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rhst.FeatureSet{}, fmt.Errorf("reading record: %w", err)
		}
		line, _ := cr.FieldPos(0)
		id := strings.TrimSpace(record[0])
		if _, dup := fs.Rows[id]; dup {
			return rhst.FeatureSet{}, fmt.Errorf("line %d: duplicate sample id %q", line, id)
		}
		row := make([]float64, len(record)-1)
		for j, cell := range record[1:] {
			cell = strings.TrimSpace(cell)
			if missingTokens[strings.ToLower(cell)] {
				row[j] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return rhst.FeatureSet{}, fmt.Errorf("line %d: feature %s of %s: %w", line, fs.FeatureNames[j], id, err)
			}
			row[j] = v
		}
		fs.Rows[id] = row
	}
	return fs, nil
}

// featureSetNameFromPath names a feature set after its file, without extension.
func featureSetNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
