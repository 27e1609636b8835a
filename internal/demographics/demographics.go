// Package demographics turns population-pyramid tables into age samplers.
//
// The expected CSV layout matches populationpyramid.net exports: a header
// row, twenty five-year buckets (0-4 .. 95-99) and a final 100+ row, with
// the male and female counts in the second and third columns.
package demographics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/signalsfoundry/epidemic-simulator/core"
)

// ErrInvalidDistribution indicates a malformed or empty population table.
var ErrInvalidDistribution = errors.New("invalid age distribution")

const (
	bucketCount = 20
	bucketWidth = 5
)

// Distribution is a discrete age distribution over [0, core.MaxAge]. It
// implements core.AgeSampler and is safe for concurrent use.
type Distribution struct {
	pdf [core.MaxAge + 1]float64
	cdf [core.MaxAge + 1]float64
}

var _ core.AgeSampler = (*Distribution)(nil)

// Load reads a population pyramid from path.
func Load(path string) (*Distribution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open demographics %s: %w", path, err)
	}
	defer f.Close()

	d, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse reads a population pyramid. Each five-year bucket is spread evenly
// over its ages; the 100+ row is assigned to age 100.
func Parse(r io.Reader) (*Distribution, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDistribution, err)
	}
	if len(rows) < bucketCount+2 {
		return nil, fmt.Errorf("%w: want header plus %d rows, got %d rows",
			ErrInvalidDistribution, bucketCount+1, len(rows))
	}

	var weights [core.MaxAge + 1]float64
	total := 0.0
	for i, row := range rows[1 : bucketCount+2] {
		count, err := rowCount(row)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrInvalidDistribution, i+2, err)
		}
		total += count
		if i == bucketCount {
			weights[core.MaxAge] = count
			continue
		}
		for age := i * bucketWidth; age < (i+1)*bucketWidth; age++ {
			weights[age] = count / bucketWidth
		}
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: population total is zero", ErrInvalidDistribution)
	}
	return FromWeights(weights[:])
}

func rowCount(row []string) (float64, error) {
	if len(row) < 3 {
		return 0, fmt.Errorf("want Age,M,F columns, got %d", len(row))
	}
	total := 0.0
	for _, field := range row[1:3] {
		n, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return 0, fmt.Errorf("parse count %q: %w", field, err)
		}
		if n < 0 {
			return 0, fmt.Errorf("negative count %g", n)
		}
		total += n
	}
	return total, nil
}

// FromWeights builds a distribution from relative weights indexed by age.
// Ages beyond the slice get zero weight.
func FromWeights(weights []float64) (*Distribution, error) {
	if len(weights) > core.MaxAge+1 {
		return nil, fmt.Errorf("%w: %d weights exceed max age %d", ErrInvalidDistribution, len(weights), core.MaxAge)
	}
	total := 0.0
	for age, w := range weights {
		if w < 0 || w != w {
			return nil, fmt.Errorf("%w: weight %g for age %d", ErrInvalidDistribution, w, age)
		}
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", ErrInvalidDistribution)
	}

	d := &Distribution{}
	sum := 0.0
	for age := range d.pdf {
		if age < len(weights) {
			d.pdf[age] = weights[age] / total
		}
		sum += d.pdf[age]
		d.cdf[age] = sum
	}
	d.cdf[core.MaxAge] = 1
	return d, nil
}

// SampleAge draws an age by inverse transform sampling.
func (d *Distribution) SampleAge(rng *rand.Rand) (int, error) {
	u := rng.Float64()
	age := sort.Search(len(d.cdf), func(i int) bool { return d.cdf[i] > u })
	if age > core.MaxAge {
		age = core.MaxAge
	}
	return age, nil
}

// Probability returns the share of the population with the given age.
func (d *Distribution) Probability(age int) float64 {
	if age < 0 || age > core.MaxAge {
		return 0
	}
	return d.pdf[age]
}

// Mean returns the expected age.
func (d *Distribution) Mean() float64 {
	mean := 0.0
	for age, p := range d.pdf {
		mean += float64(age) * p
	}
	return mean
}
