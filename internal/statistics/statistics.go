// Package statistics records the epidemic curve of a run and the age
// structure of its population.
package statistics

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/signalsfoundry/epidemic-simulator/core"
)

// DataPoint is the population census after one tick.
type DataPoint struct {
	Tick         int `db:"tick"`
	Susceptible  int `db:"susceptible"`
	Infected     int `db:"infected"`
	Hospitalized int `db:"hospitalized"`
	Recovered    int `db:"recovered"`
	Dead         int `db:"dead"`
}

// PointFromCensus builds the data point for tick.
func PointFromCensus(tick int, c core.Census) DataPoint {
	return DataPoint{
		Tick:         tick,
		Susceptible:  c.Susceptible,
		Infected:     c.Infected,
		Hospitalized: c.Hospitalized,
		Recovered:    c.Recovered,
		Dead:         c.Dead,
	}
}

func (p DataPoint) String() string {
	return fmt.Sprintf("[Tick: %d, Susceptible: %d, Infected: %d, Hospitalized: %d, Recovered: %d, Dead: %d]",
		p.Tick, p.Susceptible, p.Infected, p.Hospitalized, p.Recovered, p.Dead)
}

func (p DataPoint) record() []string {
	return []string{
		strconv.Itoa(p.Tick),
		strconv.Itoa(p.Susceptible),
		strconv.Itoa(p.Infected),
		strconv.Itoa(p.Hospitalized),
		strconv.Itoa(p.Recovered),
		strconv.Itoa(p.Dead),
	}
}

var dataFrameHeader = []string{"tick", "susceptible", "infected", "hospitalized", "recovered", "dead"}

// DataFrame is the ordered series of data points of a run.
type DataFrame struct {
	points []DataPoint
}

// NewDataFrame returns an empty frame with room for size points.
func NewDataFrame(size int) *DataFrame {
	return &DataFrame{points: make([]DataPoint, 0, max(size, 0))}
}

// Push appends p.
func (f *DataFrame) Push(p DataPoint) {
	f.points = append(f.points, p)
}

// PushSimulator appends the simulator's latest census.
func (f *DataFrame) PushSimulator(sim *core.Simulator) {
	f.Push(PointFromCensus(sim.CurrentTime(), sim.LastStep().Census))
}

// Points returns the recorded data points.
func (f *DataFrame) Points() []DataPoint {
	return f.points
}

// Len returns the number of recorded points.
func (f *DataFrame) Len() int {
	return len(f.points)
}

// Peak returns the point with the most infected agents, and false when the
// frame is empty.
func (f *DataFrame) Peak() (DataPoint, bool) {
	if len(f.points) == 0 {
		return DataPoint{}, false
	}
	peak := f.points[0]
	for _, p := range f.points[1:] {
		if p.Infected > peak.Infected {
			peak = p
		}
	}
	return peak, true
}

func (f *DataFrame) String() string {
	var b strings.Builder
	for _, p := range f.points {
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// WriteCSV writes the frame with a header row.
func (f *DataFrame) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(dataFrameHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, p := range f.points {
		if err := cw.Write(p.record()); err != nil {
			return fmt.Errorf("write tick %d: %w", p.Tick, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Bucket is the number of agents of one age.
type Bucket struct {
	Age   int `db:"age"`
	Count int `db:"count"`
}

// Demographics is the age histogram of a population. Only ages present in
// the population have a bucket; buckets are sorted by age.
type Demographics struct {
	buckets []Bucket
}

// DemographicsFromSimulator counts the simulator's agents by age.
func DemographicsFromSimulator(sim *core.Simulator) *Demographics {
	counts := make(map[int]int)
	sim.ForEach(func(v core.AgentView) {
		counts[v.Age]++
	})
	return demographicsFromCounts(counts)
}

// DemographicsFromAges counts ages.
func DemographicsFromAges(ages []int) *Demographics {
	counts := make(map[int]int)
	for _, age := range ages {
		counts[age]++
	}
	return demographicsFromCounts(counts)
}

func demographicsFromCounts(counts map[int]int) *Demographics {
	d := &Demographics{buckets: make([]Bucket, 0, len(counts))}
	for age, n := range counts {
		d.buckets = append(d.buckets, Bucket{Age: age, Count: n})
	}
	sort.Slice(d.buckets, func(i, j int) bool { return d.buckets[i].Age < d.buckets[j].Age })
	return d
}

// Buckets returns the histogram sorted by age.
func (d *Demographics) Buckets() []Bucket {
	return d.buckets
}

// MaxBucket returns the largest bucket count.
func (d *Demographics) MaxBucket() int {
	m := 0
	for _, b := range d.buckets {
		m = max(m, b.Count)
	}
	return m
}

func (d *Demographics) String() string {
	var b strings.Builder
	for _, bucket := range d.buckets {
		fmt.Fprintf(&b, "%d: %d\n", bucket.Age, bucket.Count)
	}
	return b.String()
}

// WriteCSV writes the histogram with a header row.
func (d *Demographics) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"age", "count"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, b := range d.buckets {
		if err := cw.Write([]string{strconv.Itoa(b.Age), strconv.Itoa(b.Count)}); err != nil {
			return fmt.Errorf("write age %d: %w", b.Age, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
