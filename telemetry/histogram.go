package telemetry

import (
	"sort"

	"github.com/pthm-cable/sandpile/systems"
)

// Bucket is one histogram row.
type Bucket struct {
	Key   int `csv:"key"`
	Count int `csv:"count"`
}

// Histogram counts avalanches per integer metric value.
type Histogram struct {
	Name   string // file stem
	Metric string // column title
	counts map[int]int
}

// NewHistogram creates an empty histogram.
func NewHistogram(name, metric string) *Histogram {
	return &Histogram{Name: name, Metric: metric, counts: make(map[int]int)}
}

// Add counts one avalanche with the given key.
func (h *Histogram) Add(key int) { h.counts[key]++ }

// Merge adds every count from o.
func (h *Histogram) Merge(o *Histogram) {
	for k, n := range o.counts {
		h.counts[k] += n
	}
}

// Buckets returns the non-empty buckets sorted ascending by key.
func (h *Histogram) Buckets() []Bucket {
	out := make([]Bucket, 0, len(h.counts))
	for k, n := range h.counts {
		out = append(out, Bucket{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Total returns the number of avalanches counted.
func (h *Histogram) Total() int {
	var n int
	for _, c := range h.counts {
		n += c
	}
	return n
}

// Histograms groups the three avalanche histograms.
type Histograms struct {
	ByGrains   *Histogram
	ByMovement *Histogram
	ByProduct  *Histogram
}

// NewHistograms creates the three empty histograms.
func NewHistograms() *Histograms {
	return &Histograms{
		ByGrains:   NewHistogram("hist_grains", "Total Grains Involved"),
		ByMovement: NewHistogram("hist_movement", "Total Movement"),
		ByProduct:  NewHistogram("hist_product", "Grains x Movement"),
	}
}

// Record counts one avalanche in each histogram.
func (h *Histograms) Record(r systems.Report) {
	h.ByGrains.Add(r.TotalGrainsInvolved)
	h.ByMovement.Add(r.TotalMovement)
	h.ByProduct.Add(r.Product())
}

// Merge adds every count from o.
func (h *Histograms) Merge(o *Histograms) {
	h.ByGrains.Merge(o.ByGrains)
	h.ByMovement.Merge(o.ByMovement)
	h.ByProduct.Merge(o.ByProduct)
}

// All returns the histograms in output order.
func (h *Histograms) All() []*Histogram {
	return []*Histogram{h.ByGrains, h.ByMovement, h.ByProduct}
}
