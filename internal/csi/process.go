package csi

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Amplitude returns the magnitude of one (imaginary, real) pair
func Amplitude(imag, real int) float64 {
	return math.Hypot(float64(imag), float64(real))
}

// Phase returns the angle of one (imaginary, real) pair in radians, (-π, π]
func Phase(imag, real int) float64 {
	return math.Atan2(float64(imag), float64(real))
}

// RemoveNulls returns a copy of one record's samples with the layout's null
// positions removed. Records whose length does not match the layout width
// are returned unchanged.
func RemoveNulls(samples []int, layout Layout) []int {
	if !layout.Supported || len(samples) != layout.Width {
		return append([]int(nil), samples...)
	}

	out := make([]int, 0, len(samples)-len(layout.nulls))
	n := 0
	for i, v := range samples {
		if n < len(layout.nulls) && layout.nulls[n] == i {
			n++
			continue
		}
		out = append(out, v)
	}
	return out
}

// Clean removes null positions from a batch of equal-width records. The batch
// is transposed so the sample axis leads, null rows are dropped, and the
// result is transposed back; the record axis is left untouched.
func Clean(batch [][]int, layout Layout) [][]int {
	if len(batch) == 0 {
		return nil
	}
	width := len(batch[0])

	transposed := make([][]int, width)
	for i := range transposed {
		transposed[i] = make([]int, len(batch))
		for r, rec := range batch {
			transposed[i][r] = rec[i]
		}
	}

	if layout.Supported && width == layout.Width {
		kept := transposed[:0]
		n := 0
		for i, row := range transposed {
			if n < len(layout.nulls) && layout.nulls[n] == i {
				n++
				continue
			}
			kept = append(kept, row)
		}
		transposed = kept
	}

	out := make([][]int, len(batch))
	for r := range out {
		out[r] = make([]int, len(transposed))
		for i, row := range transposed {
			out[r][i] = row[r]
		}
	}
	return out
}

// Group holds the amplitude and phase matrices for the records of one batch
// that share a raw width
type Group struct {
	Layout    Layout
	Indices   []int   // batch index of each row
	Cleaned   [][]int // samples after null removal, one row per record
	Amplitude *mat.Dense
	Phase     *mat.Dense
	Warning   *UnsupportedFormatError // set when null removal was skipped
}

// Degraded reports whether the group was processed without null removal
func (g *Group) Degraded() bool {
	return !g.Layout.Supported
}

// Subcarriers returns the number of columns of the amplitude/phase matrices
func (g *Group) Subcarriers() int {
	_, c := g.Amplitude.Dims()
	return c
}

// Records returns the number of rows of the amplitude/phase matrices
func (g *Group) Records() int {
	r, _ := g.Amplitude.Dims()
	return r
}

// Result is the processor output for one decoded batch
type Result struct {
	Groups []*Group // one per distinct raw width, in first-appearance order
}

// Records returns the total number of processed records across groups
func (r *Result) Records() int {
	n := 0
	for _, g := range r.Groups {
		n += g.Records()
	}
	return n
}

// Warnings returns the unsupported-format warnings raised while processing
func (r *Result) Warnings() []*UnsupportedFormatError {
	var out []*UnsupportedFormatError
	for _, g := range r.Groups {
		if g.Warning != nil {
			out = append(out, g.Warning)
		}
	}
	return out
}

// Process removes null subcarriers and extracts amplitude and phase for every
// decoded record. Records are grouped by raw width and each group uses its
// own null layout.
func Process(records []Decoded) *Result {
	var order []int
	byWidth := make(map[int][]Decoded)
	for _, d := range records {
		w := d.Width()
		if _, ok := byWidth[w]; !ok {
			order = append(order, w)
		}
		byWidth[w] = append(byWidth[w], d)
	}

	res := &Result{Groups: make([]*Group, 0, len(order))}
	for _, w := range order {
		res.Groups = append(res.Groups, processGroup(LayoutFor(w), byWidth[w]))
	}
	return res
}

func processGroup(layout Layout, records []Decoded) *Group {
	g := &Group{
		Layout:  layout,
		Indices: make([]int, len(records)),
	}

	raw := make([][]int, len(records))
	for i, d := range records {
		g.Indices[i] = d.Index
		raw[i] = d.Samples
	}
	g.Cleaned = Clean(raw, layout)

	cols := len(g.Cleaned[0]) / 2
	amp := make([]float64, 0, len(records)*cols)
	phase := make([]float64, 0, len(records)*cols)
	for _, row := range g.Cleaned {
		for k := 0; k+1 < len(row); k += 2 {
			amp = append(amp, Amplitude(row[k], row[k+1]))
			phase = append(phase, Phase(row[k], row[k+1]))
		}
	}
	g.Amplitude = mat.NewDense(len(records), cols, amp)
	g.Phase = mat.NewDense(len(records), cols, phase)

	if !layout.Supported {
		g.Warning = &UnsupportedFormatError{Width: layout.Width, Records: len(records)}
	}
	return g
}
