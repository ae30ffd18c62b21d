// Package csi decodes ESP32 channel state information into per-subcarrier
// amplitude and phase estimates
package csi

import (
	"fmt"
	"sort"
)

// Raw sample counts (interleaved imaginary/real integers) produced by the
// ESP32 for each supported capture layout
const (
	WidthLLTF      = 128 // LLTF only (20 MHz, 64 subcarriers)
	WidthLLTFHTLTF = 256 // LLTF + HT-LTF (128 subcarriers)
	WidthFull      = 384 // LLTF + HT-LTF + STBC-HT-LTF (192 subcarriers)
)

// masterNulls lists the raw sample positions known to carry null subcarriers
// in the widest (384 sample) layout. Every entry belongs to a whole
// (imaginary, real) pair.
var masterNulls = [52]int{
	0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11,
	64, 65,
	118, 119, 120, 121, 122, 123, 124, 125, 126, 127,
	128, 129, 130, 131,
	246, 247, 248, 249, 250, 251, 252, 253, 254, 255, 256, 257,
	258, 259, 260, 261, 262, 263, 264, 265, 266, 267,
	382, 383,
}

// lltfNullCount is the number of master entries that fall inside the LLTF block
const lltfNullCount = 24

// MasterNulls returns a copy of the master null position table
func MasterNulls() []int {
	out := make([]int, len(masterNulls))
	copy(out, masterNulls[:])
	return out
}

// Layout describes how null subcarriers are laid out for one raw width
type Layout struct {
	Width     int   // raw sample count (2 per subcarrier slot)
	Supported bool  // false for widths outside the known layouts
	nulls     []int // ascending raw positions to remove
}

// Nulls returns the raw sample positions removed for this layout
func (l Layout) Nulls() []int {
	out := make([]int, len(l.nulls))
	copy(out, l.nulls)
	return out
}

// NullSlots returns the subcarrier slot indices removed for this layout
func (l Layout) NullSlots() []int {
	slots := make([]int, 0, len(l.nulls)/2)
	for i := 0; i < len(l.nulls); i += 2 {
		slots = append(slots, l.nulls[i]/2)
	}
	return slots
}

// Slots returns the number of raw subcarrier slots
func (l Layout) Slots() int {
	return l.Width / 2
}

// CleanedSubcarriers returns the number of subcarriers left after null removal
func (l Layout) CleanedSubcarriers() int {
	return (l.Width - len(l.nulls)) / 2
}

func (l Layout) String() string {
	if !l.Supported {
		return fmt.Sprintf("unsupported(%d)", l.Width)
	}
	return fmt.Sprintf("%d samples, %d nulls, %d subcarriers", l.Width, len(l.nulls)/2, l.CleanedSubcarriers())
}

var layouts map[int]Layout

func init() {
	lltf := masterNulls[:lltfNullCount]

	doubled := make([]int, 0, 2*lltfNullCount)
	doubled = append(doubled, lltf...)
	for _, v := range lltf {
		doubled = append(doubled, v+WidthLLTF)
	}

	candidates := []Layout{
		{Width: WidthLLTF, Supported: true, nulls: append([]int(nil), lltf...)},
		{Width: WidthLLTFHTLTF, Supported: true, nulls: doubled},
		{Width: WidthFull, Supported: true, nulls: append([]int(nil), masterNulls[:]...)},
	}

	layouts = make(map[int]Layout, len(candidates))
	for _, l := range candidates {
		if err := l.validate(); err != nil {
			panic(err)
		}
		layouts[l.Width] = l
	}
}

// validate checks that every null position is in range, unique, sorted and
// removes a whole (imaginary, real) pair
func (l Layout) validate() error {
	if !sort.IntsAreSorted(l.nulls) {
		return fmt.Errorf("csi: layout %d: null positions not sorted", l.Width)
	}
	if len(l.nulls)%2 != 0 {
		return fmt.Errorf("csi: layout %d: odd null count %d", l.Width, len(l.nulls))
	}
	for i, p := range l.nulls {
		if p < 0 || p >= l.Width {
			return fmt.Errorf("csi: layout %d: null position %d out of range", l.Width, p)
		}
		if i > 0 && l.nulls[i-1] == p {
			return fmt.Errorf("csi: layout %d: duplicate null position %d", l.Width, p)
		}
		if i%2 == 0 && (p%2 != 0 || i+1 >= len(l.nulls) || l.nulls[i+1] != p+1) {
			return fmt.Errorf("csi: layout %d: null position %d is not pair aligned", l.Width, p)
		}
	}
	return nil
}

// LayoutFor returns the null layout for a raw width. Widths other than 128,
// 256 and 384 get an unsupported layout with no nulls.
func LayoutFor(width int) Layout {
	if l, ok := layouts[width]; ok {
		return l
	}
	return Layout{Width: width}
}

// SupportedWidths returns the raw widths with a known null layout, ascending
func SupportedWidths() []int {
	widths := make([]int, 0, len(layouts))
	for w := range layouts {
		widths = append(widths, w)
	}
	sort.Ints(widths)
	return widths
}
