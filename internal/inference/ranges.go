package inference

import "github.com/timmy/bloodcell/internal/domain"

// NormalRange is the reference band for one cell-type measurement.
type NormalRange struct {
	Min  float64
	Max  float64
	Unit string
}

// Below reports whether v falls under the band.
func (r NormalRange) Below(v float64) bool { return v < r.Min }

// Above reports whether v exceeds the band.
func (r NormalRange) Above(v float64) bool { return v > r.Max }

// Contains reports whether v lies inside the closed band.
func (r NormalRange) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Width returns Max-Min.
func (r NormalRange) Width() float64 { return r.Max - r.Min }

// RangeTable maps each cell type to its reference band.
type RangeTable map[domain.CellType]NormalRange

// DefaultRanges is the adult reference table. It is never mutated after init.
var DefaultRanges = RangeTable{
	domain.CellNeutrophils: {Min: 50, Max: 70, Unit: "%"},
	domain.CellLymphocytes: {Min: 20, Max: 40, Unit: "%"},
	domain.CellMonocytes:   {Min: 2, Max: 10, Unit: "%"},
	domain.CellEosinophils: {Min: 1, Max: 4, Unit: "%"},
	domain.CellBasophils:   {Min: 0, Max: 2, Unit: "%"},
	domain.CellPlatelets:   {Min: 150000, Max: 450000, Unit: "/µL"},
	domain.CellRBCs:        {Min: 4200000, Max: 5400000, Unit: "/µL"},
}

// Normalize maps v onto the band so that Min is 0 and Max is 1.
// Values outside the band fall outside [0,1].
func (t RangeTable) Normalize(c domain.CellType, v float64) float64 {
	r, ok := t[c]
	if !ok || r.Width() == 0 {
		return 0
	}
	return (v - r.Min) / r.Width()
}

// ProfileDimension is the length of a Profile vector.
const ProfileDimension = 7

// Profile returns the range-normalized vector of all seven measurements in
// domain.CellTypes order.
func (t RangeTable) Profile(counts domain.CellCounts) []float32 {
	out := make([]float32, len(domain.CellTypes))
	for i, c := range domain.CellTypes {
		out[i] = float32(t.Normalize(c, counts.Get(c)))
	}
	return out
}
