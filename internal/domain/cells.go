package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// CellType identifies one of the seven measured quantities of a blood smear.
type CellType string

const (
	CellNeutrophils CellType = "neutrophils"
	CellLymphocytes CellType = "lymphocytes"
	CellMonocytes   CellType = "monocytes"
	CellEosinophils CellType = "eosinophils"
	CellBasophils   CellType = "basophils"
	CellPlatelets   CellType = "platelets"
	CellRBCs        CellType = "rbcs"
)

// CellTypes lists every cell type in evaluation order: the five white-cell
// percentages followed by the two absolute counts.
var CellTypes = []CellType{
	CellNeutrophils,
	CellLymphocytes,
	CellMonocytes,
	CellEosinophils,
	CellBasophils,
	CellPlatelets,
	CellRBCs,
}

// IsPercentage reports whether the cell type is a white-cell differential percentage.
func (c CellType) IsPercentage() bool {
	switch c {
	case CellNeutrophils, CellLymphocytes, CellMonocytes, CellEosinophils, CellBasophils:
		return true
	}
	return false
}

// Label returns the singular human-readable name used in notes and prompts.
func (c CellType) Label() string {
	switch c {
	case CellNeutrophils:
		return "neutrophil"
	case CellLymphocytes:
		return "lymphocyte"
	case CellMonocytes:
		return "monocyte"
	case CellEosinophils:
		return "eosinophil"
	case CellBasophils:
		return "basophil"
	case CellPlatelets:
		return "platelet"
	case CellRBCs:
		return "red blood cell"
	}
	return string(c)
}

// CellCounts holds the canonical classifier output: five white-cell percentages
// and two absolute counts per microliter.
type CellCounts struct {
	Neutrophils float64 `json:"neutrophils"`
	Lymphocytes float64 `json:"lymphocytes"`
	Monocytes   float64 `json:"monocytes"`
	Eosinophils float64 `json:"eosinophils"`
	Basophils   float64 `json:"basophils"`
	Platelets   int64   `json:"platelets"`
	RBCs        int64   `json:"rbcs"`
}

// Get returns the measurement for the given cell type as a float.
func (c CellCounts) Get(t CellType) float64 {
	switch t {
	case CellNeutrophils:
		return c.Neutrophils
	case CellLymphocytes:
		return c.Lymphocytes
	case CellMonocytes:
		return c.Monocytes
	case CellEosinophils:
		return c.Eosinophils
	case CellBasophils:
		return c.Basophils
	case CellPlatelets:
		return float64(c.Platelets)
	case CellRBCs:
		return float64(c.RBCs)
	}
	return 0
}

// WBCSum returns the sum of the five white-cell percentages.
func (c CellCounts) WBCSum() float64 {
	return c.Neutrophils + c.Lymphocytes + c.Monocytes + c.Eosinophils + c.Basophils
}

// Validate checks range constraints on the counts.
// Parameters:
//   - tolerance: allowed absolute distance between the white-cell sum and 100.
//
// Returns:
//   - error: describes the first violated constraint, or nil.
func (c CellCounts) Validate(tolerance float64) error {
	for _, t := range CellTypes {
		v := c.Get(t)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s is not a finite number", t)
		}
		if t.IsPercentage() {
			if v < 0 || v > 100 {
				return fmt.Errorf("%s percentage %.1f outside [0,100]", t, v)
			}
			continue
		}
		if v < 0 {
			return fmt.Errorf("%s count %.0f is negative", t, v)
		}
	}
	if sum := c.WBCSum(); math.Abs(sum-100) > tolerance {
		return fmt.Errorf("white cell percentages sum to %.1f, expected 100 ± %.1f", sum, tolerance)
	}
	return nil
}

// Value implements the driver.Valuer interface for database serialization.
func (c CellCounts) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (c *CellCounts) Scan(value interface{}) error {
	if value == nil {
		*c = CellCounts{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan CellCounts")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, c)
}
