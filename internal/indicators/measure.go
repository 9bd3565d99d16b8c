package indicators

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// NotApplicable is how an indeterminate value is rendered.
const NotApplicable = "not_applicable"

// Measure is a number or the explicit not-applicable value. The zero Measure
// is not applicable.
type Measure struct {
	value float64
	ok    bool
}

// Value returns a defined measure. NaN and infinities become not applicable.
func Value(v float64) Measure {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Measure{}
	}
	return Measure{value: v, ok: true}
}

// NA returns the not-applicable measure.
func NA() Measure { return Measure{} }

func (m Measure) Defined() bool { return m.ok }

// Float returns the value and whether it is defined.
func (m Measure) Float() (float64, bool) { return m.value, m.ok }

func (m Measure) String() string {
	if !m.ok {
		return NotApplicable
	}
	return strconv.FormatFloat(m.value, 'f', -1, 64)
}

// MarshalJSON rounds to four decimals so repeated runs print identically.
func (m Measure) MarshalJSON() ([]byte, error) {
	if !m.ok {
		return json.Marshal(NotApplicable)
	}
	return []byte(strconv.FormatFloat(round4(m.value), 'f', -1, 64)), nil
}

func (m *Measure) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != NotApplicable {
			return fmt.Errorf("invalid measure %q", s)
		}
		*m = Measure{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid measure %s: %w", data, err)
	}
	*m = Value(f)
	return nil
}

func round4(v float64) float64 {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		return 0 // no negative zero
	}
	return r
}

// Ratio is a numerator over a denominator; Value is not applicable when the
// denominator is zero.
type Ratio struct {
	Numerator   float64 `json:"numerator"`
	Denominator float64 `json:"denominator"`
	Value       Measure `json:"value"`
}

func NewRatio(num, den float64) Ratio {
	r := Ratio{Numerator: num, Denominator: den}
	if den != 0 {
		r.Value = Value(num / den)
	}
	return r
}

// Mean of xs, not applicable when empty.
func Mean(xs []float64) Measure {
	if len(xs) == 0 {
		return NA()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return Value(sum / float64(len(xs)))
}

// Quantile uses linear interpolation between closest ranks.
func Quantile(xs []float64, q float64) Measure {
	if len(xs) == 0 {
		return NA()
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	pos := q * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return Value(s[lo])
	}
	return Value(s[lo] + (s[hi]-s[lo])*(pos-float64(lo)))
}

// Distribution summarises a sample.
type Distribution struct {
	Count  int     `json:"count"`
	Median Measure `json:"median"`
	Q1     Measure `json:"q1"`
	Q3     Measure `json:"q3"`
	IQR    Measure `json:"iqr"`
}

func NewDistribution(xs []float64) Distribution {
	d := Distribution{
		Count:  len(xs),
		Median: Quantile(xs, 0.5),
		Q1:     Quantile(xs, 0.25),
		Q3:     Quantile(xs, 0.75),
	}
	if q1, ok := d.Q1.Float(); ok {
		q3, _ := d.Q3.Float()
		d.IQR = Value(q3 - q1)
	}
	return d
}
