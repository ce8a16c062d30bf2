package attrindex

import "math"

// RangeSummary tracks the inclusive [Min,Max] bounds of one attribute
// across every point indexed into it.
type RangeSummary struct {
	Min float64
	Max float64
}

// EmptyRange is the merge identity: an empty summary with sentinel bounds
// such that merging it with anything yields the other operand unchanged.
func EmptyRange() RangeSummary {
	return RangeSummary{Min: math.Inf(1), Max: math.Inf(-1)}
}

func (r RangeSummary) IsEmpty() bool {
	return r.Min > r.Max
}

// IndexRange folds values into a RangeSummary.
func IndexRange(values []float64) RangeSummary {
	s := EmptyRange()
	for _, v := range values {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	return s
}

func MergeRange(a, b RangeSummary) RangeSummary {
	return RangeSummary{Min: math.Min(a.Min, b.Min), Max: math.Max(a.Max, b.Max)}
}

func (r RangeSummary) TestEq(v float64) TestResult {
	if r.IsEmpty() {
		return Negative
	}
	if r.Min == r.Max && r.Min == v {
		return Positive
	}
	if v < r.Min || v > r.Max {
		return Negative
	}
	return Partial
}

func (r RangeSummary) TestLt(v float64) TestResult {
	if r.IsEmpty() {
		return Negative
	}
	if r.Max < v {
		return Positive
	}
	if r.Min >= v {
		return Negative
	}
	return Partial
}

func (r RangeSummary) TestLe(v float64) TestResult {
	if r.IsEmpty() {
		return Negative
	}
	if r.Max <= v {
		return Positive
	}
	if r.Min > v {
		return Negative
	}
	return Partial
}

func (r RangeSummary) TestGt(v float64) TestResult {
	return not(r.TestLe(v))
}

func (r RangeSummary) TestGe(v float64) TestResult {
	return not(r.TestLt(v))
}

// TestRange evaluates whether the summary's bounds fall entirely within,
// entirely outside, or partially within [lo,hi].
func (r RangeSummary) TestRange(lo, hi float64) TestResult {
	if r.IsEmpty() {
		return Negative
	}
	if r.Min >= lo && r.Max <= hi {
		return Positive
	}
	if r.Max < lo || r.Min > hi {
		return Negative
	}
	return Partial
}
