package attrindex

import (
	"math"
	"sort"
)

// ToSFCKey canonicalizes a float64 onto a uint64 total order: for any two
// finite, non-NaN floats f1 < f2, ToSFCKey(f1) < ToSFCKey(f2). Positive
// floats simply flip the sign bit; negative floats flip every bit, which
// reverses their (already sign-bit-set) ordering into the correct place
// below all non-negative values. NaN and signed zero are canonicalized
// before conversion.
func ToSFCKey(f float64) uint64 {
	if math.IsNaN(f) {
		f = math.NaN() // canonical NaN pattern
	}
	if f == 0 {
		f = 0 // collapses -0 to +0
	}
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

// SFCSummary approximates the set of distinct attribute values seen, as up
// to MaxBins buckets of width 2^Shift over the canonicalized key space.
// When a new key would exceed the bin budget, Shift increases until two
// buckets collapse into one.
type SFCSummary struct {
	Keys  []uint64 // sorted, deduplicated bucket keys (key = canonical >> Shift)
	Shift uint
}

func EmptySFC() SFCSummary {
	return SFCSummary{}
}

// IndexSFC folds values into a bin summary bounded to maxBins buckets.
func IndexSFC(values []float64, maxBins int) SFCSummary {
	s := EmptySFC()
	for _, v := range values {
		s = s.insert(ToSFCKey(v), maxBins)
	}
	return s
}

func (s SFCSummary) insert(canonical uint64, maxBins int) SFCSummary {
	key := canonical >> s.Shift
	i := sort.Search(len(s.Keys), func(i int) bool { return s.Keys[i] >= key })
	if i < len(s.Keys) && s.Keys[i] == key {
		return s
	}
	keys := make([]uint64, 0, len(s.Keys)+1)
	keys = append(keys, s.Keys[:i]...)
	keys = append(keys, key)
	keys = append(keys, s.Keys[i:]...)
	s.Keys = keys
	return s.collapseToFit(maxBins)
}

// collapseToFit increases Shift until len(Keys) <= maxBins, merging
// adjacent buckets that become equal after the shift and deduplicating.
func (s SFCSummary) collapseToFit(maxBins int) SFCSummary {
	for len(s.Keys) > maxBins && maxBins > 0 {
		s.Shift++
		out := s.Keys[:0:0]
		for _, k := range s.Keys {
			shifted := k >> 1
			if len(out) == 0 || out[len(out)-1] != shifted {
				out = append(out, shifted)
			}
		}
		s.Keys = out
	}
	return s
}

// MergeSFC merges two summaries, aligning to the coarser (larger) shift
// before taking the sorted union, then re-collapsing to maxBins.
func MergeSFC(a, b SFCSummary, maxBins int) SFCSummary {
	shift := a.Shift
	if b.Shift > shift {
		shift = b.Shift
	}
	merged := SFCSummary{Shift: shift}
	merged.Keys = sortedUnion(rebucket(a, shift), rebucket(b, shift))
	return merged.collapseToFit(maxBins)
}

func rebucket(s SFCSummary, targetShift uint) []uint64 {
	if s.Shift == targetShift {
		return s.Keys
	}
	delta := targetShift - s.Shift
	out := make([]uint64, 0, len(s.Keys))
	for _, k := range s.Keys {
		shifted := k >> delta
		if len(out) == 0 || out[len(out)-1] != shifted {
			out = append(out, shifted)
		}
	}
	return out
}

func sortedUnion(a, b []uint64) []uint64 {
	out := make([]uint64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// binRange returns the inclusive [lo,hi] canonical-key span a bucket key
// covers at the summary's current shift.
func (s SFCSummary) binRange(key uint64) (lo, hi uint64) {
	lo = key << s.Shift
	width := uint64(1)<<s.Shift - 1
	hi = lo + width
	return lo, hi
}

// reduce evaluates pred against every bucket and combines the per-bucket
// verdicts: Positive only if every bucket is wholly satisfying, Negative
// only if every bucket is wholly excluded, Partial otherwise.
func (s SFCSummary) reduce(pred func(lo, hi uint64) TestResult) TestResult {
	if len(s.Keys) == 0 {
		return Negative
	}
	lo, hi := s.binRange(s.Keys[0])
	result := pred(lo, hi)
	for _, k := range s.Keys[1:] {
		lo, hi := s.binRange(k)
		if pred(lo, hi) != result {
			return Partial
		}
	}
	return result
}

func (s SFCSummary) TestEq(v float64) TestResult {
	key := ToSFCKey(v)
	return s.reduce(func(lo, hi uint64) TestResult {
		if lo == hi && lo == key {
			return Positive
		}
		if key < lo || key > hi {
			return Negative
		}
		return Partial
	})
}

func (s SFCSummary) TestLt(v float64) TestResult {
	key := ToSFCKey(v)
	return s.reduce(func(lo, hi uint64) TestResult {
		if hi < key {
			return Positive
		}
		if lo >= key {
			return Negative
		}
		return Partial
	})
}

func (s SFCSummary) TestLe(v float64) TestResult {
	key := ToSFCKey(v)
	return s.reduce(func(lo, hi uint64) TestResult {
		if hi <= key {
			return Positive
		}
		if lo > key {
			return Negative
		}
		return Partial
	})
}

func (s SFCSummary) TestGt(v float64) TestResult { return not(s.TestLe(v)) }
func (s SFCSummary) TestGe(v float64) TestResult { return not(s.TestLt(v)) }

func (s SFCSummary) TestRange(loV, hiV float64) TestResult {
	lo, hi := ToSFCKey(loV), ToSFCKey(hiV)
	return s.reduce(func(binLo, binHi uint64) TestResult {
		if binLo >= lo && binHi <= hi {
			return Positive
		}
		if binHi < lo || binLo > hi {
			return Negative
		}
		return Partial
	})
}

// NrBits reports how many low bits of the canonical key have been
// discarded, for diagnostics.
func (s SFCSummary) NrBits() int { return int(s.Shift) }
