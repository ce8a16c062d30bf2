package attrindex

// Summary is what a node stores per indexed attribute: a range summary
// (always present when attribute indexing is on) plus an optional SFC bin
// summary (only present when histogram acceleration is enabled).
type Summary struct {
	Range   RangeSummary
	SFC     SFCSummary
	HasSFC  bool
	MaxBins int
}

func EmptySummary(maxBins int) Summary {
	return Summary{Range: EmptyRange(), MaxBins: maxBins}
}

// IndexValues builds a Summary from raw attribute values. withSFC controls
// whether histogram acceleration bins are also computed.
func IndexValues(values []float64, maxBins int, withSFC bool) Summary {
	s := Summary{Range: IndexRange(values), MaxBins: maxBins}
	if withSFC {
		s.SFC = IndexSFC(values, maxBins)
		s.HasSFC = true
	}
	return s
}

// Merge combines two attribute summaries, typically a parent's children
// being folded up into their parent's own summary.
func Merge(a, b Summary) Summary {
	out := Summary{Range: MergeRange(a.Range, b.Range), MaxBins: a.MaxBins}
	if a.HasSFC && b.HasSFC {
		out.SFC = MergeSFC(a.SFC, b.SFC, out.MaxBins)
		out.HasSFC = true
	} else if a.HasSFC {
		out.SFC, out.HasSFC = a.SFC, true
	} else if b.HasSFC {
		out.SFC, out.HasSFC = b.SFC, true
	}
	return out
}

// TestEq, TestLt, TestLe, TestGt, TestGe and TestRange use the range
// summary alone when no SFC summary is present. With one, they AND the two
// verdicts: Negative if either is Negative, Positive only if both are
// Positive, Partial otherwise. TestGt and TestGe are the negations of
// TestLe and TestLt.

func (s Summary) TestEq(v float64) TestResult {
	if s.HasSFC {
		return and(s.Range.TestEq(v), s.SFC.TestEq(v))
	}
	return s.Range.TestEq(v)
}

func (s Summary) TestLt(v float64) TestResult {
	if s.HasSFC {
		return and(s.Range.TestLt(v), s.SFC.TestLt(v))
	}
	return s.Range.TestLt(v)
}

func (s Summary) TestLe(v float64) TestResult {
	if s.HasSFC {
		return and(s.Range.TestLe(v), s.SFC.TestLe(v))
	}
	return s.Range.TestLe(v)
}

func (s Summary) TestGt(v float64) TestResult { return not(s.TestLe(v)) }
func (s Summary) TestGe(v float64) TestResult { return not(s.TestLt(v)) }

func (s Summary) TestRange(lo, hi float64) TestResult {
	if s.HasSFC {
		return and(s.Range.TestRange(lo, hi), s.SFC.TestRange(lo, hi))
	}
	return s.Range.TestRange(lo, hi)
}
