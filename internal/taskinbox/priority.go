package taskinbox

import (
	"math"

	"github.com/arx-os/lidarindex/internal/config"
)

// taskAge returns how many generations a task has waited.
func taskAge[P any](t Task[P], currentGeneration int64) int64 {
	return currentGeneration - t.CreatedAt
}

// ComparatorFor returns the Comparator matching a configured priority
// function. Unrecognized values fall back to NrPoints, the simplest and
// cheapest-to-evaluate comparator.
func ComparatorFor[P any](fn config.PriorityFunction) Comparator[P] {
	switch fn {
	case config.PriorityLod:
		return byLod[P]
	case config.PriorityOldestPoint:
		return byOldestPoint[P]
	case config.PriorityNewestPoint:
		return byNewestPoint[P]
	case config.PriorityTaskAge:
		return byTaskAge[P]
	case config.PriorityNrPointsWeightedByTaskAge:
		return byNrPointsWeightedByTaskAge[P]
	case config.PriorityNrPointsWeightedByOldestPoint:
		return byNrPointsWeightedByOldestPoint[P]
	case config.PriorityNrPointsWeightedByNegNewestPoint:
		return byNrPointsWeightedByNegNewestPoint[P]
	case config.PriorityNrPoints:
		return byNrPoints[P]
	default:
		return byNrPoints[P]
	}
}

// byNrPoints prefers the cell with the most pending points: it does the
// most work to merge per task taken, maximizing throughput.
func byNrPoints[P any](a, b Task[P], _ int64) bool {
	return a.NrPoints > b.NrPoints
}

// byLod prefers finer (higher-LOD) cells, draining leaves before their
// ancestors accumulate more bogus overflow.
func byLod[P any](a, b Task[P], _ int64) bool {
	return a.Cell.LOD > b.Cell.LOD
}

// byOldestPoint prefers the cell holding the longest-waiting point: the
// smaller MinGeneration is the older one.
func byOldestPoint[P any](a, b Task[P], _ int64) bool {
	return a.MinGeneration < b.MinGeneration
}

// byNewestPoint prefers the cell whose most recent point arrived most
// recently (the larger MaxGeneration), favoring cells still actively
// being written to.
func byNewestPoint[P any](a, b Task[P], _ int64) bool {
	return a.MaxGeneration > b.MaxGeneration
}

// byTaskAge prefers the task that has waited in the inbox the longest,
// regardless of point count, guaranteeing eventual service.
func byTaskAge[P any](a, b Task[P], currentGeneration int64) bool {
	return taskAge(a, currentGeneration) > taskAge(b, currentGeneration)
}

// byNrPointsWeightedByTaskAge scores nr_points · 2^(max(created_a,created_b)
// − created_self): the task with the later (larger) created generation gets
// exponent 0, the older one is amplified by 2 raised to the generation gap,
// so a handful of long-waiting points can outrank a much larger fresh task.
func byNrPointsWeightedByTaskAge[P any](a, b Task[P], _ int64) bool {
	newest := max(a.CreatedAt, b.CreatedAt)
	scoreA := math.Ldexp(float64(a.NrPoints), int(newest-a.CreatedAt))
	scoreB := math.Ldexp(float64(b.NrPoints), int(newest-b.CreatedAt))
	return scoreA > scoreB
}

// byNrPointsWeightedByOldestPoint scores nr_points · 2^(max(min_a,min_b) −
// min_self), favoring cells with many points that have also been waiting
// many generations since their oldest point arrived.
func byNrPointsWeightedByOldestPoint[P any](a, b Task[P], _ int64) bool {
	newest := max(a.MinGeneration, b.MinGeneration)
	scoreA := math.Ldexp(float64(a.NrPoints), int(newest-a.MinGeneration))
	scoreB := math.Ldexp(float64(b.NrPoints), int(newest-b.MinGeneration))
	return scoreA > scoreB
}

// byNrPointsWeightedByNegNewestPoint scores nr_points · 2^(max(max_a,max_b)
// − max_self), favoring cells with many points whose newest point arrived
// longest ago, i.e. cells that have gone quiet and are unlikely to receive
// more merges before being drained.
func byNrPointsWeightedByNegNewestPoint[P any](a, b Task[P], _ int64) bool {
	newest := max(a.MaxGeneration, b.MaxGeneration)
	scoreA := math.Ldexp(float64(a.NrPoints), int(newest-a.MaxGeneration))
	scoreB := math.Ldexp(float64(b.NrPoints), int(newest-b.MaxGeneration))
	return scoreA > scoreB
}
