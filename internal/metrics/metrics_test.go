package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscardSinkAcceptsEverything(t *testing.T) {
	s := NewDiscardSink()
	assert.NotPanics(t, func() { s.Record(NrPointsAdded, 100) })
	assert.NoError(t, s.Close())
}

func TestFileSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.bin")
	sink, err := NewFileSink(path, nil)
	require.NoError(t, err)

	sink.Record(NrIncomingTasks, 1)
	sink.Record(NrIncomingPoints, 512)
	sink.Record(NrPointsAdded, 480)
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := ReadRecords(f)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, NrIncomingTasks, records[0].Name)
	assert.Equal(t, 512.0, records[1].Value)
	assert.Equal(t, NrPointsAdded, records[2].Name)
}

func TestPrometheusSinkRegistersCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	sink.Record(NrPointsAdded, 10)
	sink.Record(NrPointsAdded, 5)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)

	var found bool
	for _, mf := range mfs {
		if mf.GetName() == "lidarindex_nr_points_added" {
			found = true
			assert.Equal(t, 15.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}
