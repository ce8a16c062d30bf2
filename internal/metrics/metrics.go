// Package metrics implements the index's metric stream: a small enumerated
// set of counters, each record carrying a value and a wall-clock timestamp,
// fanned out to a pluggable sink.
package metrics

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/arx-os/lidarindex/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// Name enumerates the metrics the index produces.
type Name uint8

const (
	NrIncomingTasks Name = iota
	NrIncomingPoints
	NrPointsAdded
)

func (n Name) String() string {
	switch n {
	case NrIncomingTasks:
		return "nr_incoming_tasks"
	case NrIncomingPoints:
		return "nr_incoming_points"
	case NrPointsAdded:
		return "nr_points_added"
	default:
		return fmt.Sprintf("unknown_metric(%d)", uint8(n))
	}
}

// Record is a single timestamped metric observation.
type Record struct {
	Name      Name
	Value     float64
	Timestamp time.Time
}

// Sink receives metric records. Implementations must be safe for concurrent
// use by multiple worker goroutines.
type Sink interface {
	Record(name Name, value float64)
	Close() error
}

// DiscardSink drops every record; used when metrics collection is disabled.
type DiscardSink struct{}

func NewDiscardSink() *DiscardSink          { return &DiscardSink{} }
func (*DiscardSink) Record(Name, float64)   {}
func (*DiscardSink) Close() error           { return nil }

// FileSink serializes records to a file on a background goroutine, draining
// a buffered channel so Record never blocks on I/O. Each record is written
// self-delimited: a 1-byte name, an 8-byte big-endian value (as float64
// bits), and an 8-byte big-endian unix-nano timestamp.
type FileSink struct {
	ch     chan Record
	done   chan error
	file   *os.File
	log    *logger.Logger
	closeOnce sync.Once
}

// NewFileSink opens path for writing (append, creating if necessary) and
// starts the drain goroutine.
func NewFileSink(path string, log *logger.Logger) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening metrics file %s: %w", path, err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &FileSink{
		ch:   make(chan Record, 4096),
		done: make(chan error, 1),
		file: f,
		log:  log,
	}
	go s.drain()
	return s, nil
}

func (s *FileSink) Record(name Name, value float64) {
	s.ch <- Record{Name: name, Value: value, Timestamp: time.Now()}
}

func (s *FileSink) drain() {
	w := bufio.NewWriter(s.file)
	var buf [17]byte
	var err error
	for rec := range s.ch {
		buf[0] = byte(rec.Name)
		binary.BigEndian.PutUint64(buf[1:9], math.Float64bits(rec.Value))
		binary.BigEndian.PutUint64(buf[9:17], uint64(rec.Timestamp.UnixNano()))
		if _, werr := w.Write(buf[:]); werr != nil {
			err = werr
			s.log.Errorf("writing metric record: %v", werr)
		}
	}
	if ferr := w.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	s.done <- err
}

// Close stops accepting records, flushes pending writes, and returns any
// I/O error encountered while draining.
func (s *FileSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.ch)
		err = <-s.done
	})
	return err
}

// ReadRecords parses a file written by FileSink, for tests and offline
// inspection.
func ReadRecords(r io.Reader) ([]Record, error) {
	var records []Record
	var buf [17]byte
	for {
		_, err := io.ReadFull(r, buf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return records, err
		}
		records = append(records, Record{
			Name:      Name(buf[0]),
			Value:     math.Float64frombits(binary.BigEndian.Uint64(buf[1:9])),
			Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(buf[9:17]))),
		})
	}
	return records, nil
}

// PrometheusSink registers one counter per metric Name against a caller
// supplied registry. It implements Sink with no background goroutine:
// Record is a direct counter update.
type PrometheusSink struct {
	counters map[Name]prometheus.Counter
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{counters: make(map[Name]prometheus.Counter)}
	for _, n := range []Name{NrIncomingTasks, NrIncomingPoints, NrPointsAdded} {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lidarindex_" + n.String(),
			Help: "index metric: " + n.String(),
		})
		reg.MustRegister(c)
		s.counters[n] = c
	}
	return s
}

func (s *PrometheusSink) Record(name Name, value float64) {
	if c, ok := s.counters[name]; ok {
		c.Add(value)
	}
}

func (s *PrometheusSink) Close() error { return nil }
