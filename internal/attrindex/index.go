package attrindex

import (
	"encoding/binary"
	"io"
	"sync"

	idxerrors "github.com/arx-os/lidarindex/internal/errors"
	"github.com/arx-os/lidarindex/internal/geometry"
)

// Index holds one attribute's summaries across every node of every LOD
// level, keyed by LOD and then by cell. Each level has its own lock so readers and writers working
// at different levels never contend.
type Index struct {
	maxBins int
	withSFC bool

	mu     sync.RWMutex // guards levels slice growth only
	levels []*levelIndex
}

type levelIndex struct {
	mu        sync.RWMutex
	summaries map[geometry.CellID]Summary
}

func NewIndex(maxBins int, withSFC bool) *Index {
	return &Index{maxBins: maxBins, withSFC: withSFC}
}

func (ix *Index) level(lod uint8) *levelIndex {
	ix.mu.RLock()
	if int(lod) < len(ix.levels) && ix.levels[lod] != nil {
		l := ix.levels[lod]
		ix.mu.RUnlock()
		return l
	}
	ix.mu.RUnlock()

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for len(ix.levels) <= int(lod) {
		ix.levels = append(ix.levels, nil)
	}
	if ix.levels[lod] == nil {
		ix.levels[lod] = &levelIndex{summaries: make(map[geometry.CellID]Summary)}
	}
	return ix.levels[lod]
}

// Update replaces the summary for one node, typically after a worker
// finishes mutating the node's points.
func (ix *Index) Update(cell geometry.LeveledCell, values []float64) {
	l := ix.level(cell.LOD)
	summary := IndexValues(values, ix.maxBins, ix.withSFC)
	l.mu.Lock()
	l.summaries[cell.ID] = summary
	l.mu.Unlock()
}

// Get returns the summary stored for a node, if any.
func (ix *Index) Get(cell geometry.LeveledCell) (Summary, bool) {
	l := ix.level(cell.LOD)
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.summaries[cell.ID]
	return s, ok
}

// Delete removes a node's summary, e.g. when a node is evicted without a
// replacement (merged away).
func (ix *Index) Delete(cell geometry.LeveledCell) {
	l := ix.level(cell.LOD)
	l.mu.Lock()
	delete(l.summaries, cell.ID)
	l.mu.Unlock()
}

// attrindex file format: magic, maxBins, withSFC flag, then a sequence of
// (lod uint8, cellID[3]int32, RangeSummary, sfcPresent byte, [sfcShift
// uint64, sfcLen uint64, keys...]) records terminated by EOF.
var indexMagic = [8]byte{'a', 't', 't', 'r', 'i', 'd', 'x', '1'}

func (ix *Index) WriteTo(w io.Writer) error {
	if _, err := w.Write(indexMagic[:]); err != nil {
		return idxerrors.IO("", "write attribute index magic", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(ix.maxBins)); err != nil {
		return idxerrors.IO("", "write attribute index max bins", err)
	}
	sfcFlag := byte(0)
	if ix.withSFC {
		sfcFlag = 1
	}
	if _, err := w.Write([]byte{sfcFlag}); err != nil {
		return idxerrors.IO("", "write attribute index sfc flag", err)
	}

	ix.mu.RLock()
	levels := append([]*levelIndex(nil), ix.levels...)
	ix.mu.RUnlock()

	for lod, l := range levels {
		if l == nil {
			continue
		}
		l.mu.RLock()
		for id, summary := range l.summaries {
			if err := writeRecord(w, uint8(lod), id, summary); err != nil {
				l.mu.RUnlock()
				return err
			}
		}
		l.mu.RUnlock()
	}
	return nil
}

func writeRecord(w io.Writer, lod uint8, id geometry.CellID, s Summary) error {
	fields := []any{lod, id[0], id[1], id[2]}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return idxerrors.IO("", "write attribute index record", err)
		}
	}
	return WriteSummary(w, s)
}

// WriteSummary serializes one Summary (range bounds plus an optional SFC
// bin list) as a self-contained record: callers outside this package (the
// node codec) reuse this for a node's per-attribute summary map.
func WriteSummary(w io.Writer, s Summary) error {
	if err := binary.Write(w, binary.LittleEndian, s.Range.Min); err != nil {
		return idxerrors.IO("", "write summary range min", err)
	}
	if err := binary.Write(w, binary.LittleEndian, s.Range.Max); err != nil {
		return idxerrors.IO("", "write summary range max", err)
	}
	if !s.HasSFC {
		_, err := w.Write([]byte{0})
		if err != nil {
			return idxerrors.IO("", "write summary sfc presence", err)
		}
		return nil
	}
	if _, err := w.Write([]byte{1}); err != nil {
		return idxerrors.IO("", "write summary sfc presence", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(s.SFC.Shift)); err != nil {
		return idxerrors.IO("", "write summary sfc shift", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s.SFC.Keys))); err != nil {
		return idxerrors.IO("", "write summary sfc key count", err)
	}
	for _, k := range s.SFC.Keys {
		if err := binary.Write(w, binary.LittleEndian, k); err != nil {
			return idxerrors.IO("", "write summary sfc key", err)
		}
	}
	return nil
}

// ReadSummary is the inverse of WriteSummary.
func ReadSummary(r io.Reader, maxBins int) (Summary, error) {
	var summary Summary
	summary.MaxBins = maxBins
	if err := binary.Read(r, binary.LittleEndian, &summary.Range.Min); err != nil {
		return Summary{}, idxerrors.IO("", "read summary range min", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &summary.Range.Max); err != nil {
		return Summary{}, idxerrors.IO("", "read summary range max", err)
	}
	var sfcPresent [1]byte
	if _, err := io.ReadFull(r, sfcPresent[:]); err != nil {
		return Summary{}, idxerrors.IO("", "read summary sfc presence", err)
	}
	if sfcPresent[0] == 0 {
		return summary, nil
	}
	var shift, count uint64
	if err := binary.Read(r, binary.LittleEndian, &shift); err != nil {
		return Summary{}, idxerrors.IO("", "read summary sfc shift", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return Summary{}, idxerrors.IO("", "read summary sfc key count", err)
	}
	keys := make([]uint64, count)
	for i := range keys {
		if err := binary.Read(r, binary.LittleEndian, &keys[i]); err != nil {
			return Summary{}, idxerrors.IO("", "read summary sfc key", err)
		}
	}
	summary.SFC = SFCSummary{Shift: uint(shift), Keys: keys}
	summary.HasSFC = true
	return summary, nil
}

func ReadIndex(r io.Reader) (*Index, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, idxerrors.IO("", "read attribute index magic", err)
	}
	if magic != indexMagic {
		return nil, idxerrors.DataFormat("attribute index: bad magic")
	}
	var maxBins uint32
	if err := binary.Read(r, binary.LittleEndian, &maxBins); err != nil {
		return nil, idxerrors.IO("", "read attribute index max bins", err)
	}
	var sfcFlag [1]byte
	if _, err := io.ReadFull(r, sfcFlag[:]); err != nil {
		return nil, idxerrors.IO("", "read attribute index sfc flag", err)
	}
	ix := NewIndex(int(maxBins), sfcFlag[0] != 0)

	for {
		var lod uint8
		err := binary.Read(r, binary.LittleEndian, &lod)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, idxerrors.IO("", "read attribute index record lod", err)
		}
		var id geometry.CellID
		if err := binary.Read(r, binary.LittleEndian, &id[0]); err != nil {
			return nil, idxerrors.IO("", "read attribute index cell x", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &id[1]); err != nil {
			return nil, idxerrors.IO("", "read attribute index cell y", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &id[2]); err != nil {
			return nil, idxerrors.IO("", "read attribute index cell z", err)
		}
		summary, err := ReadSummary(r, int(maxBins))
		if err != nil {
			return nil, err
		}

		l := ix.level(lod)
		l.mu.Lock()
		l.summaries[id] = summary
		l.mu.Unlock()
	}
	return ix, nil
}
