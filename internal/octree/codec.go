package octree

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/arx-os/lidarindex/internal/attrindex"
	idxerrors "github.com/arx-os/lidarindex/internal/errors"
	"github.com/arx-os/lidarindex/internal/geometry"
	"github.com/arx-os/lidarindex/internal/pointcodec"
	"github.com/arx-os/lidarindex/internal/sampling"
	"github.com/arx-os/lidarindex/internal/spatial"
)

var nodeMagic = [8]byte{'o', 'c', 't', 'n', 'o', 'd', 'e', '1'}

// Codec serializes Node to and from the node-file format: a header
// naming the cell and bogus-point count, a position table, the points'
// raw records via pointcodec, and the node's per-attribute summaries.
// It implements pager.Codec[*Node].
type Codec struct {
	Grid        geometry.Grid
	FineLODOf   func(cell geometry.LeveledCell) uint8
	Layout      pointcodec.Layout
	MaxBins     int
	WithSFC     bool
	Compression pointcodec.Compression
	Endianness  pointcodec.Endianness
}

func (c Codec) Encode(n *Node) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.Write(nodeMagic[:]); err != nil {
		return nil, idxerrors.IO("", "write node magic", err)
	}
	header := []any{n.Cell.LOD, n.Cell.ID[0], n.Cell.ID[1], n.Cell.ID[2], uint64(n.NrBogusPoints())}
	for _, f := range header {
		if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
			return nil, idxerrors.IO("", "write node header", err)
		}
	}

	points := n.Points()
	if err := binary.Write(&buf, binary.LittleEndian, uint64(len(points))); err != nil {
		return nil, idxerrors.IO("", "write node point count", err)
	}
	for _, p := range points {
		coords := []float64{p.Position.X, p.Position.Y, p.Position.Z}
		for _, v := range coords {
			if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
				return nil, idxerrors.IO("", "write node point position", err)
			}
		}
	}

	stride := c.Layout.Stride()
	data := make([]byte, 0, stride*len(points))
	for _, p := range points {
		data = append(data, p.Data...)
	}
	if err := pointcodec.Encode(&buf, c.Layout, c.Endianness, c.Compression, uint64(len(points)), data); err != nil {
		return nil, err
	}

	if len(n.Summary) > 65535 {
		return nil, idxerrors.Unsupported("node has more than 65535 attribute summaries")
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(n.Summary))); err != nil {
		return nil, idxerrors.IO("", "write node summary count", err)
	}
	for name, summary := range n.Summary {
		if len(name) > 255 {
			return nil, idxerrors.Unsupported("attribute name exceeds 255 bytes")
		}
		if err := buf.WriteByte(byte(len(name))); err != nil {
			return nil, idxerrors.IO("", "write node summary attribute name length", err)
		}
		if _, err := buf.WriteString(name); err != nil {
			return nil, idxerrors.IO("", "write node summary attribute name", err)
		}
		if err := attrindex.WriteSummary(&buf, summary); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func (c Codec) Decode(raw []byte) (*Node, error) {
	r := bytes.NewReader(raw)

	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, idxerrors.IO("", "read node magic", err)
	}
	if magic != nodeMagic {
		return nil, idxerrors.DataFormat("node: bad magic")
	}

	var cell geometry.LeveledCell
	var bogusCount uint64
	if err := binary.Read(r, binary.LittleEndian, &cell.LOD); err != nil {
		return nil, idxerrors.IO("", "read node lod", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &cell.ID[0]); err != nil {
		return nil, idxerrors.IO("", "read node cell x", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &cell.ID[1]); err != nil {
		return nil, idxerrors.IO("", "read node cell y", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &cell.ID[2]); err != nil {
		return nil, idxerrors.IO("", "read node cell z", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &bogusCount); err != nil {
		return nil, idxerrors.IO("", "read node bogus count", err)
	}

	var pointCount uint64
	if err := binary.Read(r, binary.LittleEndian, &pointCount); err != nil {
		return nil, idxerrors.IO("", "read node point count", err)
	}
	positions := make([]spatial.Point3D, pointCount)
	for i := range positions {
		if err := binary.Read(r, binary.LittleEndian, &positions[i].X); err != nil {
			return nil, idxerrors.IO("", "read node point position x", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &positions[i].Y); err != nil {
			return nil, idxerrors.IO("", "read node point position y", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &positions[i].Z); err != nil {
			return nil, idxerrors.IO("", "read node point position z", err)
		}
	}

	data, decodedCount, _, err := pointcodec.Decode(r, c.Layout)
	if err != nil {
		return nil, err
	}
	if decodedCount != pointCount {
		return nil, idxerrors.DataFormatf("node: point count mismatch: header says %d, body has %d", pointCount, decodedCount)
	}
	stride := c.Layout.Stride()
	points := make([]sampling.Point, pointCount)
	for i := range points {
		record := make([]byte, stride)
		copy(record, data[i*stride:(i+1)*stride])
		points[i] = sampling.Point{Position: positions[i], Data: record}
	}

	var summaryCount uint16
	if err := binary.Read(r, binary.LittleEndian, &summaryCount); err != nil {
		return nil, idxerrors.IO("", "read node summary count", err)
	}
	summaries := make(map[string]attrindex.Summary, summaryCount)
	for i := 0; i < int(summaryCount); i++ {
		nameLen, err := r.ReadByte()
		if err != nil {
			return nil, idxerrors.IO("", "read node summary attribute name length", err)
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return nil, idxerrors.IO("", "read node summary attribute name", err)
		}
		summary, err := attrindex.ReadSummary(r, c.MaxBins)
		if err != nil {
			return nil, err
		}
		summaries[string(nameBuf)] = summary
	}

	fineLOD := cell.LOD
	if c.FineLODOf != nil {
		fineLOD = c.FineLODOf(cell)
	}
	s := sampling.FromDisk(c.Grid, fineLOD, c.Layout, points, int(bogusCount))
	return &Node{Cell: cell, Sampling: s, Summary: summaries}, nil
}
