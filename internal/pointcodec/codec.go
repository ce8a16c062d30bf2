// Package pointcodec serializes heterogeneous point-attribute buffers to
// and from a self-describing binary format: a header naming the attribute
// layout, followed by a body that is either a dense packed array or, when
// compression is enabled, one LZ4 block per byte-column of the point
// stride (a column/byte transpose that improves compression ratio on
// piecewise-uniform attribute columns).
package pointcodec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	idxerrors "github.com/arx-os/lidarindex/internal/errors"
	"github.com/klauspost/compress/lz4"
)

var magic = [16]byte{'l', 'i', 'd', 'a', 'r', 's', 'e', 'r', 'v', ' ', 'p', 'o', 'i', 'n', 't', 's'}

const formatVersion = 1

// Endianness controls only the body's multi-byte numeric encoding; the
// header is always little-endian.
type Endianness uint8

const (
	LittleEndian Endianness = iota
	BigEndian
)

// Compression selects the body encoding.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4Transposed
)

// byteOrder returns the binary.ByteOrder matching e.
func (e Endianness) byteOrder() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Encode writes a self-describing point file: header, then body. data must
// hold exactly pointCount*layout.Stride() bytes, already encoded in the
// requested endianness.
func Encode(w io.Writer, layout Layout, endianness Endianness, compression Compression, pointCount uint64, data []byte) error {
	stride := layout.Stride()
	if len(data) != int(pointCount)*stride {
		return idxerrors.DataFormatf("encode: data length %d does not match point count %d * stride %d", len(data), pointCount, stride)
	}
	if len(layout.Attributes) > 255 {
		return idxerrors.Unsupported("more than 255 attributes")
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic[:]); err != nil {
		return idxerrors.IO("", "writing magic", err)
	}
	if err := bw.WriteByte(formatVersion); err != nil {
		return idxerrors.IO("", "writing version", err)
	}
	if err := bw.WriteByte(byte(endianness)); err != nil {
		return idxerrors.IO("", "writing endianness", err)
	}
	if err := bw.WriteByte(byte(compression)); err != nil {
		return idxerrors.IO("", "writing compression", err)
	}
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], pointCount)
	if _, err := bw.Write(countBuf[:]); err != nil {
		return idxerrors.IO("", "writing point count", err)
	}
	if err := bw.WriteByte(byte(len(layout.Attributes))); err != nil {
		return idxerrors.IO("", "writing attribute count", err)
	}
	for _, a := range layout.Attributes {
		if len(a.Name) > 255 {
			return idxerrors.Unsupported(fmt.Sprintf("attribute name %q exceeds 255 bytes", a.Name))
		}
		if err := bw.WriteByte(byte(len(a.Name))); err != nil {
			return idxerrors.IO("", "writing attribute name length", err)
		}
		if _, err := bw.WriteString(a.Name); err != nil {
			return idxerrors.IO("", "writing attribute name", err)
		}
		var sizeBuf [8]byte
		binary.LittleEndian.PutUint64(sizeBuf[:], a.Size)
		if _, err := bw.Write(sizeBuf[:]); err != nil {
			return idxerrors.IO("", "writing attribute size", err)
		}
		if err := bw.WriteByte(byte(a.Type)); err != nil {
			return idxerrors.IO("", "writing attribute type", err)
		}
	}

	switch compression {
	case CompressionNone:
		if _, err := bw.Write(data); err != nil {
			return idxerrors.IO("", "writing packed body", err)
		}
	case CompressionLZ4Transposed:
		if err := writeTransposedLZ4(bw, data, stride, int(pointCount)); err != nil {
			return err
		}
	default:
		return idxerrors.Unsupported(fmt.Sprintf("compression mode %d", compression))
	}
	if err := bw.Flush(); err != nil {
		return idxerrors.IO("", "flushing body", err)
	}
	return nil
}

// Decode reads a point file written by Encode, verifying the declared
// layout matches expected. Returns the decoded point data, still in the
// file's declared endianness (callers needing native order must convert).
func Decode(r io.Reader, expected Layout) (data []byte, pointCount uint64, endianness Endianness, err error) {
	br := bufio.NewReader(r)

	var gotMagic [16]byte
	if _, err := io.ReadFull(br, gotMagic[:]); err != nil {
		return nil, 0, 0, idxerrors.IO("", "reading magic", err)
	}
	if gotMagic != magic {
		return nil, 0, 0, idxerrors.DataFormat("bad magic bytes")
	}

	version, err := br.ReadByte()
	if err != nil {
		return nil, 0, 0, idxerrors.IO("", "reading version", err)
	}
	if version != formatVersion {
		return nil, 0, 0, idxerrors.Unsupported(fmt.Sprintf("point file version %d", version))
	}

	endiannessByte, err := br.ReadByte()
	if err != nil {
		return nil, 0, 0, idxerrors.IO("", "reading endianness", err)
	}
	endianness = Endianness(endiannessByte)
	if endianness != LittleEndian && endianness != BigEndian {
		return nil, 0, 0, idxerrors.DataFormat(fmt.Sprintf("invalid endianness byte %d", endiannessByte))
	}

	compressionByte, err := br.ReadByte()
	if err != nil {
		return nil, 0, 0, idxerrors.IO("", "reading compression", err)
	}
	compression := Compression(compressionByte)

	var countBuf [8]byte
	if _, err := io.ReadFull(br, countBuf[:]); err != nil {
		return nil, 0, 0, idxerrors.IO("", "reading point count", err)
	}
	pointCount = binary.LittleEndian.Uint64(countBuf[:])

	attrCountByte, err := br.ReadByte()
	if err != nil {
		return nil, 0, 0, idxerrors.IO("", "reading attribute count", err)
	}

	layout := Layout{Attributes: make([]AttributeDef, attrCountByte)}
	for i := 0; i < int(attrCountByte); i++ {
		nameLen, err := br.ReadByte()
		if err != nil {
			return nil, 0, 0, idxerrors.IO("", "reading attribute name length", err)
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(br, nameBuf); err != nil {
			return nil, 0, 0, idxerrors.IO("", "reading attribute name", err)
		}
		var sizeBuf [8]byte
		if _, err := io.ReadFull(br, sizeBuf[:]); err != nil {
			return nil, 0, 0, idxerrors.IO("", "reading attribute size", err)
		}
		size := binary.LittleEndian.Uint64(sizeBuf[:])
		typeByte, err := br.ReadByte()
		if err != nil {
			return nil, 0, 0, idxerrors.IO("", "reading attribute type", err)
		}
		attrType := AttributeType(typeByte)
		if attrType != TypeByteArray {
			if intrinsic := attrType.IntrinsicSize(); intrinsic != 0 && uint64(intrinsic) != size {
				return nil, 0, 0, idxerrors.DataFormat(
					fmt.Sprintf("attribute %q declares size %d but type %s has intrinsic size %d", nameBuf, size, attrType, intrinsic))
			}
		}
		layout.Attributes[i] = AttributeDef{Name: string(nameBuf), Type: attrType, Size: size}
	}

	if !layout.Equal(expected) {
		return nil, 0, 0, idxerrors.PointLayoutMismatch(expected, layout)
	}

	stride := layout.Stride()
	switch compression {
	case CompressionNone:
		data = make([]byte, int(pointCount)*stride)
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, 0, 0, idxerrors.IO("", "reading packed body", err)
		}
	case CompressionLZ4Transposed:
		data, err = readTransposedLZ4(br, stride, int(pointCount))
		if err != nil {
			return nil, 0, 0, err
		}
	default:
		return nil, 0, 0, idxerrors.Unsupported(fmt.Sprintf("compression mode %d", compression))
	}

	return data, pointCount, endianness, nil
}

// writeTransposedLZ4 writes one LZ4 block per byte-column of the point
// stride: the i-th frame holds the i-th byte of every point, so a column
// of mostly-repeated bytes (a constant classification code, a narrow
// intensity range) compresses far better than the interleaved record.
func writeTransposedLZ4(w io.Writer, data []byte, stride, pointCount int) error {
	if stride == 0 {
		return nil
	}
	column := make([]byte, pointCount)
	compressed := make([]byte, lz4.CompressBlockBound(pointCount))
	var compressor lz4.Compressor
	for byteIdx := 0; byteIdx < stride; byteIdx++ {
		for p := 0; p < pointCount; p++ {
			column[p] = data[p*stride+byteIdx]
		}
		n, err := compressor.CompressBlock(column, compressed)
		if err != nil {
			return idxerrors.IO("", "lz4 compressing column", err)
		}
		// CompressBlock returns n == 0 when the column is incompressible;
		// store it raw in that case, flagged by the leading byte.
		stored := compressed[:n]
		flag := byte(1)
		if n == 0 {
			stored = column
			flag = 0
		}
		if err := writeByte(w, flag); err != nil {
			return idxerrors.IO("", "writing lz4 frame flag", err)
		}
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(stored)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return idxerrors.IO("", "writing lz4 frame length", err)
		}
		if _, err := w.Write(stored); err != nil {
			return idxerrors.IO("", "writing lz4 frame", err)
		}
	}
	return nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func readTransposedLZ4(r io.Reader, stride, pointCount int) ([]byte, error) {
	data := make([]byte, pointCount*stride)
	if stride == 0 {
		return data, nil
	}
	column := make([]byte, pointCount)
	var lenBuf [8]byte
	flagBuf := make([]byte, 1)
	for byteIdx := 0; byteIdx < stride; byteIdx++ {
		if _, err := io.ReadFull(r, flagBuf); err != nil {
			return nil, idxerrors.IO("", "reading lz4 frame flag", err)
		}
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, idxerrors.IO("", "reading lz4 frame length", err)
		}
		n := binary.LittleEndian.Uint64(lenBuf[:])
		frame := make([]byte, n)
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, idxerrors.IO("", "reading lz4 frame", err)
		}
		if flagBuf[0] == 0 {
			copy(column, frame)
		} else {
			if _, err := lz4.UncompressBlock(frame, column); err != nil {
				return nil, idxerrors.IO("", "lz4 decompressing column", err)
			}
		}
		for p := 0; p < pointCount; p++ {
			data[p*stride+byteIdx] = column[p]
		}
	}
	return data, nil
}
