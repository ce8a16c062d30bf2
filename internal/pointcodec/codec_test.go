package pointcodec

import (
	"bytes"
	"encoding/binary"
	"testing"

	idxerrors "github.com/arx-os/lidarindex/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLayout() Layout {
	return Layout{Attributes: []AttributeDef{
		{Name: "position", Type: TypeVec3F64, Size: 24},
		{Name: "intensity", Type: TypeU16, Size: 2},
		{Name: "classification", Type: TypeU8, Size: 1},
	}}
}

func buildPoints(layout Layout, n int) []byte {
	stride := layout.Stride()
	buf := make([]byte, n*stride)
	for i := 0; i < n; i++ {
		off := i * stride
		binary.LittleEndian.PutUint64(buf[off:], uint64(i))
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(i*2))
		binary.LittleEndian.PutUint64(buf[off+16:], uint64(i*3))
		binary.LittleEndian.PutUint16(buf[off+24:], uint16(i%1000))
		buf[off+26] = byte(i % 5)
	}
	return buf
}

func TestEncodeDecodeRoundTripUncompressed(t *testing.T) {
	layout := testLayout()
	points := buildPoints(layout, 50)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, layout, LittleEndian, CompressionNone, 50, points))

	got, count, endianness, err := Decode(&buf, layout)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), count)
	assert.Equal(t, LittleEndian, endianness)
	assert.Equal(t, points, got)
}

func TestEncodeDecodeRoundTripLZ4Transposed(t *testing.T) {
	layout := testLayout()
	points := buildPoints(layout, 2000)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, layout, LittleEndian, CompressionLZ4Transposed, 2000, points))

	got, count, _, err := Decode(&buf, layout)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), count)
	assert.Equal(t, points, got)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("not a point file at all")
	_, _, _, err := Decode(buf, testLayout())
	require.Error(t, err)
	assert.True(t, idxerrors.IsKind(err, idxerrors.KindDataFormat))
}

func TestDecodeRejectsLayoutMismatch(t *testing.T) {
	layout := testLayout()
	points := buildPoints(layout, 1)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, layout, LittleEndian, CompressionNone, 1, points))

	wrongLayout := Layout{Attributes: []AttributeDef{{Name: "position", Type: TypeVec3F32, Size: 12}}}
	_, _, _, err := Decode(&buf, wrongLayout)
	require.Error(t, err)
	assert.True(t, idxerrors.IsKind(err, idxerrors.KindPointLayoutMismatch))
}

func TestEncodeRejectsMismatchedDataLength(t *testing.T) {
	layout := testLayout()
	var buf bytes.Buffer
	err := Encode(&buf, layout, LittleEndian, CompressionNone, 10, make([]byte, 5))
	require.Error(t, err)
	assert.True(t, idxerrors.IsKind(err, idxerrors.KindDataFormat))
}
