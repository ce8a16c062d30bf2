package pointcodec

import (
	"fmt"
	"strings"
)

// AttributeType is the closed set of per-attribute datatypes the codec
// understands. The numeric values double as the on-disk type tag.
type AttributeType uint8

const (
	TypeU8 AttributeType = iota
	TypeI8
	TypeU16
	TypeI16
	TypeU32
	TypeI32
	TypeU64
	TypeI64
	TypeF32
	TypeF64
	TypeVec3U8
	TypeVec3U16
	TypeVec3F32
	TypeVec3I32
	TypeVec3F64
	TypeVec4U8
	TypeByteArray
)

// IntrinsicSize returns the type's fixed byte size, or 0 for TypeByteArray
// whose size is declared per-attribute instead.
func (t AttributeType) IntrinsicSize() int {
	switch t {
	case TypeU8, TypeI8:
		return 1
	case TypeU16, TypeI16:
		return 2
	case TypeU32, TypeI32, TypeF32:
		return 4
	case TypeU64, TypeI64, TypeF64:
		return 8
	case TypeVec3U8:
		return 3
	case TypeVec4U8:
		return 4
	case TypeVec3U16:
		return 6
	case TypeVec3F32, TypeVec3I32:
		return 12
	case TypeVec3F64:
		return 24
	default:
		return 0
	}
}

func (t AttributeType) String() string {
	names := [...]string{
		"u8", "i8", "u16", "i16", "u32", "i32", "u64", "i64", "f32", "f64",
		"vec3u8", "vec3u16", "vec3f32", "vec3i32", "vec3f64", "vec4u8", "byte_array",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return fmt.Sprintf("unknown_type(%d)", uint8(t))
}

// AttributeDef declares one attribute's name, type, and byte size. Size is
// redundant with Type.IntrinsicSize() except for TypeByteArray, whose size
// is declared here.
type AttributeDef struct {
	Name string
	Type AttributeType
	Size uint64
}

// Layout is the ordered set of attributes packed into one point record.
// Two layouts are equal iff their attribute sequences match exactly; the
// codec treats layout mismatch (wrong name, type, order, or size) as a
// PointLayoutMismatch error rather than attempting best-effort coercion.
type Layout struct {
	Attributes []AttributeDef
}

// Stride returns the total byte size of one point record.
func (l Layout) Stride() int {
	n := 0
	for _, a := range l.Attributes {
		n += int(a.Size)
	}
	return n
}

func (l Layout) Equal(other Layout) bool {
	if len(l.Attributes) != len(other.Attributes) {
		return false
	}
	for i, a := range l.Attributes {
		b := other.Attributes[i]
		if a.Name != b.Name || a.Type != b.Type || a.Size != b.Size {
			return false
		}
	}
	return true
}

func (l Layout) String() string {
	parts := make([]string, len(l.Attributes))
	for i, a := range l.Attributes {
		parts[i] = fmt.Sprintf("%s:%s(%d)", a.Name, a.Type, a.Size)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// IndexOf returns the byte offset and definition of the named attribute.
func (l Layout) IndexOf(name string) (offset int, def AttributeDef, ok bool) {
	off := 0
	for _, a := range l.Attributes {
		if a.Name == name {
			return off, a, true
		}
		off += int(a.Size)
	}
	return 0, AttributeDef{}, false
}
