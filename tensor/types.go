package tensor

import (
	"fmt"
	"strings"
)

// DType identifies the element type of a tensor value.
//
// It is a closed tag: the codec refuses to decode frames carrying an unknown
// dtype, and store entries keep their dtype for life.
type DType uint8

const (
	// Float32 is the only element type currently supported end to end.
	Float32 DType = iota + 1
)

// Valid reports whether d is a known element type.
func (d DType) Valid() bool { return d == Float32 }

// Size returns the encoded size of one element in bytes.
func (d DType) Size() int {
	switch d {
	case Float32:
		return 4
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// StorageKind identifies how a tensor value is laid out.
//
// It is a closed tag, checked at every store/retrieve boundary.
type StorageKind uint8

const (
	// KindDense stores every element of the shape.
	KindDense StorageKind = iota + 1
	// KindRowSparse stores a subset of the rows of a 2-D shape; absent rows
	// are implicitly zero.
	KindRowSparse
)

// Valid reports whether k is a known storage kind.
func (k StorageKind) Valid() bool { return k == KindDense || k == KindRowSparse }

func (k StorageKind) String() string {
	switch k {
	case KindDense:
		return "dense"
	case KindRowSparse:
		return "row_sparse"
	default:
		return fmt.Sprintf("storage_kind(%d)", uint8(k))
	}
}

// Shape is the dimension vector of a tensor.
type Shape []int

// Elems returns the total number of elements described by the shape.
func (s Shape) Elems() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether two shapes are identical.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the shape.
func (s Shape) Clone() Shape {
	c := make(Shape, len(s))
	copy(c, s)
	return c
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Tensor is the closed set of value layouts the store accepts.
//
// The two implementations are Dense and RowSparse; code that needs the
// concrete layout switches on Kind.
type Tensor interface {
	Kind() StorageKind
	DType() DType
	Shape() Shape
}

// Compile-time checks that both layouts satisfy Tensor.
var (
	_ Tensor = (*Dense)(nil)
	_ Tensor = (*RowSparse)(nil)
)

// Clone returns an independent deep copy of t.
func Clone(t Tensor) Tensor {
	switch v := t.(type) {
	case *Dense:
		return v.Clone()
	case *RowSparse:
		return v.Clone()
	default:
		panic(fmt.Sprintf("tensor: unknown layout %T", t))
	}
}

// Add accumulates src into dst element-wise. Both operands must share layout
// and shape. Addition is commutative and associative, so the order in which
// contributions arrive does not change the result.
func Add(dst, src Tensor) error {
	switch d := dst.(type) {
	case *Dense:
		s, ok := src.(*Dense)
		if !ok {
			return fmt.Errorf("tensor: cannot add %s into %s", src.Kind(), dst.Kind())
		}
		return d.Add(s)
	case *RowSparse:
		s, ok := src.(*RowSparse)
		if !ok {
			return fmt.Errorf("tensor: cannot add %s into %s", src.Kind(), dst.Kind())
		}
		return d.Add(s)
	default:
		panic(fmt.Sprintf("tensor: unknown layout %T", dst))
	}
}
