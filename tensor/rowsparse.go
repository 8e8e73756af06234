package tensor

import (
	"fmt"
	"sort"
)

// RowSparse is a sparse float32 tensor over a 2-D shape (numRows, rowWidth).
// Only a subset of rows is materialized; a row that is not present reads as
// the zero vector. Row ids are kept sorted and unique.
type RowSparse struct {
	shape Shape
	rows  []int64
	data  []float32 // len(rows) * rowWidth, row-major
}

// NewRowSparse returns an empty row-sparse tensor of the given 2-D shape.
func NewRowSparse(shape Shape) (*RowSparse, error) {
	if len(shape) != 2 {
		return nil, fmt.Errorf("tensor: row-sparse shape must be 2-D, got %s", shape)
	}
	return &RowSparse{shape: shape.Clone()}, nil
}

// RowSparseOf wraps rows and data as a row-sparse tensor. Row ids must be
// strictly increasing; data holds one row vector per id, row-major.
func RowSparseOf(shape Shape, rows []int64, data []float32) (*RowSparse, error) {
	rs, err := NewRowSparse(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != len(rows)*rs.Width() {
		return nil, fmt.Errorf("tensor: row-sparse data length %d does not cover %d rows of width %d",
			len(data), len(rows), rs.Width())
	}
	for i, id := range rows {
		if id < 0 || id >= int64(shape[0]) {
			return nil, fmt.Errorf("tensor: row id %d out of range %s", id, shape)
		}
		if i > 0 && rows[i-1] >= id {
			return nil, fmt.Errorf("tensor: row ids must be strictly increasing, got %d after %d", id, rows[i-1])
		}
	}
	rs.rows = rows
	rs.data = data
	return rs, nil
}

// Kind implements Tensor.
func (r *RowSparse) Kind() StorageKind { return KindRowSparse }

// DType implements Tensor.
func (r *RowSparse) DType() DType { return Float32 }

// Shape implements Tensor.
func (r *RowSparse) Shape() Shape { return r.shape }

// Width returns the length of one row vector.
func (r *RowSparse) Width() int { return r.shape[1] }

// Rows returns the materialized row ids in ascending order.
// Callers must not mutate the returned slice.
func (r *RowSparse) Rows() []int64 { return r.rows }

// NumRows returns the number of materialized rows.
func (r *RowSparse) NumRows() int { return len(r.rows) }

// Data exposes the backing slice, one row vector per materialized id.
func (r *RowSparse) Data() []float32 { return r.data }

func (r *RowSparse) find(id int64) (int, bool) {
	i := sort.Search(len(r.rows), func(i int) bool { return r.rows[i] >= id })
	return i, i < len(r.rows) && r.rows[i] == id
}

// Row returns the vector for id and whether the row is materialized.
// The returned slice aliases the tensor's storage.
func (r *RowSparse) Row(id int64) ([]float32, bool) {
	i, ok := r.find(id)
	if !ok {
		return nil, false
	}
	w := r.Width()
	return r.data[i*w : (i+1)*w], true
}

// SetRow materializes (or overwrites) the vector for id.
func (r *RowSparse) SetRow(id int64, row []float32) error {
	w := r.Width()
	if len(row) != w {
		return fmt.Errorf("tensor: row length %d does not match width %d", len(row), w)
	}
	if id < 0 || id >= int64(r.shape[0]) {
		return fmt.Errorf("tensor: row id %d out of range %s", id, r.shape)
	}
	i, ok := r.find(id)
	if ok {
		copy(r.data[i*w:(i+1)*w], row)
		return nil
	}
	n := len(r.rows)
	r.rows = append(r.rows, 0)
	copy(r.rows[i+1:], r.rows[i:])
	r.rows[i] = id
	r.data = append(r.data, make([]float32, w)...)
	copy(r.data[(i+1)*w:], r.data[i*w:n*w])
	copy(r.data[i*w:(i+1)*w], row)
	return nil
}

// Reset drops all materialized rows, leaving an all-zero tensor.
func (r *RowSparse) Reset() {
	r.rows = r.rows[:0]
	r.data = r.data[:0]
}

// Clone returns an independent deep copy.
func (r *RowSparse) Clone() *RowSparse {
	rows := make([]int64, len(r.rows))
	copy(rows, r.rows)
	data := make([]float32, len(r.data))
	copy(data, r.data)
	return &RowSparse{shape: r.shape.Clone(), rows: rows, data: data}
}

// Add accumulates o into r, materializing rows present only in o and summing
// rows present in both.
func (r *RowSparse) Add(o *RowSparse) error {
	if !r.shape.Equal(o.shape) {
		return fmt.Errorf("tensor: add shape %s into %s", o.shape, r.shape)
	}
	w := r.Width()
	for i, id := range o.rows {
		src := o.data[i*w : (i+1)*w]
		if dst, ok := r.Row(id); ok {
			for j, v := range src {
				dst[j] += v
			}
			continue
		}
		if err := r.SetRow(id, src); err != nil {
			return err
		}
	}
	return nil
}
