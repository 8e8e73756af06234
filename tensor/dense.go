package tensor

import "fmt"

// Dense is a flat float32 tensor covering its shape exactly.
type Dense struct {
	shape Shape
	data  []float32
}

// NewDense returns a zero-valued dense tensor of the given shape.
func NewDense(shape Shape) *Dense {
	return &Dense{
		shape: shape.Clone(),
		data:  make([]float32, shape.Elems()),
	}
}

// DenseOf wraps data as a dense tensor of the given shape.
// The slice is owned by the returned tensor afterwards.
func DenseOf(shape Shape, data []float32) (*Dense, error) {
	if len(data) != shape.Elems() {
		return nil, fmt.Errorf("tensor: dense data length %d does not cover shape %s", len(data), shape)
	}
	return &Dense{shape: shape.Clone(), data: data}, nil
}

// Ones returns a dense tensor of the given shape with every element set to 1.
func Ones(shape Shape) *Dense {
	d := NewDense(shape)
	d.Fill(1)
	return d
}

// Kind implements Tensor.
func (d *Dense) Kind() StorageKind { return KindDense }

// DType implements Tensor.
func (d *Dense) DType() DType { return Float32 }

// Shape implements Tensor.
func (d *Dense) Shape() Shape { return d.shape }

// Data exposes the backing slice. Callers must not resize it.
func (d *Dense) Data() []float32 { return d.data }

// Fill sets every element to v.
func (d *Dense) Fill(v float32) {
	for i := range d.data {
		d.data[i] = v
	}
}

// Clone returns an independent deep copy.
func (d *Dense) Clone() *Dense {
	data := make([]float32, len(d.data))
	copy(data, d.data)
	return &Dense{shape: d.shape.Clone(), data: data}
}

// CopyFrom overwrites d with the contents of o.
func (d *Dense) CopyFrom(o *Dense) error {
	if !d.shape.Equal(o.shape) {
		return fmt.Errorf("tensor: copy shape %s into %s", o.shape, d.shape)
	}
	copy(d.data, o.data)
	return nil
}

// Add accumulates o into d element-wise.
func (d *Dense) Add(o *Dense) error {
	if !d.shape.Equal(o.shape) {
		return fmt.Errorf("tensor: add shape %s into %s", o.shape, d.shape)
	}
	for i, v := range o.data {
		d.data[i] += v
	}
	return nil
}

// Scale multiplies every element by v.
func (d *Dense) Scale(v float32) {
	for i := range d.data {
		d.data[i] *= v
	}
}
