package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unsafe"

	"github.com/hupe1980/tensorkv/tensor"
)

// Frame layout (little-endian):
//
//	[Magic:2][Version:1][CodecNameLen:1][CodecName:N]
//	[Kind:1][DType:1][NDim:1][Dims:NDim*4]
//	[NumRows:4][RowIDs:NumRows*8]          (row-sparse only)
//	[PayloadLen:4][Payload:N]              (compressed float32 data)
const (
	frameMagic   uint16 = 0x544B // "TK"
	frameVersion uint8  = 1

	// maxDims bounds NDim on decode so a corrupt frame cannot drive a huge
	// allocation.
	maxDims = 8
)

// Marshal encodes t into a self-describing frame, compressing the element
// payload with c (Default if nil).
func Marshal(t tensor.Tensor, c Codec) ([]byte, error) {
	if c == nil {
		c = Default
	}
	name := []byte(c.Name())
	if len(name) > 255 {
		return nil, fmt.Errorf("codec name %q too long", c.Name())
	}

	var buf bytes.Buffer
	le := binary.LittleEndian

	if err := binary.Write(&buf, le, frameMagic); err != nil {
		return nil, err
	}
	buf.WriteByte(frameVersion)
	buf.WriteByte(uint8(len(name)))
	buf.Write(name)

	shape := t.Shape()
	buf.WriteByte(uint8(t.Kind()))
	buf.WriteByte(uint8(t.DType()))
	buf.WriteByte(uint8(len(shape)))
	for _, d := range shape {
		if err := binary.Write(&buf, le, uint32(d)); err != nil { //nolint:gosec
			return nil, err
		}
	}

	var data []float32
	switch v := t.(type) {
	case *tensor.Dense:
		data = v.Data()
	case *tensor.RowSparse:
		rows := v.Rows()
		if err := binary.Write(&buf, le, uint32(len(rows))); err != nil { //nolint:gosec
			return nil, err
		}
		for _, id := range rows {
			if err := binary.Write(&buf, le, id); err != nil {
				return nil, err
			}
		}
		data = v.Data()
	default:
		return nil, fmt.Errorf("unknown layout %T", t)
	}

	payload, err := c.Compress(float32Bytes(data))
	if err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := binary.Write(&buf, le, uint32(len(payload))); err != nil { //nolint:gosec
		return nil, err
	}
	buf.Write(payload)

	return buf.Bytes(), nil
}

// Unmarshal decodes a frame produced by Marshal, resolving the codec from
// the header. Unknown magic, version, codec, kind or dtype tags are
// rejected, as are payloads that do not cover the declared layout.
func Unmarshal(data []byte) (tensor.Tensor, error) {
	r := bytes.NewReader(data)
	le := binary.LittleEndian

	var magic uint16
	if err := binary.Read(r, le, &magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != frameMagic {
		return nil, fmt.Errorf("bad frame magic %#x", magic)
	}

	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != frameVersion {
		return nil, fmt.Errorf("unsupported frame version %d", version)
	}

	nameLen, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, err
	}
	c, ok := ByName(string(name))
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", name)
	}

	kindB, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	kind := tensor.StorageKind(kindB)
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown storage kind tag %d", kindB)
	}

	dtypeB, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	dtype := tensor.DType(dtypeB)
	if !dtype.Valid() {
		return nil, fmt.Errorf("unknown dtype tag %d", dtypeB)
	}

	ndim, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if ndim == 0 || ndim > maxDims {
		return nil, fmt.Errorf("invalid rank %d", ndim)
	}
	shape := make(tensor.Shape, ndim)
	for i := range shape {
		var d uint32
		if err := binary.Read(r, le, &d); err != nil {
			return nil, err
		}
		shape[i] = int(d)
	}

	var rows []int64
	if kind == tensor.KindRowSparse {
		var numRows uint32
		if err := binary.Read(r, le, &numRows); err != nil {
			return nil, err
		}
		rows = make([]int64, numRows)
		for i := range rows {
			if err := binary.Read(r, le, &rows[i]); err != nil {
				return nil, err
			}
		}
	}

	var payloadLen uint32
	if err := binary.Read(r, le, &payloadLen); err != nil {
		return nil, err
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	raw, err := c.Decompress(payload)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("payload length %d is not a float32 multiple", len(raw))
	}
	elems := make([]float32, len(raw)/4)
	for i := range elems {
		elems[i] = math.Float32frombits(le.Uint32(raw[i*4:]))
	}

	switch kind {
	case tensor.KindDense:
		return tensor.DenseOf(shape, elems)
	case tensor.KindRowSparse:
		return tensor.RowSparseOf(shape, rows, elems)
	default:
		return nil, fmt.Errorf("unknown storage kind tag %d", kind)
	}
}

// float32Bytes reinterprets f as its little-endian byte representation
// without copying.
func float32Bytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*4) //nolint:gosec // zero-copy payload write
}
