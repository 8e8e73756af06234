// Package tensor defines the value types held by a tensorkv store.
//
// # Layouts
//
//   - Dense: a flat float32 tensor covering its shape exactly
//   - RowSparse: a subset of the rows of a 2-D shape; absent rows are zero
//
// # Tags
//
//   - StorageKind: closed layout tag {dense, row_sparse}
//   - DType: closed element-type tag, carried through wire frames
//
// Values are plain data. All synchronization lives in the engine: once a
// value has been handed to a store operation, the caller must not mutate it
// until the operation has resolved.
package tensor
