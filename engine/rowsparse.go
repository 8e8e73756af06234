package engine

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tensorkv/tensor"
)

// RowSparsePull enqueues a selective retrieval of key's row-sparse value.
//
// One row-id set is given per destination buffer; duplicates within a set
// are collapsed. Each destination receives exactly the requested rows that
// are materialized in the stored entry; everything else is absent and reads
// back as zero. Retrieval cost is proportional to the number of distinct
// requested rows, not to the table size. Empty sets are legal and yield
// empty buffers.
//
// The stored entry and every destination must be row-sparse; otherwise the
// pull fails with ErrStorageKindMismatch before any buffer is touched.
func (s *Store) RowSparsePull(key string, outs []*tensor.RowSparse, rowIDs [][]int64, priority int) (*Handle, error) {
	e, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	if e.kind != tensor.KindRowSparse {
		return nil, &ErrStorageKindMismatch{Key: key, Want: tensor.KindRowSparse, Got: e.kind}
	}
	if len(outs) == 0 || len(outs) != len(rowIDs) {
		return nil, fmt.Errorf("row-sparse pull %q: %d destinations for %d row-id sets", key, len(outs), len(rowIDs))
	}

	sets := make([]*roaring64.Bitmap, len(rowIDs))
	for i, ids := range rowIDs {
		if outs[i] == nil {
			return nil, fmt.Errorf("row-sparse pull %q: nil destination %d", key, i)
		}
		if !outs[i].Shape().Equal(e.shape) {
			return nil, &ErrShapeMismatch{Key: key, Want: e.shape, Got: outs[i].Shape()}
		}
		set := roaring64.New()
		for _, id := range ids {
			if id < 0 {
				return nil, fmt.Errorf("row-sparse pull %q: negative row id %d", key, id)
			}
			set.Add(uint64(id))
		}
		sets[i] = set
	}

	h := newHandle()
	err = s.sched.submit(&op{
		kind:     opRowSparsePull,
		key:      key,
		priority: priority,
		handle:   h,
		exec: func() error {
			if err := e.resolveRound(s.currentUpdater()); err != nil {
				return err
			}
			stored := e.value.(*tensor.RowSparse)

			var g errgroup.Group
			for i := range outs {
				out, set := outs[i], sets[i]
				g.Go(func() error { return copyRows(out, stored, set) })
			}
			return g.Wait()
		},
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// copyRows fills out with the requested rows of stored. The bitmap iterates
// in ascending order, so each materialized row appends at the tail of out.
func copyRows(out, stored *tensor.RowSparse, set *roaring64.Bitmap) error {
	out.Reset()

	it := set.Iterator()
	for it.HasNext() {
		id := int64(it.Next())
		row, ok := stored.Row(id)
		if !ok {
			continue // absent rows are implicitly zero
		}
		if err := out.SetRow(id, row); err != nil {
			return err
		}
	}
	return nil
}
