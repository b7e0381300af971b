package maint

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/nervusdb/nervusdb/internal/paged"
	"github.com/nervusdb/nervusdb/internal/triple"
)

// GCOptions configures one garbage-collection pass.
type GCOptions struct {
	RespectReaders bool
	// Strict enables the stricter variant noted as an open question in
	// spec §4.8: rather than skipping deletion entirely whenever any
	// reader is registered, delete only orphans retired strictly before
	// the minimum live reader epoch. Off by default to match the
	// conservative "any reader -> skip" policy the spec describes as the
	// source's actual behavior.
	Strict bool
}

// GCResult reports what garbageCollectPages did.
type GCResult struct {
	Skipped        bool
	Deleted        int
	BytesReclaimed int64
}

// GarbageCollectPages truncates m's orphaned pages from their files and
// removes them from the orphan list, mutating m in place. It never deletes
// a page a registered reader might still need (spec P8).
func (mt *Maintenance) GarbageCollectPages(m *paged.Manifest, opts GCOptions) (GCResult, error) {
	readers, err := mt.Readers.List()
	if err != nil {
		return GCResult{}, err
	}

	toDelete := m.Orphans
	if opts.RespectReaders && len(readers) > 0 {
		if !opts.Strict {
			return GCResult{Skipped: true}, nil
		}
		minEpoch, any, err := mt.Readers.MinEpoch()
		if err != nil {
			return GCResult{}, err
		}
		if !any {
			return GCResult{Skipped: true}, nil
		}
		filtered := make([]paged.OrphanRef, 0, len(toDelete))
		for _, o := range toDelete {
			if o.RetiredAtEpoch < minEpoch {
				filtered = append(filtered, o)
			}
		}
		toDelete = filtered
		if len(filtered) == 0 {
			return GCResult{Skipped: true}, nil
		}
	}

	result := GCResult{}
	deletedIds := make(map[uint64]bool, len(toDelete))
	for _, o := range toDelete {
		order, ok := triple.ParseOrder(o.Order)
		if !ok {
			continue
		}
		ref := paged.PageRef{Offset: o.Offset, Length: o.Length}
		if err := mt.Pages.Truncate(order, ref); err != nil {
			return result, err
		}
		result.Deleted++
		result.BytesReclaimed += o.Length
		deletedIds[o.PageId] = true
	}

	if result.Deleted > 0 {
		bitmap := roaring64.New()
		for id := range deletedIds {
			bitmap.Add(id)
		}
		m.RemoveOrphans(bitmap)
	}
	return result, nil
}
