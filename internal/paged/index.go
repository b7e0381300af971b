package paged

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	mmap "github.com/edsrzf/mmap-go"
	"go.uber.org/zap"

	"github.com/nervusdb/nervusdb/internal/codec"
	"github.com/nervusdb/nervusdb/internal/triple"
	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

// Index owns the six per-order .idxpage files and appends/reads pages
// against them under the manifest's direction (spec §4.5, §6).
type Index struct {
	dir   string
	files map[triple.Order]*os.File
	log   *zap.Logger
}

// Open opens (creating if absent) the six <ORDER>.idxpage files under dir.
func Open(dir string, log *zap.Logger) (*Index, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nerr.Wrap(err, "paged: creating page directory")
	}
	idx := &Index{dir: dir, files: make(map[triple.Order]*os.File, len(triple.Orders)), log: log}
	for _, order := range triple.Orders {
		path := filepath.Join(dir, order.String()+".idxpage")
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			idx.Close()
			return nil, nerr.Wrap(err, "paged: opening "+order.String()+".idxpage")
		}
		idx.files[order] = f
	}
	return idx, nil
}

// Close closes every per-order file handle.
func (idx *Index) Close() error {
	var firstErr error
	for _, f := range idx.files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AppendPage writes a brand new page at the end of order's file and
// returns its catalog entry. The caller is responsible for fsyncing
// before installing a manifest that references it (spec §4.5 step 2).
func (idx *Index) AppendPage(order triple.Order, pageId uint64, primary triple.Id, triples []triple.Triple, compression Compression) (PageRef, error) {
	f := idx.files[order]
	frame, err := EncodePage(order, primary, triples, compression.Codec, compression.Level)
	if err != nil {
		return PageRef{}, err
	}
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return PageRef{}, nerr.Wrap(err, "paged: seeking to end of "+order.String()+".idxpage")
	}
	if _, err := f.Write(frame); err != nil {
		return PageRef{}, nerr.Wrap(err, "paged: appending page")
	}
	return PageRef{
		PrimaryValue: uint64(primary),
		PageId:       pageId,
		Offset:       offset,
		Length:       int64(len(frame)),
		CRC32:        codec.CRC32(frame[:len(frame)-4]),
		Count:        len(triples),
	}, nil
}

// Sync fsyncs every per-order file.
func (idx *Index) Sync() error {
	for order, f := range idx.files {
		if err := f.Sync(); err != nil {
			return nerr.Wrap(err, "paged: fsyncing "+order.String()+".idxpage")
		}
	}
	return nil
}

// ReadPage reads and decodes the page at ref via a read-only mmap of
// order's file.
func (idx *Index) ReadPage(order triple.Order, ref PageRef) (Page, error) {
	f := idx.files[order]
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return Page{}, nerr.Wrap(err, "paged: mmapping "+order.String()+".idxpage")
	}
	defer m.Unmap()

	if ref.Offset < 0 || ref.Offset+ref.Length > int64(len(m)) {
		return Page{}, nerr.Corruption("paged: page reference out of file bounds", nil)
	}
	frame := append([]byte(nil), m[ref.Offset:ref.Offset+ref.Length]...)
	return DecodePage(order, frame)
}

// ReadLiveTriples reads ref's page and filters out anything in manifest's
// tombstone set, matching spec §4.5's "Reading" contract.
func (idx *Index) ReadLiveTriples(order triple.Order, ref PageRef, m *Manifest) ([]triple.Triple, error) {
	page, err := idx.ReadPage(order, ref)
	if err != nil {
		return nil, err
	}
	out := page.Triples[:0:0]
	for _, t := range page.Triples {
		if m.HasTombstone(t) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Truncate punches a hole for ref by zero-filling its byte range, without
// shifting any other page's offsets (used by GC, spec §4.8 step 3).
func (idx *Index) Truncate(order triple.Order, ref PageRef) error {
	f := idx.files[order]
	zeros := make([]byte, ref.Length)
	if _, err := f.WriteAt(zeros, ref.Offset); err != nil {
		return nerr.Wrap(err, "paged: truncating orphaned page")
	}
	return nil
}

// AppendFromStaging groups liveTriples by (order, primaryValue), merging
// each group into the existing last page for that primary when the
// combined count stays under maxPageTriples, or appending a fresh page
// otherwise; tombstones are added to m's tombstone set without rewriting
// already-paged occurrences (spec §4.5 "Incremental append").
func (idx *Index) AppendFromStaging(m *Manifest, liveTriples, tombstones []triple.Triple, maxPageTriples int) error {
	for _, order := range triple.Orders {
		groups := groupByPrimary(order, liveTriples)
		primaries := sortedKeys(groups)
		for _, primary := range primaries {
			incoming := groups[primary]
			existing := m.PagesFor(order, primary)

			if len(existing) > 0 && existing[len(existing)-1].Count+len(incoming) <= maxPageTriples {
				last := existing[len(existing)-1]
				merged, err := idx.ReadLiveTriples(order, last, m)
				if err != nil {
					return err
				}
				merged = append(merged, incoming...)
				m.RetirePages(order, []PageRef{last}, m.Epoch)
				ref, err := idx.AppendPage(order, m.NextPage(), primary, merged, m.Compression)
				if err != nil {
					return err
				}
				m.AddPage(order, ref)
				continue
			}

			ref, err := idx.AppendPage(order, m.NextPage(), primary, incoming, m.Compression)
			if err != nil {
				return err
			}
			m.AddPage(order, ref)
		}
	}
	for _, t := range tombstones {
		m.AddTombstone(t)
	}
	// A triple flushed live here cancels any prior tombstone for it, so a
	// re-add after a delete-and-flush isn't permanently suppressed by
	// ReadLiveTriples. Done after the merge loop above so every
	// ReadLiveTriples call in this invocation still saw the pre-re-add
	// tombstone state and didn't double-count an existing paged copy.
	for _, t := range liveTriples {
		m.RemoveTombstone(t)
	}
	return nil
}

func groupByPrimary(order triple.Order, triples []triple.Triple) map[triple.Id][]triple.Triple {
	groups := make(map[triple.Id][]triple.Triple)
	for _, t := range triples {
		primary, _, _ := order.Dims(t)
		groups[primary] = append(groups[primary], t)
	}
	return groups
}

func sortedKeys(groups map[triple.Id][]triple.Triple) []triple.Id {
	keys := make([]triple.Id, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
