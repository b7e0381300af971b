package paged

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/nervusdb/nervusdb/internal/codec"
	"github.com/nervusdb/nervusdb/internal/triple"
	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

// PageRef locates one page within its order's .idxpage file.
type PageRef struct {
	PrimaryValue uint64 `json:"primaryValue"`
	PageId       uint64 `json:"pageId"`
	Offset       int64  `json:"offset"`
	Length       int64  `json:"length"`
	CRC32        uint32 `json:"crc32"`
	Count        int    `json:"count"`
}

// OrphanRef is a page no longer referenced by the live catalog but
// potentially still referenced by a manifest epoch a registered reader
// holds (spec §4.5, I6).
type OrphanRef struct {
	PageId         uint64 `json:"pageId"`
	Order          string `json:"order"`
	Offset         int64  `json:"offset"`
	Length         int64  `json:"length"`
	RetiredAtEpoch int64  `json:"retiredAtEpoch"`
}

// Compression names the codec and optional level new pages are written
// with.
type Compression struct {
	Codec codec.Codec `json:"codec"`
	Level int         `json:"level,omitempty"`
}

// Manifest is the JSON-shaped catalog tying primary values to page byte
// ranges, one instance installed per epoch (spec §4.5, §6).
type Manifest struct {
	Epoch       int64                  `json:"epoch"`
	PageSize    int                    `json:"pageSize"`
	Compression Compression            `json:"compression"`
	Lookups     map[string][]PageRef   `json:"lookups"`
	Tombstones  [][3]uint64            `json:"tombstones"`
	Orphans     []OrphanRef            `json:"orphans"`
	Checkpoint  int64                  `json:"checkpoint"`
	NextPageId  uint64                 `json:"nextPageId"`
}

// New creates an empty manifest at epoch 0.
func New(pageSize int, compression Compression) *Manifest {
	m := &Manifest{
		PageSize:    pageSize,
		Compression: compression,
		Lookups:     make(map[string][]PageRef, len(triple.Orders)),
	}
	for _, o := range triple.Orders {
		m.Lookups[o.String()] = nil
	}
	return m
}

// Load reads a manifest from path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nerr.Wrap(err, "paged: reading manifest")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nerr.Corruption("paged: malformed manifest", err)
	}
	if m.Lookups == nil {
		m.Lookups = make(map[string][]PageRef)
	}
	return &m, nil
}

// Clone deep-copies m so callers can build the next epoch's manifest
// without mutating the currently installed (and possibly reader-pinned)
// one.
func (m *Manifest) Clone() *Manifest {
	out := &Manifest{
		Epoch:       m.Epoch,
		PageSize:    m.PageSize,
		Compression: m.Compression,
		Lookups:     make(map[string][]PageRef, len(m.Lookups)),
		Tombstones:  append([][3]uint64(nil), m.Tombstones...),
		Orphans:     append([]OrphanRef(nil), m.Orphans...),
		Checkpoint:  m.Checkpoint,
		NextPageId:  m.NextPageId,
	}
	for order, refs := range m.Lookups {
		out.Lookups[order] = append([]PageRef(nil), refs...)
	}
	return out
}

// Save installs m at path via write-temp + fsync + rename + fsync
// containing directory (spec §4.5 install procedure, steps 3-5).
func (m *Manifest) Save(path string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return nerr.Wrap(err, "paged: marshaling manifest")
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nerr.Wrap(err, "paged: creating manifest temp file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nerr.Wrap(err, "paged: writing manifest temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nerr.Wrap(err, "paged: fsyncing manifest temp file")
	}
	if err := f.Close(); err != nil {
		return nerr.Wrap(err, "paged: closing manifest temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nerr.Wrap(err, "paged: installing manifest")
	}
	return fsyncDir(filepath.Dir(path))
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nerr.Wrap(err, "paged: opening manifest directory for fsync")
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return nerr.Wrap(err, "paged: fsyncing manifest directory")
	}
	return nil
}

// NextPage allocates and returns the next page id.
func (m *Manifest) NextPage() uint64 {
	m.NextPageId++
	return m.NextPageId
}

// AddPage appends ref to order's catalog.
func (m *Manifest) AddPage(order triple.Order, ref PageRef) {
	key := order.String()
	m.Lookups[key] = append(m.Lookups[key], ref)
}

// PagesFor returns the catalog entries for primary under order.
func (m *Manifest) PagesFor(order triple.Order, primary uint64) []PageRef {
	var out []PageRef
	for _, ref := range m.Lookups[order.String()] {
		if ref.PrimaryValue == primary {
			out = append(out, ref)
		}
	}
	return out
}

// RetirePages moves refs out of order's live catalog and into orphans,
// stamped with the epoch they were retired at.
func (m *Manifest) RetirePages(order triple.Order, refs []PageRef, atEpoch int64) {
	if len(refs) == 0 {
		return
	}
	retired := make(map[uint64]bool, len(refs))
	for _, r := range refs {
		retired[r.PageId] = true
	}
	key := order.String()
	kept := m.Lookups[key][:0]
	for _, ref := range m.Lookups[key] {
		if retired[ref.PageId] {
			continue
		}
		kept = append(kept, ref)
	}
	m.Lookups[key] = kept
	for _, ref := range refs {
		m.Orphans = append(m.Orphans, OrphanRef{
			PageId: ref.PageId, Order: key, Offset: ref.Offset, Length: ref.Length, RetiredAtEpoch: atEpoch,
		})
	}
}

// HasTombstone reports whether t has been recorded as deleted.
func (m *Manifest) HasTombstone(t triple.Triple) bool {
	for _, ts := range m.Tombstones {
		if ts[0] == t.S && ts[1] == t.P && ts[2] == t.O {
			return true
		}
	}
	return false
}

// AddTombstone records t as logically deleted, if not already present.
func (m *Manifest) AddTombstone(t triple.Triple) {
	if m.HasTombstone(t) {
		return
	}
	m.Tombstones = append(m.Tombstones, [3]uint64{t.S, t.P, t.O})
}

// ClearTombstones drops every tombstone, used after a full rewrite that
// eliminates them (spec §4.7).
func (m *Manifest) ClearTombstones() {
	m.Tombstones = nil
}

// RemoveTombstone cancels a prior deletion record for t, if present. A
// triple re-added after being tombstoned must stop being suppressed by
// ReadLiveTriples once it's flushed back into the paged index (spec P3,
// I2).
func (m *Manifest) RemoveTombstone(t triple.Triple) {
	for i, ts := range m.Tombstones {
		if ts[0] == t.S && ts[1] == t.P && ts[2] == t.O {
			m.Tombstones = append(m.Tombstones[:i], m.Tombstones[i+1:]...)
			return
		}
	}
}

// ReferencedPageIds returns the set of page ids referenced by the live
// catalog (not orphans) across every order, as a compressed bitmap (I6
// requires this set be disjoint from orphans; roaring set algebra makes
// that check and GC's candidate filtering cheap even with millions of
// pages).
func (m *Manifest) ReferencedPageIds() *roaring64.Bitmap {
	refs := roaring64.New()
	for _, pages := range m.Lookups {
		for _, ref := range pages {
			refs.Add(ref.PageId)
		}
	}
	return refs
}

// OrphanIds returns every orphaned page id as a bitmap.
func (m *Manifest) OrphanIds() *roaring64.Bitmap {
	ids := roaring64.New()
	for _, o := range m.Orphans {
		ids.Add(o.PageId)
	}
	return ids
}

// RemoveOrphans drops the orphans whose page id is set in ids from
// m.Orphans.
func (m *Manifest) RemoveOrphans(ids *roaring64.Bitmap) {
	kept := m.Orphans[:0]
	for _, o := range m.Orphans {
		if ids.Contains(o.PageId) {
			continue
		}
		kept = append(kept, o)
	}
	m.Orphans = kept
}
