package nervusdb

import (
	"path/filepath"
	"time"

	"github.com/nervusdb/nervusdb/internal/conc"
	"github.com/nervusdb/nervusdb/internal/maint"
	"github.com/nervusdb/nervusdb/internal/paged"
	"github.com/nervusdb/nervusdb/internal/triple"
	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

// Check validates the live manifest's catalog: every page's CRC, every
// tombstoned id still resolving in the dictionary, and no overlap between
// live and orphaned pages (spec §4.9).
func (s *Store) Check(strict bool) maint.CheckResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maint.Check(s.manifest, s.dict, s.manifest.Checkpoint, strict)
}

// Repair rebuilds broken from another order that still carries a complete,
// CRC-clean copy of the same facts (spec §4.9).
func (s *Store) Repair(broken triple.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maint.Repair(s.manifest, s.dict, broken, s.manifest.Compression); err != nil {
		return err
	}
	return s.manifest.Save(filepath.Join(s.indexDir, manifestFileName))
}

// Compact runs one scored compaction pass (spec §4.7), persisting the
// resulting manifest unless opts.DryRun is set.
func (s *Store) Compact(opts maint.CompactOptions) (maint.CompactResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if (opts.Compression == paged.Compression{}) {
		opts.Compression = s.manifest.Compression
	}
	result, err := s.maint.Compact(s.manifest, opts)
	if err != nil {
		return result, err
	}
	if !opts.DryRun {
		if err := s.manifest.Save(filepath.Join(s.indexDir, manifestFileName)); err != nil {
			return result, err
		}
	}
	return result, nil
}

// AutoCompact runs an incremental compaction pass using DefaultWeights,
// MinMergePages 2 and the given minScore, the policy a caller wires to a
// periodic ticker rather than
// this library running one itself (spec §4.7 leaves scheduling external).
func (s *Store) AutoCompact(minScore float64) (maint.CompactResult, error) {
	return s.Compact(maint.CompactOptions{
		Full:          false,
		MinMergePages: 2,
		Weights:       maint.DefaultWeights,
		MinScore:      minScore,
	})
}

// GarbageCollectPages reclaims orphaned page bytes that no registered
// reader still needs (spec §4.8, P8).
func (s *Store) GarbageCollectPages(opts maint.GCOptions) (maint.GCResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.maint.GarbageCollectPages(s.manifest, opts)
	if err != nil {
		return result, err
	}
	if err := s.manifest.Save(filepath.Join(s.indexDir, manifestFileName)); err != nil {
		return result, err
	}
	return result, nil
}

// ListHot returns the n hottest (order, primary) buckets, decayed to now.
func (s *Store) ListHot(n int) []conc.HotEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hotness == nil {
		return nil
	}
	return s.hotness.Top(n, time.Now().Unix())
}

// ListReaders returns every reader currently registered against this
// database, including readers from other processes.
func (s *Store) ListReaders() ([]conc.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readers.List()
}

// ListTxIds returns recorded transaction ids matching filter, for
// diagnosing replication or idempotency questions (spec §6).
func (s *Store) ListTxIds(filter conc.TxIdFilter) []conc.TxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txids.ListTxIds(filter)
}

// DumpedPage is a decoded on-disk page, for inspection tooling.
type DumpedPage struct {
	Order   triple.Order
	Primary uint64
	Triples []ResolvedTriple
}

// DumpPage decodes every page stored for (order, primaryValue), resolving
// ids back to their interned strings.
func (s *Store) DumpPage(order triple.Order, primaryValue string) ([]DumpedPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	primary, ok := s.dict.GetId(primaryValue)
	if !ok {
		return nil, nerr.NotFound("nervusdb: unknown primary value")
	}
	refs := s.manifest.PagesFor(order, primary)
	out := make([]DumpedPage, 0, len(refs))
	for _, ref := range refs {
		page, err := s.pages.ReadPage(order, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, DumpedPage{
			Order:   order,
			Primary: page.Primary,
			Triples: s.resolveTriples(page.Triples),
		})
	}
	return out, nil
}
