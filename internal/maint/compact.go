// Package maint implements the maintenance surface: scored compaction
// (incremental and full-rewrite), reader-respecting garbage collection,
// and CRC-based check/repair (spec §4.7, §4.8, §4.9).
package maint

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nervusdb/nervusdb/internal/conc"
	"github.com/nervusdb/nervusdb/internal/paged"
	"github.com/nervusdb/nervusdb/internal/triple"
)

// ScoreWeights tunes the compaction candidate-selection formula (spec
// §4.7): score = w_hot*normalizedHotness + w_pages*(pageCount-1) (when
// pageCount >= minMergePages) + w_tomb*tombstoneRatio.
type ScoreWeights struct {
	Hot    float64
	Pages  float64
	Tomb   float64
}

// DefaultWeights matches spec §4.7's stated defaults (w_tomb left to the
// caller; 1.0 is a reasonable, symmetric default absent further guidance).
var DefaultWeights = ScoreWeights{Hot: 1, Pages: 0.5, Tomb: 1}

// CompactOptions configures one compaction invocation.
type CompactOptions struct {
	Full                 bool // false = incremental, true = full rewrite
	Orders               []triple.Order
	MinMergePages        int
	Weights              ScoreWeights
	MinScore             float64
	MaxPrimariesPerOrder int // 0 = unbounded
	Compression          paged.Compression
	DryRun               bool
}

// CompactResult reports what a compaction pass did (or would do, for
// DryRun).
type CompactResult struct {
	Mode             string
	PrimariesCompacted int
	PagesRetired     int
	DryRun           bool
}

type candidate struct {
	order   triple.Order
	primary uint64
	refs    []paged.PageRef
	score   float64
}

// Maintenance owns the paged index, hotness tracker, and reader registry
// that compaction and GC consult.
type Maintenance struct {
	Pages   *paged.Index
	Hotness *conc.Hotness
	Readers *conc.ReaderRegistry
	Log     *zap.Logger
}

// New builds a Maintenance helper.
func New(pages *paged.Index, hotness *conc.Hotness, readers *conc.ReaderRegistry, log *zap.Logger) *Maintenance {
	if log == nil {
		log = zap.NewNop()
	}
	return &Maintenance{Pages: pages, Hotness: hotness, Readers: readers, Log: log}
}

// Compact rewrites m's pages per opts, mutating m in place (new pages
// appended, superseded pages retired to orphans, epoch advanced on
// success). It is safe for readers pinned at m's pre-compaction epoch:
// RetirePages never deletes bytes, it only removes a page from the live
// catalog (spec §4.7 "Respecting readers").
func (mt *Maintenance) Compact(m *paged.Manifest, opts CompactOptions) (CompactResult, error) {
	if opts.Weights == (ScoreWeights{}) {
		opts.Weights = DefaultWeights
	}
	orders := opts.Orders
	if len(orders) == 0 {
		orders = triple.Orders[:]
	}

	now := time.Now().Unix()
	candidatesByOrder := make([][]candidate, len(orders))

	var g errgroup.Group
	var mu sync.Mutex
	for i, order := range orders {
		i, order := i, order
		g.Go(func() error {
			cands, err := mt.scoreOrder(m, order, opts, now)
			if err != nil {
				return err
			}
			mu.Lock()
			candidatesByOrder[i] = cands
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CompactResult{}, err
	}

	result := CompactResult{DryRun: opts.DryRun}
	if opts.Full {
		result.Mode = "full"
	} else {
		result.Mode = "incremental"
	}

	for i, order := range orders {
		cands := candidatesByOrder[i]
		if !opts.Full {
			cands = selectByScore(cands, opts.MinScore, opts.MaxPrimariesPerOrder)
		}
		for _, c := range cands {
			result.PrimariesCompacted++
			result.PagesRetired += len(c.refs)
			if opts.DryRun {
				continue
			}
			if err := mt.rewriteGroup(m, order, c, opts.Compression); err != nil {
				return result, err
			}
		}
	}

	if opts.Full && !opts.DryRun {
		m.ClearTombstones()
	}
	if !opts.DryRun && result.PrimariesCompacted > 0 {
		m.Epoch++
	}
	return result, nil
}

// scoreOrder computes (or, for a full rewrite, simply enumerates) every
// (order, primaryValue) candidate's score.
func (mt *Maintenance) scoreOrder(m *paged.Manifest, order triple.Order, opts CompactOptions, now int64) ([]candidate, error) {
	groups := make(map[uint64][]paged.PageRef)
	for _, ref := range m.Lookups[order.String()] {
		groups[ref.PrimaryValue] = append(groups[ref.PrimaryValue], ref)
	}

	cands := make([]candidate, 0, len(groups))
	for primary, refs := range groups {
		if !opts.Full && len(refs) < opts.MinMergePages && opts.MinMergePages > 1 {
			continue
		}
		tombRatio, err := mt.tombstoneRatio(m, order, refs)
		if err != nil {
			return nil, err
		}
		hot := 0.0
		if mt.Hotness != nil {
			hot = mt.Hotness.Score(uint8(order), primary, now)
		}
		pagesScore := 0.0
		if len(refs) >= opts.MinMergePages {
			pagesScore = float64(len(refs) - 1)
		}
		score := opts.Weights.Hot*hot + opts.Weights.Pages*pagesScore + opts.Weights.Tomb*tombRatio
		cands = append(cands, candidate{order: order, primary: primary, refs: refs, score: score})
	}
	return cands, nil
}

func (mt *Maintenance) tombstoneRatio(m *paged.Manifest, order triple.Order, refs []paged.PageRef) (float64, error) {
	total := 0
	dead := 0
	for _, ref := range refs {
		page, err := mt.Pages.ReadPage(order, ref)
		if err != nil {
			return 0, err
		}
		for _, t := range page.Triples {
			total++
			if m.HasTombstone(t) {
				dead++
			}
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(dead) / float64(total), nil
}

// selectByScore drops candidates strictly below minScore, orders the rest
// by score descending (ties broken by page count descending), and caps the
// result at maxPerOrder (0 = unbounded).
func selectByScore(cands []candidate, minScore float64, maxPerOrder int) []candidate {
	kept := cands[:0]
	for _, c := range cands {
		if c.score >= minScore {
			kept = append(kept, c)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		return len(kept[i].refs) > len(kept[j].refs)
	})
	if maxPerOrder > 0 && len(kept) > maxPerOrder {
		kept = kept[:maxPerOrder]
	}
	return kept
}

// rewriteGroup merges c's pages into a single fresh page with tombstones
// applied, then retires the originals.
func (mt *Maintenance) rewriteGroup(m *paged.Manifest, order triple.Order, c candidate, compression paged.Compression) error {
	var merged []triple.Triple
	for _, ref := range c.refs {
		live, err := mt.Pages.ReadLiveTriples(order, ref, m)
		if err != nil {
			return err
		}
		merged = append(merged, live...)
	}
	// Every triple surviving the ReadLiveTriples filter above is, by
	// definition, not supposed to be suppressed any more; drop any
	// lingering tombstone entry for it so a prior delete-then-re-add can't
	// outlive the data it was meant to suppress once this group is
	// rewritten into a fresh page.
	for _, t := range merged {
		m.RemoveTombstone(t)
	}
	m.RetirePages(order, c.refs, m.Epoch)
	if len(merged) == 0 {
		return nil
	}
	ref, err := mt.Pages.AppendPage(order, m.NextPage(), triple.Id(c.primary), merged, compression)
	if err != nil {
		return err
	}
	m.AddPage(order, ref)
	return nil
}
