package maint

import (
	"fmt"

	"github.com/nervusdb/nervusdb/internal/dictionary"
	"github.com/nervusdb/nervusdb/internal/paged"
	"github.com/nervusdb/nervusdb/internal/triple"
	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

// CheckResult reports the outcome of a consistency check.
type CheckResult struct {
	OK           bool
	BrokenOrders []string
	Errors       []string
}

// Check validates m against dict and walCheckpoint per spec §4.9: every
// catalog entry's bytes CRC-verify, every tombstone's ids still resolve in
// dict, orphans don't intersect live references, and the epoch is at
// least as new as the WAL's last recorded checkpoint.
func (mt *Maintenance) Check(m *paged.Manifest, dict *dictionary.Dictionary, walCheckpoint int64, strict bool) CheckResult {
	result := CheckResult{OK: true}
	broken := make(map[string]bool)

	for _, order := range triple.Orders {
		for _, ref := range m.Lookups[order.String()] {
			if _, err := mt.Pages.ReadPage(order, ref); err != nil {
				broken[order.String()] = true
				result.Errors = append(result.Errors, fmt.Sprintf("%s: page %d: %v", order, ref.PageId, err))
			}
		}
	}

	for _, ts := range m.Tombstones {
		for _, id := range ts {
			if _, ok := dict.GetValue(id); !ok {
				result.Errors = append(result.Errors, fmt.Sprintf("tombstone references unresolvable id %d", id))
			}
		}
	}

	if m.ReferencedPageIds().Intersects(m.OrphanIds()) {
		result.Errors = append(result.Errors, "orphans intersect live references (I6 violation)")
	}

	if m.Epoch < walCheckpoint {
		result.Errors = append(result.Errors, "manifest epoch precedes the WAL checkpoint")
	}

	for order := range broken {
		result.BrokenOrders = append(result.BrokenOrders, order)
	}
	if len(result.Errors) > 0 {
		result.OK = false
	}
	if strict && len(result.BrokenOrders) > 0 {
		result.OK = false
	}
	return result
}

// Repair rebuilds broken's page set from scratch, reading the full live
// triple set from the first other order that currently passes Check (every
// order stores the same triple set under a different sort key, so any one
// surviving order is a sufficient source) and re-paginating broken from
// it. It installs a fresh catalog for broken and advances m's epoch.
func (mt *Maintenance) Repair(m *paged.Manifest, dict *dictionary.Dictionary, broken triple.Order, compression paged.Compression) error {
	source, ok := mt.findSurvivingOrder(m, broken)
	if !ok {
		return nerr.Internal("I3", "repair: no surviving order available to rebuild from", nil)
	}

	all, err := mt.readAllLive(m, source)
	if err != nil {
		return err
	}

	oldRefs := append([]paged.PageRef(nil), m.Lookups[broken.String()]...)
	m.RetirePages(broken, oldRefs, m.Epoch)

	groups := make(map[triple.Id][]triple.Triple)
	for _, t := range all {
		primary, _, _ := broken.Dims(t)
		groups[primary] = append(groups[primary], t)
	}
	for primary, triples := range groups {
		ref, err := mt.Pages.AppendPage(broken, m.NextPage(), primary, triples, compression)
		if err != nil {
			return err
		}
		m.AddPage(broken, ref)
	}

	m.Epoch++
	return nil
}

func (mt *Maintenance) findSurvivingOrder(m *paged.Manifest, broken triple.Order) (triple.Order, bool) {
	for _, order := range triple.Orders {
		if order == broken {
			continue
		}
		ok := true
		for _, ref := range m.Lookups[order.String()] {
			if _, err := mt.Pages.ReadPage(order, ref); err != nil {
				ok = false
				break
			}
		}
		if ok {
			return order, true
		}
	}
	return 0, false
}

func (mt *Maintenance) readAllLive(m *paged.Manifest, order triple.Order) ([]triple.Triple, error) {
	var out []triple.Triple
	for _, ref := range m.Lookups[order.String()] {
		live, err := mt.Pages.ReadLiveTriples(order, ref, m)
		if err != nil {
			return nil, err
		}
		out = append(out, live...)
	}
	return out, nil
}
