package conc

import (
	"encoding/json"
	"os"
	"sync"

	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

// TxRecord is one committed transaction's idempotency record.
type TxRecord struct {
	TxId      string `json:"id"`
	Ts        int64  `json:"ts"`
	SessionId string `json:"sessionId,omitempty"`
}

// txIdRegistryFile is the on-disk shape of txids.json (spec §6):
// {version, txIds:[{id,ts,sessionId?}], max}.
type txIdRegistryFile struct {
	Version int        `json:"version"`
	TxIds   []TxRecord `json:"txIds"`
	Max     int        `json:"max"`
}

const txIdRegistryVersion = 1

// TxIdRegistry tracks every committed transaction id so WAL replay and
// concurrent batch commits stay idempotent (spec §4.4, §5). It satisfies
// wal.TxSeen. When max is positive, Record evicts the oldest entry (by Ts)
// before adding a new one past the cap, so a long-running store doesn't
// grow this registry without bound.
type TxIdRegistry struct {
	mu    sync.RWMutex
	seen  map[string]TxRecord
	path  string
	max   int
	dirty bool
}

// NewTxIdRegistry creates an empty registry persisting to path
// (txids.json), remembering at most max transaction ids (0 means
// unbounded).
func NewTxIdRegistry(path string, max int) *TxIdRegistry {
	return &TxIdRegistry{seen: make(map[string]TxRecord), path: path, max: max}
}

// LoadTxIdRegistry reads a previously persisted registry, or returns an
// empty one if no file exists yet. max overrides whatever cap was recorded
// in the file, since options can change across a reopen.
func LoadTxIdRegistry(path string, max int) (*TxIdRegistry, error) {
	r := NewTxIdRegistry(path, max)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, nerr.Wrap(err, "txids: reading")
	}
	var file txIdRegistryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nerr.Corruption("txids: malformed registry file", err)
	}
	for _, rec := range file.TxIds {
		r.seen[rec.TxId] = rec
	}
	r.evictLocked()
	return r, nil
}

// Seen reports whether txId has already been applied.
func (r *TxIdRegistry) Seen(txId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.seen[txId]
	return ok
}

// Record marks txId as applied, evicting the oldest entry first if this
// would push the registry past its configured max.
func (r *TxIdRegistry) Record(txId string, ts int64, sessionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[txId] = TxRecord{TxId: txId, Ts: ts, SessionId: sessionId}
	r.evictLocked()
	r.dirty = true
}

// evictLocked drops the oldest-by-Ts entries until len(seen) <= r.max.
// Callers must hold r.mu.
func (r *TxIdRegistry) evictLocked() {
	if r.max <= 0 {
		return
	}
	for len(r.seen) > r.max {
		var oldestId string
		var oldestTs int64
		first := true
		for id, rec := range r.seen {
			if first || rec.Ts < oldestTs {
				oldestId, oldestTs, first = id, rec.Ts, false
			}
		}
		delete(r.seen, oldestId)
	}
}

// TxIdFilter narrows ListTxIds. A nil field means "don't filter on this".
type TxIdFilter struct {
	SessionId *string
	Since     *int64
}

// ListTxIds returns every recorded transaction matching filter, most recent
// first.
func (r *TxIdRegistry) ListTxIds(filter TxIdFilter) []TxRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TxRecord, 0, len(r.seen))
	for _, rec := range r.seen {
		if filter.SessionId != nil && rec.SessionId != *filter.SessionId {
			continue
		}
		if filter.Since != nil && rec.Ts < *filter.Since {
			continue
		}
		out = append(out, rec)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Ts > out[j-1].Ts; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Save persists the registry via atomic write-temp-then-rename, if dirty
// since the last save.
func (r *TxIdRegistry) Save() error {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return nil
	}
	records := make([]TxRecord, 0, len(r.seen))
	for _, rec := range r.seen {
		records = append(records, rec)
	}
	max := r.max
	r.dirty = false
	r.mu.Unlock()

	data, err := json.Marshal(txIdRegistryFile{Version: txIdRegistryVersion, TxIds: records, Max: max})
	if err != nil {
		return nerr.Wrap(err, "txids: marshaling")
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nerr.Wrap(err, "txids: writing")
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return nerr.Wrap(err, "txids: installing")
	}
	return nil
}
