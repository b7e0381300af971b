package conc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

// Reader is one registered reader record, persisted at
// readers/<pid>-<nonce>.json.
type Reader struct {
	Pid       int    `json:"pid"`
	Epoch     int64  `json:"epoch"`
	Ts        int64  `json:"ts"`
	SessionId string `json:"sessionId,omitempty"`

	path string // not persisted; the file this record lives in
}

// ReaderRegistry is the filesystem directory of live reader records.
type ReaderRegistry struct {
	dir string
}

// NewReaderRegistry opens (creating if necessary) the readers/ directory
// under indexDir.
func NewReaderRegistry(indexDir string) (*ReaderRegistry, error) {
	dir := filepath.Join(indexDir, "readers")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nerr.Wrap(err, "readerregistry: creating readers directory")
	}
	return &ReaderRegistry{dir: dir}, nil
}

// Register writes a new reader record for the current process pinned at
// epoch, returning a handle whose Unregister removes it.
func (r *ReaderRegistry) Register(epoch int64, ts int64, sessionId string) (*Reader, error) {
	rec := &Reader{
		Pid:       os.Getpid(),
		Epoch:     epoch,
		Ts:        ts,
		SessionId: sessionId,
	}
	name := strconv.Itoa(rec.Pid) + "-" + uuid.NewString() + ".json"
	rec.path = filepath.Join(r.dir, name)

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, nerr.Wrap(err, "readerregistry: marshaling reader record")
	}
	tmp := rec.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, nerr.Wrap(err, "readerregistry: writing reader record")
	}
	if err := os.Rename(tmp, rec.path); err != nil {
		os.Remove(tmp)
		return nil, nerr.Wrap(err, "readerregistry: installing reader record")
	}
	return rec, nil
}

// Unregister removes rec's record file.
func (r *ReaderRegistry) Unregister(rec *Reader) error {
	if rec == nil || rec.path == "" {
		return nil
	}
	if err := os.Remove(rec.path); err != nil && !os.IsNotExist(err) {
		return nerr.Wrap(err, "readerregistry: removing reader record")
	}
	return nil
}

// List returns every currently registered reader record. Stale records left
// behind by a process that crashed without unregistering are included;
// callers that need liveness should cross-check Pid against the OS (out of
// scope for the core: maintenance treats "any record present" as a live
// reader per spec §4.8's conservative policy).
func (r *ReaderRegistry) List() ([]Reader, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, nerr.Wrap(err, "readerregistry: listing readers directory")
	}
	var out []Reader
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.dir, ent.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue // raced with a concurrent unregister; skip
		}
		var rec Reader
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		rec.path = path
		out = append(out, rec)
	}
	return out, nil
}

// MinEpoch returns the lowest epoch among currently registered readers and
// whether any reader is registered at all.
func (r *ReaderRegistry) MinEpoch() (int64, bool, error) {
	readers, err := r.List()
	if err != nil {
		return 0, false, err
	}
	if len(readers) == 0 {
		return 0, false, nil
	}
	min := readers[0].Epoch
	for _, rd := range readers[1:] {
		if rd.Epoch < min {
			min = rd.Epoch
		}
	}
	return min, true, nil
}
