package nervusdb

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nervusdb/nervusdb/internal/codec"
	"github.com/nervusdb/nervusdb/internal/conc"
	"github.com/nervusdb/nervusdb/internal/dictionary"
	"github.com/nervusdb/nervusdb/internal/maint"
	"github.com/nervusdb/nervusdb/internal/metrics"
	"github.com/nervusdb/nervusdb/internal/paged"
	"github.com/nervusdb/nervusdb/internal/propstore"
	"github.com/nervusdb/nervusdb/internal/query"
	"github.com/nervusdb/nervusdb/internal/triple"
	"github.com/nervusdb/nervusdb/internal/wal"
	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

const manifestFileName = "index-manifest.json"

// Store is one opened database handle: the write-ahead log, in-memory
// staging buffer, paged on-disk index, property store, and the
// maintenance/query engines built over them.
type Store struct {
	mu sync.Mutex

	path     string
	indexDir string
	opts     Options
	log      *zap.Logger
	metrics  *metrics.Collector

	dict    *dictionary.Dictionary
	triples *triple.Store
	staging *triple.StagingIndex
	props   *propstore.Store

	pages    *paged.Index
	manifest *paged.Manifest

	walFile *os.File
	wal     *wal.Writer
	txids   *conc.TxIdRegistry
	hotness *conc.Hotness
	readers *conc.ReaderRegistry
	lock    *conc.FileLock

	engine *query.Engine
	maint  *maint.Maintenance

	selfReader *conc.Reader
	batch      *writeBatch
	closed     bool
}

type writeBatch struct {
	txId      string
	sessionId string
}

// replayApplier feeds a WAL replay directly into the in-memory write buffer
// and property store, bypassing the WAL (which is the thing being read).
type replayApplier struct {
	triples *triple.Store
	staging *triple.StagingIndex
	props   *propstore.Store
}

func (a *replayApplier) ApplyAdd(s, p, o uint64) {
	t := triple.Triple{S: s, P: p, O: o}
	a.triples.Add(t)
	a.staging.Add(t)
}

func (a *replayApplier) ApplyDelete(s, p, o uint64) {
	t := triple.Triple{S: s, P: p, O: o}
	a.triples.Remove(t)
	a.staging.Remove(t)
}

func (a *replayApplier) ApplyNodeProperty(id uint64, bytes []byte, version uint64) {
	var v interface{}
	if err := json.Unmarshal(bytes, &v); err != nil {
		return
	}
	a.props.SetNode(id, v)
}

func (a *replayApplier) ApplyEdgeProperty(s, p, o uint64, bytes []byte, version uint64) {
	var v interface{}
	if err := json.Unmarshal(bytes, &v); err != nil {
		return
	}
	a.props.SetEdge(propstore.EdgeKey{S: s, P: p, O: o}, v)
}

// Open opens (creating if absent) the database rooted at path.
func Open(path string, opts Options) (*Store, error) {
	opts = withDefaults(opts)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := zap.NewNop()

	indexDir := opts.IndexDirectory
	if indexDir == "" {
		indexDir = path + ".pages"
	}

	var lock *conc.FileLock
	if opts.EnableLock {
		lock = conc.NewFileLock(path + ".lock")
		if err := lock.TryLock(); err != nil {
			return nil, err
		}
	}
	unwindLock := func() {
		if lock != nil {
			lock.Unlock()
		}
	}

	pages, err := paged.Open(indexDir, log)
	if err != nil {
		unwindLock()
		return nil, err
	}

	compression := paged.Compression{Codec: opts.compression(), Level: opts.CompressionLevel}
	manifestPath := filepath.Join(indexDir, manifestFileName)
	var manifest *paged.Manifest
	switch {
	case opts.RebuildIndexes:
		manifest = paged.New(opts.PageSize, compression)
	default:
		if _, statErr := os.Stat(manifestPath); statErr == nil {
			manifest, err = paged.Load(manifestPath)
		} else {
			manifest = paged.New(opts.PageSize, compression)
		}
	}
	if err != nil {
		pages.Close()
		unwindLock()
		return nil, err
	}

	dict := dictionary.New(log)
	props := propstore.New(log)
	triples := triple.NewStore()
	staging := triple.NewStagingIndex()

	walFile, fresh, err := openWAL(path + ".wal")
	if err != nil {
		pages.Close()
		unwindLock()
		return nil, err
	}
	if fresh {
		if err := wal.WriteHeader(walFile); err != nil {
			walFile.Close()
			pages.Close()
			unwindLock()
			return nil, nerr.Wrap(err, "nervusdb: writing WAL header")
		}
	} else {
		if _, err := walFile.Seek(0, io.SeekStart); err != nil {
			walFile.Close()
			pages.Close()
			unwindLock()
			return nil, nerr.Wrap(err, "nervusdb: seeking WAL header")
		}
		if err := wal.CheckHeader(walFile); err != nil {
			walFile.Close()
			pages.Close()
			unwindLock()
			return nil, err
		}
	}

	txidsPath := filepath.Join(indexDir, "txids.json")
	var txids *conc.TxIdRegistry
	if opts.EnablePersistentTxDedupe {
		txids, err = conc.LoadTxIdRegistry(txidsPath, opts.MaxRememberTxIds)
	} else {
		txids = conc.NewTxIdRegistry(txidsPath, opts.MaxRememberTxIds)
	}
	if err != nil {
		walFile.Close()
		pages.Close()
		unwindLock()
		return nil, err
	}

	applier := &replayApplier{triples: triples, staging: staging, props: props}
	if err := wal.Replay(walFile, txids, applier, log); err != nil {
		walFile.Close()
		pages.Close()
		unwindLock()
		return nil, err
	}
	if _, err := walFile.Seek(0, io.SeekEnd); err != nil {
		walFile.Close()
		pages.Close()
		unwindLock()
		return nil, nerr.Wrap(err, "nervusdb: seeking to WAL end")
	}
	writer := wal.NewWriter(walFile, log)

	hotness, err := conc.LoadHotness(filepath.Join(indexDir, "hotness.json"))
	if err != nil {
		walFile.Close()
		pages.Close()
		unwindLock()
		return nil, err
	}
	readers, err := conc.NewReaderRegistry(indexDir)
	if err != nil {
		walFile.Close()
		pages.Close()
		unwindLock()
		return nil, err
	}

	engine := query.New(staging, triples.Removed, pages, props, log)
	mt := maint.New(pages, hotness, readers, log)

	var mcol *metrics.Collector
	if opts.MetricsNamespace != "" {
		mcol = metrics.New(opts.MetricsNamespace)
	}

	s := &Store{
		path:     path,
		indexDir: indexDir,
		opts:     opts,
		log:      log,
		metrics:  mcol,
		dict:     dict,
		triples:  triples,
		staging:  staging,
		props:    props,
		pages:    pages,
		manifest: manifest,
		walFile:  walFile,
		wal:      writer,
		txids:    txids,
		hotness:  hotness,
		readers:  readers,
		lock:     lock,
		engine:   engine,
		maint:    mt,
	}

	if opts.RegisterReader {
		rec, err := readers.Register(manifest.Epoch, time.Now().Unix(), "")
		if err != nil {
			s.Close()
			return nil, err
		}
		s.selfReader = rec
	}

	return s, nil
}

func withDefaults(opts Options) Options {
	defaults := DefaultOptions()
	if opts.PageSize == 0 {
		opts.PageSize = defaults.PageSize
	}
	if opts.CompressionCodec == "" {
		opts.CompressionCodec = defaults.CompressionCodec
	}
	if opts.StagingMode == "" {
		opts.StagingMode = defaults.StagingMode
	}
	return opts
}

func openWAL(path string) (*os.File, bool, error) {
	fresh := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fresh = true
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, nerr.Wrap(err, "nervusdb: opening WAL file")
	}
	return f, fresh, nil
}

// Close flushes ambient state (hotness, tx-id registry) and releases every
// file handle and the exclusive write lock, if held.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.selfReader != nil {
		record(s.readers.Unregister(s.selfReader))
	}
	if s.hotness != nil {
		record(s.hotness.Save())
	}
	if s.txids != nil {
		record(s.txids.Save())
	}
	if s.wal != nil {
		record(s.wal.Sync())
	}
	if s.walFile != nil {
		record(s.walFile.Close())
	}
	if s.pages != nil {
		record(s.pages.Close())
	}
	if s.lock != nil {
		record(s.lock.Unlock())
	}
	return firstErr
}

// withTx runs body under the currently open explicit batch, or wraps it in
// a fresh auto-committed single-operation batch if none is open. Mutations
// inside body apply to the in-memory state immediately either way; only the
// WAL's BEGIN/COMMIT framing (and therefore what a crash-and-replay will
// recover) differs.
func (s *Store) withTx(body func() error) error {
	if s.batch != nil {
		return body()
	}
	txId := uuid.NewString()
	ts := time.Now().Unix()
	if err := s.wal.Append(wal.Entry{Kind: wal.KindBegin, TxId: txId, Ts: ts}); err != nil {
		return nerr.Wrap(err, "nervusdb: writing BEGIN")
	}
	if err := body(); err != nil {
		return err
	}
	if err := s.wal.Append(wal.Entry{Kind: wal.KindCommit, TxId: txId}); err != nil {
		return nerr.Wrap(err, "nervusdb: writing COMMIT")
	}
	if err := s.wal.Flush(); err != nil {
		return nerr.Wrap(err, "nervusdb: flushing WAL")
	}
	s.txids.Record(txId, ts, "")
	return nil
}

// AddFact interns s/p/o, appends an ADD WAL entry, and makes the fact
// visible to subsequent Query calls immediately via the staging index.
func (s *Store) AddFact(t ResolvedTriple, props *FactProperties) (ResolvedTriple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ResolvedTriple{}, nerr.InvalidArgument("nervusdb: store is closed")
	}

	sid, pid, oid := s.dict.Intern(t.S), s.dict.Intern(t.P), s.dict.Intern(t.O)
	tr := triple.Triple{S: sid, P: pid, O: oid}

	err := s.withTx(func() error {
		if err := s.wal.Append(wal.Entry{Kind: wal.KindAdd, S: sid, P: pid, O: oid}); err != nil {
			return nerr.Wrap(err, "nervusdb: writing ADD")
		}
		s.triples.Add(tr)
		s.staging.Add(tr)
		if props != nil && props.Node != nil {
			if _, err := s.setNodePropertiesLocked(sid, props.Node); err != nil {
				return err
			}
		}
		if props != nil && props.Edge != nil {
			if _, err := s.setEdgePropertiesLocked(tr, props.Edge); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ResolvedTriple{}, err
	}

	if s.metrics != nil {
		s.metrics.FactsAdded.Inc()
	}
	if s.hotness != nil {
		now := time.Now().Unix()
		for _, order := range triple.Orders {
			primary, _, _ := order.Dims(tr)
			s.hotness.Touch(uint8(order), primary, now)
		}
	}
	return t, nil
}

// DeleteFact tombstones t. Subsequent Query calls stop returning it
// immediately, even before the next Flush.
func (s *Store) DeleteFact(t ResolvedTriple) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nerr.InvalidArgument("nervusdb: store is closed")
	}
	sid, sok := s.dict.GetId(t.S)
	pid, pok := s.dict.GetId(t.P)
	oid, ook := s.dict.GetId(t.O)
	if !sok || !pok || !ook {
		return nil // unknown strings: nothing to delete
	}
	tr := triple.Triple{S: sid, P: pid, O: oid}

	err := s.withTx(func() error {
		if err := s.wal.Append(wal.Entry{Kind: wal.KindDelete, S: sid, P: pid, O: oid}); err != nil {
			return nerr.Wrap(err, "nervusdb: writing DELETE")
		}
		s.triples.Remove(tr)
		s.staging.Remove(tr)
		return nil
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.FactsDeleted.Inc()
	}
	return nil
}

func (s *Store) setNodePropertiesLocked(id uint64, doc interface{}) (uint64, error) {
	bytes, err := codec.CanonicalJSON(doc)
	if err != nil {
		return 0, nerr.InvalidArgumentf("nervusdb: encoding node properties: %v", err)
	}
	version, err := s.props.SetNode(id, doc)
	if err != nil {
		return 0, nerr.Wrap(err, "nervusdb: setting node properties")
	}
	if err := s.wal.Append(wal.Entry{
		Kind: wal.KindProperty, Target: wal.TargetNode, NodeId: id, Bytes: bytes, Version: version,
	}); err != nil {
		return 0, nerr.Wrap(err, "nervusdb: writing node PROPERTY")
	}
	return version, nil
}

func (s *Store) setEdgePropertiesLocked(tr triple.Triple, doc interface{}) (uint64, error) {
	bytes, err := codec.CanonicalJSON(doc)
	if err != nil {
		return 0, nerr.InvalidArgumentf("nervusdb: encoding edge properties: %v", err)
	}
	version, err := s.props.SetEdge(propstore.EdgeKey(tr), doc)
	if err != nil {
		return 0, nerr.Wrap(err, "nervusdb: setting edge properties")
	}
	if err := s.wal.Append(wal.Entry{
		Kind: wal.KindProperty, Target: wal.TargetEdge, S: tr.S, P: tr.P, O: tr.O, Bytes: bytes, Version: version,
	}); err != nil {
		return 0, nerr.Wrap(err, "nervusdb: writing edge PROPERTY")
	}
	return version, nil
}

// SetNodeProperties writes nodeId's property document.
func (s *Store) SetNodeProperties(nodeId string, doc interface{}) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.dict.Intern(nodeId)
	var version uint64
	err := s.withTx(func() error {
		v, err := s.setNodePropertiesLocked(id, doc)
		version = v
		return err
	})
	return version, err
}

// GetNodeProperties reads nodeId's property document, if any.
func (s *Store) GetNodeProperties(nodeId string) (interface{}, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.dict.GetId(nodeId)
	if !ok {
		return nil, false, nil
	}
	doc, ok := s.props.GetNode(id)
	if !ok {
		return nil, false, nil
	}
	v, err := doc.Value()
	if err != nil {
		return nil, false, nerr.Wrap(err, "nervusdb: decoding node properties")
	}
	return v, true, nil
}

// SetEdgeProperties writes the property document for edge t.
func (s *Store) SetEdgeProperties(t ResolvedTriple, doc interface{}) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr := triple.Triple{S: s.dict.Intern(t.S), P: s.dict.Intern(t.P), O: s.dict.Intern(t.O)}
	var version uint64
	err := s.withTx(func() error {
		v, err := s.setEdgePropertiesLocked(tr, doc)
		version = v
		return err
	})
	return version, err
}

// GetEdgeProperties reads the property document for edge t, if any.
func (s *Store) GetEdgeProperties(t ResolvedTriple) (interface{}, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sid, sok := s.dict.GetId(t.S)
	pid, pok := s.dict.GetId(t.P)
	oid, ook := s.dict.GetId(t.O)
	if !sok || !pok || !ook {
		return nil, false, nil
	}
	doc, ok := s.props.GetEdge(propstore.EdgeKey{S: sid, P: pid, O: oid})
	if !ok {
		return nil, false, nil
	}
	v, err := doc.Value()
	if err != nil {
		return nil, false, nerr.Wrap(err, "nervusdb: decoding edge properties")
	}
	return v, true, nil
}

// BeginBatch opens an explicit batch on this handle. Only one batch may be
// open at a time; a second call before Commit/Abort fails with Conflict.
func (s *Store) BeginBatch(txId, sessionId string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch != nil {
		return "", nerr.Conflict("nervusdb: a batch is already open on this handle")
	}
	if txId == "" {
		txId = uuid.NewString()
	}
	ts := time.Now().Unix()
	if err := s.wal.Append(wal.Entry{Kind: wal.KindBegin, TxId: txId, SessionId: sessionId, Ts: ts}); err != nil {
		return "", nerr.Wrap(err, "nervusdb: writing BEGIN")
	}
	s.batch = &writeBatch{txId: txId, sessionId: sessionId}
	return txId, nil
}

// CommitBatch closes the open batch, optionally fsyncing the WAL before
// returning (durable=true).
func (s *Store) CommitBatch(durable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch == nil {
		return nerr.InvalidArgument("nervusdb: no batch is open")
	}
	b := s.batch
	if err := s.wal.Append(wal.Entry{Kind: wal.KindCommit, TxId: b.txId, Durable: durable}); err != nil {
		return nerr.Wrap(err, "nervusdb: writing COMMIT")
	}
	if err := s.wal.Flush(); err != nil {
		return nerr.Wrap(err, "nervusdb: flushing WAL")
	}
	if durable {
		if err := s.wal.Sync(); err != nil {
			return nerr.Wrap(err, "nervusdb: fsyncing WAL")
		}
	}
	s.txids.Record(b.txId, time.Now().Unix(), b.sessionId)
	s.batch = nil
	return nil
}

// AbortBatch writes an ABORT record so replay will discard this batch's
// entries on a future crash recovery. It does not roll back state already
// applied to the live handle's staging/property stores, since mutations are
// applied at call time rather than buffered (see withTx): a caller that
// needs true rollback should not apply mutations it might abort.
func (s *Store) AbortBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch == nil {
		return nerr.InvalidArgument("nervusdb: no batch is open")
	}
	txId := s.batch.txId
	if err := s.wal.Append(wal.Entry{Kind: wal.KindAbort, TxId: txId}); err != nil {
		return nerr.Wrap(err, "nervusdb: writing ABORT")
	}
	s.batch = nil
	return nil
}

// Flush drains the staging write buffer into the paged index and installs a
// fresh manifest epoch.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()

	live, removed := s.triples.Drain()
	if len(live) == 0 && len(removed) == 0 {
		return nil
	}

	next := s.manifest.Clone()
	maxPageTriples := next.PageSize
	if maxPageTriples <= 0 {
		maxPageTriples = 4096
	}
	if err := s.pages.AppendFromStaging(next, live, removed, maxPageTriples); err != nil {
		for _, t := range live {
			s.triples.Add(t)
			s.staging.Add(t)
		}
		for _, t := range removed {
			s.triples.Remove(t)
		}
		return nerr.Wrap(err, "nervusdb: flush: paginating staged triples")
	}
	if err := s.pages.Sync(); err != nil {
		return nerr.Wrap(err, "nervusdb: flush: syncing page files")
	}

	next.Epoch++
	next.Checkpoint = next.Epoch
	if err := next.Save(filepath.Join(s.indexDir, manifestFileName)); err != nil {
		return err
	}
	s.manifest = next

	for _, t := range live {
		s.staging.Remove(t)
	}
	if err := s.txids.Save(); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.FlushTotal.Inc()
		s.metrics.FlushDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}
