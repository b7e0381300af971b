// Package propstore maps node ids and (s,p,o) edge keys to opaque,
// schemaless property documents, each carrying a monotonic per-document
// version bumped on every write (spec §4.3).
package propstore

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/nervusdb/nervusdb/internal/codec"
	"github.com/nervusdb/nervusdb/internal/triple"
)

// Id is a node id, matching dictionary.Id's underlying representation.
type Id = uint64

// EdgeKey identifies the property document attached to one directed edge.
type EdgeKey = triple.Triple

// Document is a stored property document: its canonical byte form plus the
// monotonic write counter.
type Document struct {
	Bytes   []byte // canonical JSON, sorted keys
	Version uint64 // __v
}

// Value unmarshals the document's canonical bytes back into a generic
// value. Callers that know the expected shape can json.Unmarshal d.Bytes
// themselves instead.
func (d Document) Value() (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(d.Bytes, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Store holds node and edge property documents.
type Store struct {
	mu      sync.RWMutex
	nodes   map[Id]*Document
	edges   map[EdgeKey]*Document
	version uint64
	log     *zap.Logger
}

// New creates an empty property store.
func New(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		nodes: make(map[Id]*Document),
		edges: make(map[EdgeKey]*Document),
		log:   log,
	}
}

// GetNode returns id's property document, or ok=false if none was ever set.
func (s *Store) GetNode(id Id) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.nodes[id]
	if !ok {
		return Document{}, false
	}
	return *d, true
}

// SetNode writes id's property document. Returns the new __v. The store
// version advances only when the canonical bytes actually change; __v
// advances unconditionally (spec §4.3).
func (s *Store) SetNode(id Id, value interface{}) (uint64, error) {
	bytes, err := codec.CanonicalJSON(value)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	version, changed := setDoc(s.nodes, id, bytes)
	if changed {
		s.version++
	}
	return version, nil
}

// GetEdge returns the property document for edge (s,p,o).
func (s *Store) GetEdge(key EdgeKey) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.edges[key]
	if !ok {
		return Document{}, false
	}
	return *d, true
}

// SetEdge writes the property document for edge (s,p,o).
func (s *Store) SetEdge(key EdgeKey, value interface{}) (uint64, error) {
	bytes, err := codec.CanonicalJSON(value)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	version, changed := setDoc(s.edges, key, bytes)
	if changed {
		s.version++
	}
	return version, nil
}

// setDoc writes bytes for key into table, bumping __v unconditionally and
// reporting whether the canonical content actually changed (spec §4.3:
// "equal bytes still bump __v").
func setDoc[K comparable](table map[K]*Document, key K, bytes []byte) (version uint64, changed bool) {
	existing, had := table[key]
	changed = !had || string(existing.Bytes) != string(bytes)
	version = 1
	if had {
		version = existing.Version + 1
	}
	table[key] = &Document{Bytes: bytes, Version: version}
	return version, changed
}

// Version returns the store-wide change counter (bumps only on a byte-level
// content change, not on every acknowledged write).
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// DeleteNode removes id's document entirely, advancing the store version
// if a document was present.
func (s *Store) DeleteNode(id Id) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; ok {
		delete(s.nodes, id)
		s.version++
	}
}

// DeleteEdge removes an edge's document entirely.
func (s *Store) DeleteEdge(key EdgeKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[key]; ok {
		delete(s.edges, key)
		s.version++
	}
}

// WriteTo persists all node and edge documents as length-prefixed records:
// a record kind byte, the key, the version, and the canonical byte payload.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bw := bufio.NewWriter(w)
	var written int64
	write := func(b []byte) error {
		n, err := bw.Write(b)
		written += int64(n)
		return err
	}

	for id, doc := range s.nodes {
		var rec []byte
		rec = append(rec, 0) // kind: node
		rec = codec.PutUvarint(rec, id)
		rec = codec.PutUvarint(rec, doc.Version)
		rec = codec.PutUvarint(rec, uint64(len(doc.Bytes)))
		rec = append(rec, doc.Bytes...)
		if err := write(rec); err != nil {
			return written, err
		}
	}
	for key, doc := range s.edges {
		var rec []byte
		rec = append(rec, 1) // kind: edge
		rec = codec.PutUvarint(rec, key.S)
		rec = codec.PutUvarint(rec, key.P)
		rec = codec.PutUvarint(rec, key.O)
		rec = codec.PutUvarint(rec, doc.Version)
		rec = codec.PutUvarint(rec, uint64(len(doc.Bytes)))
		rec = append(rec, doc.Bytes...)
		if err := write(rec); err != nil {
			return written, err
		}
	}
	if err := bw.Flush(); err != nil {
		return written, err
	}
	return written, nil
}

// ReadFrom reconstructs a Store from WriteTo's record stream.
func ReadFrom(r io.Reader, log *zap.Logger) (*Store, error) {
	s := New(log)
	br := bufio.NewReader(r)
	for {
		kind, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch kind {
		case 0:
			id, err := binary.ReadUvarint(br)
			if err != nil {
				return nil, err
			}
			version, err := binary.ReadUvarint(br)
			if err != nil {
				return nil, err
			}
			length, err := binary.ReadUvarint(br)
			if err != nil {
				return nil, err
			}
			buf := make([]byte, length)
			if _, err := io.ReadFull(br, buf); err != nil {
				return nil, err
			}
			s.nodes[id] = &Document{Bytes: buf, Version: version}
		case 1:
			sID, err := binary.ReadUvarint(br)
			if err != nil {
				return nil, err
			}
			p, err := binary.ReadUvarint(br)
			if err != nil {
				return nil, err
			}
			o, err := binary.ReadUvarint(br)
			if err != nil {
				return nil, err
			}
			version, err := binary.ReadUvarint(br)
			if err != nil {
				return nil, err
			}
			length, err := binary.ReadUvarint(br)
			if err != nil {
				return nil, err
			}
			buf := make([]byte, length)
			if _, err := io.ReadFull(br, buf); err != nil {
				return nil, err
			}
			s.edges[EdgeKey{S: sID, P: p, O: o}] = &Document{Bytes: buf, Version: version}
		default:
			return nil, io.ErrUnexpectedEOF
		}
	}
	return s, nil
}
