// Package dictionary interns strings into monotonically increasing 64-bit
// ids and provides the bidirectional lookup the rest of the kernel runs on.
package dictionary

import (
	"bufio"
	"encoding/binary"
	"io"
	"sync"

	"go.uber.org/zap"

	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

// Id is a 64-bit interned string identifier. Ids are never reused within a
// single database lifetime.
type Id uint64

// Dictionary maps strings to ids and back. All methods are safe for
// concurrent readers; intern must be externally serialized with writers
// (the facade only calls it from the single-writer path).
type Dictionary struct {
	mu      sync.RWMutex
	toID    map[string]Id
	toValue []string // index i holds the string for Id(i)
	version uint64
	log     *zap.Logger
}

// New creates an empty Dictionary.
func New(log *zap.Logger) *Dictionary {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dictionary{
		toID: make(map[string]Id),
		log:  log,
	}
}

// Intern returns the existing id for value, or assigns and returns the next
// monotonic id. The store version only advances on an actual insertion.
func (d *Dictionary) Intern(value string) Id {
	d.mu.RLock()
	if id, ok := d.toID[value]; ok {
		d.mu.RUnlock()
		return id
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.toID[value]; ok {
		return id
	}
	id := Id(len(d.toValue))
	d.toValue = append(d.toValue, value)
	d.toID[value] = id
	d.version++
	d.log.Debug("dictionary: interned new string", zap.String("value", value), zap.Uint64("id", uint64(id)))
	return id
}

// GetId performs a pure lookup, without inserting.
func (d *Dictionary) GetId(value string) (Id, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.toID[value]
	return id, ok
}

// GetValue resolves id back to its string, or ok=false if id was never
// interned in this dictionary.
func (d *Dictionary) GetValue(id Id) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if int(id) < 0 || int(id) >= len(d.toValue) {
		return "", false
	}
	return d.toValue[id], true
}

// Resolve is GetId wrapped as a query-time error: it turns "unknown string"
// into the spec's InvalidArgument kind rather than a bare bool, since a
// criterion referencing an unknown string is a caller mistake, not a miss.
func (d *Dictionary) Resolve(value string) (Id, error) {
	id, ok := d.GetId(value)
	if !ok {
		return 0, nerr.InvalidArgumentf("unknown string %q", value)
	}
	return id, nil
}

// Version returns the number of distinct strings ever interned.
func (d *Dictionary) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Len returns the number of interned strings.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.toValue)
}

// WriteTo persists the dictionary as a sequence of length-prefixed strings
// in id order, matching spec §4.1's persisted representation.
func (d *Dictionary) WriteTo(w io.Writer) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	bw := bufio.NewWriter(w)
	var written int64
	var lenBuf [binary.MaxVarintLen64]byte
	for _, s := range d.toValue {
		n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
		if _, err := bw.Write(lenBuf[:n]); err != nil {
			return written, err
		}
		written += int64(n)
		m, err := bw.WriteString(s)
		written += int64(m)
		if err != nil {
			return written, err
		}
	}
	if err := bw.Flush(); err != nil {
		return written, err
	}
	return written, nil
}

// ReadFrom reconstructs a Dictionary from the length-prefixed string
// sequence WriteTo produced. Ids are reassigned in the same order they were
// written, so replaying the same sequence always reconstructs identical ids
// (spec §4.1's determinism contract).
func ReadFrom(r io.Reader, log *zap.Logger) (*Dictionary, error) {
	d := New(log)
	br := bufio.NewReader(r)
	for {
		length, err := binary.ReadUvarint(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nerr.Corruption("dictionary: truncated length prefix", err)
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, nerr.Corruption("dictionary: truncated string payload", err)
		}
		value := string(buf)
		id := Id(len(d.toValue))
		d.toValue = append(d.toValue, value)
		d.toID[value] = id
		d.version++
	}
	return d, nil
}
