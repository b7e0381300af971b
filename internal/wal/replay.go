package wal

import (
	"encoding/binary"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/nervusdb/nervusdb/internal/codec"
	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

// TxSeen lets Replay consult and update the cross-restart idempotency
// registry (spec §4.4: "check the TxIdRegistry... apply... or discard")
// without importing the concurrency package directly.
type TxSeen interface {
	Seen(txId string) bool
	Record(txId string, ts int64, sessionId string)
}

// Applier receives the entries of every batch that replay decides to apply.
type Applier interface {
	ApplyAdd(s, p, o uint64)
	ApplyDelete(s, p, o uint64)
	ApplyNodeProperty(id uint64, bytes []byte, version uint64)
	ApplyEdgeProperty(s, p, o uint64, bytes []byte, version uint64)
}

// Replay scans f from its current position (the caller seeks past the
// header first) and applies every committed, non-duplicate batch to
// applier, recording applied txIds in seen. It never applies a partial
// batch (spec invariant: "Replay never applies a partial batch").
//
// On a CRC failure or truncation partway through a record it truncates the
// WAL file to the last known-good record boundary and returns nil: this is
// the expected shape of "writer crashed mid-append", not an error. A
// framing error with well-formed data still following it (not a trailing
// truncation) is reported as a Corruption error instead.
func Replay(f *os.File, seen TxSeen, applier Applier, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	start, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nerr.Wrap(err, "wal: locating replay start")
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nerr.Wrap(err, "wal: reading log for replay")
	}

	open := make(map[string][]Entry)
	current := "" // txId of the most recent BEGIN
	offset := 0
	safeOffset := 0 // end of the last fully-validated record

	for offset < len(data) {
		rec, consumed, decErr := decodeRecord(data[offset:])
		if decErr != nil {
			remaining := len(data) - offset
			if remaining-consumed <= 0 || isTruncation(decErr) {
				// Nothing (decodable) follows: treat as the writer having
				// crashed mid-append and safely truncate here.
				log.Warn("wal: truncating at last known-good boundary",
					zap.Int("safeOffset", safeOffset), zap.Error(decErr))
				break
			}
			return nerr.CorruptionInvariant("I4", "wal: framing error before end of file", decErr)
		}

		switch rec.Kind {
		case KindBegin:
			open[rec.TxId] = open[rec.TxId][:0]
			current = rec.TxId
		case KindAdd, KindDelete, KindProperty:
			appendToOpenBatch(open, current, rec)
		case KindCommit:
			batch := open[rec.TxId]
			delete(open, rec.TxId)
			if !seen.Seen(rec.TxId) {
				applyBatch(applier, batch)
				seen.Record(rec.TxId, rec.Ts, rec.SessionId)
			}
		case KindAbort:
			delete(open, rec.TxId)
		}

		offset += consumed
		safeOffset = offset
	}

	// Unterminated batches at EOF are discarded: the writer crashed before
	// commit and none of their entries were ever acknowledged.
	if len(open) > 0 {
		log.Warn("wal: discarding unterminated batches at EOF", zap.Int("count", len(open)))
	}

	if safeOffset < len(data) {
		if err := f.Truncate(start + int64(safeOffset)); err != nil {
			return nerr.Wrap(err, "wal: truncating to safe offset")
		}
	}
	return nil
}

// appendToOpenBatch records rec under the batch it's addressed to. Since
// ADD/DELETE/PROPERTY entries don't carry their own txId, replay attaches
// each one to the batch opened by the most recent BEGIN (current). With at
// most one writer and a single active batch per handle (spec §5), a later
// BEGIN means any earlier still-open batch was left unterminated by a past
// session; that batch receives no further entries and is discarded at EOF.
// An entry arriving after current was committed or aborted is dropped.
func appendToOpenBatch(open map[string][]Entry, current string, rec Entry) {
	if _, ok := open[current]; !ok {
		return
	}
	open[current] = append(open[current], rec)
}

func applyBatch(applier Applier, batch []Entry) {
	for _, e := range batch {
		switch e.Kind {
		case KindAdd:
			applier.ApplyAdd(e.S, e.P, e.O)
		case KindDelete:
			applier.ApplyDelete(e.S, e.P, e.O)
		case KindProperty:
			if e.Target == TargetNode {
				applier.ApplyNodeProperty(e.NodeId, e.Bytes, e.Version)
			} else {
				applier.ApplyEdgeProperty(e.S, e.P, e.O, e.Bytes, e.Version)
			}
		}
	}
}

type truncationError struct{ err error }

func (t *truncationError) Error() string { return "wal: " + t.err.Error() }
func (t *truncationError) Unwrap() error  { return t.err }

func isTruncation(err error) bool {
	_, ok := err.(*truncationError)
	return ok || err == io.ErrUnexpectedEOF || codec.IsTruncatedVarint(err)
}

// decodeRecord decodes one [uvarint totalLen][kind][payload][crc32] record
// from buf, returning the entry, the number of bytes consumed, and an error
// if buf does not contain a complete, CRC-valid record.
func decodeRecord(buf []byte) (Entry, int, error) {
	totalLen, n, err := codec.ReadUvarint(buf, 0)
	if err != nil {
		return Entry{}, 0, &truncationError{err}
	}
	end := n + int(totalLen)
	if end > len(buf) {
		return Entry{}, 0, &truncationError{io.ErrUnexpectedEOF}
	}
	body := buf[n : end-4]
	crcBytes := buf[end-4 : end]
	wantCRC := binary.BigEndian.Uint32(crcBytes)
	if codec.CRC32(body) != wantCRC {
		return Entry{}, end, nerr.CorruptionInvariant("I7", "wal: entry CRC mismatch", nil)
	}

	e, err := decodeBody(body)
	if err != nil {
		return Entry{}, end, err
	}
	return e, end, nil
}

func decodeBody(body []byte) (Entry, error) {
	if len(body) < 1 {
		return Entry{}, &truncationError{io.ErrUnexpectedEOF}
	}
	e := Entry{Kind: Kind(body[0])}
	off := 1
	var err error
	switch e.Kind {
	case KindBegin:
		e.TxId, off, err = getString(body, off)
		if err != nil {
			return e, err
		}
		e.SessionId, off, err = getString(body, off)
		if err != nil {
			return e, err
		}
		var ts uint64
		ts, off, err = codec.ReadUvarint(body, off)
		e.Ts = int64(ts)
	case KindAdd, KindDelete:
		e.S, off, err = codec.ReadUvarint(body, off)
		if err != nil {
			return e, err
		}
		e.P, off, err = codec.ReadUvarint(body, off)
		if err != nil {
			return e, err
		}
		e.O, off, err = codec.ReadUvarint(body, off)
	case KindProperty:
		if off >= len(body) {
			return e, &truncationError{io.ErrUnexpectedEOF}
		}
		e.Target = TargetKind(body[off])
		off++
		if e.Target == TargetNode {
			e.NodeId, off, err = codec.ReadUvarint(body, off)
			if err != nil {
				return e, err
			}
		} else {
			e.S, off, err = codec.ReadUvarint(body, off)
			if err != nil {
				return e, err
			}
			e.P, off, err = codec.ReadUvarint(body, off)
			if err != nil {
				return e, err
			}
			e.O, off, err = codec.ReadUvarint(body, off)
			if err != nil {
				return e, err
			}
		}
		e.Version, off, err = codec.ReadUvarint(body, off)
		if err != nil {
			return e, err
		}
		var length uint64
		length, off, err = codec.ReadUvarint(body, off)
		if err != nil {
			return e, err
		}
		if off+int(length) > len(body) {
			return e, &truncationError{io.ErrUnexpectedEOF}
		}
		e.Bytes = append([]byte(nil), body[off:off+int(length)]...)
		off += int(length)
	case KindCommit:
		e.TxId, off, err = getString(body, off)
		if err != nil {
			return e, err
		}
		if off >= len(body) {
			return e, &truncationError{io.ErrUnexpectedEOF}
		}
		e.Durable = body[off] != 0
	case KindAbort:
		e.TxId, off, err = getString(body, off)
	default:
		return e, nerr.Corruption("wal: unknown entry kind", nil)
	}
	if err != nil {
		return e, err
	}
	return e, nil
}

func getString(buf []byte, off int) (string, int, error) {
	length, off, err := codec.ReadUvarint(buf, off)
	if err != nil {
		return "", off, err
	}
	if off+int(length) > len(buf) {
		return "", off, &truncationError{io.ErrUnexpectedEOF}
	}
	return string(buf[off : off+int(length)]), off + int(length), nil
}
