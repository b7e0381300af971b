// Package wal implements the NervusDB write-ahead log: a framed,
// append-only sequence of batch-delimited mutations with CRC32 framing,
// replay, and safe truncation (spec §4.4).
package wal

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/nervusdb/nervusdb/internal/codec"
	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

// Kind tags a WAL entry's type.
type Kind byte

const (
	KindBegin Kind = iota
	KindAdd
	KindDelete
	KindProperty
	KindCommit
	KindAbort
)

// TargetKind distinguishes a PROPERTY entry's target.
type TargetKind byte

const (
	TargetNode TargetKind = 0
	TargetEdge TargetKind = 1
)

// Entry is one WAL record. Only the fields relevant to Kind are populated.
type Entry struct {
	Kind Kind

	// BEGIN / COMMIT / ABORT
	TxId      string
	SessionId string
	Ts        int64
	Durable   bool

	// ADD / DELETE / PROPERTY(edge)
	S, P, O uint64

	// PROPERTY
	Target  TargetKind
	NodeId  uint64
	Bytes   []byte
	Version uint64
}

const walHeaderLen = 8 // magic(4) + format version(4)

// WriteHeader writes the WAL file header. Called once when a fresh WAL file
// is created.
func WriteHeader(w io.Writer) error {
	var hdr [walHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], codec.WALMagic)
	binary.BigEndian.PutUint32(hdr[4:8], codec.FormatVersion)
	_, err := w.Write(hdr[:])
	return err
}

// CheckHeader validates a WAL header read from r.
func CheckHeader(r io.Reader) error {
	var hdr [walHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nerr.Corruption("wal: truncated header", err)
	}
	if binary.BigEndian.Uint32(hdr[0:4]) != codec.WALMagic {
		return nerr.Corruption("wal: bad magic", nil)
	}
	if binary.BigEndian.Uint32(hdr[4:8]) < codec.FormatVersion {
		return nerr.Corruption("wal: unsupported format version", nil)
	}
	return nil
}

// Writer appends framed entries to an open WAL file.
type Writer struct {
	f   *os.File
	bw  *bufio.Writer
	log *zap.Logger
}

// NewWriter wraps f (already positioned for appending) as a Writer.
func NewWriter(f *os.File, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{f: f, bw: bufio.NewWriter(f), log: log}
}

// Append encodes and writes one entry. It does not fsync; call Sync for
// durability.
func (w *Writer) Append(e Entry) error {
	rec := encode(e)
	if _, err := w.bw.Write(rec); err != nil {
		return nerr.Wrap(err, "wal: append")
	}
	return nil
}

// Flush pushes buffered bytes to the OS (not necessarily to disk).
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// Sync flushes buffered bytes and fsyncs the underlying file.
func (w *Writer) Sync() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

// encode renders e as [uvarint totalLen][kind][payload][crc32].
func encode(e Entry) []byte {
	var payload []byte
	switch e.Kind {
	case KindBegin:
		payload = putString(payload, e.TxId)
		payload = putString(payload, e.SessionId)
		payload = codec.PutUvarint(payload, uint64(e.Ts))
	case KindAdd, KindDelete:
		payload = codec.PutUvarint(payload, e.S)
		payload = codec.PutUvarint(payload, e.P)
		payload = codec.PutUvarint(payload, e.O)
	case KindProperty:
		payload = append(payload, byte(e.Target))
		if e.Target == TargetNode {
			payload = codec.PutUvarint(payload, e.NodeId)
		} else {
			payload = codec.PutUvarint(payload, e.S)
			payload = codec.PutUvarint(payload, e.P)
			payload = codec.PutUvarint(payload, e.O)
		}
		payload = codec.PutUvarint(payload, e.Version)
		payload = codec.PutUvarint(payload, uint64(len(e.Bytes)))
		payload = append(payload, e.Bytes...)
	case KindCommit:
		payload = putString(payload, e.TxId)
		if e.Durable {
			payload = append(payload, 1)
		} else {
			payload = append(payload, 0)
		}
	case KindAbort:
		payload = putString(payload, e.TxId)
	}

	body := make([]byte, 0, 1+len(payload))
	body = append(body, byte(e.Kind))
	body = append(body, payload...)
	crc := codec.CRC32(body)

	rec := codec.PutUvarint(nil, uint64(len(body)+4))
	rec = append(rec, body...)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	rec = append(rec, crcBuf[:]...)
	return rec
}

func putString(buf []byte, s string) []byte {
	buf = codec.PutUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}
