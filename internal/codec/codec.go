// Package codec holds the low-level byte-framing helpers shared by the WAL
// and paged-index writers: varint encoding, CRC32 framing, and canonical
// JSON document encoding. Nothing here knows about triples or manifests.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"sort"
)

// PageMagic identifies a .idxpage page header.
const PageMagic uint32 = 0x53594e50 // "SYNP"

// WALMagic identifies the P.wal header.
const WALMagic uint32 = 0x53594e57 // "SYNW"

// DataFileMagic is the 64-byte header magic for the main data file.
const DataFileMagic = "SYNAPSEDB"

// FormatVersion is the on-disk format version written to the WAL header.
// wal.CheckHeader rejects files with a lower version.
const FormatVersion uint32 = 2

// Codec tags a page body's compression scheme.
type Codec byte

const (
	CodecRaw    Codec = 0
	CodecBrotli Codec = 1
)

// CRC32 computes the IEEE CRC32 checksum used for page trailers, WAL entry
// framing, and manifest integrity markers.
func CRC32(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// PutUvarint appends x to buf as a varint and returns the extended slice.
func PutUvarint(buf []byte, x uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], x)
	return append(buf, tmp[:n]...)
}

// PutVarint appends a zig-zag encoded signed delta.
func PutVarint(buf []byte, x int64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], x)
	return append(buf, tmp[:n]...)
}

// ReadUvarint reads a varint from buf starting at offset off, returning the
// value and the new offset.
func ReadUvarint(buf []byte, off int) (uint64, int, error) {
	v, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return 0, off, errTruncatedVarint
	}
	return v, off + n, nil
}

// ReadVarint reads a zig-zag varint from buf starting at offset off.
func ReadVarint(buf []byte, off int) (int64, int, error) {
	v, n := binary.Varint(buf[off:])
	if n <= 0 {
		return 0, off, errTruncatedVarint
	}
	return v, off + n, nil
}

var errTruncatedVarint = &truncatedVarintError{}

type truncatedVarintError struct{}

func (*truncatedVarintError) Error() string { return "codec: truncated varint" }

// IsTruncatedVarint reports whether err was produced by a short buffer
// during varint decoding (as opposed to a malformed one).
func IsTruncatedVarint(err error) bool {
	_, ok := err.(*truncatedVarintError)
	return ok
}

// CanonicalJSON renders v as JSON with map keys sorted, so that two calls
// with semantically equal documents produce byte-identical output. This is
// the canonical byte form PropertyStore compares writes against.
func CanonicalJSON(v interface{}) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// normalize round-trips v through json.Marshal/Unmarshal into generic
// map[string]interface{}/[]interface{} values so that struct field order,
// map iteration order, and numeric types are all normalized before
// re-encoding with sorted keys.
func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return sortKeys(generic), nil
}

func sortKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, kv{k, sortKeys(t[k])})
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = sortKeys(e)
		}
		return out
	default:
		return t
	}
}

type kv struct {
	Key   string
	Value interface{}
}

// orderedMap marshals as a JSON object with keys emitted in the order they
// were appended (already sorted by sortKeys), since map[string]interface{}
// would otherwise re-randomize key order on marshal.
type orderedMap []kv

func (m orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
