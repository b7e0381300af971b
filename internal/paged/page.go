// Package paged implements the on-disk PagedIndex: append-only pages per
// index order, a JSON-shaped manifest tying pages to primary values, and
// the page retirement, orphan tracking and truncation primitives that the
// compaction and GC passes in internal/maint build on (spec §4.5, §4.7,
// §4.8).
package paged

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/andybalholm/brotli"

	"github.com/nervusdb/nervusdb/internal/codec"
	"github.com/nervusdb/nervusdb/internal/triple"
	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

const pageHeaderLen = 4 + 1 + 4 + 4 + 4 // magic, codec, uncompressedLen, primaryValue, tripleCount

// Page is one decoded on-disk page: every triple sharing a primary value
// under one index order.
type Page struct {
	Primary triple.Id
	Triples []triple.Triple // sorted by (secondary, tertiary) ascending
}

// EncodePage renders triples (all sharing primary under order) as a framed
// page: header, optionally-compressed delta body, CRC32 trailer. triples
// need not be pre-sorted; EncodePage sorts a copy.
func EncodePage(order triple.Order, primary triple.Id, triples []triple.Triple, c codec.Codec, level int) ([]byte, error) {
	sorted := append([]triple.Triple(nil), triples...)
	sort.Slice(sorted, func(i, j int) bool {
		_, si, ti := order.Dims(sorted[i])
		_, sj, tj := order.Dims(sorted[j])
		if si != sj {
			return si < sj
		}
		return ti < tj
	})

	body := encodeBody(order, sorted)
	uncompressedLen := len(body)

	switch c {
	case codec.CodecBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, level)
		if _, err := w.Write(body); err != nil {
			return nil, nerr.Wrap(err, "paged: compressing page body")
		}
		if err := w.Close(); err != nil {
			return nil, nerr.Wrap(err, "paged: closing brotli writer")
		}
		if buf.Len() < len(body) {
			body = buf.Bytes()
		} else {
			c = codec.CodecRaw // compression didn't help: store the page raw
		}
	case codec.CodecRaw:
		// body already raw
	default:
		return nil, nerr.InvalidArgumentf("paged: unknown codec tag %d", c)
	}

	header := make([]byte, pageHeaderLen)
	binary.BigEndian.PutUint32(header[0:4], codec.PageMagic)
	header[4] = byte(c)
	binary.BigEndian.PutUint32(header[5:9], uint32(uncompressedLen))
	binary.BigEndian.PutUint32(header[9:13], uint32(primary))
	binary.BigEndian.PutUint32(header[13:17], uint32(len(sorted)))

	frame := make([]byte, 0, len(header)+len(body)+4)
	frame = append(frame, header...)
	frame = append(frame, body...)

	crc := codec.CRC32(frame)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	frame = append(frame, crcBuf[:]...)
	return frame, nil
}

// DecodePage parses and CRC-verifies a page frame previously produced by
// EncodePage.
func DecodePage(order triple.Order, frame []byte) (Page, error) {
	if len(frame) < pageHeaderLen+4 {
		return Page{}, nerr.Corruption("paged: page frame too short", nil)
	}
	wantCRC := binary.BigEndian.Uint32(frame[len(frame)-4:])
	gotCRC := codec.CRC32(frame[:len(frame)-4])
	if wantCRC != gotCRC {
		return Page{}, nerr.CorruptionInvariant("I3", "paged: page CRC mismatch", nil)
	}

	if binary.BigEndian.Uint32(frame[0:4]) != codec.PageMagic {
		return Page{}, nerr.Corruption("paged: bad page magic", nil)
	}
	c := codec.Codec(frame[4])
	uncompressedLen := binary.BigEndian.Uint32(frame[5:9])
	primary := triple.Id(binary.BigEndian.Uint32(frame[9:13]))
	count := binary.BigEndian.Uint32(frame[13:17])

	body := frame[pageHeaderLen : len(frame)-4]
	switch c {
	case codec.CodecBrotli:
		r := brotli.NewReader(bytes.NewReader(body))
		out := make([]byte, 0, uncompressedLen)
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			out = append(out, buf[:n]...)
			if err != nil {
				break
			}
		}
		if uint32(len(out)) != uncompressedLen {
			return Page{}, nerr.Corruption("paged: decompressed page length mismatch", nil)
		}
		body = out
	case codec.CodecRaw:
		if uint32(len(body)) != uncompressedLen {
			return Page{}, nerr.Corruption("paged: raw page length mismatch", nil)
		}
	default:
		return Page{}, nerr.Corruption("paged: unknown page codec tag", nil)
	}

	triples, err := decodeBody(order, primary, int(count), body)
	if err != nil {
		return Page{}, err
	}
	return Page{Primary: primary, Triples: triples}, nil
}

func encodeBody(order triple.Order, sorted []triple.Triple) []byte {
	var body []byte
	var prevS, prevT int64
	for i, t := range sorted {
		_, secondary, tertiary := order.Dims(t)
		if i == 0 {
			body = codec.PutUvarint(body, secondary)
			body = codec.PutUvarint(body, tertiary)
		} else {
			body = codec.PutVarint(body, int64(secondary)-prevS)
			body = codec.PutVarint(body, int64(tertiary)-prevT)
		}
		prevS, prevT = int64(secondary), int64(tertiary)
	}
	return body
}

func decodeBody(order triple.Order, primary triple.Id, count int, body []byte) ([]triple.Triple, error) {
	triples := make([]triple.Triple, 0, count)
	var secondary, tertiary int64
	off := 0
	for i := 0; i < count; i++ {
		if i == 0 {
			s, n, err := codec.ReadUvarint(body, off)
			if err != nil {
				return nil, nerr.Corruption("paged: truncated page body", err)
			}
			off = n
			tt, n, err := codec.ReadUvarint(body, off)
			if err != nil {
				return nil, nerr.Corruption("paged: truncated page body", err)
			}
			off = n
			secondary, tertiary = int64(s), int64(tt)
		} else {
			ds, n, err := codec.ReadVarint(body, off)
			if err != nil {
				return nil, nerr.Corruption("paged: truncated page body", err)
			}
			off = n
			dt, n, err := codec.ReadVarint(body, off)
			if err != nil {
				return nil, nerr.Corruption("paged: truncated page body", err)
			}
			off = n
			secondary += ds
			tertiary += dt
		}
		triples = append(triples, order.FromDims(primary, triple.Id(secondary), triple.Id(tertiary)))
	}
	return triples, nil
}
