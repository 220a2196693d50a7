// Package rlp implements the length-prefixed string/list binary encoding
// go-ethereum uses throughout its database layer (accounts, receipts,
// trie nodes), adapted here to encode a single record.Wrapped value for
// on-disk shard persistence (shard.DiskShard, shard.LevelDBShard).
//
// A "string" is a length-prefixed byte blob; a "list" is a length-prefixed
// sequence of strings. Unlike upstream go-ethereum's reflection-driven
// encoder (which derives the wire shape from arbitrary Go struct tags),
// this package encodes exactly one wire shape -- a tombstone byte, a
// 4-byte big-endian timestamp, and two length-prefixed payload blobs for
// key and value -- because every record here is already reduced to bytes
// by the caller's Codec.
package rlp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when a buffer ends before a complete record can
// be decoded.
var ErrTruncated = errors.New("rlp: truncated input")

// Codec converts a record's key and value to and from bytes. Callers plug
// in their own key/value encodings (e.g. binary.BigEndian for integer
// keys); this mirrors the slim/full Account encoding pair in go-ethereum's
// core/state/snapshot/account.go, generalized to arbitrary key/value types.
type Codec[T any] interface {
	Encode(T) []byte
	Decode([]byte) (T, error)
}

// EncodeWrapped writes one RLP-style record -- tombstone flag, timestamp,
// key blob, value blob -- to the end of dst and returns the extended slice.
func EncodeWrapped(dst []byte, tombstone bool, timestamp uint32, key, value []byte) []byte {
	var flag byte
	if tombstone {
		flag = 1
	}
	dst = append(dst, flag)

	var tsBuf [4]byte
	binary.BigEndian.PutUint32(tsBuf[:], timestamp)
	dst = append(dst, tsBuf[:]...)

	dst = appendString(dst, key)
	dst = appendString(dst, value)
	return dst
}

// DecodeWrapped reads one record previously written by EncodeWrapped,
// returning the tombstone flag, timestamp, key blob, value blob, and the
// number of bytes consumed from src.
func DecodeWrapped(src []byte) (tombstone bool, timestamp uint32, key, value []byte, n int, err error) {
	if len(src) < 5 {
		return false, 0, nil, nil, 0, ErrTruncated
	}
	tombstone = src[0] == 1
	timestamp = binary.BigEndian.Uint32(src[1:5])
	off := 5

	key, used, err := readString(src[off:])
	if err != nil {
		return false, 0, nil, nil, 0, err
	}
	off += used

	value, used, err = readString(src[off:])
	if err != nil {
		return false, 0, nil, nil, 0, err
	}
	off += used

	return tombstone, timestamp, key, value, off, nil
}

func appendString(dst, s []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, s...)
}

func readString(src []byte) (s []byte, consumed int, err error) {
	if len(src) < 4 {
		return nil, 0, ErrTruncated
	}
	l := binary.BigEndian.Uint32(src[:4])
	if uint64(len(src)) < 4+uint64(l) {
		return nil, 0, fmt.Errorf("rlp: string of length %d: %w", l, ErrTruncated)
	}
	return src[4 : 4+l], 4 + int(l), nil
}
