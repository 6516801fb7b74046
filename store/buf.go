// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import "encoding/binary"

// bufEncoder appends little-endian fields to a growable byte buffer.
// It mirrors perffile's bufDecoder in reverse: one method per field
// width, so callers read wire layouts field-by-field instead of via
// struct reflection.
type bufEncoder struct {
	buf []byte
}

func (b *bufEncoder) u8(v uint8) {
	b.buf = append(b.buf, v)
}

func (b *bufEncoder) u16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *bufEncoder) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *bufEncoder) u64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *bufEncoder) bytes(v []byte) {
	b.buf = append(b.buf, v...)
}

// bufDecoder is the read-side counterpart, modeled directly on
// perffile.bufDecoder: each accessor consumes bytes from the front of
// buf and advances it, so short-read detection is just a length check
// before each call.
type bufDecoder struct {
	buf []byte
}

func (b *bufDecoder) need(n int) bool {
	return len(b.buf) >= n
}

func (b *bufDecoder) u8() (uint8, bool) {
	if !b.need(1) {
		return 0, false
	}
	v := b.buf[0]
	b.buf = b.buf[1:]
	return v, true
}

func (b *bufDecoder) u16() (uint16, bool) {
	if !b.need(2) {
		return 0, false
	}
	v := binary.LittleEndian.Uint16(b.buf)
	b.buf = b.buf[2:]
	return v, true
}

func (b *bufDecoder) u32() (uint32, bool) {
	if !b.need(4) {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(b.buf)
	b.buf = b.buf[4:]
	return v, true
}

func (b *bufDecoder) u64() (uint64, bool) {
	if !b.need(8) {
		return 0, false
	}
	v := binary.LittleEndian.Uint64(b.buf)
	b.buf = b.buf[8:]
	return v, true
}

func (b *bufDecoder) bytes(n int) ([]byte, bool) {
	if !b.need(n) {
		return nil, false
	}
	v := b.buf[:n]
	b.buf = b.buf[n:]
	return v, true
}
