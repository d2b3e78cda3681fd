// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package valuestore

import (
	"encoding/binary"
	"fmt"

	"github.com/dgryski/go-farm"
)

const (
	magicStoreHeader  = 0xC0FFEE1D
	fileFormatVersion = 1

	// StoreHeaderSize is the size of the header at the start of every store;
	// the first block starts right after it.
	StoreHeaderSize = 32

	// BlockHeaderSize is the size of the header in front of every payload:
	// 32-bit reference count + 32-bit payload length + 32-bit block size +
	// 32-bit checksum of the payload.
	BlockHeaderSize = 16

	blockAlign = 16

	refCountOff   = 0
	payloadLenOff = 4
	blockSizeOff  = 8
	checksumOff   = 12

	// MaxPayload is the largest value a single block can hold.
	MaxPayload = 1<<31 - BlockHeaderSize - blockAlign
)

type storeHeader struct {
	magic         uint32
	formatVersion uint32
}

func newStoreHeader() *storeHeader {
	return &storeHeader{
		magic:         magicStoreHeader,
		formatVersion: fileFormatVersion,
	}
}

func (h *storeHeader) MarshalTo(buf []byte) error {
	if len(buf) < StoreHeaderSize {
		return fmt.Errorf("buf too short: %d < %d", len(buf), StoreHeaderSize)
	}
	clear(buf[:StoreHeaderSize])
	binary.LittleEndian.PutUint32(buf[:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.formatVersion)
	return nil
}

func (h *storeHeader) UnmarshalBytes(headerBytes []byte) error {
	if len(headerBytes) < StoreHeaderSize {
		return fmt.Errorf("headerBytes too short: %d < %d", len(headerBytes), StoreHeaderSize)
	}

	h.magic = binary.LittleEndian.Uint32(headerBytes[:4])
	if h.magic != magicStoreHeader {
		return fmt.Errorf("bad magic number on value store (%x) -- not a value store or corrupted", h.magic)
	}

	h.formatVersion = binary.LittleEndian.Uint32(headerBytes[4:8])
	if h.formatVersion != fileFormatVersion {
		return fmt.Errorf("this version of tabledb can only read v%d value stores; found v%d", fileFormatVersion, h.formatVersion)
	}
	return nil
}

// blockHeader precedes every block.  A block with a zero reference count is
// free and its payload bytes are meaningless.
type blockHeader struct {
	refCount   uint32
	payloadLen uint32
	blockSize  uint32
	checksum   uint32
}

func checksum(payload []byte) uint32 {
	return uint32(farm.Hash64(payload))
}

func blockSizeFor(payloadLen int) uint32 {
	n := BlockHeaderSize + payloadLen
	return uint32((n + blockAlign - 1) / blockAlign * blockAlign)
}

func freeBlockHeader(size uint32) blockHeader {
	return blockHeader{blockSize: size, checksum: checksum(nil)}
}

func (h blockHeader) MarshalTo(buf []byte) {
	_ = buf[BlockHeaderSize-1]
	binary.LittleEndian.PutUint32(buf[refCountOff:], h.refCount)
	binary.LittleEndian.PutUint32(buf[payloadLenOff:], h.payloadLen)
	binary.LittleEndian.PutUint32(buf[blockSizeOff:], h.blockSize)
	binary.LittleEndian.PutUint32(buf[checksumOff:], h.checksum)
}

func readBlockHeader(buf []byte) blockHeader {
	_ = buf[BlockHeaderSize-1]
	return blockHeader{
		refCount:   binary.LittleEndian.Uint32(buf[refCountOff:]),
		payloadLen: binary.LittleEndian.Uint32(buf[payloadLenOff:]),
		blockSize:  binary.LittleEndian.Uint32(buf[blockSizeOff:]),
		checksum:   binary.LittleEndian.Uint32(buf[checksumOff:]),
	}
}

// sane reports whether the header is structurally possible for a block at
// off in a store of storeSize bytes.
func (h blockHeader) sane(off, storeSize uint64) bool {
	if h.blockSize < BlockHeaderSize || h.blockSize%blockAlign != 0 {
		return false
	}
	if off+uint64(h.blockSize) > storeSize {
		return false
	}
	return uint64(h.payloadLen)+BlockHeaderSize <= uint64(h.blockSize)
}

// Handle locates a value inside the store.  The zero Handle means "no value".
type Handle struct {
	Offset uint64
	Length uint32
}

// HandleSize is the size of a marshalled Handle.
const HandleSize = 12

func (h Handle) IsNull() bool {
	return h.Length == 0
}

func (h Handle) MarshalTo(buf []byte) {
	_ = buf[HandleSize-1]
	binary.LittleEndian.PutUint64(buf[:8], h.Offset)
	binary.LittleEndian.PutUint32(buf[8:12], h.Length)
}

func HandleFromBytes(buf []byte) Handle {
	_ = buf[HandleSize-1]
	return Handle{
		Offset: binary.LittleEndian.Uint64(buf[:8]),
		Length: binary.LittleEndian.Uint32(buf[8:12]),
	}
}
