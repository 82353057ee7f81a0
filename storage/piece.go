// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package storage

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"sync"
	"time"
)

// BlockSize is the standard request granularity. Real BitTorrent clients
// request pieces in chunks this size rather than all at once, so that
// requests can be pipelined and canceled independently.
const BlockSize = 16 * 1024

// ErrPieceComplete is returned when a write is attempted against a piece
// that has already been verified and persisted.
var ErrPieceComplete = errors.New("storage: piece is already complete")

// ErrInvalidHash is returned when a fully-received piece fails SHA-1
// verification against its expected hash.
var ErrInvalidHash = errors.New("storage: piece data does not match expected hash")

// Block tracks the state of a single BlockSize-aligned chunk within a
// piece still being assembled.
type Block struct {
	Offset      int
	Length      int
	Requested   bool
	Received    bool
	RequestedAt time.Time
}

// Piece assembles a single piece's blocks in memory, verifies the
// completed piece against its expected SHA-1 hash, and hands verified
// data off to a Downloader. If verification fails, every block is reset
// so the piece can be re-requested from scratch -- the corruption
// recovery path mirrors the teacher's markEmpty-on-failed-write, except
// the granularity here is a block, not a whole piece's worth of a single
// write call.
type Piece struct {
	mu     sync.Mutex
	index  int
	offset int64 // byte offset of this piece within the torrent
	length int
	hash   [20]byte
	blocks []Block
	buf    []byte
	done   bool
}

// NewPiece creates a Piece of the given length (in bytes) at torrent byte
// offset off, expecting the given SHA-1 hash once fully assembled.
func NewPiece(index int, off int64, length int, hash [20]byte) *Piece {
	p := &Piece{
		index:  index,
		offset: off,
		length: length,
		hash:   hash,
		buf:    make([]byte, length),
	}
	for start := 0; start < length; start += BlockSize {
		blen := BlockSize
		if start+blen > length {
			blen = length - start
		}
		p.blocks = append(p.blocks, Block{Offset: start, Length: blen})
	}
	return p
}

// Index returns the piece's zero-based index within the torrent.
func (p *Piece) Index() int {
	return p.index
}

// Length returns the piece's total length in bytes.
func (p *Piece) Length() int {
	return p.length
}

// IsComplete reports whether the piece has been verified and persisted.
func (p *Piece) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// NextBlockToRequest returns the next block that has not yet been
// requested, marking it requested as a side effect. ok is false if every
// block has already been requested (not necessarily received).
func (p *Piece) NextBlockToRequest() (block Block, ok bool) {
	return p.nextBlockToRequestAt(time.Now())
}

func (p *Piece) nextBlockToRequestAt(now time.Time) (block Block, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.blocks {
		if !p.blocks[i].Requested {
			p.blocks[i].Requested = true
			p.blocks[i].RequestedAt = now
			return p.blocks[i], true
		}
	}
	return Block{}, false
}

// ResetBlock marks a previously requested block as not requested again,
// for use when a request times out (see Torrent.ReclaimStalled).
func (p *Piece) ResetBlock(offset int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.blocks {
		if p.blocks[i].Offset == offset {
			p.blocks[i].Requested = false
			p.blocks[i].Received = false
			p.blocks[i].RequestedAt = time.Time{}
			return
		}
	}
}

// StalledBlockOffsets returns the offsets of every block that has been
// requested but not received, and whose request is older than timeout as
// of now. It does not reset them -- callers that intend to re-request a
// stalled block must still call ResetBlock.
func (p *Piece) StalledBlockOffsets(timeout time.Duration, now time.Time) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var stalled []int
	for _, b := range p.blocks {
		if b.Requested && !b.Received && now.Sub(b.RequestedAt) > timeout {
			stalled = append(stalled, b.Offset)
		}
	}
	return stalled
}

// WriteBlock stores data for the block at the given offset. If this
// completes the piece, the assembled data is verified against the
// expected hash and, on success, flushed to dl at the piece's file
// offset. On hash mismatch, every block is reset to unrequested so the
// piece can be re-downloaded, and ErrInvalidHash is returned.
func (p *Piece) WriteBlock(dl *Downloader, offset int, data []byte) error {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return ErrPieceComplete
	}

	idx := -1
	for i := range p.blocks {
		if p.blocks[i].Offset == offset {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return fmt.Errorf("storage: no such block at offset %d in piece %d", offset, p.index)
	}
	if len(data) != p.blocks[idx].Length {
		p.mu.Unlock()
		return fmt.Errorf("storage: block length mismatch at offset %d: expected %d, got %d", offset, p.blocks[idx].Length, len(data))
	}

	copy(p.buf[offset:offset+len(data)], data)
	p.blocks[idx].Received = true

	allReceived := true
	for _, b := range p.blocks {
		if !b.Received {
			allReceived = false
			break
		}
	}
	if !allReceived {
		p.mu.Unlock()
		return nil
	}

	buf := p.buf
	p.mu.Unlock()

	h := sha1.Sum(buf)
	if !bytes.Equal(h[:], p.hash[:]) {
		p.resetAllBlocks()
		return ErrInvalidHash
	}

	if err := dl.Download(buf, p.offset); err != nil {
		p.resetAllBlocks()
		return fmt.Errorf("storage: flush piece %d: %w", p.index, err)
	}

	p.mu.Lock()
	p.done = true
	p.mu.Unlock()
	return nil
}

func (p *Piece) resetAllBlocks() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.blocks {
		p.blocks[i].Requested = false
		p.blocks[i].Received = false
	}
}
