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
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/kadircet/bitswarm/bitfield"
	"github.com/kadircet/bitswarm/metainfo"
)

// Torrent owns the on-disk file backing a single torrent download and the
// in-memory assembly state of every piece. Distinct pieces may be written
// concurrently; all pieces may be read concurrently.
type Torrent struct {
	mi          *metainfo.MetaInfo
	dl          *Downloader
	pieces      []*Piece
	numComplete int32

	// OnComplete, if set, is invoked synchronously the moment a piece
	// passes hash verification and is flushed to disk -- the
	// DownloadedPiece event publication point from spec section 4.5.
	OnComplete func(index int)
}

// Open creates or resumes a Torrent backed by a file at
// filepath.Join(downloadDir, mi.Info.Name). Resuming is not supported:
// every piece starts unverified and must be re-downloaded, since this
// implementation (unlike the teacher's LocalTorrent) doesn't persist
// per-piece completion metadata separately from the data file itself.
func Open(downloadDir string, mi *metainfo.MetaInfo) (*Torrent, error) {
	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return nil, fmt.Errorf("storage: create download dir %s: %w", downloadDir, err)
	}
	path := filepath.Join(downloadDir, mi.Info.Name)
	dl, err := NewDownloader(path, mi.Info.Length)
	if err != nil {
		return nil, err
	}

	t := &Torrent{mi: mi, dl: dl}
	n := mi.Info.NumPieces()
	t.pieces = make([]*Piece, n)
	for i := 0; i < n; i++ {
		hashBytes, err := mi.Info.PieceHash(i)
		if err != nil {
			dl.Close()
			return nil, err
		}
		var hash [20]byte
		copy(hash[:], hashBytes)
		off := mi.Info.PieceLength * int64(i)
		t.pieces[i] = NewPiece(i, off, int(mi.Info.PieceLengthAt(i)), hash)
	}
	return t, nil
}

// Close releases the underlying file.
func (t *Torrent) Close() error {
	return t.dl.Close()
}

// Name returns the torrent's file name.
func (t *Torrent) Name() string {
	return t.mi.Info.Name
}

// NumPieces returns the number of pieces in the torrent.
func (t *Torrent) NumPieces() int {
	return len(t.pieces)
}

// Piece returns the piece at index pi.
func (t *Torrent) Piece(pi int) (*Piece, error) {
	if pi < 0 || pi >= len(t.pieces) {
		return nil, fmt.Errorf("storage: invalid piece index %d", pi)
	}
	return t.pieces[pi], nil
}

// WriteBlock writes a received block to piece pi at the given intra-piece
// offset, flushing and verifying the piece once every block has arrived.
func (t *Torrent) WriteBlock(pi, offset int, data []byte) error {
	p, err := t.Piece(pi)
	if err != nil {
		return err
	}
	wasComplete := p.IsComplete()
	err = p.WriteBlock(t.dl, offset, data)
	if err == nil && !wasComplete && p.IsComplete() {
		atomic.AddInt32(&t.numComplete, 1)
		if t.OnComplete != nil {
			t.OnComplete(pi)
		}
	}
	return err
}

// ReadBlock returns length bytes of piece pi at the given intra-piece
// offset, for serving upload requests. The piece must already be
// complete.
func (t *Torrent) ReadBlock(pi, offset, length int) ([]byte, error) {
	p, err := t.Piece(pi)
	if err != nil {
		return nil, err
	}
	if !p.IsComplete() {
		return nil, fmt.Errorf("storage: piece %d is not complete", pi)
	}
	return t.dl.Upload(p.offset+int64(offset), int64(length))
}

// HasPiece reports whether piece pi has been verified and persisted.
func (t *Torrent) HasPiece(pi int) bool {
	p, err := t.Piece(pi)
	if err != nil {
		return false
	}
	return p.IsComplete()
}

// Complete reports whether every piece has been verified and persisted.
func (t *Torrent) Complete() bool {
	return int(atomic.LoadInt32(&t.numComplete)) == len(t.pieces)
}

// MissingPieces returns the indices of every piece not yet complete.
func (t *Torrent) MissingPieces() []int {
	var missing []int
	for i, p := range t.pieces {
		if !p.IsComplete() {
			missing = append(missing, i)
		}
	}
	return missing
}

// Bitfield returns a wire-ready snapshot of which pieces are complete.
func (t *Torrent) Bitfield() *bitfield.Bitfield {
	bf := bitfield.New(len(t.pieces))
	for i, p := range t.pieces {
		if p.IsComplete() {
			_, _ = bf.Add(i)
		}
	}
	return bf
}

// ReclaimStalled resets every block, across every incomplete piece, whose
// request has gone unanswered for longer than timeout, returning the
// offsets reclaimed keyed by piece index. A session holding one of these
// blocks may still deliver it after reclaim; the resulting WriteBlock
// simply succeeds a little late and the redundant re-request is wasted,
// the same trade-off the teacher's piece-request watchdog accepts.
func (t *Torrent) ReclaimStalled(timeout time.Duration, now time.Time) map[int][]int {
	reclaimed := make(map[int][]int)
	for i, p := range t.pieces {
		if p.IsComplete() {
			continue
		}
		offsets := p.StalledBlockOffsets(timeout, now)
		for _, offset := range offsets {
			p.ResetBlock(offset)
		}
		if len(offsets) > 0 {
			reclaimed[i] = offsets
		}
	}
	return reclaimed
}

// BytesDownloaded returns the number of confirmed-complete bytes.
func (t *Torrent) BytesDownloaded() int64 {
	var n int64
	for _, p := range t.pieces {
		if p.IsComplete() {
			n += int64(p.Length())
		}
	}
	return n
}
