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
	"crypto/sha1"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kadircet/bitswarm/metainfo"
	"github.com/stretchr/testify/require"
)

func TestDownloaderBounds(t *testing.T) {
	require := require.New(t)

	dl, err := NewDownloader(filepath.Join(t.TempDir(), "f"), 10)
	require.NoError(err)
	defer dl.Close()

	require.NoError(dl.Download([]byte("01234"), 0))
	_, err = dl.Upload(0, 5)
	require.NoError(err)

	err = dl.Download([]byte("x"), 10)
	require.Error(err)
	var sizeErr *ErrDataSize
	require.ErrorAs(err, &sizeErr)
}

func TestPieceAssemblyAndVerification(t *testing.T) {
	require := require.New(t)

	data := strings.Repeat("x", BlockSize) + strings.Repeat("y", BlockSize/2)
	hash := sha1.Sum([]byte(data))

	dl, err := NewDownloader(filepath.Join(t.TempDir(), "f"), int64(len(data)))
	require.NoError(err)
	defer dl.Close()

	p := NewPiece(0, 0, len(data), hash)
	require.Len(p.blocks, 2)

	b1, ok := p.NextBlockToRequest()
	require.True(ok)
	require.Equal(0, b1.Offset)

	b2, ok := p.NextBlockToRequest()
	require.True(ok)
	require.Equal(BlockSize, b2.Offset)

	_, ok = p.NextBlockToRequest()
	require.False(ok)

	require.NoError(p.WriteBlock(dl, b1.Offset, []byte(data[b1.Offset:b1.Offset+b1.Length])))
	require.False(p.IsComplete())

	require.NoError(p.WriteBlock(dl, b2.Offset, []byte(data[b2.Offset:b2.Offset+b2.Length])))
	require.True(p.IsComplete())

	readBack, err := dl.Upload(0, int64(len(data)))
	require.NoError(err)
	require.Equal(data, string(readBack))
}

func TestPieceCorruptionTriggersReDownload(t *testing.T) {
	require := require.New(t)

	data := strings.Repeat("z", BlockSize)
	wrongHash := sha1.Sum([]byte("not the right content"))

	dl, err := NewDownloader(filepath.Join(t.TempDir(), "f"), int64(len(data)))
	require.NoError(err)
	defer dl.Close()

	p := NewPiece(0, 0, len(data), wrongHash)
	b, ok := p.NextBlockToRequest()
	require.True(ok)

	err = p.WriteBlock(dl, b.Offset, []byte(data))
	require.ErrorIs(err, ErrInvalidHash)
	require.False(p.IsComplete())

	// Every block must be requestable again after corruption.
	b2, ok := p.NextBlockToRequest()
	require.True(ok)
	require.Equal(b.Offset, b2.Offset)
}

func TestWriteBlockAfterCompleteIsRejected(t *testing.T) {
	require := require.New(t)

	data := "hello world!"
	hash := sha1.Sum([]byte(data))

	dl, err := NewDownloader(filepath.Join(t.TempDir(), "f"), int64(len(data)))
	require.NoError(err)
	defer dl.Close()

	p := NewPiece(0, 0, len(data), hash)
	b, _ := p.NextBlockToRequest()
	require.NoError(p.WriteBlock(dl, b.Offset, []byte(data)))

	err = p.WriteBlock(dl, b.Offset, []byte(data))
	require.ErrorIs(err, ErrPieceComplete)
}

// TestConcurrentBlockAssignmentIsExclusive hammers NextBlockToRequest
// from several goroutines at once: every block must be handed out exactly
// once, since the pick-and-mark happens under one lock acquisition.
func TestConcurrentBlockAssignmentIsExclusive(t *testing.T) {
	require := require.New(t)

	const numBlocks = 64
	p := NewPiece(0, 0, numBlocks*BlockSize, sha1.Sum(nil))

	var mu sync.Mutex
	seen := make(map[int]int)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				b, ok := p.NextBlockToRequest()
				if !ok {
					return
				}
				mu.Lock()
				seen[b.Offset]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(seen, numBlocks)
	for offset, n := range seen {
		require.Equal(1, n, "block at offset %d assigned more than once", offset)
	}
}

func TestTorrentOpenTracksBitfieldAndCompletion(t *testing.T) {
	require := require.New(t)

	content := strings.Repeat("a", BlockSize) + strings.Repeat("b", BlockSize)
	mi, err := metainfo.New("file.bin", strings.NewReader(content), BlockSize, "http://tracker.example/announce")
	require.NoError(err)

	dir := t.TempDir()
	tor, err := Open(dir, mi)
	require.NoError(err)
	defer tor.Close()

	require.Equal(2, tor.NumPieces())
	require.False(tor.Complete())
	require.Equal([]int{0, 1}, tor.MissingPieces())

	p0, err := tor.Piece(0)
	require.NoError(err)
	b, ok := p0.NextBlockToRequest()
	require.True(ok)
	require.NoError(tor.WriteBlock(0, b.Offset, []byte(content[:BlockSize])))

	require.True(tor.HasPiece(0))
	require.False(tor.Complete())

	p1, err := tor.Piece(1)
	require.NoError(err)
	b1, ok := p1.NextBlockToRequest()
	require.True(ok)
	require.NoError(tor.WriteBlock(1, b1.Offset, []byte(content[BlockSize:])))

	require.True(tor.Complete())
	require.Equal(int64(len(content)), tor.BytesDownloaded())

	bf := tor.Bitfield()
	require.True(bf.Complete())

	got, err := tor.ReadBlock(0, 0, BlockSize)
	require.NoError(err)
	require.Equal(content[:BlockSize], string(got))
}
