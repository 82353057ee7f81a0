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

// Package storage implements on-disk piece and block storage: a
// pre-allocated fixed-size file, SHA-1 piece verification, and
// block-granularity tracking of what has been requested and received
// within a piece still being assembled.
package storage

import (
	"fmt"
	"os"
)

// ErrDataSize is returned when a read or write falls outside of the
// downloader's file bounds.
type ErrDataSize struct {
	Offset, Length, FileSize int64
}

func (e *ErrDataSize) Error() string {
	return fmt.Sprintf("storage: region [%d, %d) out of bounds for file of size %d", e.Offset, e.Offset+e.Length, e.FileSize)
}

// Downloader is a fixed-size file pre-allocated to hold an entire torrent's
// contents, written to and read from at arbitrary offsets as pieces and
// blocks complete.
type Downloader struct {
	f    *os.File
	size int64
}

// NewDownloader creates (or reopens) the file at path, truncated to
// exactly size bytes.
func NewDownloader(path string, size int64) (*Downloader, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: truncate %s: %w", path, err)
	}
	return &Downloader{f: f, size: size}, nil
}

// Close releases the underlying file handle.
func (d *Downloader) Close() error {
	return d.f.Close()
}

// Size returns the total size of the underlying file.
func (d *Downloader) Size() int64 {
	return d.size
}

func (d *Downloader) checkBounds(offset, length int64) error {
	if offset < 0 || length < 0 || offset+length > d.size {
		return &ErrDataSize{Offset: offset, Length: length, FileSize: d.size}
	}
	return nil
}

// Download writes data at offset.
func (d *Downloader) Download(data []byte, offset int64) error {
	if err := d.checkBounds(offset, int64(len(data))); err != nil {
		return err
	}
	_, err := d.f.WriteAt(data, offset)
	return err
}

// Upload reads length bytes starting at offset.
func (d *Downloader) Upload(offset, length int64) ([]byte, error) {
	if err := d.checkBounds(offset, length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := d.f.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("storage: read at %d: %w", offset, err)
	}
	return buf, nil
}
