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

// Package metainfo loads .torrent files: the bencoded dictionary that
// names a tracker, the piece length, and the concatenated SHA-1 hash of
// every piece.
package metainfo

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kadircet/bitswarm/bencode"
	"github.com/kadircet/bitswarm/core"
)

const pieceHashSize = sha1.Size

// ErrOpenFile is returned when a .torrent file cannot be opened.
var ErrOpenFile = errors.New("metainfo: open file")

// ErrReadFile is returned when a .torrent file cannot be fully read.
var ErrReadFile = errors.New("metainfo: read file")

// ErrDecoding is returned when a .torrent file is not a well-formed
// bencoded dictionary shaped like a torrent metainfo file.
var ErrDecoding = errors.New("metainfo: decoding")

// ErrIntegerConversion is returned when a numeric metainfo field overflows
// or underflows the range required of it (e.g. a negative piece length).
var ErrIntegerConversion = errors.New("metainfo: integer conversion")

// Info is the torrent's info dictionary: the part of a .torrent file whose
// bencoded bytes are hashed to produce the torrent's InfoHash.
type Info struct {
	PieceLength int64
	Pieces      []byte
	Name        string
	Length      int64
}

// NumPieces returns the number of pieces described by Info.
func (info *Info) NumPieces() int {
	return len(info.Pieces) / pieceHashSize
}

// PieceHash returns the expected SHA-1 hash of the given zero-indexed
// piece.
func (info *Info) PieceHash(piece int) ([]byte, error) {
	if piece < 0 || piece >= info.NumPieces() {
		return nil, fmt.Errorf("piece index %d out of range [0, %d)", piece, info.NumPieces())
	}
	start := piece * pieceHashSize
	end := start + pieceHashSize
	return info.Pieces[start:end], nil
}

// PieceLengthAt returns the length, in bytes, of the given zero-indexed
// piece. Every piece is PieceLength bytes except possibly the last, which
// is truncated to whatever remains of Length.
func (info *Info) PieceLengthAt(piece int) int64 {
	if piece < info.NumPieces()-1 {
		return info.PieceLength
	}
	last := info.Length - info.PieceLength*int64(info.NumPieces()-1)
	if last <= 0 {
		return info.PieceLength
	}
	return last
}

// Validate reports whether info is internally consistent.
func (info *Info) Validate() error {
	if len(info.Pieces)%pieceHashSize != 0 {
		return fmt.Errorf("%w: pieces length %d is not a multiple of %d", ErrDecoding, len(info.Pieces), pieceHashSize)
	}
	if info.PieceLength <= 0 {
		return fmt.Errorf("%w: piece length must be positive, got %d", ErrIntegerConversion, info.PieceLength)
	}
	expected := (info.Length + info.PieceLength - 1) / info.PieceLength
	if expected != int64(info.NumPieces()) {
		return fmt.Errorf("%w: expected %d pieces for length %d, got %d", ErrDecoding, expected, info.Length, info.NumPieces())
	}
	return nil
}

// MetaInfo is the parsed contents of a .torrent file.
type MetaInfo struct {
	Announce string
	Info     Info
	InfoHash core.InfoHash
}

// LoadFromFile reads and parses the .torrent file at path.
func LoadFromFile(path string) (*MetaInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrOpenFile, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrReadFile, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses the bencoded contents of a .torrent file.
func LoadFromBytes(data []byte) (*MetaInfo, error) {
	root, err := bencode.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecoding, err)
	}
	if root.Kind() != bencode.KindDictionary {
		return nil, fmt.Errorf("%w: top-level value is not a dictionary", ErrDecoding)
	}

	announceVal, ok := root.DictGet("announce")
	if !ok {
		return nil, fmt.Errorf("%w: missing \"announce\" key", ErrDecoding)
	}
	announce, ok := announceVal.Text()
	if !ok {
		return nil, fmt.Errorf("%w: \"announce\" is not a string", ErrDecoding)
	}

	infoVal, ok := root.DictGet("info")
	if !ok {
		return nil, fmt.Errorf("%w: missing \"info\" key", ErrDecoding)
	}
	if infoVal.Kind() != bencode.KindDictionary {
		return nil, fmt.Errorf("%w: \"info\" is not a dictionary", ErrDecoding)
	}

	info, err := parseInfo(infoVal)
	if err != nil {
		return nil, err
	}

	infoBytes, err := bencode.Marshal(infoVal)
	if err != nil {
		return nil, fmt.Errorf("%w: re-encoding info dictionary: %s", ErrDecoding, err)
	}

	mi := &MetaInfo{
		Announce: announce,
		Info:     info,
		InfoHash: core.NewInfoHashFromBytes(infoBytes),
	}
	if err := mi.Info.Validate(); err != nil {
		return nil, err
	}
	return mi, nil
}

func parseInfo(v bencode.Value) (Info, error) {
	pieceLengthVal, ok := v.DictGet("piece length")
	if !ok {
		return Info{}, fmt.Errorf("%w: info missing \"piece length\"", ErrDecoding)
	}
	pieceLength, ok := pieceLengthVal.Int()
	if !ok {
		return Info{}, fmt.Errorf("%w: \"piece length\" is not an integer", ErrDecoding)
	}

	piecesVal, ok := v.DictGet("pieces")
	if !ok {
		return Info{}, fmt.Errorf("%w: info missing \"pieces\"", ErrDecoding)
	}
	pieces, ok := piecesVal.Bytes()
	if !ok {
		return Info{}, fmt.Errorf("%w: \"pieces\" is not a string", ErrDecoding)
	}

	nameVal, ok := v.DictGet("name")
	if !ok {
		return Info{}, fmt.Errorf("%w: info missing \"name\"", ErrDecoding)
	}
	name, ok := nameVal.Text()
	if !ok {
		return Info{}, fmt.Errorf("%w: \"name\" is not a string", ErrDecoding)
	}

	lengthVal, ok := v.DictGet("length")
	if !ok {
		return Info{}, fmt.Errorf("%w: info missing \"length\"", ErrDecoding)
	}
	length, ok := lengthVal.Int()
	if !ok {
		return Info{}, fmt.Errorf("%w: \"length\" is not an integer", ErrDecoding)
	}

	return Info{
		PieceLength: pieceLength,
		Pieces:      append([]byte(nil), pieces...),
		Name:        name,
		Length:      length,
	}, nil
}
