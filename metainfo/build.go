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
package metainfo

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"

	"github.com/kadircet/bitswarm/bencode"
	"github.com/kadircet/bitswarm/core"
)

// New builds a MetaInfo for a single file's contents, hashing it into
// pieceLength-sized chunks, and points it at the given tracker announce
// URL. It is used by tests and by tooling that seeds a torrent for the
// first time, where no .torrent file exists yet to load.
func New(name string, content io.Reader, pieceLength int64, announce string) (*MetaInfo, error) {
	if pieceLength <= 0 {
		return nil, errors.New("metainfo: piece length must be positive")
	}

	var pieces []byte
	var length int64
	for {
		h := sha1.New()
		n, err := io.CopyN(h, content, pieceLength)
		length += n
		if n > 0 {
			pieces = h.Sum(pieces)
		}
		if err == io.EOF || (err == nil && n < pieceLength) {
			break
		}
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("%w: %s", ErrReadFile, err)
		}
	}

	info := Info{
		PieceLength: pieceLength,
		Pieces:      pieces,
		Name:        name,
		Length:      length,
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}

	infoVal, err := infoToValue(info)
	if err != nil {
		return nil, err
	}
	infoBytes, err := bencode.Marshal(infoVal)
	if err != nil {
		return nil, err
	}

	return &MetaInfo{
		Announce: announce,
		Info:     info,
		InfoHash: core.NewInfoHashFromBytes(infoBytes),
	}, nil
}

// Encode serializes mi back into the canonical bencoded .torrent form.
func (mi *MetaInfo) Encode() ([]byte, error) {
	infoVal, err := infoToValue(mi.Info)
	if err != nil {
		return nil, err
	}
	root := bencode.Dictionary(
		bencode.DictEntry{Key: []byte("announce"), Value: bencode.Str(mi.Announce)},
		bencode.DictEntry{Key: []byte("info"), Value: infoVal},
	)
	return bencode.Marshal(root)
}

func infoToValue(info Info) (bencode.Value, error) {
	return bencode.Dictionary(
		bencode.DictEntry{Key: []byte("length"), Value: bencode.Integer(info.Length)},
		bencode.DictEntry{Key: []byte("name"), Value: bencode.Str(info.Name)},
		bencode.DictEntry{Key: []byte("piece length"), Value: bencode.Integer(info.PieceLength)},
		bencode.DictEntry{Key: []byte("pieces"), Value: bencode.String(info.Pieces)},
	), nil
}
