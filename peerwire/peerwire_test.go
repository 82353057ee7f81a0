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
package peerwire

import (
	"bytes"
	"testing"

	"github.com/kadircet/bitswarm/core"
	"github.com/stretchr/testify/require"
)

func TestRequestMessageExactBytes(t *testing.T) {
	m := NewRequest(256, 512, 1024)
	got := m.Encode()

	want := []byte{
		0, 0, 0, 13, // length prefix: 1 id byte + 12 byte payload
		6,          // request id
		0, 0, 1, 0, // index = 256
		0, 0, 2, 0, // begin = 512
		0, 0, 4, 0, // length = 1024
	}
	require.Equal(t, want, got)
}

func TestKeepAliveEncodesAsFourZeroBytes(t *testing.T) {
	require.Equal(t, []byte{0, 0, 0, 0}, Message{ID: KeepAlive}.Encode())
}

func TestReadMessageRoundTrip(t *testing.T) {
	require := require.New(t)

	for _, m := range []Message{
		{ID: Choke},
		{ID: Unchoke},
		{ID: Interested},
		NewHave(42),
		NewBitfield([]byte{0xF0, 0x0F}),
		NewRequest(1, 2, 3),
		NewPiece(1, 0, []byte("hello")),
		NewCancel(1, 2, 3),
		{ID: KeepAlive},
	} {
		var buf bytes.Buffer
		require.NoError(m.Write(&buf))

		got, err := ReadMessage(&buf)
		require.NoError(err)
		require.Equal(m.ID, got.ID)
		require.Equal(m.Payload, got.Payload)
	}
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadMessage(buf)
	require.Error(t, err)
}

func TestReadMessageRejectsUnknownID(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 1, 9})
	_, err := ReadMessage(buf)
	require.Error(t, err)
}

func TestParseHaveRoundTrip(t *testing.T) {
	require := require.New(t)
	m := NewHave(7)
	idx, err := ParseHave(m)
	require.NoError(err)
	require.Equal(7, idx)
}

func TestParseBlockHeaderRoundTrip(t *testing.T) {
	require := require.New(t)
	m := NewRequest(256, 512, 1024)
	index, begin, length, err := ParseBlockHeader(m)
	require.NoError(err)
	require.Equal(256, index)
	require.Equal(512, begin)
	require.Equal(1024, length)
}

func TestParsePieceRoundTrip(t *testing.T) {
	require := require.New(t)
	m := NewPiece(3, 16, []byte("blockdata"))
	index, begin, block, err := ParsePiece(m)
	require.NoError(err)
	require.Equal(3, index)
	require.Equal(16, begin)
	require.Equal([]byte("blockdata"), block)
}

func TestHandshakeExactBytes(t *testing.T) {
	require := require.New(t)

	var infoHash core.InfoHash
	for i := range infoHash {
		infoHash[i] = byte(i)
	}
	peerID, err := core.NewPeerID("0102030405060708090a0b0c0d0e0f1011121314")
	require.NoError(err)

	h := Handshake{InfoHash: infoHash, PeerID: peerID}
	got := h.Encode()

	require.Len(got, HandshakeLen)
	require.Equal(byte(19), got[0])
	require.Equal("BitTorrent protocol", string(got[1:20]))
	require.Equal(make([]byte, 8), got[20:28])
	require.Equal(infoHash.Bytes(), got[28:48])
	require.Equal(peerID.Bytes(), got[48:68])
}

func TestHandshakeRoundTrip(t *testing.T) {
	require := require.New(t)

	infoHash := core.NewInfoHashFromBytes([]byte("some torrent info dict"))
	peerID, err := core.RandomPeerID()
	require.NoError(err)

	h := Handshake{InfoHash: infoHash, PeerID: peerID}

	var buf bytes.Buffer
	require.NoError(h.Write(&buf))

	got, err := ReadHandshake(&buf)
	require.NoError(err)
	require.Equal(h, got)
}

func TestDecodeHandshakeRejectsWrongProtocol(t *testing.T) {
	buf := make([]byte, HandshakeLen)
	buf[0] = 19
	copy(buf[1:], "NotBitTorrentProto!!")
	_, err := DecodeHandshake(buf)
	require.ErrorIs(t, err, ErrUnsupportedProtocol)
}

func TestDecodeHandshakeRejectsWrongLength(t *testing.T) {
	_, err := DecodeHandshake([]byte{1, 2, 3})
	require.Error(t, err)
}
