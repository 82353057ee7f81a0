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

// Package peerwire implements the BitTorrent peer wire protocol: the
// handshake exchanged at the start of every connection and the
// length-prefixed messages exchanged after it.
package peerwire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/kadircet/bitswarm/core"
)

const protocolName = "BitTorrent protocol"

// HandshakeLen is the fixed wire size of a handshake message.
const HandshakeLen = 1 + len(protocolName) + 8 + 20 + 20

// ErrUnsupportedProtocol is returned when a peer's handshake names a
// protocol other than the classic "BitTorrent protocol".
var ErrUnsupportedProtocol = errors.New("peerwire: unsupported protocol")

// Handshake is the 68-byte message exchanged before any other peer wire
// traffic. Unlike PeerID, InfoHash IS compared against an expected value
// by callers, since a mismatched info-hash means the two sides are talking
// about different torrents entirely.
type Handshake struct {
	InfoHash core.InfoHash
	PeerID   core.PeerID
}

// Encode serializes h into its 68-byte wire form. The 8 reserved bytes are
// always zero: this implementation advertises no protocol extensions.
func (h Handshake) Encode() []byte {
	buf := make([]byte, 0, HandshakeLen)
	buf = append(buf, byte(len(protocolName)))
	buf = append(buf, protocolName...)
	buf = append(buf, make([]byte, 8)...)
	buf = append(buf, h.InfoHash.Bytes()...)
	buf = append(buf, h.PeerID.Bytes()...)
	return buf
}

// Write encodes and writes h to w.
func (h Handshake) Write(w io.Writer) error {
	_, err := w.Write(h.Encode())
	return err
}

// ReadHandshake reads and parses a handshake off r.
func ReadHandshake(r io.Reader) (Handshake, error) {
	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, fmt.Errorf("peerwire: read handshake: %w", err)
	}
	return DecodeHandshake(buf)
}

// DecodeHandshake parses a handshake from exactly HandshakeLen bytes.
func DecodeHandshake(buf []byte) (Handshake, error) {
	if len(buf) != HandshakeLen {
		return Handshake{}, fmt.Errorf("peerwire: handshake must be %d bytes, got %d", HandshakeLen, len(buf))
	}
	nameLen := int(buf[0])
	if nameLen != len(protocolName) || !bytes.Equal(buf[1:1+nameLen], []byte(protocolName)) {
		return Handshake{}, ErrUnsupportedProtocol
	}
	var infoHash core.InfoHash
	copy(infoHash[:], buf[1+len(protocolName)+8:1+len(protocolName)+8+20])
	peerID, err := core.NewPeerIDFromBytes(buf[1+len(protocolName)+8+20 : 1+len(protocolName)+8+40])
	if err != nil {
		return Handshake{}, err
	}
	return Handshake{InfoHash: infoHash, PeerID: peerID}, nil
}

// Exchange writes out's handshake to conn and reads back the remote's,
// returning it. It does not verify the returned InfoHash matches -- callers
// that require exact-torrent matching (as opposed to e.g. a tracker that
// accepts any handshake) must check it themselves.
func Exchange(conn net.Conn, out Handshake) (Handshake, error) {
	if err := out.Write(conn); err != nil {
		return Handshake{}, fmt.Errorf("peerwire: write handshake: %w", err)
	}
	return ReadHandshake(conn)
}
