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
package core

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
)

// ErrInvalidPeerIDLength returns when a string peer id does not decode into
// 20 bytes.
var ErrInvalidPeerIDLength = errors.New("peer id has invalid length")

const peerIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// PeerID is a fixed 20-byte peer identifier. Unlike InfoHash, it carries no
// semantic meaning beyond uniquely naming a peer within a swarm; the remote
// peer id received during a handshake is informational only and is never
// compared against an expected value (see peerwire.Handshake).
type PeerID [20]byte

// NewPeerID parses a PeerID from the given string. Must be in hexadecimal
// notation, encoding exactly 20 bytes.
func NewPeerID(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, err
	}
	if len(b) != 20 {
		return PeerID{}, ErrInvalidPeerIDLength
	}
	var p PeerID
	copy(p[:], b)
	return p, nil
}

// NewPeerIDFromBytes wraps a raw 20-byte peer id, as read off the wire during
// a handshake.
func NewPeerIDFromBytes(b []byte) (PeerID, error) {
	if len(b) != 20 {
		return PeerID{}, ErrInvalidPeerIDLength
	}
	var p PeerID
	copy(p[:], b)
	return p, nil
}

// String encodes the PeerID in hexadecimal notation.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// LessThan returns whether p is less than o. Used only to produce a
// deterministic ordering for tests and logs.
func (p PeerID) LessThan(o PeerID) bool {
	return bytes.Compare(p[:], o[:]) == -1
}

// Bytes returns the raw 20 bytes of p.
func (p PeerID) Bytes() []byte {
	return p[:]
}

// RandomPeerID returns a randomly generated, alphanumeric PeerID, matching
// the convention real BitTorrent clients use for self-identification
// (e.g. "-XX0001-" client prefixes followed by random alphanumerics).
func RandomPeerID() (PeerID, error) {
	var p PeerID
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return p, err
	}
	for i, b := range raw {
		p[i] = peerIDAlphabet[int(b)%len(peerIDAlphabet)]
	}
	return p, nil
}
