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
	"encoding/binary"
	"fmt"
	"io"
)

// MaxMessageLength bounds the length prefix of an incoming message. A
// "piece" message carries a block of data on top of its 8-byte header, so
// this must be comfortably larger than the largest block size in use.
const MaxMessageLength = 1 << 20 // 1 MiB

// NewHave returns a "have" message announcing piece index.
func NewHave(index int) Message {
	return Message{ID: Have, Payload: encodeUint32(uint32(index))}
}

// NewBitfield returns a "bitfield" message carrying the given packed bytes.
func NewBitfield(packed []byte) Message {
	return Message{ID: BitfieldMsg, Payload: append([]byte(nil), packed...)}
}

// NewRequest returns a "request" message for a block.
func NewRequest(index, begin, length int) Message {
	return Message{ID: Request, Payload: encodeBlockHeader(index, begin, length)}
}

// NewCancel returns a "cancel" message for a block.
func NewCancel(index, begin, length int) Message {
	return Message{ID: Cancel, Payload: encodeBlockHeader(index, begin, length)}
}

// NewPiece returns a "piece" message carrying block for the given piece
// index and byte offset.
func NewPiece(index, begin int, block []byte) Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	copy(payload[8:], block)
	return Message{ID: Piece, Payload: payload}
}

func encodeBlockHeader(index, begin, length int) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], uint32(index))
	binary.BigEndian.PutUint32(buf[4:8], uint32(begin))
	binary.BigEndian.PutUint32(buf[8:12], uint32(length))
	return buf
}

func encodeUint32(n uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, n)
	return buf
}

// ParseHave extracts the piece index from a "have" message.
func ParseHave(m Message) (int, error) {
	if m.ID != Have || len(m.Payload) != 4 {
		return 0, fmt.Errorf("peerwire: malformed have message")
	}
	return int(binary.BigEndian.Uint32(m.Payload)), nil
}

// ParseBlockHeader extracts index, begin and length from a "request" or
// "cancel" message.
func ParseBlockHeader(m Message) (index, begin, length int, err error) {
	if (m.ID != Request && m.ID != Cancel) || len(m.Payload) != 12 {
		return 0, 0, 0, fmt.Errorf("peerwire: malformed %s message", m.ID)
	}
	index = int(binary.BigEndian.Uint32(m.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(m.Payload[4:8]))
	length = int(binary.BigEndian.Uint32(m.Payload[8:12]))
	return index, begin, length, nil
}

// ParsePiece extracts index, begin and the block data from a "piece"
// message. The returned block aliases m.Payload.
func ParsePiece(m Message) (index, begin int, block []byte, err error) {
	if m.ID != Piece || len(m.Payload) < 8 {
		return 0, 0, nil, fmt.Errorf("peerwire: malformed piece message")
	}
	index = int(binary.BigEndian.Uint32(m.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(m.Payload[4:8]))
	return index, begin, m.Payload[8:], nil
}

// Encode serializes m into its length-prefixed wire form: a 4-byte
// big-endian length, followed by the id byte and payload (or nothing at
// all for a keep-alive).
func (m Message) Encode() []byte {
	if m.IsKeepAlive() {
		return []byte{0, 0, 0, 0}
	}
	body := make([]byte, 1+len(m.Payload))
	body[0] = byte(m.ID)
	copy(body[1:], m.Payload)

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(body)))
	copy(buf[4:], body)
	return buf
}

// Write encodes and writes m to w.
func (m Message) Write(w io.Writer) error {
	_, err := w.Write(m.Encode())
	return err
}

// ReadMessage reads a single length-prefixed message off r.
func ReadMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, fmt.Errorf("peerwire: read length prefix: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return Message{ID: KeepAlive}, nil
	}
	if length > MaxMessageLength {
		return Message{}, fmt.Errorf("peerwire: message length %d exceeds maximum %d", length, MaxMessageLength)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("peerwire: read message body: %w", err)
	}
	id := ID(body[0])
	if id < Choke || id > Cancel {
		return Message{}, fmt.Errorf("peerwire: unknown message id %d", body[0])
	}
	var payload []byte
	if length > 1 {
		payload = body[1:]
	}
	return Message{ID: id, Payload: payload}, nil
}
