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

import "fmt"

// ID identifies the kind of a non-keepalive message.
type ID int16

// Message tags, per the classic BitTorrent peer wire protocol. KeepAlive is
// not an ID found on the wire -- it represents the zero-length message that
// carries no id byte at all.
const (
	KeepAlive     ID = -1
	Choke         ID = 0
	Unchoke       ID = 1
	Interested    ID = 2
	NotInterested ID = 3
	Have          ID = 4
	BitfieldMsg   ID = 5
	Request       ID = 6
	Piece         ID = 7
	Cancel        ID = 8
)

func (id ID) String() string {
	switch id {
	case KeepAlive:
		return "keep_alive"
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case BitfieldMsg:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("id(%d)", int16(id))
	}
}

// Message is a single parsed peer wire message.
type Message struct {
	ID      ID
	Payload []byte
}

// IsKeepAlive reports whether m is a keep-alive message.
func (m Message) IsKeepAlive() bool {
	return m.ID == KeepAlive
}
