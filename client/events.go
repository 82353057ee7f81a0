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
package client

import (
	"sync"

	"github.com/kadircet/bitswarm/core"
)

// Event is implemented by every message the swarm coordinator publishes
// to observers -- UI layers, loggers, test harnesses -- describing this
// Client's progress on a single torrent.
type Event interface {
	isEvent()
}

// UpdateNameEvent announces the torrent's display name, published once
// at startup.
type UpdateNameEvent struct{ Name string }

// UpdateInfoHashEvent announces the torrent's info hash, published once
// at startup.
type UpdateInfoHashEvent struct{ InfoHash core.InfoHash }

// UpdateNumPiecesEvent announces the torrent's piece count, published
// once at startup.
type UpdateNumPiecesEvent struct{ NumPieces int }

// UpdatePeerListEvent announces the current set of connected peers,
// published whenever a connection is added or removed.
type UpdatePeerListEvent struct{ Peers []core.PeerInfo }

// DownloadedPieceEvent announces that piece Index passed hash
// verification and was flushed to disk. It may be published more than
// once for the same index -- subscribers must not assume uniqueness.
type DownloadedPieceEvent struct{ Index int }

// UpdateSpeedEvent reports the instantaneous download rate in megabytes
// per second, measured over the time it took to complete the most
// recently verified piece.
type UpdateSpeedEvent struct{ MBps float64 }

// UnchokedEvent announces that PeerID has unchoked this side of a
// connection.
type UnchokedEvent struct{ PeerID core.PeerID }

// ChokedEvent announces that PeerID has choked this side of a
// connection.
type ChokedEvent struct{ PeerID core.PeerID }

func (UpdateNameEvent) isEvent()      {}
func (UpdateInfoHashEvent) isEvent()  {}
func (UpdateNumPiecesEvent) isEvent() {}
func (UpdatePeerListEvent) isEvent()  {}
func (DownloadedPieceEvent) isEvent() {}
func (UpdateSpeedEvent) isEvent()     {}
func (UnchokedEvent) isEvent()        {}
func (ChokedEvent) isEvent()          {}

// Sink is a single-producer, multi-consumer bus of Events: one Client
// publishes, and however many observers a given program wants (a UI, a
// logger, a test) each get their own subscription.
//
// Unlike the teacher's eventLoop, which serializes events into mutations
// of a single scheduler state machine, a Sink has no state of its own to
// protect -- it only fans a published Event out to current subscribers,
// so a plain RWMutex over the subscriber list is enough.
type Sink struct {
	mu   sync.RWMutex
	subs []chan Event
}

// NewSink creates an empty Sink.
func NewSink() *Sink {
	return &Sink{}
}

// Subscribe returns a new channel that receives every Event published
// after this call. The channel is buffered; a slow subscriber drops
// events rather than blocking the publisher, since the specification
// guarantees in-order delivery within a session but not delivery to
// every consumer.
func (s *Sink) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Sink) publish(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
