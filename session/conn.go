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

// Package session manages a single peer wire connection after the
// handshake: framing messages on and off the wire, and tracking the
// choke/interest state that governs whether blocks may be requested or
// must be served.
package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/atomic"

	"github.com/kadircet/bitswarm/core"
	"github.com/kadircet/bitswarm/internal/xlog"
	"github.com/kadircet/bitswarm/peerwire"
	"github.com/kadircet/bitswarm/utils/bandwidth"
)

// Events lets a Conn report lifecycle and message delivery to whatever
// owns it, without importing the swarm coordinator (which in turn owns
// many Conns) and creating an import cycle.
type Events interface {
	ConnClosed(*Conn)
	HandleMessage(*Conn, peerwire.Message)
}

// Conn manages peer wire communication for a single torrent over a
// single TCP connection. Reading and writing run on their own
// goroutines, communicating with the rest of the program via buffered
// channels and an events callback, following the same shape as the
// teacher's read/write loop pair.
type Conn struct {
	peerID    core.PeerID
	infoHash  core.InfoHash
	createdAt time.Time
	bandwidth *bandwidth.Limiter
	events    Events
	stats     tally.Scope

	nc net.Conn

	mu            sync.Mutex
	amChoking     bool
	amInterested  bool
	peerChoking   bool
	peerInterest  bool
	lastActive    time.Time

	sender    chan peerwire.Message
	startOnce sync.Once
	closed    *atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// New wraps an already-handshaken connection. The connection begins in
// the standard initial state: both sides choked and not interested.
func New(nc net.Conn, peerID core.PeerID, infoHash core.InfoHash, limiter *bandwidth.Limiter, events Events) *Conn {
	return &Conn{
		peerID:       peerID,
		infoHash:     infoHash,
		createdAt:    time.Now(),
		bandwidth:    limiter,
		events:       events,
		stats:        tally.NoopScope,
		nc:           nc,
		amChoking:    true,
		peerChoking:  true,
		sender:       make(chan peerwire.Message, 64),
		closed:       atomic.NewBool(false),
		done:         make(chan struct{}),
		lastActive:   time.Now(),
	}
}

// PeerID returns the remote peer's id.
func (c *Conn) PeerID() core.PeerID {
	return c.peerID
}

// RemoteAddr returns the underlying connection's remote address, for
// callers that need to report peer IP/port (e.g. the swarm coordinator's
// UpdatePeerList event).
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// InfoHash returns the torrent this connection is exchanging pieces for.
func (c *Conn) InfoHash() core.InfoHash {
	return c.infoHash
}

func (c *Conn) String() string {
	return fmt.Sprintf("session.Conn(peer=%s, hash=%s)", c.peerID, c.infoHash)
}

// WithStats stores scope on this Conn, replacing the default no-op scope.
// Conn records no metrics to it. Optional, like WithNotifier on Peer, so
// tests and call sites can leave it unset.
func (c *Conn) WithStats(scope tally.Scope) *Conn {
	c.stats = scope
	return c
}

// Start launches the read and write loops. Safe to call more than once;
// only the first call has any effect.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.readLoop()
		go c.writeLoop()
	})
}

// Send enqueues msg for delivery, returning an error if the connection is
// closed or the send buffer is full.
func (c *Conn) Send(msg peerwire.Message) error {
	select {
	case <-c.done:
		return fmt.Errorf("session: conn to %s is closed", c.peerID)
	case c.sender <- msg:
		return nil
	default:
		return fmt.Errorf("session: send buffer full for %s", c.peerID)
	}
}

// Close tears down the connection. Safe to call more than once.
func (c *Conn) Close() {
	if !c.closed.CAS(false, true) {
		return
	}
	go func() {
		close(c.done)
		c.nc.Close()
		c.wg.Wait()
		c.events.ConnClosed(c)
	}()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

func (c *Conn) readLoop() {
	defer func() {
		c.wg.Done()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		default:
			msg, err := peerwire.ReadMessage(c.nc)
			if err != nil {
				xlog.With("remote_peer", c.peerID, "hash", c.infoHash).Infof("read loop exiting: %s", err)
				return
			}
			c.touch()
			if msg.IsKeepAlive() {
				continue
			}
			if err := c.chargeIngress(msg); err != nil {
				xlog.With("remote_peer", c.peerID).Errorf("ingress bandwidth: %s", err)
				return
			}
			c.applyLocalState(msg)
			c.events.HandleMessage(c, msg)
		}
	}
}

func (c *Conn) writeLoop() {
	defer func() {
		c.wg.Done()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sender:
			if err := c.chargeEgress(msg); err != nil {
				xlog.With("remote_peer", c.peerID).Errorf("egress bandwidth: %s", err)
				return
			}
			if err := msg.Write(c.nc); err != nil {
				xlog.With("remote_peer", c.peerID, "hash", c.infoHash).Infof("write loop exiting: %s", err)
				return
			}
			c.touch()
		}
	}
}

func (c *Conn) chargeIngress(msg peerwire.Message) error {
	if msg.ID != peerwire.Piece || c.bandwidth == nil {
		return nil
	}
	return c.bandwidth.ReserveIngress(int64(len(msg.Payload)))
}

func (c *Conn) chargeEgress(msg peerwire.Message) error {
	if msg.ID != peerwire.Piece || c.bandwidth == nil {
		return nil
	}
	return c.bandwidth.ReserveEgress(int64(len(msg.Payload)))
}

// applyLocalState updates the choke/interest bits this side remembers
// about the remote peer in response to an incoming message. Piece-data
// messages (have/bitfield/request/piece/cancel) are left to the
// coordinator via the Events callback.
func (c *Conn) applyLocalState(msg peerwire.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.ID {
	case peerwire.Choke:
		c.peerChoking = true
	case peerwire.Unchoke:
		c.peerChoking = false
	case peerwire.Interested:
		c.peerInterest = true
	case peerwire.NotInterested:
		c.peerInterest = false
	}
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

// LastActive returns the time of the most recent successful read or
// write. Nothing in this package closes a Conn for being idle.
func (c *Conn) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// PeerChoking reports whether the remote peer is currently choking us.
func (c *Conn) PeerChoking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerChoking
}

// PeerInterested reports whether the remote peer has sent interested.
func (c *Conn) PeerInterested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerInterest
}

// AmChoking reports whether we are currently choking the remote peer.
func (c *Conn) AmChoking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.amChoking
}

// AmInterested reports whether we have told the remote peer we're
// interested in its pieces.
func (c *Conn) AmInterested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.amInterested
}

// SetChoking sends a choke/unchoke message if it changes our state,
// tracking the new state locally.
func (c *Conn) SetChoking(choking bool) error {
	c.mu.Lock()
	changed := c.amChoking != choking
	c.amChoking = choking
	c.mu.Unlock()
	if !changed {
		return nil
	}
	id := peerwire.Unchoke
	if choking {
		id = peerwire.Choke
	}
	return c.Send(peerwire.Message{ID: id})
}

// SetInterested sends an interested/not_interested message if it changes
// our state, tracking the new state locally.
func (c *Conn) SetInterested(interested bool) error {
	c.mu.Lock()
	changed := c.amInterested != interested
	c.amInterested = interested
	c.mu.Unlock()
	if !changed {
		return nil
	}
	id := peerwire.NotInterested
	if interested {
		id = peerwire.Interested
	}
	return c.Send(peerwire.Message{ID: id})
}
